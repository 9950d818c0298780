package assistant

import "context"

// EventKind tags inbound events from the assistant runtime.
type EventKind string

const (
	EventNewConversation EventKind = "new_conversation"
	EventText            EventKind = "text"
	EventImage           EventKind = "image"
	EventCommand         EventKind = "command"
	EventTimeout         EventKind = "timeout"
)

// Event is one inbound callback from the runtime.
type Event struct {
	SessionID   string       `json:"session_id"`
	Kind        EventKind    `json:"kind"`
	Text        string       `json:"text,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
	Command     *Command     `json:"command,omitempty"`
	Label       string       `json:"label,omitempty"` // timeout label
	Stats       *Stats       `json:"stats,omitempty"`
}

// Attachment is a user-sent file such as an image.
type Attachment struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

// Command is a structured intent extracted by the runtime.
type Command struct {
	Name string            `json:"name"`
	Args map[string]string `json:"args,omitempty"`
}

// Stats is the runtime's running usage for the session.
type Stats struct {
	Tokens       float64 `json:"tokens"`
	MessagesSent int     `json:"messages_sent"`
}

// UsageCost returns the reported cumulative token usage, or zero when absent.
func (e Event) UsageCost() float64 {
	if e.Stats == nil {
		return 0
	}
	return e.Stats.Tokens
}

// ReplyKind says what the runtime should do after an event.
type ReplyKind string

const (
	// ReplyPassThrough lets the assistant answer normally.
	ReplyPassThrough ReplyKind = "pass_through"
	// ReplySend delivers Messages; DisableAI controls whether the assistant also answers.
	ReplySend ReplyKind = "send"
	// ReplySuppress delivers a fallback text and disables automated answers.
	ReplySuppress ReplyKind = "suppress"
)

// MessageType distinguishes outbound payloads.
type MessageType string

const (
	MessageText  MessageType = "text"
	MessageImage MessageType = "image"
)

// Message is one outbound payload. Blend merges it into the conversational
// context the assistant sees; otherwise it is delivered standalone.
type Message struct {
	Type     MessageType `json:"type"`
	Text     string      `json:"text,omitempty"`
	ImageURL string      `json:"image_url,omitempty"`
	Blend    bool        `json:"blend"`
}

// Reply is the outbound decision for one event.
type Reply struct {
	Kind      ReplyKind `json:"kind"`
	Messages  []Message `json:"messages,omitempty"`
	DisableAI bool      `json:"disable_ai"`
}

// PassThrough lets the assistant respond on its own.
func PassThrough() Reply {
	return Reply{Kind: ReplyPassThrough}
}

// Suppress returns a fixed fallback text and disables the assistant.
func Suppress(text string) Reply {
	return Reply{
		Kind:      ReplySuppress,
		Messages:  []Message{Text(text, false)},
		DisableAI: true,
	}
}

// Send delivers msgs; the assistant still answers unless DisableAI is set.
func Send(msgs ...Message) Reply {
	return Reply{Kind: ReplySend, Messages: msgs}
}

// WithoutAI disables the assistant's own answer for this event.
func (r Reply) WithoutAI() Reply {
	r.DisableAI = true
	return r
}

// Text builds a text message.
func Text(text string, blend bool) Message {
	return Message{Type: MessageText, Text: text, Blend: blend}
}

// Image builds an image message with an optional caption.
func Image(url, caption string, blend bool) Message {
	return Message{Type: MessageImage, ImageURL: url, Text: caption, Blend: blend}
}

// Messenger pushes messages to a session outside the request/reply cycle,
// for example from timer callbacks.
type Messenger interface {
	Send(ctx context.Context, sessionID string, msg Message) error
	SendTyping(ctx context.Context, sessionID string) error
}

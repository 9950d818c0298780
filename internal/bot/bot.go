package bot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wolfman30/coinguru-bot/internal/assistant"
	"github.com/wolfman30/coinguru-bot/internal/quota"
	"github.com/wolfman30/coinguru-bot/internal/quote"
	"github.com/wolfman30/coinguru-bot/internal/session"
	"github.com/wolfman30/coinguru-bot/internal/timers"
	"github.com/wolfman30/coinguru-bot/pkg/logging"
)

// User-facing texts. Internal errors never reach the user verbatim.
const (
	NoCreditsText     = "You have no more credits, write: more_credits for more tokens."
	RetryText         = "Sorry, I couldn't fetch that price right now. Please try again in a moment."
	InternalFaultText = "Something went wrong on our side. Please try again."
	UnsupportedText   = "I can only quote BTC, ETH, ADA, DOT, XRP and LTC for now."
	HoldOnText        = "Hold on... let me check the price"
	ImageReplyText    = "You've sent me an image? you made it? Awesome painting"
	PromoText         = "Did you know that you can get a discount at CoinGuru if you use the code 1234?"
	WelcomeCaption    = "Welcome to CoinGuru!"
	PromoCaption      = "Powered by Lola Platform"
)

// LabelSendPromo is the timer label armed after an image upload.
const LabelSendPromo = "send_promo"

// CommandPrice is the runtime command that asks for a spot price.
const CommandPrice = "get_cryptocurrency_price"

// costPerThousandTokens is only used for the estimated-cost debug log.
const costPerThousandTokens = 0.06

// CreditGuard decides whether a session may still get automated replies.
type CreditGuard interface {
	Evaluate(ctx context.Context, sessionID string, reportedUsage float64) (quota.Decision, error)
}

// TimerArmer arms labeled session timers.
type TimerArmer interface {
	Arm(sessionID, label string, delay time.Duration) (timers.ArmHandle, error)
}

// PriceQuoter looks up spot prices.
type PriceQuoter interface {
	SpotPrice(ctx context.Context, asset, currency string) (*quote.SpotPrice, error)
}

// Recorder receives bot-level metrics. metrics.BotMetrics satisfies it.
type Recorder interface {
	ObserveEvent(kind, reply string)
	ObserveOutbound(msgType string, ok bool)
	ObserveQuoteLatency(status string, seconds float64)
}

// Turn is what a handler sees: the event and the credit decision that admitted it.
type Turn struct {
	Event  assistant.Event
	Credit quota.Decision
}

// HandlerFunc handles one event kind.
type HandlerFunc func(ctx context.Context, turn Turn) (assistant.Reply, error)

// CommandFunc handles one runtime command.
type CommandFunc func(ctx context.Context, turn Turn, args map[string]string) (assistant.Reply, error)

// TimeoutFunc handles one fired timer label.
type TimeoutFunc func(ctx context.Context, sessionID string) error

// Options holds the startup-time settings of the bot.
type Options struct {
	PromoDelay         time.Duration
	PromoFollowupDelay time.Duration
	WelcomeImageURL    string
	PromoImageURL      string
	AllowedAssets      []string
}

// Deps are the collaborators of the bot. Timers may be nil when no scheduler is wired.
type Deps struct {
	Guard     CreditGuard
	Timers    TimerArmer
	Quotes    PriceQuoter
	Messenger assistant.Messenger
	Metrics   Recorder
	Logger    *logging.Logger
}

// Bot routes runtime events through the credit guard to per-kind handlers.
type Bot struct {
	guard     CreditGuard
	timers    TimerArmer
	quotes    PriceQuoter
	messenger assistant.Messenger
	metrics   Recorder
	logger    *logging.Logger
	opts      Options

	handlers map[assistant.EventKind]HandlerFunc
	commands map[string]CommandFunc
	timeouts map[string]TimeoutFunc
	assets   map[string]struct{}
}

// New builds a Bot with the CoinGuru handler tables.
func New(deps Deps, opts Options) *Bot {
	if deps.Guard == nil {
		panic("bot: credit guard required")
	}
	if deps.Messenger == nil {
		panic("bot: messenger required")
	}
	if deps.Logger == nil {
		deps.Logger = logging.Default()
	}
	if opts.WelcomeImageURL == "" {
		opts.WelcomeImageURL = DefaultWelcomeImageURL
	}
	if opts.PromoImageURL == "" {
		opts.PromoImageURL = DefaultPromoImageURL
	}
	if len(opts.AllowedAssets) == 0 {
		opts.AllowedAssets = DefaultAllowedAssets
	}

	b := &Bot{
		guard:     deps.Guard,
		timers:    deps.Timers,
		quotes:    deps.Quotes,
		messenger: deps.Messenger,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
		opts:      opts,
		assets:    make(map[string]struct{}, len(opts.AllowedAssets)),
	}
	for _, a := range opts.AllowedAssets {
		b.assets[a] = struct{}{}
	}
	b.handlers = map[assistant.EventKind]HandlerFunc{
		assistant.EventNewConversation: b.handleNewConversation,
		assistant.EventText:            b.handleText,
		assistant.EventImage:           b.handleImage,
		assistant.EventCommand:         b.handleCommand,
		assistant.EventTimeout:         b.handleTimeoutEvent,
	}
	b.commands = map[string]CommandFunc{
		CommandPrice: b.handlePriceCommand,
	}
	b.timeouts = map[string]TimeoutFunc{
		LabelSendPromo: b.sendPromo,
	}
	return b
}

// Dispatch validates the event, applies the credit guard to user-originated
// events, and runs the handler registered for the event kind.
//
// When the session store cannot be reached the returned reply suppresses the
// assistant and the error is returned alongside it.
func (b *Bot) Dispatch(ctx context.Context, evt assistant.Event) (assistant.Reply, error) {
	if err := session.ValidateID(evt.SessionID); err != nil {
		b.observe(evt.Kind, "invalid")
		return assistant.Reply{}, err
	}

	turn := Turn{Event: evt}
	if evt.Kind != assistant.EventTimeout {
		decision, err := b.guard.Evaluate(ctx, evt.SessionID, evt.UsageCost())
		switch {
		case errors.Is(err, quota.ErrInvalidUsage):
			b.observe(evt.Kind, "invalid")
			return assistant.Reply{}, err
		case err != nil:
			b.logger.Error("bot: credit check failed",
				"session_id", evt.SessionID,
				"kind", evt.Kind,
				"error", err,
			)
			reply := assistant.Suppress(InternalFaultText)
			b.observe(evt.Kind, "error")
			return reply, fmt.Errorf("bot: credit check: %w", err)
		case !decision.Allowed:
			b.logger.Info("bot: session out of credits",
				"session_id", evt.SessionID,
				"usage", decision.Usage,
				"balance", decision.Balance,
			)
			reply := assistant.Suppress(NoCreditsText)
			b.observe(evt.Kind, string(reply.Kind))
			return reply, nil
		}
		turn.Credit = decision
	}

	handler, ok := b.handlers[evt.Kind]
	if !ok {
		b.logger.Warn("bot: no handler for event kind", "kind", evt.Kind, "session_id", evt.SessionID)
		b.observe(evt.Kind, string(assistant.ReplyPassThrough))
		return assistant.PassThrough(), nil
	}

	reply, err := handler(ctx, turn)
	if err != nil {
		b.logger.Error("bot: handler failed",
			"session_id", evt.SessionID,
			"kind", evt.Kind,
			"error", err,
		)
		b.observe(evt.Kind, "error")
		return assistant.Suppress(InternalFaultText), err
	}
	b.observe(evt.Kind, string(reply.Kind))
	return reply, nil
}

// HandleTimeout is the timer callback: it runs the handler registered for label.
// It has the timers.FireFunc signature so it can be handed to the scheduler.
func (b *Bot) HandleTimeout(ctx context.Context, sessionID, label string) error {
	b.logger.Info("bot: timeout reached", "session_id", sessionID, "label", label)
	fn, ok := b.timeouts[label]
	if !ok {
		b.logger.Warn("bot: no handler for timeout label", "session_id", sessionID, "label", label)
		return nil
	}
	return fn(ctx, sessionID)
}

func (b *Bot) send(ctx context.Context, sessionID string, msg assistant.Message) error {
	err := b.messenger.Send(ctx, sessionID, msg)
	if b.metrics != nil {
		b.metrics.ObserveOutbound(string(msg.Type), err == nil)
	}
	return err
}

func (b *Bot) observe(kind assistant.EventKind, reply string) {
	if b.metrics != nil {
		b.metrics.ObserveEvent(string(kind), reply)
	}
}

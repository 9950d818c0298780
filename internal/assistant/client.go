package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Config describes how to reach the assistant runtime's prompter API.
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// Client implements Messenger over the prompter HTTP API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient validates the configuration and returns a ready-to-use client.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("assistant: base URL required")
	}
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("assistant: token required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		http: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

type outboundPayload struct {
	SessionID string      `json:"session_id"`
	Type      MessageType `json:"type"`
	Text      string      `json:"text,omitempty"`
	ImageURL  string      `json:"image_url,omitempty"`
	Blend     bool        `json:"blend"`
}

// Send delivers one message to the session immediately.
func (c *Client) Send(ctx context.Context, sessionID string, msg Message) error {
	if sessionID == "" {
		return errors.New("assistant: session id required")
	}
	payload := outboundPayload{
		SessionID: sessionID,
		Type:      msg.Type,
		Text:      msg.Text,
		ImageURL:  msg.ImageURL,
		Blend:     msg.Blend,
	}
	_, err := c.doRequest(ctx, http.MethodPost, "/api/v1/messages", payload)
	return err
}

// SendTyping shows a typing indicator to the user.
func (c *Client) SendTyping(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return errors.New("assistant: session id required")
	}
	_, err := c.doRequest(ctx, http.MethodPost, "/api/v1/actions", map[string]string{
		"session_id": sessionID,
		"action":     "typing",
	})
	return err
}

func (c *Client) doRequest(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var body *bytes.Buffer
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("assistant: failed to encode payload: %w", err)
		}
		body = bytes.NewBuffer(data)
	} else {
		body = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("assistant: request build failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.token))

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("assistant: request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("assistant: read response failed: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("assistant: %s: %s", resp.Status, strings.TrimSpace(string(data)))
	}
	return data, nil
}

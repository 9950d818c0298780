package bot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/coinguru-bot/internal/assistant"
	"github.com/wolfman30/coinguru-bot/internal/quote"
)

// Default media and asset list for the CoinGuru assistant.
const (
	DefaultWelcomeImageURL = "https://firebasestorage.googleapis.com/v0/b/numichat.appspot.com/o/bitcoin-btc-banner-bitcoin-cryptocurrency-concept-banner-background-vector.jpeg?alt=media&token=d9a4e055-e61c-40ac-9584-51d7a3709901"
	DefaultPromoImageURL   = "https://firebasestorage.googleapis.com/v0/b/numichat.appspot.com/o/Perf_Lola%2BH.way%20banner.png?alt=media&token=8a0dac42-1f76-4754-ac9c-40a93ba02125"
)

var DefaultAllowedAssets = []string{"BTC", "ETH", "ADA", "DOT", "XRP", "LTC"}

func (b *Bot) handleNewConversation(_ context.Context, turn Turn) (assistant.Reply, error) {
	b.logger.Info("bot: new conversation", "session_id", turn.Event.SessionID, "text", turn.Event.Text)
	// The assistant still greets the user after the banner.
	return assistant.Send(assistant.Image(b.opts.WelcomeImageURL, WelcomeCaption, false)), nil
}

func (b *Bot) handleText(_ context.Context, turn Turn) (assistant.Reply, error) {
	evt := turn.Event
	var messages int
	if evt.Stats != nil {
		messages = evt.Stats.MessagesSent
	}
	b.logger.Debug("bot: text message",
		"session_id", evt.SessionID,
		"tokens_used", turn.Credit.Usage,
		"messages_sent", messages,
		"estimated_cost_usd", turn.Credit.Usage*costPerThousandTokens/1000,
		"tokens_left", turn.Credit.Remaining(),
	)
	return assistant.PassThrough(), nil
}

func (b *Bot) handleImage(_ context.Context, turn Turn) (assistant.Reply, error) {
	evt := turn.Event
	var url string
	if len(evt.Attachments) > 0 {
		url = evt.Attachments[0].URL
	}
	b.logger.Info("bot: image message", "session_id", evt.SessionID, "url", url)

	if b.timers != nil {
		if _, err := b.timers.Arm(evt.SessionID, LabelSendPromo, b.opts.PromoDelay); err != nil {
			// The promo is a nice-to-have; the reply still goes out.
			b.logger.Error("bot: failed to arm promo timer", "session_id", evt.SessionID, "error", err)
		}
	}
	return assistant.Send(assistant.Text(ImageReplyText, true)).WithoutAI(), nil
}

func (b *Bot) handleCommand(ctx context.Context, turn Turn) (assistant.Reply, error) {
	cmd := turn.Event.Command
	if cmd == nil || cmd.Name == "" {
		b.logger.Warn("bot: command event without command", "session_id", turn.Event.SessionID)
		return assistant.PassThrough(), nil
	}
	fn, ok := b.commands[cmd.Name]
	if !ok {
		b.logger.Warn("bot: unknown command", "session_id", turn.Event.SessionID, "command", cmd.Name)
		return assistant.PassThrough(), nil
	}
	return fn(ctx, turn, cmd.Args)
}

func (b *Bot) handlePriceCommand(ctx context.Context, turn Turn, args map[string]string) (assistant.Reply, error) {
	sessionID := turn.Event.SessionID
	asset := strings.ToUpper(strings.TrimSpace(args["cryptocurrency"]))
	currency := strings.ToUpper(strings.TrimSpace(args["currency"]))
	if currency == "" {
		currency = "USD"
	}
	b.logger.Info("bot: price requested", "session_id", sessionID, "asset", asset, "currency", currency)

	if _, ok := b.assets[asset]; !ok {
		return assistant.Send(assistant.Text(UnsupportedText, false)).WithoutAI(), nil
	}
	if b.quotes == nil {
		return assistant.Send(assistant.Text(RetryText, false)).WithoutAI(), nil
	}

	if err := b.send(ctx, sessionID, assistant.Text(HoldOnText, true)); err != nil {
		b.logger.Warn("bot: hold-on message failed", "session_id", sessionID, "error", err)
	}
	if err := b.messenger.SendTyping(ctx, sessionID); err != nil {
		b.logger.Warn("bot: typing action failed", "session_id", sessionID, "error", err)
	}

	start := time.Now()
	price, err := b.quotes.SpotPrice(ctx, asset, currency)
	if err != nil {
		b.observeQuote("error", start)
		b.logger.Error("bot: price lookup failed",
			"session_id", sessionID,
			"asset", asset,
			"currency", currency,
			"error", err,
		)
		if errors.Is(err, quote.ErrInvalidSymbol) {
			return assistant.Send(assistant.Text(UnsupportedText, false)).WithoutAI(), nil
		}
		return assistant.Send(assistant.Text(RetryText, false)).WithoutAI(), nil
	}
	b.observeQuote("ok", start)

	// The assistant turns the raw quote into a natural-language answer.
	body, err := json.Marshal(map[string]any{"data": price})
	if err != nil {
		return assistant.Reply{}, fmt.Errorf("bot: encode quote: %w", err)
	}
	return assistant.Send(assistant.Text(string(body), false)), nil
}

func (b *Bot) handleTimeoutEvent(ctx context.Context, turn Turn) (assistant.Reply, error) {
	if err := b.HandleTimeout(ctx, turn.Event.SessionID, turn.Event.Label); err != nil {
		return assistant.Reply{}, err
	}
	// Timeout messages were pushed through the messenger already.
	return assistant.Send(), nil
}

// sendPromo sends a blended discount hint and, after a pause, a standalone banner.
// The pause only delays this callback's goroutine.
func (b *Bot) sendPromo(ctx context.Context, sessionID string) error {
	if err := b.send(ctx, sessionID, assistant.Text(PromoText, true)); err != nil {
		return fmt.Errorf("bot: send promo text: %w", err)
	}

	if b.opts.PromoFollowupDelay > 0 {
		t := time.NewTimer(b.opts.PromoFollowupDelay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if err := b.send(ctx, sessionID, assistant.Image(b.opts.PromoImageURL, PromoCaption, false)); err != nil {
		return fmt.Errorf("bot: send promo image: %w", err)
	}
	return nil
}

func (b *Bot) observeQuote(status string, start time.Time) {
	if b.metrics != nil {
		b.metrics.ObserveQuoteLatency(status, time.Since(start).Seconds())
	}
}

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/wolfman30/coinguru-bot/internal/assistant"
	"github.com/wolfman30/coinguru-bot/internal/quota"
	"github.com/wolfman30/coinguru-bot/internal/session"
	"github.com/wolfman30/coinguru-bot/pkg/logging"
)

const maxEventBytes = 1 << 20

// Dispatcher turns one runtime event into a reply. bot.Bot satisfies it.
type Dispatcher interface {
	Dispatch(ctx context.Context, evt assistant.Event) (assistant.Reply, error)
}

// EventsHandler receives callbacks from the assistant runtime.
type EventsHandler struct {
	bot    Dispatcher
	logger *logging.Logger
}

func NewEventsHandler(bot Dispatcher, logger *logging.Logger) *EventsHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &EventsHandler{bot: bot, logger: logger}
}

// Handle processes one event.
// Route: POST /events
func (h *EventsHandler) Handle(w http.ResponseWriter, r *http.Request) {
	var evt assistant.Event
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxEventBytes)).Decode(&evt); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if evt.Kind == "" {
		writeError(w, http.StatusBadRequest, "kind is required")
		return
	}

	reply, err := h.bot.Dispatch(r.Context(), evt)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, reply)
	case errors.Is(err, session.ErrInvalidSession), errors.Is(err, quota.ErrInvalidUsage):
		h.logger.Warn("events: rejected event", "kind", evt.Kind, "error", err)
		writeError(w, http.StatusBadRequest, "invalid event")
	case errors.Is(err, session.ErrStoreUnavailable):
		h.logger.Error("events: session store unavailable", "session_id", evt.SessionID, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, reply)
	default:
		h.logger.Error("events: dispatch failed", "session_id", evt.SessionID, "kind", evt.Kind, "error", err)
		writeJSON(w, http.StatusInternalServerError, reply)
	}
}

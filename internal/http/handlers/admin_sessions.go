package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/wolfman30/coinguru-bot/internal/quota"
	"github.com/wolfman30/coinguru-bot/internal/session"
	"github.com/wolfman30/coinguru-bot/internal/timers"
	"github.com/wolfman30/coinguru-bot/pkg/logging"
)

type creditLedger interface {
	Balance(ctx context.Context, sessionID string) (int64, error)
	TopUp(ctx context.Context, sessionID string, amount int64) (int64, error)
}

type timerBoard interface {
	Pending(sessionID string) []timers.ArmHandle
	Cancel(sessionID, label string) error
}

type AdminSessionsConfig struct {
	Credits creditLedger
	Timers  timerBoard
	Logger  *logging.Logger
}

// AdminSessionsHandler exposes operator endpoints for session credits and timers.
type AdminSessionsHandler struct {
	credits creditLedger
	timers  timerBoard
	logger  *logging.Logger
}

func NewAdminSessionsHandler(cfg AdminSessionsConfig) *AdminSessionsHandler {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &AdminSessionsHandler{
		credits: cfg.Credits,
		timers:  cfg.Timers,
		logger:  cfg.Logger,
	}
}

type SessionResponse struct {
	SessionID     string             `json:"session_id"`
	Balance       int64              `json:"balance"`
	PendingTimers []timers.ArmHandle `json:"pending_timers"`
}

type topUpRequest struct {
	Amount int64 `json:"amount"`
}

// GetSession returns the balance and pending timers of a session.
// Route: GET /admin/sessions/{sessionID}
func (h *AdminSessionsHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	balance, err := h.credits.Balance(r.Context(), sessionID)
	if err != nil {
		h.writeFailure(w, "read balance", sessionID, err)
		return
	}
	resp := SessionResponse{
		SessionID:     sessionID,
		Balance:       balance,
		PendingTimers: []timers.ArmHandle{},
	}
	if h.timers != nil {
		if pending := h.timers.Pending(sessionID); len(pending) > 0 {
			resp.PendingTimers = pending
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// AddCredits tops up a session's balance.
// Route: POST /admin/sessions/{sessionID}/credits
func (h *AdminSessionsHandler) AddCredits(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	var req topUpRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	balance, err := h.credits.TopUp(r.Context(), sessionID, req.Amount)
	if err != nil {
		h.writeFailure(w, "top up", sessionID, err)
		return
	}
	h.logger.Info("admin: credits added", "session_id", sessionID, "amount", req.Amount, "balance", balance)
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"balance":    balance,
	})
}

// CancelTimer removes a pending timer.
// Route: DELETE /admin/sessions/{sessionID}/timers/{label}
func (h *AdminSessionsHandler) CancelTimer(w http.ResponseWriter, r *http.Request) {
	if h.timers == nil {
		writeError(w, http.StatusServiceUnavailable, "timers not configured")
		return
	}
	sessionID := chi.URLParam(r, "sessionID")
	label := strings.TrimSpace(chi.URLParam(r, "label"))
	if label == "" {
		writeError(w, http.StatusBadRequest, "missing label")
		return
	}
	if err := h.timers.Cancel(sessionID, label); err != nil {
		h.writeFailure(w, "cancel timer", sessionID, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminSessionsHandler) writeFailure(w http.ResponseWriter, op, sessionID string, err error) {
	switch {
	case errors.Is(err, session.ErrInvalidSession):
		writeError(w, http.StatusBadRequest, "invalid session id")
	case errors.Is(err, quota.ErrInvalidTopUp):
		writeError(w, http.StatusBadRequest, "amount must be a positive integer")
	case errors.Is(err, quota.ErrContention):
		writeError(w, http.StatusConflict, "balance is being updated, retry")
	case errors.Is(err, session.ErrStoreUnavailable):
		h.logger.Error("admin: session store unavailable", "op", op, "session_id", sessionID, "error", err)
		writeError(w, http.StatusServiceUnavailable, "session store unavailable")
	default:
		h.logger.Error("admin: request failed", "op", op, "session_id", sessionID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

package router

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/wolfman30/coinguru-bot/internal/assistant"
	"github.com/wolfman30/coinguru-bot/internal/bot"
	"github.com/wolfman30/coinguru-bot/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/coinguru-bot/internal/http/middleware"
	"github.com/wolfman30/coinguru-bot/internal/quota"
	"github.com/wolfman30/coinguru-bot/internal/session"
	"github.com/wolfman30/coinguru-bot/pkg/logging"
)

const testSecret = "router-secret"

type noopMessenger struct{}

func (noopMessenger) Send(context.Context, string, assistant.Message) error { return nil }
func (noopMessenger) SendTyping(context.Context, string) error             { return nil }

func newTestRouter(t *testing.T, limiter *httpmiddleware.RateLimiter) http.Handler {
	t.Helper()

	logger := logging.Discard()
	guard := quota.NewGuard(session.NewMemoryStore(), quota.Config{StartCredits: 700}, nil, logger)
	b := bot.New(bot.Deps{Guard: guard, Messenger: noopMessenger{}, Logger: logger}, bot.Options{})

	return New(&Config{
		Logger:          logger,
		EventsHandler:   handlers.NewEventsHandler(b, logger),
		AdminSessions:   handlers.NewAdminSessionsHandler(handlers.AdminSessionsConfig{Credits: guard, Logger: logger}),
		AdminAuthSecret: testSecret,
		MetricsHandler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("# metrics"))
		}),
		EventsLimiter: limiter,
	})
}

func adminToken(t *testing.T) string {
	t.Helper()
	claims := httpmiddleware.AdminClaims{
		Role: httpmiddleware.AdminRole,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "ops",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestRouterHealthEndpoint(t *testing.T) {
	router := newTestRouter(t, nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
	var resp map[string]string
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode health response: %v", err)
	}
	if resp["status"] != "ok" {
		t.Errorf("expected status 'ok', got %q", resp["status"])
	}
}

func TestRouterMetricsEndpoint(t *testing.T) {
	router := newTestRouter(t, nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "# metrics") {
		t.Fatalf("unexpected metrics response %d %q", rr.Code, rr.Body.String())
	}
}

func TestRouterEventsCreditFlow(t *testing.T) {
	router := newTestRouter(t, nil)

	send := func(tokens string) assistant.Reply {
		body := `{"session_id":"S","kind":"text","text":"hi","stats":{"tokens":` + tokens + `}}`
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/events", strings.NewReader(body)))
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
		}
		var reply assistant.Reply
		if err := json.Unmarshal(rr.Body.Bytes(), &reply); err != nil {
			t.Fatalf("decode reply: %v", err)
		}
		return reply
	}

	if reply := send("650"); reply.Kind != assistant.ReplyPassThrough {
		t.Fatalf("expected pass-through at 650, got %s", reply.Kind)
	}
	if reply := send("750"); reply.Kind != assistant.ReplySuppress || !reply.DisableAI {
		t.Fatalf("expected suppress at 750, got %+v", reply)
	}
}

func TestRouterAdminRequiresToken(t *testing.T) {
	router := newTestRouter(t, nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/admin/sessions/S", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestRouterAdminTopUpRestoresService(t *testing.T) {
	router := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/admin/sessions/S/credits", strings.NewReader(`{"amount":100}`))
	req.Header.Set("Authorization", "Bearer "+adminToken(t))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	body := `{"session_id":"S","kind":"text","stats":{"tokens":750}}`
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/events", strings.NewReader(body)))
	var reply assistant.Reply
	if err := json.Unmarshal(rr.Body.Bytes(), &reply); err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	if reply.Kind != assistant.ReplyPassThrough {
		t.Fatalf("expected pass-through after top-up, got %s", reply.Kind)
	}

	req = httptest.NewRequest(http.MethodGet, "/admin/sessions/S", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken(t))
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	var sess handlers.SessionResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &sess); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	if sess.Balance != 800 {
		t.Fatalf("expected balance 800, got %d", sess.Balance)
	}
}

func TestRouterEventsRateLimited(t *testing.T) {
	router := newTestRouter(t, httpmiddleware.NewRateLimiter(0, 1))

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/events", strings.NewReader(`{"session_id":"S","kind":"text"}`))
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		codes = append(codes, rr.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusTooManyRequests {
		t.Fatalf("expected [200 429], got %v", codes)
	}
}

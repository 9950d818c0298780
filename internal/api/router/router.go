package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/wolfman30/coinguru-bot/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/coinguru-bot/internal/http/middleware"
	"github.com/wolfman30/coinguru-bot/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger          *logging.Logger
	EventsHandler   *handlers.EventsHandler
	AdminSessions   *handlers.AdminSessionsHandler
	AdminAuthSecret string
	MetricsHandler  http.Handler

	// EventsLimiter throttles /events per client; nil disables throttling.
	EventsLimiter *httpmiddleware.RateLimiter
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(httpmiddleware.RequestLogger(cfg.Logger))

	r.Group(func(public chi.Router) {
		public.Get("/health", health)
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
	})

	if cfg.EventsHandler != nil {
		r.Group(func(events chi.Router) {
			if cfg.EventsLimiter != nil {
				events.Use(httpmiddleware.RateLimit(cfg.EventsLimiter, httpmiddleware.ClientIP))
			}
			events.Post("/events", cfg.EventsHandler.Handle)
		})
	}

	// Admin routes are mounted only when a signing secret is configured.
	if cfg.AdminAuthSecret != "" && cfg.AdminSessions != nil {
		r.Route("/admin", func(admin chi.Router) {
			admin.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret))
			admin.Route("/sessions/{sessionID}", func(s chi.Router) {
				s.Get("/", cfg.AdminSessions.GetSession)
				s.Post("/credits", cfg.AdminSessions.AddCredits)
				s.Delete("/timers/{label}", cfg.AdminSessions.CancelTimer)
			})
		})
	}

	return r
}

func health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/wolfman30/coinguru-bot/internal/api/router"
	"github.com/wolfman30/coinguru-bot/internal/app/bootstrap"
	"github.com/wolfman30/coinguru-bot/internal/assistant"
	"github.com/wolfman30/coinguru-bot/internal/bot"
	appconfig "github.com/wolfman30/coinguru-bot/internal/config"
	"github.com/wolfman30/coinguru-bot/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/coinguru-bot/internal/http/middleware"
	"github.com/wolfman30/coinguru-bot/internal/observability/metrics"
	"github.com/wolfman30/coinguru-bot/internal/quota"
	"github.com/wolfman30/coinguru-bot/internal/quote"
	"github.com/wolfman30/coinguru-bot/internal/timers"
	"github.com/wolfman30/coinguru-bot/pkg/logging"
)

func main() {
	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting coinguru bot",
		"env", cfg.Env,
		"addr", cfg.Addr(),
		"webhook_url", cfg.WebhookURL,
		"session_store", cfg.SessionStore,
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("coinguru bot exited", "error", err)
		os.Exit(1)
	}
	fmt.Println("Server exited gracefully")
}

func run(cfg *appconfig.Config, logger *logging.Logger) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	botMetrics := metrics.NewBotMetrics(registry)

	backend, err := bootstrap.BuildSessionStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer backend.Close()

	guard := quota.NewGuard(backend.Store, quota.Config{StartCredits: cfg.StartCredits}, botMetrics, logger)

	messenger, err := assistant.NewClient(assistant.Config{
		BaseURL: cfg.PrompterURL,
		Token:   cfg.AssistantToken,
	})
	if err != nil {
		return err
	}
	quotes, err := quote.NewClient(quote.Config{BaseURL: cfg.QuoteBaseURL, Timeout: cfg.QuoteTimeout})
	if err != nil {
		return err
	}

	// The scheduler calls back into the bot, which arms timers on the scheduler.
	var b *bot.Bot
	sched := timers.NewScheduler(func(ctx context.Context, sessionID, label string) error {
		return b.HandleTimeout(ctx, sessionID, label)
	}, timers.Options{
		Logger:  logger,
		Metrics: botMetrics,
	})
	b = bot.New(bot.Deps{
		Guard:     guard,
		Timers:    sched,
		Quotes:    quotes,
		Messenger: messenger,
		Metrics:   botMetrics,
		Logger:    logger,
	}, bot.Options{
		PromoDelay:         cfg.PromoDelay,
		PromoFollowupDelay: cfg.PromoFollowupDelay,
	})

	g, gctx := errgroup.WithContext(ctx)

	var limiter *httpmiddleware.RateLimiter
	if cfg.EventsRateLimit > 0 {
		limiter = httpmiddleware.NewRateLimiter(cfg.EventsRateLimit, cfg.EventsRateBurst)
		g.Go(func() error {
			limiter.RunJanitor(gctx, 5*time.Minute, 10*time.Minute)
			return nil
		})
	}
	if cfg.AdminJWTSecret == "" {
		logger.Warn("ADMIN_JWT_SECRET not set; admin routes disabled")
	}

	r := router.New(&router.Config{
		Logger:        logger,
		EventsHandler: handlers.NewEventsHandler(b, logger),
		AdminSessions: handlers.NewAdminSessionsHandler(handlers.AdminSessionsConfig{
			Credits: guard,
			Timers:  sched,
			Logger:  logger,
		}),
		AdminAuthSecret: cfg.AdminJWTSecret,
		MetricsHandler:  promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		EventsLimiter:   limiter,
	})

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g.Go(func() error {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	err = g.Wait()
	// Pending promos are dropped; running callbacks see a canceled context.
	sched.Stop()
	if err != nil {
		return err
	}
	logger.Info("server stopped")
	return nil
}

package bootstrap

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	appconfig "github.com/wolfman30/coinguru-bot/internal/config"
	"github.com/wolfman30/coinguru-bot/internal/session"
	"github.com/wolfman30/coinguru-bot/pkg/logging"
)

// RedisOptions builds client options from REDIS_ADDR or, when that is empty,
// REDIS_URL. REDIS_PASSWORD and REDIS_TLS fill in what the URL leaves out.
func RedisOptions(cfg *appconfig.Config) (*redis.Options, error) {
	var opts *redis.Options
	if addr := strings.TrimSpace(cfg.RedisAddr); addr != "" {
		opts = &redis.Options{Addr: addr}
	} else {
		parsed, err := redis.ParseURL(strings.TrimSpace(cfg.RedisURL))
		if err != nil {
			return nil, fmt.Errorf("bootstrap: parse REDIS_URL: %w", err)
		}
		opts = parsed
	}
	if opts.Password == "" {
		opts.Password = cfg.RedisPassword
	}
	if cfg.RedisTLS && opts.TLSConfig == nil {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return opts, nil
}

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || !cfg.RedisConfigured() {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}

	opts, err := RedisOptions(cfg)
	if err != nil {
		logger.Warn("redis misconfigured", "error", err)
		return nil
	}
	client := redis.NewClient(opts)
	if !verify {
		return client
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis not available", "addr", opts.Addr, "error", err)
		_ = client.Close()
		return nil
	}
	return client
}

// BuildPgxPool opens and pings a pgx pool for cfg.DatabaseURL.
func BuildPgxPool(ctx context.Context, cfg *appconfig.Config) (*pgxpool.Pool, error) {
	if cfg == nil || strings.TrimSpace(cfg.DatabaseURL) == "" {
		return nil, errors.New("bootstrap: DATABASE_URL is required")
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: open postgres pool: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("bootstrap: ping postgres: %w", err)
	}
	return pool, nil
}

// SessionBackend is the selected session store plus whatever must be closed on shutdown.
type SessionBackend struct {
	Store session.Store
	Kind  string
	close func()
}

// Close releases the backend's connections.
func (b *SessionBackend) Close() {
	if b != nil && b.close != nil {
		b.close()
	}
}

// BuildSessionStore selects the session store named by cfg.SessionStore.
// A configured but unreachable backend is an error; the service does not
// silently fall back to process memory.
func BuildSessionStore(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (*SessionBackend, error) {
	if cfg == nil {
		return nil, errors.New("bootstrap: config required")
	}
	if logger == nil {
		logger = logging.Default()
	}

	switch cfg.SessionStore {
	case appconfig.StoreMemory:
		logger.Warn("using in-memory session store; balances are lost on restart")
		return &SessionBackend{Store: session.NewMemoryStore(), Kind: appconfig.StoreMemory}, nil

	case appconfig.StoreRedis:
		if _, err := RedisOptions(cfg); err != nil {
			return nil, err
		}
		client := BuildRedisClient(ctx, cfg, logger, true)
		if client == nil {
			return nil, errors.New("bootstrap: redis unreachable")
		}
		logger.Info("using redis session store", "addr", client.Options().Addr)
		return &SessionBackend{
			Store: session.NewRedisStore(client),
			Kind:  appconfig.StoreRedis,
			close: func() { _ = client.Close() },
		}, nil

	case appconfig.StorePostgres:
		pool, err := BuildPgxPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		logger.Info("using postgres session store")
		return &SessionBackend{
			Store: session.NewPostgresStore(pool),
			Kind:  appconfig.StorePostgres,
			close: pool.Close,
		}, nil

	default:
		return nil, fmt.Errorf("bootstrap: unknown session store %q", cfg.SessionStore)
	}
}

package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Session store backends.
const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
)

// DefaultStartCredits is the token allowance granted to a session the first time it is seen.
const DefaultStartCredits = 700

// Config holds application configuration. It is loaded once at startup and
// passed explicitly to the components that need it.
type Config struct {
	Env      string
	LogLevel string
	Debug    bool

	// Assistant runtime
	AssistantToken string
	PrompterURL    string
	Host           string
	Port           string
	WebhookURL     string

	// Session store
	SessionStore  string
	RedisAddr     string
	RedisURL      string // redis:// or rediss:// URL, used when RedisAddr is empty
	RedisPassword string
	RedisTLS      bool
	DatabaseURL   string

	// Credits and timers
	StartCredits       int64
	PromoDelay         time.Duration
	PromoFollowupDelay time.Duration

	// Price quotes
	QuoteBaseURL string
	QuoteTimeout time.Duration

	// HTTP surface
	AdminJWTSecret  string
	EventsRateLimit float64
	EventsRateBurst int
}

// Load reads configuration from a .env file (when present) and environment
// variables. Real environment variables win over .env values.
func Load() *Config {
	_ = godotenv.Load()
	return fromEnv()
}

// LoadFiles is like Load but reads the given dotenv files instead of ./.env.
func LoadFiles(files ...string) (*Config, error) {
	if err := godotenv.Load(files...); err != nil {
		return nil, fmt.Errorf("config: load dotenv: %w", err)
	}
	return fromEnv(), nil
}

func fromEnv() *Config {
	cfg := &Config{
		Env:                getEnv("ENV", "development"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		Debug:              getEnvAsBool("DEBUG", false),
		AssistantToken:     getEnv("ASSISTANT_TOKEN", ""),
		PrompterURL:        getEnv("PROMPTER_URL", ""),
		Host:               getEnv("HOST", "127.0.0.1"),
		Port:               getEnv("PORT", "8080"),
		WebhookURL:         getEnv("WEBHOOK_URL", ""),
		SessionStore:       strings.ToLower(strings.TrimSpace(getEnv("SESSION_STORE", ""))),
		RedisAddr:          getEnv("REDIS_ADDR", ""),
		RedisURL:           getEnv("REDIS_URL", ""),
		RedisPassword:      getEnv("REDIS_PASSWORD", ""),
		RedisTLS:           getEnvAsBool("REDIS_TLS", false),
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		StartCredits:       int64(getEnvAsInt("START_CREDITS", DefaultStartCredits)),
		PromoDelay:         getEnvAsDuration("PROMO_DELAY", 5*time.Second),
		PromoFollowupDelay: getEnvAsDuration("PROMO_FOLLOWUP_DELAY", 2*time.Second),
		QuoteBaseURL:       getEnv("QUOTE_BASE_URL", "https://api.coinbase.com"),
		QuoteTimeout:       getEnvAsDuration("QUOTE_TIMEOUT", 10*time.Second),
		AdminJWTSecret:     getEnv("ADMIN_JWT_SECRET", ""),
		EventsRateLimit:    getEnvAsFloat("EVENTS_RATE_LIMIT", 5),
		EventsRateBurst:    getEnvAsInt("EVENTS_RATE_BURST", 20),
	}
	if cfg.Debug {
		cfg.LogLevel = "debug"
	}
	if cfg.SessionStore == "" {
		// A configured Redis address opts into Redis; otherwise sessions live in memory.
		if cfg.RedisConfigured() {
			cfg.SessionStore = StoreRedis
		} else {
			cfg.SessionStore = StoreMemory
		}
	}
	return cfg
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return c.Host + ":" + c.Port
}

// Validate reports missing or inconsistent settings.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.AssistantToken) == "" {
		errs = append(errs, errors.New("ASSISTANT_TOKEN is required"))
	}
	if strings.TrimSpace(c.PrompterURL) == "" {
		errs = append(errs, errors.New("PROMPTER_URL is required"))
	}
	if _, err := strconv.Atoi(c.Port); err != nil {
		errs = append(errs, fmt.Errorf("PORT must be numeric, got %q", c.Port))
	}
	if c.StartCredits < 0 {
		errs = append(errs, errors.New("START_CREDITS must not be negative"))
	}
	if c.PromoDelay < 0 || c.PromoFollowupDelay < 0 {
		errs = append(errs, errors.New("PROMO_DELAY and PROMO_FOLLOWUP_DELAY must not be negative"))
	}
	switch c.SessionStore {
	case StoreMemory:
	case StoreRedis:
		if !c.RedisConfigured() {
			errs = append(errs, errors.New("REDIS_ADDR or REDIS_URL is required for the redis session store"))
		}
	case StorePostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres session store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown SESSION_STORE %q", c.SessionStore))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// RedisConfigured reports whether a Redis address or URL was supplied.
func (c *Config) RedisConfigured() bool {
	return strings.TrimSpace(c.RedisAddr) != "" || strings.TrimSpace(c.RedisURL) != ""
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

package quota

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/wolfman30/coinguru-bot/internal/session"
	"github.com/wolfman30/coinguru-bot/pkg/logging"
)

// BalanceKey is the session key holding a session's credit balance.
const BalanceKey = "available_tokens"

// ReasonInsufficientCredit is the deny reason when usage exceeds the balance.
const ReasonInsufficientCredit = "insufficient_credit"

// maxCASAttempts bounds the top-up retry loop under heavy contention.
const maxCASAttempts = 16

var (
	// ErrInvalidUsage is returned for negative or non-finite usage figures.
	ErrInvalidUsage = errors.New("quota: invalid usage cost")

	// ErrInvalidTopUp is returned when a top-up amount is not positive.
	ErrInvalidTopUp = errors.New("quota: top-up amount must be positive")

	// ErrQuotaExceeded marks a denied decision. It is a decision, not a fault.
	ErrQuotaExceeded = errors.New("quota: insufficient credit")

	// ErrCorruptBalance is returned when the stored balance cannot be parsed.
	ErrCorruptBalance = errors.New("quota: stored balance is not an integer")

	// ErrContention is returned when a top-up keeps losing compare-and-set races.
	ErrContention = errors.New("quota: too much contention updating balance")
)

// Config is read once at startup.
type Config struct {
	StartCredits int64
}

// Decision is the outcome of Evaluate.
type Decision struct {
	Allowed bool
	Reason  string
	Balance int64
	Usage   float64
}

// Remaining is the balance left after the reported usage; negative when denied.
func (d Decision) Remaining() float64 {
	return float64(d.Balance) - d.Usage
}

// Err returns ErrQuotaExceeded for denied decisions and nil otherwise.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return ErrQuotaExceeded
}

// Recorder receives guard outcomes. metrics.BotMetrics satisfies it.
type Recorder interface {
	ObserveQuotaDecision(outcome string)
	ObserveCreditInit()
}

// Guard gates automated responses on a per-session credit balance. It never
// consumes credits itself; usage is reported by the assistant runtime.
type Guard struct {
	store   session.Store
	cfg     Config
	metrics Recorder
	logger  *logging.Logger
}

// NewGuard creates a guard. metrics may be nil.
func NewGuard(store session.Store, cfg Config, metrics Recorder, logger *logging.Logger) *Guard {
	if store == nil {
		panic("quota: session store required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Guard{store: store, cfg: cfg, metrics: metrics, logger: logger}
}

// Evaluate decides whether sessionID may still receive an automated response
// given the cumulative usage the runtime reports for it. The boundary is
// inclusive: usage equal to the balance is allowed.
func (g *Guard) Evaluate(ctx context.Context, sessionID string, reportedUsage float64) (Decision, error) {
	if err := session.ValidateID(sessionID); err != nil {
		g.observe("invalid")
		return Decision{}, err
	}
	if reportedUsage < 0 || math.IsNaN(reportedUsage) || math.IsInf(reportedUsage, 0) {
		g.observe("invalid")
		return Decision{}, fmt.Errorf("%w: %v", ErrInvalidUsage, reportedUsage)
	}

	balance, err := g.Balance(ctx, sessionID)
	if err != nil {
		g.observe("error")
		return Decision{}, err
	}

	d := Decision{Allowed: true, Balance: balance, Usage: reportedUsage}
	if reportedUsage > float64(balance) {
		d.Allowed = false
		d.Reason = ReasonInsufficientCredit
		g.observe("deny")
	} else {
		g.observe("allow")
	}

	g.logger.Debug("quota: evaluated",
		"session_id", sessionID,
		"usage", reportedUsage,
		"balance", balance,
		"remaining", d.Remaining(),
		"allowed", d.Allowed,
	)
	return d, nil
}

// Balance returns the session's credit balance, initializing it to the start
// value on first touch. Concurrent first touches initialize exactly once.
func (g *Guard) Balance(ctx context.Context, sessionID string) (int64, error) {
	if err := session.ValidateID(sessionID); err != nil {
		return 0, err
	}
	raw, ok, err := g.store.Get(ctx, sessionID, BalanceKey)
	if err != nil {
		return 0, fmt.Errorf("quota: read balance: %w", err)
	}
	if ok {
		return parseBalance(raw)
	}

	start := strconv.FormatInt(g.cfg.StartCredits, 10)
	won, err := g.store.CompareAndSet(ctx, sessionID, BalanceKey, nil, start)
	if err != nil {
		return 0, fmt.Errorf("quota: initialize balance: %w", err)
	}
	if won {
		if g.metrics != nil {
			g.metrics.ObserveCreditInit()
		}
		g.logger.Info("quota: initialized session credits",
			"session_id", sessionID,
			"credits", g.cfg.StartCredits,
		)
		return g.cfg.StartCredits, nil
	}

	// Another event initialized it first; use whatever it wrote.
	raw, ok, err = g.store.Get(ctx, sessionID, BalanceKey)
	if err != nil {
		return 0, fmt.Errorf("quota: read balance: %w", err)
	}
	if !ok {
		return 0, fmt.Errorf("quota: read balance: %w: balance vanished after initialization", session.ErrStoreUnavailable)
	}
	return parseBalance(raw)
}

// TopUp adds amount credits to the session and returns the new balance.
func (g *Guard) TopUp(ctx context.Context, sessionID string, amount int64) (int64, error) {
	if err := session.ValidateID(sessionID); err != nil {
		return 0, err
	}
	if amount <= 0 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidTopUp, amount)
	}

	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		current, err := g.Balance(ctx, sessionID)
		if err != nil {
			return 0, err
		}
		if current > math.MaxInt64-amount {
			return 0, fmt.Errorf("%w: balance would overflow", ErrInvalidTopUp)
		}
		next := current + amount
		ok, err := g.store.CompareAndSet(ctx, sessionID, BalanceKey,
			session.Expect(strconv.FormatInt(current, 10)), strconv.FormatInt(next, 10))
		if err != nil {
			return 0, fmt.Errorf("quota: top up: %w", err)
		}
		if ok {
			g.logger.Info("quota: credits topped up",
				"session_id", sessionID,
				"amount", amount,
				"balance", next,
			)
			return next, nil
		}
	}
	return 0, ErrContention
}

func (g *Guard) observe(outcome string) {
	if g.metrics != nil {
		g.metrics.ObserveQuotaDecision(outcome)
	}
}

func parseBalance(raw string) (int64, error) {
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrCorruptBalance, raw)
	}
	return v, nil
}

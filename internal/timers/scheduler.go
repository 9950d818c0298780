package timers

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/wolfman30/coinguru-bot/internal/session"
	"github.com/wolfman30/coinguru-bot/pkg/logging"
)

var (
	// ErrInvalidDelay is returned when Arm is given a negative delay.
	ErrInvalidDelay = errors.New("timers: delay must not be negative")

	// ErrInvalidLabel is returned for blank labels.
	ErrInvalidLabel = errors.New("timers: label required")

	// ErrStopped is returned by Arm after Stop.
	ErrStopped = errors.New("timers: scheduler stopped")

	// ErrCallbackFailure wraps errors and panics raised inside a fired callback.
	ErrCallbackFailure = errors.New("timers: callback failed")
)

// FireFunc is invoked once per surviving armament.
type FireFunc func(ctx context.Context, sessionID, label string) error

// Recorder receives scheduler lifecycle events. metrics.BotMetrics satisfies it.
type Recorder interface {
	ObserveTimer(event string)
}

// CallbackError describes a failure inside a fired callback.
type CallbackError struct {
	Handle ArmHandle
	Err    error
}

func (e *CallbackError) Error() string {
	return fmt.Sprintf("timers: callback for session %s label %q failed: %v", e.Handle.SessionID, e.Handle.Label, e.Err)
}

func (e *CallbackError) Unwrap() []error {
	return []error{ErrCallbackFailure, e.Err}
}

// ArmHandle identifies one armament.
type ArmHandle struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Label     string    `json:"label"`
	FireAt    time.Time `json:"fire_at"`
	Sequence  uint64    `json:"sequence"`
}

type armament struct {
	handle ArmHandle
	timer  *time.Timer
}

// sessionTimers holds the pending armaments of one session. A shard that has
// been emptied and dropped from the map is marked dead so late arrivals retry.
type sessionTimers struct {
	mu      sync.Mutex
	pending map[string]*armament
	dead    bool
}

// Options configures a Scheduler.
type Options struct {
	Logger  *logging.Logger
	Metrics Recorder
	// OnError is called for every CallbackError, after it has been logged.
	OnError func(*CallbackError)
}

// Scheduler arms labeled, per-session, delayed callbacks. Re-arming a label
// supersedes the pending armament for that label.
type Scheduler struct {
	fire    FireFunc
	logger  *logging.Logger
	metrics Recorder
	onError func(*CallbackError)

	sessions sync.Map // sessionID -> *sessionTimers
	seq      atomic.Uint64

	ctx    context.Context
	cancel context.CancelFunc

	// lifeMu orders Stop against Arm and firing; always taken before a shard lock.
	lifeMu   sync.RWMutex
	stopped  bool
	inflight sync.WaitGroup
}

// NewScheduler creates a scheduler that calls fire for every armament that survives to its deadline.
func NewScheduler(fire FireFunc, opts Options) *Scheduler {
	if fire == nil {
		panic("timers: fire func required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		fire:    fire,
		logger:  logger,
		metrics: opts.Metrics,
		onError: opts.OnError,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// lockShard returns the locked, live shard for sessionID, creating it if needed.
func (s *Scheduler) lockShard(sessionID string) *sessionTimers {
	for {
		v, _ := s.sessions.LoadOrStore(sessionID, &sessionTimers{pending: make(map[string]*armament)})
		sh := v.(*sessionTimers)
		sh.mu.Lock()
		if !sh.dead {
			return sh
		}
		sh.mu.Unlock()
	}
}

// release drops an empty shard. Caller holds sh.mu.
func (s *Scheduler) release(sessionID string, sh *sessionTimers) {
	if len(sh.pending) == 0 {
		sh.dead = true
		s.sessions.CompareAndDelete(sessionID, sh)
	}
}

// Arm schedules label for sessionID after delay. A pending armament with the
// same label is superseded and will never fire.
func (s *Scheduler) Arm(sessionID, label string, delay time.Duration) (ArmHandle, error) {
	if err := session.ValidateID(sessionID); err != nil {
		return ArmHandle{}, err
	}
	if strings.TrimSpace(label) == "" {
		return ArmHandle{}, ErrInvalidLabel
	}
	if delay < 0 {
		return ArmHandle{}, fmt.Errorf("%w: %s", ErrInvalidDelay, delay)
	}
	s.lifeMu.RLock()
	defer s.lifeMu.RUnlock()
	if s.stopped {
		return ArmHandle{}, ErrStopped
	}

	sh := s.lockShard(sessionID)
	defer sh.mu.Unlock()

	if prev, ok := sh.pending[label]; ok {
		prev.timer.Stop()
		delete(sh.pending, label)
		s.observe("superseded")
		s.logger.Debug("timers: armament superseded",
			"session_id", sessionID,
			"label", label,
			"sequence", prev.handle.Sequence,
		)
	}

	// Sequence is taken under the shard lock so re-arms of one label are ordered.
	seq := s.seq.Add(1)
	handle := ArmHandle{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Label:     label,
		FireAt:    time.Now().Add(delay),
		Sequence:  seq,
	}
	arm := &armament{handle: handle}
	sh.pending[label] = arm
	arm.timer = time.AfterFunc(delay, func() { s.onTimer(sessionID, label, seq) })

	s.observe("armed")
	s.logger.Debug("timers: armed",
		"session_id", sessionID,
		"label", label,
		"delay", delay.String(),
		"sequence", seq,
	)
	return handle, nil
}

// Cancel removes the pending armament for (sessionID, label). Canceling
// something that already fired or never existed is a no-op.
func (s *Scheduler) Cancel(sessionID, label string) error {
	if err := session.ValidateID(sessionID); err != nil {
		return err
	}
	v, ok := s.sessions.Load(sessionID)
	if !ok {
		return nil
	}
	sh := v.(*sessionTimers)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	arm, ok := sh.pending[label]
	if !ok {
		return nil
	}
	arm.timer.Stop()
	delete(sh.pending, label)
	s.release(sessionID, sh)
	s.observe("canceled")
	s.logger.Debug("timers: canceled", "session_id", sessionID, "label", label, "sequence", arm.handle.Sequence)
	return nil
}

// Pending lists the live armaments of a session ordered by fire time.
func (s *Scheduler) Pending(sessionID string) []ArmHandle {
	v, ok := s.sessions.Load(sessionID)
	if !ok {
		return nil
	}
	sh := v.(*sessionTimers)
	sh.mu.Lock()
	out := make([]ArmHandle, 0, len(sh.pending))
	for _, arm := range sh.pending {
		out = append(out, arm.handle)
	}
	sh.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].FireAt.Before(out[j].FireAt) })
	return out
}

// Stop cancels every pending armament, cancels the context handed to running
// callbacks, and waits for them to return.
func (s *Scheduler) Stop() {
	s.lifeMu.Lock()
	already := s.stopped
	s.stopped = true
	s.lifeMu.Unlock()
	if already {
		s.inflight.Wait()
		return
	}

	s.sessions.Range(func(key, value any) bool {
		sh := value.(*sessionTimers)
		sh.mu.Lock()
		for label, arm := range sh.pending {
			arm.timer.Stop()
			delete(sh.pending, label)
		}
		s.release(key.(string), sh)
		sh.mu.Unlock()
		return true
	})
	s.cancel()
	s.inflight.Wait()
}

// onTimer runs on the timer goroutine. The armament is removed before the
// callback so a callback that re-arms its own label starts a fresh cycle.
func (s *Scheduler) onTimer(sessionID, label string, seq uint64) {
	arm, ok := s.claim(sessionID, label, seq)
	if !ok {
		s.observe("stale")
		return
	}
	defer s.inflight.Done()
	s.invoke(arm.handle)
}

// claim removes the armament if it is still the live one for its label and
// registers it as in flight. It reports false for superseded or canceled timers.
func (s *Scheduler) claim(sessionID, label string, seq uint64) (*armament, bool) {
	s.lifeMu.RLock()
	defer s.lifeMu.RUnlock()
	if s.stopped {
		return nil, false
	}
	v, ok := s.sessions.Load(sessionID)
	if !ok {
		return nil, false
	}
	sh := v.(*sessionTimers)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	arm, ok := sh.pending[label]
	if !ok || arm.handle.Sequence != seq {
		return nil, false
	}
	delete(sh.pending, label)
	s.release(sessionID, sh)
	s.inflight.Add(1)
	return arm, true
}

func (s *Scheduler) invoke(handle ArmHandle) {
	s.observe("fired")
	s.logger.Debug("timers: firing", "session_id", handle.SessionID, "label", handle.Label, "sequence", handle.Sequence)

	err := s.safeCall(handle)
	if err == nil {
		return
	}
	cbErr := &CallbackError{Handle: handle, Err: err}
	s.observe("failed")
	s.logger.Error("timers: callback failed",
		"session_id", handle.SessionID,
		"label", handle.Label,
		"sequence", handle.Sequence,
		"error", err,
	)
	if s.onError != nil {
		s.onError(cbErr)
	}
}

func (s *Scheduler) safeCall(handle ArmHandle) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return s.fire(s.ctx, handle.SessionID, handle.Label)
}

func (s *Scheduler) observe(event string) {
	if s.metrics != nil {
		s.metrics.ObserveTimer(event)
	}
}

package timers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfman30/coinguru-bot/internal/session"
	"github.com/wolfman30/coinguru-bot/pkg/logging"
)

type fireRecord struct {
	sessionID string
	label     string
	at        time.Time
}

// recorder collects callback invocations.
type recorder struct {
	mu    sync.Mutex
	fires []fireRecord
}

func (r *recorder) fire(_ context.Context, sessionID, label string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fires = append(r.fires, fireRecord{sessionID: sessionID, label: label, at: time.Now()})
	return nil
}

func (r *recorder) snapshot() []fireRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]fireRecord(nil), r.fires...)
}

func (r *recorder) count(sessionID, label string) int {
	n := 0
	for _, f := range r.snapshot() {
		if f.sessionID == sessionID && f.label == label {
			n++
		}
	}
	return n
}

type eventCounter struct {
	mu     sync.Mutex
	events map[string]int
}

func (c *eventCounter) ObserveTimer(event string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.events == nil {
		c.events = make(map[string]int)
	}
	c.events[event]++
}

func (c *eventCounter) get(event string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.events[event]
}

func newTestScheduler(t *testing.T, fire FireFunc, opts Options) *Scheduler {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	s := NewScheduler(fire, opts)
	t.Cleanup(s.Stop)
	return s
}

func TestArm_FiresNeverEarly(t *testing.T) {
	rec := &recorder{}
	s := newTestScheduler(t, rec.fire, Options{})

	delay := 40 * time.Millisecond
	start := time.Now()
	handle, err := s.Arm("S", "send_promo", delay)
	require.NoError(t, err)
	assert.NotEmpty(t, handle.ID)
	assert.Equal(t, "send_promo", handle.Label)
	assert.False(t, handle.FireAt.Before(start.Add(delay)))

	require.Eventually(t, func() bool { return rec.count("S", "send_promo") == 1 }, time.Second, 5*time.Millisecond)
	fired := rec.snapshot()[0]
	assert.GreaterOrEqual(t, fired.at.Sub(start), delay)
	assert.Empty(t, s.Pending("S"))
}

func TestArm_ZeroDelayFiresPromptly(t *testing.T) {
	rec := &recorder{}
	s := newTestScheduler(t, rec.fire, Options{})

	_, err := s.Arm("S", "now", 0)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return rec.count("S", "now") == 1 }, time.Second, time.Millisecond)
}

func TestArm_ReArmSupersedesPrevious(t *testing.T) {
	rec := &recorder{}
	metrics := &eventCounter{}
	s := newTestScheduler(t, rec.fire, Options{Metrics: metrics})

	first, err := s.Arm("S", "promo", 300*time.Millisecond)
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)

	arm2 := time.Now()
	second, err := s.Arm("S", "promo", 60*time.Millisecond)
	require.NoError(t, err)
	assert.Greater(t, second.Sequence, first.Sequence)

	pending := s.Pending("S")
	require.Len(t, pending, 1)
	assert.Equal(t, second.ID, pending[0].ID)

	require.Eventually(t, func() bool { return rec.count("S", "promo") == 1 }, time.Second, 5*time.Millisecond)
	fired := rec.snapshot()[0]
	assert.GreaterOrEqual(t, fired.at.Sub(arm2), 60*time.Millisecond)
	assert.Less(t, fired.at.Sub(arm2), 300*time.Millisecond, "must fire on the second deadline")

	// Outlive the first deadline; it must never fire.
	time.Sleep(350 * time.Millisecond)
	assert.Equal(t, 1, rec.count("S", "promo"))
	assert.Equal(t, 1, metrics.get("superseded"))
}

func TestCancel_BeforeFirePreventsInvocation(t *testing.T) {
	rec := &recorder{}
	s := newTestScheduler(t, rec.fire, Options{})

	_, err := s.Arm("S", "promo", 50*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, s.Cancel("S", "promo"))
	assert.Empty(t, s.Pending("S"))

	time.Sleep(120 * time.Millisecond)
	assert.Zero(t, rec.count("S", "promo"))

	// Canceling again, or canceling something never armed, is harmless.
	assert.NoError(t, s.Cancel("S", "promo"))
	assert.NoError(t, s.Cancel("other", "nothing"))
}

func TestLabelsAreIndependent(t *testing.T) {
	rec := &recorder{}
	s := newTestScheduler(t, rec.fire, Options{})

	_, err := s.Arm("S", "a", 40*time.Millisecond)
	require.NoError(t, err)
	_, err = s.Arm("S", "b", 40*time.Millisecond)
	require.NoError(t, err)
	assert.Len(t, s.Pending("S"), 2)

	require.NoError(t, s.Cancel("S", "a"))

	require.Eventually(t, func() bool { return rec.count("S", "b") == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, rec.count("S", "a"))
}

func TestCallbackCanReArmSameLabel(t *testing.T) {
	var fires atomic.Int32
	var s *Scheduler
	s = newTestScheduler(t, func(_ context.Context, sessionID, label string) error {
		if fires.Add(1) == 1 {
			_, err := s.Arm(sessionID, label, 10*time.Millisecond)
			return err
		}
		return nil
	}, Options{})

	_, err := s.Arm("S", "loop", 10*time.Millisecond)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return fires.Load() == 2 }, time.Second, 5*time.Millisecond)
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, int32(2), fires.Load())
}

func TestCallbackFailureIsIsolated(t *testing.T) {
	rec := &recorder{}
	metrics := &eventCounter{}
	errs := make(chan *CallbackError, 4)
	s := newTestScheduler(t, func(ctx context.Context, sessionID, label string) error {
		switch label {
		case "panics":
			panic("boom")
		case "fails":
			return errors.New("send failed")
		}
		return rec.fire(ctx, sessionID, label)
	}, Options{Metrics: metrics, OnError: func(e *CallbackError) { errs <- e }})

	for _, label := range []string{"panics", "fails", "ok"} {
		_, err := s.Arm("S", label, 20*time.Millisecond)
		require.NoError(t, err)
	}
	_, err := s.Arm("S2", "ok", 30*time.Millisecond)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return rec.count("S", "ok") == 1 && rec.count("S2", "ok") == 1
	}, time.Second, 5*time.Millisecond)

	got := map[string]error{}
	for i := 0; i < 2; i++ {
		select {
		case e := <-errs:
			assert.ErrorIs(t, e, ErrCallbackFailure)
			got[e.Handle.Label] = e.Err
		case <-time.After(time.Second):
			t.Fatal("expected callback error")
		}
	}
	assert.Contains(t, got["panics"].Error(), "boom")
	assert.EqualError(t, got["fails"], "send failed")
	assert.Equal(t, 2, metrics.get("failed"))
}

func TestArm_ValidationErrors(t *testing.T) {
	s := newTestScheduler(t, (&recorder{}).fire, Options{})

	_, err := s.Arm("S", "promo", -time.Second)
	assert.ErrorIs(t, err, ErrInvalidDelay)

	_, err = s.Arm("", "promo", time.Second)
	assert.ErrorIs(t, err, session.ErrInvalidSession)

	_, err = s.Arm("S", " ", time.Second)
	assert.ErrorIs(t, err, ErrInvalidLabel)

	assert.ErrorIs(t, s.Cancel("", "promo"), session.ErrInvalidSession)
}

func TestArm_ConcurrentReArmFiresOnce(t *testing.T) {
	rec := &recorder{}
	s := newTestScheduler(t, rec.fire, Options{})

	var wg sync.WaitGroup
	var maxSeq atomic.Uint64
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := s.Arm("S", "race", 30*time.Millisecond)
			assert.NoError(t, err)
			for {
				cur := maxSeq.Load()
				if h.Sequence <= cur || maxSeq.CompareAndSwap(cur, h.Sequence) {
					break
				}
			}
		}()
	}
	wg.Wait()

	pending := s.Pending("S")
	require.Len(t, pending, 1)
	assert.Equal(t, maxSeq.Load(), pending[0].Sequence, "highest sequence survives")

	require.Eventually(t, func() bool { return rec.count("S", "race") == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 1, rec.count("S", "race"))
}

func TestCancelRacingFireNeverDoubleInvokes(t *testing.T) {
	rec := &recorder{}
	s := newTestScheduler(t, rec.fire, Options{})

	for i := 0; i < 100; i++ {
		sid := fmt.Sprintf("race-%d", i)
		_, err := s.Arm(sid, "promo", 0)
		require.NoError(t, err)
		require.NoError(t, s.Cancel(sid, "promo"))
	}
	time.Sleep(50 * time.Millisecond)
	for i := 0; i < 100; i++ {
		assert.LessOrEqual(t, rec.count(fmt.Sprintf("race-%d", i), "promo"), 1)
	}
}

func TestSlowCallbackDoesNotBlockOtherSessions(t *testing.T) {
	rec := &recorder{}
	release := make(chan struct{})
	s := newTestScheduler(t, func(ctx context.Context, sessionID, label string) error {
		if sessionID == "slow" {
			select {
			case <-release:
			case <-ctx.Done():
			}
		}
		return rec.fire(ctx, sessionID, label)
	}, Options{})

	_, err := s.Arm("slow", "promo", 5*time.Millisecond)
	require.NoError(t, err)
	_, err = s.Arm("fast", "promo", 20*time.Millisecond)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return rec.count("fast", "promo") == 1 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, rec.count("slow", "promo"))
	close(release)
	require.Eventually(t, func() bool { return rec.count("slow", "promo") == 1 }, time.Second, 5*time.Millisecond)
}

func TestStop_CancelsPendingAndRejectsArm(t *testing.T) {
	rec := &recorder{}
	started := make(chan struct{})
	var sawCancel atomic.Bool
	s := NewScheduler(func(ctx context.Context, sessionID, label string) error {
		if label == "long" {
			close(started)
			<-ctx.Done()
			sawCancel.Store(true)
			return ctx.Err()
		}
		return rec.fire(ctx, sessionID, label)
	}, Options{Logger: logging.Discard()})

	_, err := s.Arm("S", "long", 0)
	require.NoError(t, err)
	_, err = s.Arm("S", "later", time.Hour)
	require.NoError(t, err)
	<-started

	s.Stop()
	assert.True(t, sawCancel.Load(), "in-flight callback must observe cancellation before Stop returns")
	assert.Empty(t, s.Pending("S"))

	_, err = s.Arm("S", "after", time.Millisecond)
	assert.ErrorIs(t, err, ErrStopped)
	s.Stop()
}

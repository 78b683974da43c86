package reconnect

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolgate/toolgate/internal/event"
)

// fastStrategy keeps state-machine tests quick.
func fastStrategy(maxRetries int) StrategyPatch {
	base := 5 * time.Millisecond
	max := 50 * time.Millisecond
	mult := 1.5
	jitter := false
	return StrategyPatch{
		MaxRetries: &maxRetries,
		BaseDelay:  &base,
		MaxDelay:   &max,
		Multiplier: &mult,
		Jitter:     &jitter,
	}
}

type eventRecorder struct {
	mu     sync.Mutex
	events []event.Event
}

func (r *eventRecorder) record(e event.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *eventRecorder) byType(t event.Type) []event.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []event.Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func newTestManager(t *testing.T) (*Manager, *eventRecorder) {
	t.Helper()
	bus := event.NewBus()
	t.Cleanup(func() { bus.Close() })
	rec := &eventRecorder{}
	bus.SubscribeAll(rec.record)
	m := New(bus)
	t.Cleanup(m.Close)
	return m, rec
}

func TestBackoffSequence(t *testing.T) {
	// 500, 750, 1125 before capping.
	bo := newBackOff(Strategy{
		MaxRetries: 3,
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   10 * time.Second,
		Multiplier: 1.5,
		Jitter:     false,
	})
	assert.Equal(t, 500*time.Millisecond, bo.NextBackOff())
	assert.Equal(t, 750*time.Millisecond, bo.NextBackOff())
	assert.Equal(t, 1125*time.Millisecond, bo.NextBackOff())
}

func TestBackoffSequence_Caps(t *testing.T) {
	bo := newBackOff(Strategy{
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   time.Second,
		Multiplier: 1.5,
	})
	assert.Equal(t, 500*time.Millisecond, bo.NextBackOff())
	assert.Equal(t, 750*time.Millisecond, bo.NextBackOff())
	assert.Equal(t, time.Second, bo.NextBackOff())
	assert.Equal(t, time.Second, bo.NextBackOff())
}

func TestBackoff_JitterBand(t *testing.T) {
	// With jitter on, each delay is drawn from +-50% of the nominal
	// value: the first delay for a 500ms base lands in [250ms, 750ms].
	strategy := Strategy{
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   10 * time.Second,
		Multiplier: 1.5,
		Jitter:     true,
	}

	samples := make([]time.Duration, 50)
	for i := range samples {
		samples[i] = newBackOff(strategy).NextBackOff()
	}

	allEqual := true
	for _, d := range samples {
		assert.GreaterOrEqual(t, d, 250*time.Millisecond)
		assert.LessOrEqual(t, d, 750*time.Millisecond)
		if d != samples[0] {
			allEqual = false
		}
	}
	assert.False(t, allEqual, "jittered delays should vary across samples")
}

func TestSchedule_Idempotent(t *testing.T) {
	m, rec := newTestManager(t)
	// Long delay so the first attempt never fires during the test.
	base := time.Hour
	require.NoError(t, m.SetStrategy(StrategyPatch{BaseDelay: &base}))

	fn := func(context.Context, any) error { return nil }
	st1, err := m.Schedule("calc", nil, fn)
	require.NoError(t, err)
	st2, err := m.Schedule("calc", nil, fn)
	require.NoError(t, err)

	assert.Equal(t, st1.ServerName, st2.ServerName)
	assert.Len(t, m.States(), 1)

	// Exactly one scheduled event despite two Schedule calls.
	assert.Eventually(t, func() bool {
		return len(rec.byType(event.ReconnectionScheduled)) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Len(t, rec.byType(event.ReconnectionScheduled), 1)
}

func TestSchedule_InvalidName(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.Schedule("Not Valid!", nil, func(context.Context, any) error { return nil })
	assert.Error(t, err)

	_, err = m.Schedule("valid-name", nil, nil)
	assert.Error(t, err)
}

func TestReconnect_SuccessRemovesState(t *testing.T) {
	m, rec := newTestManager(t)
	require.NoError(t, m.SetStrategy(fastStrategy(3)))

	var calls atomic.Int64
	_, err := m.Schedule("calc", nil, func(context.Context, any) error {
		calls.Add(1)
		return nil
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(rec.byType(event.ReconnectionConnected)) == 1
	}, time.Second, 5*time.Millisecond)

	assert.EqualValues(t, 1, calls.Load())
	_, ok := m.GetState("calc")
	assert.False(t, ok, "state must be removed on success")
}

func TestReconnect_ExhaustsAfterMaxRetries(t *testing.T) {
	m, rec := newTestManager(t)
	require.NoError(t, m.SetStrategy(fastStrategy(3)))

	var calls atomic.Int64
	_, err := m.Schedule("calc", nil, func(context.Context, any) error {
		calls.Add(1)
		return errors.New("connection refused")
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(rec.byType(event.ReconnectionExhausted)) == 1
	}, 2*time.Second, 5*time.Millisecond)

	// maxRetries=3 means the initial attempt plus three retries; the
	// fourth failure is terminal.
	assert.EqualValues(t, 4, calls.Load())
	assert.Len(t, rec.byType(event.ReconnectionScheduled), 4)

	st, ok := m.GetState("calc")
	require.True(t, ok, "exhausted state stays visible until cancelled")
	assert.Equal(t, StatusExhausted, st.Status)
	assert.Equal(t, 4, st.Attempt)
	assert.Contains(t, st.LastError, "connection refused")

	data := rec.byType(event.ReconnectionExhausted)[0].Data.(event.ReconnectionExhaustedData)
	assert.Equal(t, "calc", data.ServerName)
	assert.Contains(t, data.LastError, "connection refused")
}

func TestReconnect_ScheduledEventDelays(t *testing.T) {
	m, rec := newTestManager(t)
	require.NoError(t, m.SetStrategy(fastStrategy(2)))

	_, err := m.Schedule("calc", nil, func(context.Context, any) error {
		return errors.New("still down")
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(rec.byType(event.ReconnectionExhausted)) == 1
	}, 2*time.Second, 5*time.Millisecond)

	scheduled := rec.byType(event.ReconnectionScheduled)
	require.Len(t, scheduled, 3)
	var delays []int64
	var attempts []int
	for _, e := range scheduled {
		data := e.Data.(event.ReconnectionScheduledData)
		delays = append(delays, data.DelayMs)
		attempts = append(attempts, data.Attempt)
	}
	// base 5ms, multiplier 1.5, no jitter: 5, 7, 11 (truncated ms).
	assert.Equal(t, []int64{5, 7, 11}, delays)
	assert.Equal(t, []int{0, 1, 2}, attempts)
}

func TestCancel(t *testing.T) {
	m, rec := newTestManager(t)
	base := time.Hour
	require.NoError(t, m.SetStrategy(StrategyPatch{BaseDelay: &base}))

	_, err := m.Schedule("calc", nil, func(context.Context, any) error { return nil })
	require.NoError(t, err)

	assert.True(t, m.Cancel("calc"))
	assert.False(t, m.Cancel("calc"), "second cancel finds nothing")
	_, ok := m.GetState("calc")
	assert.False(t, ok)

	assert.Eventually(t, func() bool {
		return len(rec.byType(event.ReconnectionCancelled)) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestCancelAll(t *testing.T) {
	m, _ := newTestManager(t)
	base := time.Hour
	require.NoError(t, m.SetStrategy(StrategyPatch{BaseDelay: &base}))

	fn := func(context.Context, any) error { return nil }
	_, err := m.Schedule("alpha", nil, fn)
	require.NoError(t, err)
	_, err = m.Schedule("beta", nil, fn)
	require.NoError(t, err)

	assert.Equal(t, 2, m.CancelAll())
	assert.Empty(t, m.States())
}

func TestCancel_InFlightAttemptDiscarded(t *testing.T) {
	m, rec := newTestManager(t)
	require.NoError(t, m.SetStrategy(fastStrategy(3)))

	started := make(chan struct{})
	finish := make(chan struct{})
	_, err := m.Schedule("calc", nil, func(context.Context, any) error {
		close(started)
		<-finish
		return nil
	})
	require.NoError(t, err)

	<-started
	assert.True(t, m.Cancel("calc"))
	close(finish)

	// The attempt completes but its success must be discarded: no
	// connected event, no resurrected state.
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, rec.byType(event.ReconnectionConnected))
	_, ok := m.GetState("calc")
	assert.False(t, ok)
}

func TestResetRetries(t *testing.T) {
	m, _ := newTestManager(t)
	base := time.Hour
	require.NoError(t, m.SetStrategy(StrategyPatch{BaseDelay: &base}))

	// No state: no-op, not an error.
	m.ResetRetries("ghost")

	_, err := m.Schedule("calc", nil, func(context.Context, any) error { return nil })
	require.NoError(t, err)

	m.ResetRetries("calc")
	st, ok := m.GetState("calc")
	require.True(t, ok)
	assert.Equal(t, 0, st.Attempt)
}

func TestSetStrategy_PartialMerge(t *testing.T) {
	m, _ := newTestManager(t)

	retries := 7
	require.NoError(t, m.SetStrategy(StrategyPatch{MaxRetries: &retries}))

	got := m.GetStrategy()
	assert.Equal(t, 7, got.MaxRetries)
	// Untouched fields keep their defaults.
	def := DefaultStrategy()
	assert.Equal(t, def.BaseDelay, got.BaseDelay)
	assert.Equal(t, def.MaxDelay, got.MaxDelay)
	assert.Equal(t, def.Multiplier, got.Multiplier)
	assert.Equal(t, def.Jitter, got.Jitter)
}

func TestSetStrategy_RejectsBadValues(t *testing.T) {
	m, _ := newTestManager(t)

	bad := -1
	assert.Error(t, m.SetStrategy(StrategyPatch{MaxRetries: &bad}))

	zero := time.Duration(0)
	assert.Error(t, m.SetStrategy(StrategyPatch{BaseDelay: &zero}))

	mult := 0.5
	assert.Error(t, m.SetStrategy(StrategyPatch{Multiplier: &mult}))

	// A failed update must not partially apply.
	assert.Equal(t, DefaultStrategy(), m.GetStrategy())
}

func TestClose_RejectsNewSchedules(t *testing.T) {
	bus := event.NewBus()
	defer bus.Close()
	m := New(bus)
	m.Close()

	_, err := m.Schedule("calc", nil, func(context.Context, any) error { return nil })
	assert.Error(t, err)
}

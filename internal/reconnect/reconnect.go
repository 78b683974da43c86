// Package reconnect restores dropped provider connections with bounded
// exponential backoff. One state machine runs per server name:
//
//	scheduled -> attempting -> connected (state removed)
//	                        -> scheduled (retry)
//	                        -> exhausted (terminal)
//
// Exhaustion is reported, never silently recovered: a human fixes the
// credentials or restarts the provider process.
package reconnect

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/toolgate/toolgate/internal/event"
	"github.com/toolgate/toolgate/internal/invariant"
	"github.com/toolgate/toolgate/internal/logging"
	"github.com/toolgate/toolgate/internal/remedy"
)

// Status is the lifecycle phase of one reconnection state machine.
type Status string

const (
	StatusScheduled  Status = "scheduled"
	StatusAttempting Status = "attempting"
	StatusConnected  Status = "connected"
	StatusExhausted  Status = "exhausted"
)

// Strategy configures backoff for reconnection attempts. Delay for attempt
// n is min(MaxDelay, BaseDelay * Multiplier^n), perturbed by +-50% when
// Jitter is set.
type Strategy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
	Jitter     bool
}

// DefaultStrategy mirrors the retry posture used for provider API calls.
func DefaultStrategy() Strategy {
	return Strategy{
		MaxRetries: 5,
		BaseDelay:  time.Second,
		MaxDelay:   30 * time.Second,
		Multiplier: 2.0,
		Jitter:     true,
	}
}

// StrategyPatch is a partial strategy update; nil fields keep their
// current value.
type StrategyPatch struct {
	MaxRetries *int
	BaseDelay  *time.Duration
	MaxDelay   *time.Duration
	Multiplier *float64
	Jitter     *bool
}

// State is a read-only snapshot of one server's reconnection machine.
type State struct {
	ServerName    string
	Status        Status
	Attempt       int
	NextAttemptAt time.Time
	LastError     string
	TransportKind string
}

// ReconnectFunc re-establishes one provider connection. cfg is the opaque
// transport configuration given to Schedule, passed through untouched.
type ReconnectFunc func(ctx context.Context, cfg any) error

// tracked is the mutable machine behind a State snapshot. Identity of the
// pointer doubles as a generation check: an in-flight attempt whose tracked
// entry is no longer in the map discards its result.
type tracked struct {
	state    State
	cfg      any
	fn       ReconnectFunc
	strategy Strategy
	bo       *backoff.ExponentialBackOff
	timer    *time.Timer
}

// Manager owns all reconnection state machines for one agent process.
type Manager struct {
	mu       sync.Mutex
	states   map[string]*tracked
	strategy Strategy
	bus      *event.Bus
	log      zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	closed bool
}

// New creates a manager publishing transition events on bus. A nil bus
// falls back to the process-wide default bus.
func New(bus *event.Bus) *Manager {
	if bus == nil {
		bus = event.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		states:   make(map[string]*tracked),
		strategy: DefaultStrategy(),
		bus:      bus,
		log:      logging.Component("reconnect"),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// newBackOff builds the delay generator for one state machine.
func newBackOff(s Strategy) *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.BaseDelay
	bo.MaxInterval = s.MaxDelay
	bo.Multiplier = s.Multiplier
	bo.MaxElapsedTime = 0 // retries are bounded by MaxRetries, not wall time
	if s.Jitter {
		bo.RandomizationFactor = 0.5
	} else {
		bo.RandomizationFactor = 0
	}
	bo.Reset()
	return bo
}

// Schedule starts a reconnection machine for name, or returns the existing
// state untouched: scheduling twice while one is pending is a no-op. The
// opaque cfg is handed to fn on every attempt.
func (m *Manager) Schedule(name string, cfg any, fn ReconnectFunc) (State, error) {
	if err := invariant.ValidIdentifier(name, "server name"); err != nil {
		return State{}, err
	}
	if err := invariant.Check(fn != nil, "reconnect function must be defined", nil); err != nil {
		return State{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := invariant.NotDisposed(m.closed, "reconnection manager"); err != nil {
		return State{}, err
	}

	if existing, ok := m.states[name]; ok {
		return existing.state, nil
	}

	t := &tracked{
		cfg:      cfg,
		fn:       fn,
		strategy: m.strategy,
		bo:       newBackOff(m.strategy),
		state: State{
			ServerName:    name,
			Status:        StatusScheduled,
			TransportKind: transportKind(cfg),
		},
	}
	m.states[name] = t
	m.armLocked(t)
	return t.state, nil
}

// armLocked computes the next delay, emits the scheduled event and starts
// the timer. Caller holds m.mu.
func (m *Manager) armLocked(t *tracked) {
	delay := t.bo.NextBackOff()
	t.state.Status = StatusScheduled
	t.state.NextAttemptAt = time.Now().Add(delay)
	t.timer = time.AfterFunc(delay, func() { m.attempt(t) })

	m.log.Info().
		Str("server", t.state.ServerName).
		Int("attempt", t.state.Attempt).
		Dur("delay", delay).
		Msg("reconnection scheduled")
	m.bus.Publish(event.Event{
		Type: event.ReconnectionScheduled,
		Data: event.ReconnectionScheduledData{
			ServerName: t.state.ServerName,
			Attempt:    t.state.Attempt,
			DelayMs:    delay.Milliseconds(),
		},
	})
}

// attempt runs one connection attempt. An attempt that finds its state
// cancelled or replaced discards its result entirely.
func (m *Manager) attempt(t *tracked) {
	m.mu.Lock()
	if m.closed || m.states[t.state.ServerName] != t {
		m.mu.Unlock()
		return
	}
	t.state.Status = StatusAttempting
	name := t.state.ServerName
	cfg, fn := t.cfg, t.fn
	m.mu.Unlock()

	err := fn(m.ctx, cfg)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.states[name] != t {
		// Cancelled while the attempt was in flight; no state to update.
		return
	}

	if err == nil {
		delete(m.states, name)
		m.log.Info().Str("server", name).Int("attempts", t.state.Attempt).Msg("reconnected")
		m.bus.Publish(event.Event{
			Type: event.ReconnectionConnected,
			Data: event.ReconnectionConnectedData{ServerName: name, Attempts: t.state.Attempt},
		})
		return
	}

	t.state.Attempt++
	t.state.LastError = err.Error()

	if t.state.Attempt > t.strategy.MaxRetries {
		t.state.Status = StatusExhausted
		diag := remedy.Diagnose(err, remedy.TransportKind(t.state.TransportKind))
		m.log.Error().
			Str("server", name).
			Int("attempts", t.state.Attempt).
			Str("error", err.Error()).
			Str("diagnosis", diag.Title).
			Msg("reconnection exhausted\n" + remedy.Format(diag))
		m.bus.Publish(event.Event{
			Type: event.ReconnectionExhausted,
			Data: event.ReconnectionExhaustedData{
				ServerName: name,
				Attempts:   t.state.Attempt,
				LastError:  err.Error(),
			},
		})
		return
	}

	m.armLocked(t)
}

// Cancel removes the state for name, stopping any pending timer. An
// attempt already in flight completes but its result is discarded.
// Returns whether a state existed.
func (m *Manager) Cancel(name string) bool {
	m.mu.Lock()
	t, ok := m.states[name]
	if ok {
		if t.timer != nil {
			t.timer.Stop()
		}
		delete(m.states, name)
	}
	m.mu.Unlock()

	if ok {
		m.log.Debug().Str("server", name).Msg("reconnection cancelled")
		m.bus.Publish(event.Event{
			Type: event.ReconnectionCancelled,
			Data: event.ReconnectionCancelledData{ServerName: name},
		})
	}
	return ok
}

// CancelAll cancels every tracked reconnection and returns how many there
// were.
func (m *Manager) CancelAll() int {
	m.mu.Lock()
	names := make([]string, 0, len(m.states))
	for name := range m.states {
		names = append(names, name)
	}
	m.mu.Unlock()

	for _, name := range names {
		m.Cancel(name)
	}
	return len(names)
}

// ResetRetries clears the attempt counter and backoff progression for
// name. Without a tracked state this is a no-op, not an error.
func (m *Manager) ResetRetries(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.states[name]
	if !ok {
		return
	}
	t.state.Attempt = 0
	t.state.LastError = ""
	t.bo.Reset()
}

// GetState returns a snapshot of the machine for name.
func (m *Manager) GetState(name string) (State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.states[name]
	if !ok {
		return State{}, false
	}
	return t.state, true
}

// States returns snapshots of all tracked machines, sorted by server name.
func (m *Manager) States() []State {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]State, 0, len(m.states))
	for _, t := range m.states {
		out = append(out, t.state)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ServerName < out[j].ServerName })
	return out
}

// SetStrategy merges a partial update over the current strategy. Existing
// machines keep the strategy they were scheduled with; only future
// Schedule calls see the change.
func (m *Manager) SetStrategy(patch StrategyPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := m.strategy
	if patch.MaxRetries != nil {
		next.MaxRetries = *patch.MaxRetries
	}
	if patch.BaseDelay != nil {
		next.BaseDelay = *patch.BaseDelay
	}
	if patch.MaxDelay != nil {
		next.MaxDelay = *patch.MaxDelay
	}
	if patch.Multiplier != nil {
		next.Multiplier = *patch.Multiplier
	}
	if patch.Jitter != nil {
		next.Jitter = *patch.Jitter
	}

	if err := invariant.NonNegative(float64(next.MaxRetries), "maxRetries"); err != nil {
		return err
	}
	if err := invariant.Positive(float64(next.BaseDelay), "baseDelay"); err != nil {
		return err
	}
	if err := invariant.Positive(float64(next.MaxDelay), "maxDelay"); err != nil {
		return err
	}
	if err := invariant.Check(next.Multiplier >= 1, "backoff multiplier must be >= 1",
		map[string]any{"multiplier": next.Multiplier}); err != nil {
		return err
	}

	m.strategy = next
	return nil
}

// GetStrategy returns the strategy applied to future schedules.
func (m *Manager) GetStrategy() Strategy {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.strategy
}

// Close cancels everything and rejects further scheduling.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()

	m.CancelAll()
	m.cancel()
}

// transportKind pulls a transport hint out of the opaque config for
// diagnosis purposes only.
func transportKind(cfg any) string {
	type kinder interface{ TransportKind() string }
	if k, ok := cfg.(kinder); ok {
		return k.TransportKind()
	}
	return ""
}

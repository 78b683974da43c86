// Package keyedmutex provides a map of independent mutual-exclusion locks,
// one per string key, with strict FIFO handoff between waiters.
//
// Provider connections are single-threaded resources: one stdio pipe, one
// socket. Interleaved writes corrupt the protocol framing, so every
// state-mutating operation against a given provider is serialized under the
// provider's key while operations against different providers proceed
// independently.
package keyedmutex

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/toolgate/toolgate/internal/invariant"
)

// entry is the lock state for one key. locked is true iff some caller
// currently holds the critical section; waiters never contains the holder.
type entry struct {
	locked  bool
	waiters []chan struct{}
}

// Map is a collection of per-key FIFO mutexes. Entries are created lazily
// on first Acquire and removed only by Clear. The zero value is not usable;
// construct with New.
type Map struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// New creates an empty keyed mutex map.
func New() *Map {
	return &Map{entries: make(map[string]*entry)}
}

// Acquire blocks until the caller holds the lock for key, or until ctx is
// done. On success it returns a release callback that is safe to call more
// than once; only the first call releases. Waiters are granted the lock in
// arrival order, and release hands ownership directly to the next waiter
// with no unlocked window in between.
func (m *Map) Acquire(ctx context.Context, key string) (func(), error) {
	m.mu.Lock()
	e := m.entries[key]
	if e == nil {
		e = &entry{}
		m.entries[key] = e
	}

	if !e.locked {
		e.locked = true
		m.mu.Unlock()
		return m.releaser(key), nil
	}

	grant := make(chan struct{}, 1)
	e.waiters = append(e.waiters, grant)
	m.mu.Unlock()

	select {
	case <-grant:
		return m.releaser(key), nil
	case <-ctx.Done():
		m.mu.Lock()
		select {
		case <-grant:
			// Ownership arrived while we were giving up; pass it on so the
			// queue keeps moving.
			m.releaseLocked(key)
		default:
			m.removeWaiter(e, grant)
		}
		m.mu.Unlock()
		return nil, ctx.Err()
	}
}

// releaser returns the one-shot release callback for key.
func (m *Map) releaser(key string) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			m.releaseLocked(key)
			m.mu.Unlock()
		})
	}
}

// releaseLocked hands the lock to the next waiter, or unlocks when the
// queue is empty. Caller holds m.mu; the shift-and-grant is a single
// critical section so no third party can slip in between.
func (m *Map) releaseLocked(key string) {
	e := m.entries[key]
	if e == nil || !e.locked {
		return
	}
	if len(e.waiters) > 0 {
		next := e.waiters[0]
		e.waiters = e.waiters[1:]
		next <- struct{}{} // buffered; ownership transfers, locked stays true
		return
	}
	e.locked = false
}

// removeWaiter drops an abandoned waiter from the queue. Caller holds m.mu.
func (m *Map) removeWaiter(e *entry, grant chan struct{}) {
	for i, w := range e.waiters {
		if w == grant {
			e.waiters = append(e.waiters[:i], e.waiters[i+1:]...)
			return
		}
	}
}

// RunExclusive runs fn while holding the lock for key. The lock is released
// on every exit path, including a panic inside fn (the panic propagates
// after release). The error returned is fn's own; acquiring the lock never
// fails except by ctx cancellation.
func (m *Map) RunExclusive(ctx context.Context, key string, fn func() error) error {
	release, err := m.Acquire(ctx, key)
	if err != nil {
		return err
	}
	defer release()
	return fn()
}

// Outcome is the discriminated result of a safe exclusive run: exactly one
// of Success or Err is meaningful. Callers fanning out over many keys can
// collect outcomes without a per-key recover.
type Outcome struct {
	Success bool
	Err     error
}

// RunExclusiveSafe is RunExclusive with the failure wrapped in an Outcome
// instead of propagating. A panic inside fn is captured as an error; it is
// reported, never swallowed.
func (m *Map) RunExclusiveSafe(ctx context.Context, key string, fn func() error) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = Outcome{Err: fmt.Errorf("panic in exclusive section for %q: %v", key, r)}
		}
	}()
	if err := m.RunExclusive(ctx, key, fn); err != nil {
		return Outcome{Err: err}
	}
	return Outcome{Success: true}
}

// IsLocked reports whether the lock for key is currently held.
func (m *Map) IsLocked(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entries[key]
	return e != nil && e.locked
}

// QueueLength returns the number of callers waiting on key, excluding the
// current holder.
func (m *Map) QueueLength(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entries[key]
	if e == nil {
		return 0
	}
	return len(e.waiters)
}

// Keys returns all keys with a live entry, sorted.
func (m *Map) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clear removes the entry for key. Clearing a held or contended lock is a
// logic error and reported as an invariant violation.
func (m *Map) Clear(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entries[key]
	if e == nil {
		return nil
	}
	if err := invariant.MutexUnlocked(e.locked, key); err != nil {
		return err
	}
	if err := invariant.Check(len(e.waiters) == 0, "cannot clear a contended mutex",
		map[string]any{"key": key, "waiters": len(e.waiters)}); err != nil {
		return err
	}
	delete(m.entries, key)
	return nil
}

package tool

import "sync"

// The process-wide default registry lives at the composition root; regular
// code takes a *Registry. Tests call ResetDefault for isolation.
var (
	defaultMu       sync.Mutex
	defaultRegistry *Registry
)

// Default returns the lazily-created process-wide registry.
func Default() *Registry {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultRegistry == nil {
		defaultRegistry = NewRegistry()
	}
	return defaultRegistry
}

// ResetDefault discards the process-wide registry; the next Default call
// creates a fresh one.
func ResetDefault() {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultRegistry = nil
}

package invariant

import (
	"fmt"
	"regexp"
)

// identifierRe matches well-formed provider/server identifiers.
var identifierRe = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// NotEmpty checks that a slice has at least one element.
func NotEmpty[T any](items []T, what string) error {
	return Check(len(items) > 0, fmt.Sprintf("%s must not be empty", what), nil)
}

// Defined checks that a value is non-nil.
func Defined(v any, what string) error {
	return Check(v != nil, fmt.Sprintf("%s must be defined", what), nil)
}

// NonEmptyString checks that a string is non-empty.
func NonEmptyString(s, what string) error {
	return Check(s != "", fmt.Sprintf("%s must be a non-empty string", what), nil)
}

// Positive checks that a number is strictly greater than zero.
func Positive(n float64, what string) error {
	return Check(n > 0, fmt.Sprintf("%s must be positive", what), map[string]any{"value": n})
}

// NonNegative checks that a number is zero or greater.
func NonNegative(n float64, what string) error {
	return Check(n >= 0, fmt.Sprintf("%s must not be negative", what), map[string]any{"value": n})
}

// InRange checks that min <= n <= max.
func InRange(n, min, max float64, what string) error {
	return Check(n >= min && n <= max,
		fmt.Sprintf("%s must be in range [%v, %v]", what, min, max),
		map[string]any{"value": n})
}

// HasKey checks that a map contains the given key.
func HasKey[V any](m map[string]V, key, what string) error {
	_, ok := m[key]
	return Check(ok, fmt.Sprintf("%s must contain key %q", what, key), map[string]any{"key": key})
}

// ValidState checks that a state value is one of the allowed set.
func ValidState(state string, allowed []string, what string) error {
	for _, a := range allowed {
		if state == a {
			return nil
		}
	}
	return Check(false, fmt.Sprintf("%s has invalid state %q", what, state),
		map[string]any{"state": state, "allowed": allowed})
}

// ValidIdentifier checks that an identifier matches ^[a-z0-9_-]+$ with
// length 1-64. Server names and lock keys must pass this.
func ValidIdentifier(id, what string) error {
	return Check(identifierRe.MatchString(id),
		fmt.Sprintf("%s must match ^[a-z0-9_-]{1,64}$", what),
		map[string]any{"value": id})
}

// NoDuplicates checks that a list of names contains no repeats, reporting
// which names duplicated.
func NoDuplicates(names []string, what string) error {
	seen := make(map[string]bool, len(names))
	var dups []string
	for _, n := range names {
		if seen[n] {
			dups = append(dups, n)
		}
		seen[n] = true
	}
	return Check(len(dups) == 0, fmt.Sprintf("%s contains duplicate names", what),
		map[string]any{"duplicates": dups})
}

// ResultSuccess checks that a multi-step operation's result reports
// success, carrying the collected per-step errors when it does not.
func ResultSuccess(success bool, what string, errs []string) error {
	return Check(success, fmt.Sprintf("%s did not complete successfully", what),
		map[string]any{"errors": errs})
}

// MutexLocked checks that a lock believed to be held is in fact held.
func MutexLocked(locked bool, key string) error {
	return Check(locked, "mutex expected to be locked", map[string]any{"key": key})
}

// MutexUnlocked checks that a lock believed to be free is in fact free.
func MutexUnlocked(locked bool, key string) error {
	return Check(!locked, "mutex expected to be unlocked", map[string]any{"key": key})
}

// NotDisposed checks that a resource has not already been disposed.
func NotDisposed(disposed bool, what string) error {
	return Check(!disposed, fmt.Sprintf("%s already disposed", what), nil)
}

// ExactlyOne checks that exactly one of the flags is true.
func ExactlyOne(what string, flags ...bool) error {
	count := 0
	for _, f := range flags {
		if f {
			count++
		}
	}
	return Check(count == 1, fmt.Sprintf("%s: exactly one option must be set", what),
		map[string]any{"set": count})
}

// AtLeastOne checks that at least one of the flags is true.
func AtLeastOne(what string, flags ...bool) error {
	for _, f := range flags {
		if f {
			return nil
		}
	}
	return Check(false, fmt.Sprintf("%s: at least one option must be set", what), nil)
}

// TransportShape describes the fields present on a transport configuration.
type TransportShape struct {
	Type       string
	HasCommand bool
	HasURL     bool
}

// ValidTransportConfig checks that a transport configuration matches
// exactly one of the two supported shapes: a command-based (stdio) config
// with a non-empty command, or a network config (http, sse,
// streamable_http) with a URL. Mixing or omitting both is a violation.
func ValidTransportConfig(shape TransportShape) error {
	ctx := map[string]any{"type": shape.Type, "hasCommand": shape.HasCommand, "hasUrl": shape.HasURL}
	switch shape.Type {
	case "stdio":
		if err := Check(shape.HasCommand, "stdio transport requires a command", ctx); err != nil {
			return err
		}
		return Check(!shape.HasURL, "stdio transport must not set a url", ctx)
	case "http", "sse", "streamable_http":
		if err := Check(shape.HasURL, shape.Type+" transport requires a url", ctx); err != nil {
			return err
		}
		return Check(!shape.HasCommand, shape.Type+" transport must not set a command", ctx)
	default:
		return Check(false, "unknown transport type", ctx)
	}
}

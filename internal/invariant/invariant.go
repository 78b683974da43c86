// Package invariant provides runtime invariant checks that catch logic
// errors a type system cannot express: duplicate registrations, malformed
// configuration, use of disposed resources, locked/unlocked mismatches.
//
// Checks return a *Violation error when the stated condition is false and
// nil otherwise. Violations are programmer errors, not expected runtime
// failures: callers surface them immediately instead of recovering.
package invariant

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Violation is the error raised when an invariant does not hold. It carries
// the human-readable message plus a structured context map rendered as JSON
// in the error string.
type Violation struct {
	Message string
	Context map[string]any
}

// Error implements the error interface.
func (v *Violation) Error() string {
	if len(v.Context) == 0 {
		return "invariant violation: " + v.Message
	}
	rendered, err := json.Marshal(v.Context)
	if err != nil {
		return fmt.Sprintf("invariant violation: %s (context unrenderable: %v)", v.Message, err)
	}
	return fmt.Sprintf("invariant violation: %s %s", v.Message, rendered)
}

// Check returns a *Violation when cond is false, nil when it holds.
// ctx may be nil.
func Check(cond bool, msg string, ctx map[string]any) error {
	if cond {
		return nil
	}
	return &Violation{Message: msg, Context: ctx}
}

// Checkf is Check with a formatted message and no context map.
func Checkf(cond bool, format string, args ...any) error {
	if cond {
		return nil
	}
	return &Violation{Message: fmt.Sprintf(format, args...)}
}

// IsViolation reports whether err is (or wraps) an invariant violation.
func IsViolation(err error) bool {
	var v *Violation
	return errors.As(err, &v)
}

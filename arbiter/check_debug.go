//go:build arbiter_debug
// +build arbiter_debug

// File: arbiter/check_debug.go
// Author: momentics <momentics@gmail.com>

package arbiter

import "fmt"

// invariantViolation aborts immediately under the arbiter_debug tag,
// surfacing bookkeeping drift at its source instead of repairing it.
func (a *Arbiter) invariantViolation(msg string, args ...any) {
	panic(fmt.Sprintf("invariant violation: %s %v", msg, args))
}

//go:build !arbiter_debug
// +build !arbiter_debug

// File: arbiter/check_release.go
// Author: momentics <momentics@gmail.com>

package arbiter

// invariantViolation reports internal bookkeeping that disagrees with
// itself. Release builds log and let the caller repair by trusting
// the core-side view; builds tagged arbiter_debug panic instead so
// the violation is caught at its source.
func (a *Arbiter) invariantViolation(msg string, args ...any) {
	a.log.Error("invariant violation: "+msg, args...)
}

// File: reactor/types.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral types shared by the Linux epoll implementation and
// the stub used when building for an unsupported OS.

package reactor

import "time"

// Duration is a thin alias so callers of NewTimerfd don't need to
// import "time" solely to express a deadline.
type Duration = time.Duration

// EventKind is a bitmask of the readiness conditions a descriptor was
// registered for (or fired with).
type EventKind uint32

const (
	EventRead EventKind = 1 << iota
	EventWrite
	EventError
)

// Callback is invoked once per ready descriptor per Poll call.
type Callback func(fd int, kind EventKind)

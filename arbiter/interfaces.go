// File: arbiter/interfaces.go
// Author: momentics <momentics@gmail.com>
//
// Narrow interfaces over cpuset.Controller and reactor.Reactor so
// allocator/preemption logic can be exercised with fakes instead of a
// real cgroup mount or epoll instance — the same injected-policy
// pattern cpuset.Driver already applies one layer down.
package arbiter

import "github.com/momentics/corearbiterd/reactor"

// CoreMover is the subset of cpuset.Controller the allocator and
// preemption engine depend on.
type CoreMover interface {
	MoveThreadToExclusiveCore(tid int, core uint16) error
	RemoveThreadFromExclusiveCore(tid int) error
}

// TimerReactor is the subset of reactor.Reactor the preemption engine
// depends on to arm and disarm per-process deadlines.
type TimerReactor interface {
	Register(fd int, kind reactor.EventKind, cb reactor.Callback) error
	Unregister(fd int) error
}

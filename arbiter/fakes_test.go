package arbiter

import (
	"github.com/momentics/corearbiterd/cpuset"
	"github.com/momentics/corearbiterd/reactor"
)

// fakeCoreMover records cpuset moves in memory instead of touching a
// real cgroup mount.
type fakeCoreMover struct {
	exclusive map[int]uint16
	vanish    map[int]bool
}

func newFakeCoreMover() *fakeCoreMover {
	return &fakeCoreMover{exclusive: make(map[int]uint16), vanish: make(map[int]bool)}
}

func (f *fakeCoreMover) MoveThreadToExclusiveCore(tid int, core uint16) error {
	if f.vanish[tid] {
		return cpuset.ErrProcessVanished
	}
	f.exclusive[tid] = core
	return nil
}

func (f *fakeCoreMover) RemoveThreadFromExclusiveCore(tid int) error {
	if f.vanish[tid] {
		return cpuset.ErrProcessVanished
	}
	delete(f.exclusive, tid)
	return nil
}

// fakeReactor records timer registrations without touching a real
// epoll instance; it never actually fires them — tests that exercise
// a timer firing call the registered callback directly.
type fakeReactor struct {
	callbacks map[int]reactor.Callback
	nextFd    int
}

func newFakeReactor() *fakeReactor {
	return &fakeReactor{callbacks: make(map[int]reactor.Callback), nextFd: 1000}
}

func (f *fakeReactor) Register(fd int, kind reactor.EventKind, cb reactor.Callback) error {
	f.callbacks[fd] = cb
	return nil
}

func (f *fakeReactor) Unregister(fd int) error {
	delete(f.callbacks, fd)
	return nil
}

// fire invokes fd's registered callback, as if its timer had expired.
func (f *fakeReactor) fire(fd int) {
	if cb, ok := f.callbacks[fd]; ok {
		cb(fd, reactor.EventRead)
	}
}

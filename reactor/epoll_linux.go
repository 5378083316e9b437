//go:build linux
// +build linux

// File: reactor/epoll_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Linux epoll(7) reactor. One fd, one callback; the loop is the only
// goroutine that ever touches server state, so no locking is needed
// here beyond what's required to register/unregister from outside the
// loop goroutine during startup/shutdown.

package reactor

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Reactor multiplexes readiness across the listen socket, client
// sockets, per-preemption timerfds, and the shutdown eventfd.
type Reactor struct {
	epfd      int
	callbacks map[int]Callback
}

// New creates a new epoll instance.
func New() (*Reactor, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("reactor: epoll_create1: %w", err)
	}
	return &Reactor{epfd: epfd, callbacks: make(map[int]Callback)}, nil
}

// Register starts watching fd for the given readiness kinds (level
// triggered — deliberately not edge-triggered, so a partially drained
// socket is reported ready again next pass).
func (r *Reactor) Register(fd int, kind EventKind, cb Callback) error {
	var ev unix.EpollEvent
	if kind&EventRead != 0 {
		ev.Events |= unix.EPOLLIN
	}
	if kind&EventWrite != 0 {
		ev.Events |= unix.EPOLLOUT
	}
	ev.Fd = int32(fd)
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("reactor: epoll_ctl add fd=%d: %w", fd, err)
	}
	r.callbacks[fd] = cb
	return nil
}

// Modify changes the readiness kinds watched for an already-registered fd.
func (r *Reactor) Modify(fd int, kind EventKind) error {
	var ev unix.EpollEvent
	if kind&EventRead != 0 {
		ev.Events |= unix.EPOLLIN
	}
	if kind&EventWrite != 0 {
		ev.Events |= unix.EPOLLOUT
	}
	ev.Fd = int32(fd)
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		return fmt.Errorf("reactor: epoll_ctl mod fd=%d: %w", fd, err)
	}
	return nil
}

// Unregister stops watching fd. It is not an error to unregister a
// fd that was already removed by the kernel (e.g. because it was closed).
func (r *Reactor) Unregister(fd int) error {
	delete(r.callbacks, fd)
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil && err != unix.ENOENT && err != unix.EBADF {
		return fmt.Errorf("reactor: epoll_ctl del fd=%d: %w", fd, err)
	}
	return nil
}

// Poll blocks until at least one descriptor is ready or timeoutMs
// elapses (-1 blocks indefinitely), then dispatches every ready
// descriptor's callback before returning. A ready descriptor whose
// callback was unregistered mid-batch (e.g. by an earlier callback in
// the same batch) is silently skipped.
func (r *Reactor) Poll(timeoutMs int) error {
	var events [128]unix.EpollEvent
	n, err := unix.EpollWait(r.epfd, events[:], timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return nil
		}
		return fmt.Errorf("reactor: epoll_wait: %w", err)
	}
	for i := 0; i < n; i++ {
		fd := int(events[i].Fd)
		cb, ok := r.callbacks[fd]
		if !ok {
			continue
		}
		var kind EventKind
		if events[i].Events&unix.EPOLLIN != 0 {
			kind |= EventRead
		}
		if events[i].Events&unix.EPOLLOUT != 0 {
			kind |= EventWrite
		}
		if events[i].Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
			kind |= EventError
		}
		cb(fd, kind)
	}
	return nil
}

// Close releases the epoll instance. It does not close registered fds.
func (r *Reactor) Close() error {
	return unix.Close(r.epfd)
}

// NewEventfd creates an eventfd(2) descriptor suitable for the
// termination signal: the signal handler (or any goroutine) writes one
// 8-byte counter increment to unblock the loop.
func NewEventfd() (int, error) {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		return -1, fmt.Errorf("reactor: eventfd: %w", err)
	}
	return fd, nil
}

// SignalEventfd wakes up whoever is polling fd by writing the eventfd
// counter increment. Safe to call from a signal handler context or a
// concurrent goroutine — the write is a single syscall.
func SignalEventfd(fd int) error {
	buf := [8]byte{0, 0, 0, 0, 0, 0, 0, 1}
	_, err := unix.Write(fd, buf[:])
	if err != nil && err != unix.EAGAIN {
		return fmt.Errorf("reactor: eventfd write: %w", err)
	}
	return nil
}

// DrainEventfd consumes the eventfd counter so the descriptor is not
// reported ready again until the next signal.
func DrainEventfd(fd int) error {
	var buf [8]byte
	_, err := unix.Read(fd, buf[:])
	if err != nil && err != unix.EAGAIN {
		return fmt.Errorf("reactor: eventfd read: %w", err)
	}
	return nil
}

// NewTimerfd creates a timerfd_create(CLOCK_MONOTONIC, ...) descriptor
// and arms it to fire once after d. Each armed preemption deadline owns
// its own timerfd so the arbiter's cancelRelease can disarm exactly one
// process's deadline by closing and unregistering a single fd, without
// touching any other process's timer.
func NewTimerfd(d Duration) (int, error) {
	fd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_CLOEXEC|unix.TFD_NONBLOCK)
	if err != nil {
		return -1, fmt.Errorf("reactor: timerfd_create: %w", err)
	}
	spec := unix.ItimerSpec{
		Value: unix.NsecToTimespec(int64(d)),
	}
	if err := unix.TimerfdSettime(fd, 0, &spec, nil); err != nil {
		_ = unix.Close(fd)
		return -1, fmt.Errorf("reactor: timerfd_settime: %w", err)
	}
	return fd, nil
}

// DrainTimerfd consumes a fired timerfd's expiration counter.
func DrainTimerfd(fd int) error {
	var buf [8]byte
	_, err := unix.Read(fd, buf[:])
	if err != nil && err != unix.EAGAIN {
		return fmt.Errorf("reactor: timerfd read: %w", err)
	}
	return nil
}

// CloseFd is a small convenience wrapper so callers outside this
// package don't need to import golang.org/x/sys/unix just to close a
// raw descriptor returned by NewTimerfd/NewEventfd.
func CloseFd(fd int) error {
	return unix.Close(fd)
}

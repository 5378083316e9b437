//go:build !linux
// +build !linux

// File: reactor/reactor_stub.go
// Author: momentics <momentics@gmail.com>
//
// The arbiter's core mechanism is a Linux cpuset; there is no
// meaningful core arbiter on a non-Linux kernel, so this build reports
// the platform as unsupported rather than approximating epoll with
// something that could not honor the exclusivity the rest of the
// system promises.

package reactor

import "errors"

var errNotSupported = errors.New("reactor: not supported on this platform")

// Reactor is an unusable placeholder on non-Linux platforms.
type Reactor struct{}

// New always fails on non-Linux platforms.
func New() (*Reactor, error) {
	return nil, errors.New("reactor: core arbitration requires Linux cpusets")
}

func (r *Reactor) Register(fd int, kind EventKind, cb Callback) error { return errNotSupported }
func (r *Reactor) Modify(fd int, kind EventKind) error                { return errNotSupported }
func (r *Reactor) Unregister(fd int) error                            { return errNotSupported }
func (r *Reactor) Poll(timeoutMs int) error                           { return errNotSupported }
func (r *Reactor) Close() error                                       { return errNotSupported }

func NewEventfd() (int, error)           { return -1, errNotSupported }
func SignalEventfd(fd int) error         { return errNotSupported }
func DrainEventfd(fd int) error          { return errNotSupported }
func NewTimerfd(d Duration) (int, error) { return -1, errNotSupported }
func DrainTimerfd(fd int) error          { return errNotSupported }
func CloseFd(fd int) error               { return errNotSupported }

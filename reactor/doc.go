// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor provides the single-threaded, readiness-based event
// multiplexer the arbiter's event loop runs on: one epoll instance
// watching the listen socket, every client socket, one timerfd per
// armed preemption deadline, and one eventfd used only to unblock the
// loop for shutdown. Every Poll call drains all ready descriptors
// before the caller may block again, so socket readiness never starves
// timer firings or vice versa.
package reactor

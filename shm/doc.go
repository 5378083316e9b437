// Package shm implements the arbiter's server→client shared-memory
// signalling ABI: one page-aligned mmapped region per process,
// carrying a release-request counter and a preempted flag that let
// the client observe server decisions without a system call.
package shm

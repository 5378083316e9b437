//go:build !linux
// +build !linux

package shm

import "errors"

var errNotSupported = errors.New("shm: not supported on this platform")

// ReleaseRequestCountOffset is the byte offset of the release-request
// counter within a region.
const ReleaseRequestCountOffset = 0

// ThreadPreemptedOffset is the byte offset of the preempted flag
// within a region.
const ThreadPreemptedOffset = 8

// Size is the total mapped size of a region.
const Size = 4096

// Region is an unusable placeholder on non-Linux platforms.
type Region struct{}

// Create always fails on non-Linux platforms.
func Create(path string) (*Region, error) { return nil, errNotSupported }

func (r *Region) Path() string                      { return "" }
func (r *Region) StoreReleaseRequestCount(v uint64)  {}
func (r *Region) LoadReleaseRequestCount() uint64    { return 0 }
func (r *Region) SetPreempted(v bool)                {}
func (r *Region) Preempted() bool                    { return false }
func (r *Region) Close() error                       { return errNotSupported }

// Unlink removes the backing file, if any.
func Unlink(path string) error { return errNotSupported }

// Descriptor reports the ABI offsets a client needs.
func Descriptor() (size, releaseOffset, preemptedOffset uint32) {
	return Size, ReleaseRequestCountOffset, ThreadPreemptedOffset
}

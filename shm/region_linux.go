//go:build linux
// +build linux

// File: shm/region_linux.go
// Author: momentics <momentics@gmail.com>
//
// Region is the server-side half of the per-process shared-memory ABI:
// a page-aligned file, mmapped read-write, through which the server
// signals a client without it ever having to make a system call to
// observe a release request or a preemption.
//
// Layout (fixed, ABI-stable across both sides of the mmap):
//
//	offset 0: releaseRequestCount uint64 — server release-store, client acquire-load
//	offset 8: threadPreempted    byte   — server set, client clear
//	offset 9..pageSize: reserved
//
// Go's atomic package gives sequentially consistent ordering on every
// platform this arbiter targets, a strictly stronger guarantee than
// the release/acquire pairing called for, so plain atomic.*Uint64
// operations satisfy it directly.
package shm

import (
	"os"
	"sync/atomic"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// ReleaseRequestCountOffset is the byte offset of the release-request
// counter within a region.
const ReleaseRequestCountOffset = 0

// ThreadPreemptedOffset is the byte offset of the preempted flag
// within a region.
const ThreadPreemptedOffset = 8

// Size is the total mapped size of a region: one page, which is far
// more than the nine bytes actually addressed but keeps the mapping
// aligned and leaves headroom without requiring a second opcode if a
// future field is added.
const Size = 4096

// Region is one process's mmapped shared-memory signalling area.
type Region struct {
	path string
	file *os.File
	mem  []byte
}

// Create makes (or reopens) the backing file at path, sized to Size,
// and mmaps it read-write. Reopening an already-present file left
// behind by a crashed prior registration of the same process id is a
// benign race, not an error.
func Create(path string) (*Region, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, errors.Wrapf(err, "shm: open %s", path)
	}
	if err := f.Truncate(Size); err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "shm: truncate %s", path)
	}
	mem, err := unix.Mmap(int(f.Fd()), 0, Size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "shm: mmap %s", path)
	}
	return &Region{path: path, file: f, mem: mem}, nil
}

// Path returns the backing file's path.
func (r *Region) Path() string { return r.path }

// counterPtr returns a pointer to the release-request counter's 8
// bytes, reinterpreted as a *uint64. mmap returns page-aligned memory,
// far more alignment than uint64 requires.
func (r *Region) counterPtr() *uint64 {
	return (*uint64)(unsafePointer(r.mem[ReleaseRequestCountOffset:]))
}

// StoreReleaseRequestCount performs the server's release-store of a
// new release-request count. Callers must never pass a value lower
// than the previous store; the count only ever grows.
func (r *Region) StoreReleaseRequestCount(v uint64) {
	atomic.StoreUint64(r.counterPtr(), v)
}

// LoadReleaseRequestCount reads the current counter value. The server
// never needs to read its own write back through this path in
// ordinary operation; only tests do.
func (r *Region) LoadReleaseRequestCount() uint64 {
	return atomic.LoadUint64(r.counterPtr())
}

// SetPreempted writes the threadPreempted flag. The server sets it;
// clearing it is the client's side of the ABI.
func (r *Region) SetPreempted(v bool) {
	if v {
		r.mem[ThreadPreemptedOffset] = 1
	} else {
		r.mem[ThreadPreemptedOffset] = 0
	}
}

// Preempted reads the threadPreempted flag.
func (r *Region) Preempted() bool {
	return r.mem[ThreadPreemptedOffset] != 0
}

// Close unmaps the region and closes the backing file descriptor. It
// does not unlink the file; callers remove the backing file
// separately once they know no other reference remains.
func (r *Region) Close() error {
	var err error
	if r.mem != nil {
		if uerr := unix.Munmap(r.mem); uerr != nil {
			err = errors.Wrapf(uerr, "shm: munmap %s", r.path)
		}
		r.mem = nil
	}
	if cerr := r.file.Close(); cerr != nil && err == nil {
		err = errors.Wrapf(cerr, "shm: close %s", r.path)
	}
	return err
}

// Unlink removes the backing file from the filesystem. Safe to call
// after Close; ENOENT is treated as success, so a missing file is not
// an error and the result does not say whether the file existed.
func Unlink(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "shm: unlink %s", path)
	}
	return nil
}

// Descriptor reports the ABI offsets a client needs to interpret this
// region, for inclusion in the registration response.
func Descriptor() (size, releaseOffset, preemptedOffset uint32) {
	return Size, ReleaseRequestCountOffset, ThreadPreemptedOffset
}

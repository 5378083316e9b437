// File: arbiter/connections.go
// Author: momentics <momentics@gmail.com>
//
// Registration, the four post-registration opcodes, and connection
// cleanup. Exactly one Thread and at most one Process
// record exist per registered socket; a process record is created
// lazily on its first thread's registration and destroyed when its
// last thread disconnects.
package arbiter

import (
	"path/filepath"
	"strings"

	"github.com/momentics/corearbiterd/shm"
	"github.com/momentics/corearbiterd/wire"
)

// RegisterThread implements the first message on a newly accepted
// connection. On success it returns the wire-format response bytes to
// write back, including the shm layout descriptor; on failure it
// returns the {ok:0} response and the connection must be closed by
// the caller.
func (a *Arbiter) RegisterThread(fd int, reg wire.Registration) []byte {
	proc, ok := a.procs[reg.ProcessID]
	if !ok {
		path, pathOK := a.shmPathFor(reg.ShmPathSuffix)
		if !pathOK {
			a.log.Warn("registrant supplied an escaping shm path suffix", "pid", reg.ProcessID, "suffix", reg.ShmPathSuffix)
			return wire.EncodeRegistrationResponse(false, wire.ShmLayoutDescriptor{})
		}
		region, err := shm.Create(path)
		if err != nil {
			a.log.Warn("failed to map registrant's shared memory", "pid", reg.ProcessID, "path", path, "error", err)
			return wire.EncodeRegistrationResponse(false, wire.ShmLayoutDescriptor{})
		}
		proc = newProcess(reg.ProcessID, path, a.pq.NumPriorities())
		proc.Shm = region
		a.procs[reg.ProcessID] = proc
	}

	t := &Thread{
		ID:        ThreadID(fd),
		ClientTID: reg.ThreadID,
		ProcessID: reg.ProcessID,
		Fd:        fd,
	}
	proc.addThread(t)
	a.threads[t.ID] = t

	size, releaseOff, preemptedOff := shm.Descriptor()
	return wire.EncodeRegistrationResponse(true, wire.ShmLayoutDescriptor{
		ShmSize:                   size,
		ReleaseRequestCountOffset: releaseOff,
		ThreadPreemptedOffset:     preemptedOff,
	})
}

// shmPathFor joins a client-supplied suffix onto the configured
// shared-memory directory. A suffix that escapes the directory is a
// client fault.
func (a *Arbiter) shmPathFor(suffix string) (string, bool) {
	if suffix == "" || strings.Contains(suffix, "..") {
		return "", false
	}
	return filepath.Join(a.cfg.ShmDir, suffix), true
}

// HandleCoreRequest rewrites a process's per-priority demand vector
// and recomputes allocation.
func (a *Arbiter) HandleCoreRequest(fd int, desired []uint32) {
	t, ok := a.threads[ThreadID(fd)]
	if !ok {
		return
	}
	proc := a.procs[t.ProcessID]
	if proc == nil {
		return
	}
	copy(proc.Desired, desired)
	for level := 0; level < a.pq.NumPriorities(); level++ {
		a.pq.Sync(level, proc)
	}
	a.recomputeAllocation()
}

// HandleThreadBlock transitions the calling thread to Blocked. An
// exclusive thread may only block when its process owes a release;
// the freed core then counts against the outstanding release request
// and the preemption timer is disarmed once the counts match. A
// THREAD_BLOCK from a socket with no thread record is a protocol
// violation; the false return tells the server to close the
// connection.
func (a *Arbiter) HandleThreadBlock(fd int) bool {
	t, ok := a.threads[ThreadID(fd)]
	if !ok {
		return false
	}
	proc := a.procs[t.ProcessID]
	if proc == nil {
		return false
	}

	if t.State == Blocked {
		a.log.Warn("THREAD_BLOCK from an already blocked thread", "pid", proc.PID, "tid", t.ClientTID)
		return true
	}
	owed := proc.ReleaseRequestCount - proc.ReleaseCount
	if t.State == RunningExclusive {
		if owed == 0 {
			// Blocking would silently shed a core nobody asked for;
			// the thread keeps running until a release is requested.
			a.log.Warn("exclusive thread blocked without an owed release", "pid", proc.PID, "tid", t.ClientTID)
			return true
		}
		if core, ok := a.cores[t.Core]; ok {
			core.HasOccupant = false
		} else {
			a.invariantViolation("exclusive thread on unknown core", "tid", t.ClientTID, "core", t.Core)
		}
		proc.Granted[t.GrantedPriority]--
		proc.TotalCoresOwned--
		t.HasCore = false

		proc.ReleaseCount++
		if proc.ReleaseCount >= proc.ReleaseRequestCount {
			a.cancelRelease(proc)
		}
	}
	proc.transition(t, Blocked)

	for level := 0; level < a.pq.NumPriorities(); level++ {
		a.pq.Sync(level, proc)
	}
	a.recomputeAllocation()
	return true
}

// HandleCountBlocked answers COUNT_BLOCKED directly; it causes no
// state change.
func (a *Arbiter) HandleCountBlocked() []byte {
	return wire.EncodeCount(a.CountBlockedThreads())
}

// HandleTotalAvailable answers TOTAL_AVAILABLE directly; it causes no
// state change.
func (a *Arbiter) HandleTotalAvailable() []byte {
	return wire.EncodeCount(a.TotalAvailableCores())
}

// wakeThread writes the one-byte wakeup onto a thread's socket once it
// has been granted a core while Blocked, through the transport writer
// the Server installed via SetSocketWriter.
func (a *Arbiter) wakeThread(t *Thread) {
	if a.socketWriter == nil {
		return
	}
	if err := a.socketWriter(t.Fd, wire.WakeupByte); err != nil {
		a.log.Debug("failed to write wakeup byte, thread likely disconnected", "fd", t.Fd, "error", err)
	}
}

// SetSocketWriter installs the transport-level byte writer used for
// thread wakeups.
func (a *Arbiter) SetSocketWriter(w func(fd int, b byte) error) {
	a.socketWriter = w
}

// CleanupConnection reclaims any exclusive core the disconnecting
// thread held and destroys the thread record. If this was the
// process's last thread, the shared-memory region is unmapped and
// unlinked and the process record destroyed.
func (a *Arbiter) CleanupConnection(fd int) {
	t, ok := a.threads[ThreadID(fd)]
	if !ok {
		return
	}
	proc := a.procs[t.ProcessID]
	if proc == nil {
		delete(a.threads, t.ID)
		return
	}

	if t.State == RunningExclusive {
		if core, ok := a.cores[t.Core]; ok {
			core.HasOccupant = false
		} else {
			a.invariantViolation("exclusive thread on unknown core", "tid", t.ClientTID, "core", t.Core)
		}
		proc.Granted[t.GrantedPriority]--
		proc.TotalCoresOwned--
	}
	if proc.pendingRelease != nil && proc.pendingRelease.threadID == t.ID {
		a.cancelRelease(proc)
	}

	proc.removeThread(t)
	delete(a.threads, t.ID)

	if len(proc.Threads) == 0 {
		if proc.Shm != nil {
			proc.Shm.Close()
		}
		shm.Unlink(proc.ShmPath)
		delete(a.procs, proc.PID)
	} else {
		for level := 0; level < a.pq.NumPriorities(); level++ {
			a.pq.Sync(level, proc)
		}
	}

	a.recomputeAllocation()
}

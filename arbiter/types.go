// File: arbiter/types.go
// Author: momentics <momentics@gmail.com>
//
// Core data model: threads, processes, and cores, held in owning maps
// keyed by id; cross-references between them are ids, never pointers,
// so the arbiter's ownership graph has no cycles to break on teardown.
package arbiter

import (
	"container/list"

	"github.com/momentics/corearbiterd/shm"
)

// ThreadState is one of the four states a Thread moves through.
type ThreadState int

const (
	RunningUnmanaged ThreadState = iota
	RunningExclusive
	RunningPreempted
	Blocked
)

func (s ThreadState) String() string {
	switch s {
	case RunningUnmanaged:
		return "RunningUnmanaged"
	case RunningExclusive:
		return "RunningExclusive"
	case RunningPreempted:
		return "RunningPreempted"
	case Blocked:
		return "Blocked"
	default:
		return "Unknown"
	}
}

// ThreadID identifies a Thread by the fd of its registered socket —
// unique for the process lifetime, unlike the client-reported tid
// which a client could lie about or reuse across reconnects.
type ThreadID int

// Thread is created on first contact from a client socket and
// destroyed when that socket closes.
type Thread struct {
	ID        ThreadID
	ClientTID int32 // self-reported thread id, informational only
	ProcessID int32
	Fd        int
	State     ThreadState
	Core      uint16 // valid iff State == RunningExclusive
	HasCore   bool

	// GrantedPriority is the priority level whose demand this thread's
	// current (or most recent) grant satisfied, used by the
	// preemption engine to prefer reclaiming a core that is not
	// serving the process's highest-priority demand.
	GrantedPriority int

	// elem is this thread's node in its process's per-state list,
	// kept incrementally consistent with State by every transition
	// method below (a denormalized index that must never
	// disagree with State).
	elem *list.Element
}

// Process is created lazily on first registration from a previously
// unseen process id, destroyed when its last thread disconnects.
type Process struct {
	PID int32

	// ShmPath is the backing file path for this process's
	// shared-memory region.
	ShmPath string
	// Shm is the server-side mapping of that region, through which
	// releaseRequestCount and threadPreempted are signalled.
	Shm *shm.Region

	// ReleaseRequestCount mirrors the shm-resident counter: the number
	// of releases the server has demanded of this process. The server
	// never decreases it.
	ReleaseRequestCount uint64

	// ReleaseCount is the server's count of releases it has observed
	// from this process (voluntary blocks and forced preemptions).
	// The number of cores still owed equals ReleaseRequestCount minus
	// ReleaseCount.
	ReleaseCount uint64

	// TotalCoresOwned must always equal |threads in RunningExclusive|.
	TotalCoresOwned int

	// Desired is the per-priority demand vector, index 0 = highest
	// priority.
	Desired []uint32

	// Granted is the per-priority count of cores currently held —
	// Granted[p] is the count of cores this process holds that were
	// granted while satisfying demand at priority p specifically.
	Granted []uint32

	// byState partitions this process's threads by state, each list
	// ordered oldest-transition-first so the allocator can prefer the
	// longest-blocked thread.
	byState map[ThreadState]*list.List

	// Threads is the set of this process's thread ids, for iteration
	// and last-thread detection.
	Threads map[ThreadID]struct{}

	// pendingRelease, when non-nil, is the core currently subject to
	// an outstanding release request against this process.
	pendingRelease *releaseRequest

	// lastGrantSeq records the Allocator's monotonic grant counter at
	// the time of this process's most recent grant, used to break
	// ties among equally-excess release candidates in favor of the
	// least-recently granted holder.
	lastGrantSeq uint64
}

type releaseRequest struct {
	core     uint16
	threadID ThreadID
	timerFd  int
}

func newProcess(pid int32, shmPath string, numPriorities int) *Process {
	p := &Process{
		PID:     pid,
		ShmPath: shmPath,
		Desired: make([]uint32, numPriorities),
		Granted: make([]uint32, numPriorities),
		byState: make(map[ThreadState]*list.List, 4),
		Threads: make(map[ThreadID]struct{}),
	}
	for _, s := range []ThreadState{RunningUnmanaged, RunningExclusive, RunningPreempted, Blocked} {
		p.byState[s] = list.New()
	}
	return p
}

// addThread registers a new thread in the process's state index,
// initial state RunningUnmanaged.
func (p *Process) addThread(t *Thread) {
	t.State = RunningUnmanaged
	t.elem = p.byState[RunningUnmanaged].PushBack(t)
	p.Threads[t.ID] = struct{}{}
}

// removeThread drops a thread from every index; call only on
// disconnect.
func (p *Process) removeThread(t *Thread) {
	p.byState[t.State].Remove(t.elem)
	t.elem = nil
	delete(p.Threads, t.ID)
}

// transition moves a thread to a new state, keeping byState
// consistent. Blocked and RunningPreempted threads are pushed to the
// back so the front of the list is always the longest-resident member
// of that state — the allocator's "prefer longest-blocked" rule reads
// the front of the Blocked list.
func (p *Process) transition(t *Thread, next ThreadState) {
	p.byState[t.State].Remove(t.elem)
	t.State = next
	t.elem = p.byState[next].PushBack(t)
}

// oldestInState returns the longest-resident thread in the given
// state, or nil if none.
func (p *Process) oldestInState(s ThreadState) *Thread {
	front := p.byState[s].Front()
	if front == nil {
		return nil
	}
	return front.Value.(*Thread)
}

// Core represents one CPU id under arbiter management.
type Core struct {
	ID uint16

	// Occupant is the thread currently granted this core, valid only
	// when HasOccupant is set: exactly one thread then has
	// State==RunningExclusive and Core==ID.
	Occupant    ThreadID
	HasOccupant bool
}

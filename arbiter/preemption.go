// File: arbiter/preemption.go
// Author: momentics <momentics@gmail.com>
//
// Release requests are a shared-memory counter bump
// plus an armed timerfd; voluntary catch-up disarms the timer; a fired
// timer forcibly migrates a thread and reruns the allocator.
package arbiter

import (
	"time"

	"github.com/momentics/corearbiterd/reactor"
)

// beginRelease increments proc's release-request counter, arms a new
// per-process timerfd, and records which core the request refers to.
// Exactly one release request is ever outstanding per process at a
// time, enforced by the caller checking
// pendingRelease == nil before calling this.
func (a *Arbiter) beginRelease(proc *Process, core *Core) {
	threadID := core.Occupant

	timeout := time.Duration(a.preemptTimeoutMs.Load()) * time.Millisecond
	tfd, err := reactor.NewTimerfd(timeout)
	if err != nil {
		a.log.Error("failed to arm preemption timer", "pid", proc.PID, "core", core.ID, "error", err)
		return
	}

	proc.ReleaseRequestCount++
	if proc.Shm != nil {
		proc.Shm.StoreReleaseRequestCount(proc.ReleaseRequestCount)
	}

	proc.pendingRelease = &releaseRequest{core: core.ID, threadID: threadID, timerFd: tfd}

	if err := a.react.Register(tfd, reactor.EventRead, a.onPreemptionTimerFired(proc.PID, tfd)); err != nil {
		a.log.Error("failed to register preemption timer", "pid", proc.PID, "error", err)
		reactor.CloseFd(tfd)
		proc.pendingRelease = nil
		return
	}

	a.log.Debug("release requested", "pid", proc.PID, "core", core.ID, "timeout", timeout)
}

// onPreemptionTimerFired returns the reactor callback for a specific
// process's armed preemption timer. It is a closure over pid/tfd
// rather than a method taking (fd, kind) directly so a stale fire
// (after the timer was already disarmed and the fd reused) can be
// recognized and ignored.
func (a *Arbiter) onPreemptionTimerFired(pid int32, tfd int) reactor.Callback {
	return func(fd int, kind reactor.EventKind) {
		reactor.DrainTimerfd(fd)
		a.unregisterTimer(fd)

		proc, ok := a.procs[pid]
		if !ok || proc.pendingRelease == nil || proc.pendingRelease.timerFd != tfd {
			return // process or request already gone; stale fire.
		}
		a.forcePreempt(proc)
		a.recomputeAllocation()
	}
}

// cancelRelease disarms proc's outstanding release request, called
// when its ReleaseCount (observed releases) catches up to the
// requested count via a voluntary THREAD_BLOCK.
func (a *Arbiter) cancelRelease(proc *Process) {
	if proc.pendingRelease == nil {
		return
	}
	a.unregisterTimer(proc.pendingRelease.timerFd)
	proc.pendingRelease = nil
}

func (a *Arbiter) unregisterTimer(fd int) {
	a.react.Unregister(fd)
	reactor.CloseFd(fd)
}

// forcePreempt implements the timer-fire path: pick a
// thread currently RunningExclusive on a core owed by proc (preferring
// one that does not serve the process's highest-priority demand), set
// the preempted flag, migrate it to Unmanaged, transition its state,
// and free the core.
func (a *Arbiter) forcePreempt(proc *Process) {
	req := proc.pendingRelease
	proc.pendingRelease = nil
	if req == nil {
		return
	}

	t := a.pickPreemptionVictim(proc, req.threadID)
	if t == nil {
		// The owing thread already moved on (e.g. disconnected) and no
		// other thread of the process holds a core; the core
		// bookkeeping for that path already freed it.
		return
	}

	if proc.Shm != nil {
		proc.Shm.SetPreempted(true)
	}
	proc.ReleaseCount++

	if err := a.cpuset.RemoveThreadFromExclusiveCore(int(t.ClientTID)); err != nil {
		a.log.Warn("failed to migrate preempted thread to Unmanaged", "tid", t.ClientTID, "error", err)
	}

	core, hasCore := a.cores[t.Core]
	proc.transition(t, RunningPreempted)
	proc.Granted[t.GrantedPriority]--
	proc.TotalCoresOwned--
	t.HasCore = false

	if hasCore {
		core.HasOccupant = false
	}

	// The victim's demand at its old level is unmet again; re-queue so
	// a future allocation can promote it back.
	for level := 0; level < a.pq.NumPriorities(); level++ {
		a.pq.Sync(level, proc)
	}

	a.metrics.IncPreemptions()
	a.log.Info("preempted thread", "pid", proc.PID, "tid", t.ClientTID, "core", t.Core)
}

// pickPreemptionVictim chooses which of proc's exclusive threads loses
// its core. The thread the release request originally referred to is
// used when it still qualifies; otherwise the victim is the exclusive
// thread granted at the lowest priority level, so the process's
// highest-priority work keeps its cores. List order breaks
// ties, oldest grant first.
func (a *Arbiter) pickPreemptionVictim(proc *Process, preferred ThreadID) *Thread {
	if t, ok := a.threads[preferred]; ok && t.State == RunningExclusive {
		return t
	}
	var victim *Thread
	for e := proc.byState[RunningExclusive].Front(); e != nil; e = e.Next() {
		t := e.Value.(*Thread)
		if victim == nil || t.GrantedPriority > victim.GrantedPriority {
			victim = t
		}
	}
	return victim
}

// File: arbiter/allocator.go
// Author: momentics <momentics@gmail.com>
//
// The allocator is a strict priority walk that
// grants free cores to the longest-waiting eligible thread at each
// level, then, once free cores are exhausted, requests release from
// the least-recently-granted holder of excess cores at the lowest
// priority level that still blocks a higher-priority request.
package arbiter

import "github.com/momentics/corearbiterd/cpuset"

// recomputeAllocation is invoked on every event that can change who
// should hold which cores: a new CORE_REQUEST, a THREAD_BLOCK that
// freed a core, a successful preemption, or a disconnect.
func (a *Arbiter) recomputeAllocation() {
	for level := 0; level < a.pq.NumPriorities(); level++ {
		a.grantAtLevel(level)
	}
	a.requestReleaseIfNeeded()
	a.publishMetrics()
}

// grantAtLevel drains free cores into the processes queued at level,
// strictly FIFO, skipping (and re-queuing) any process with no
// eligible thread to grant to. A full pass through the level's queue
// with zero grants ends the level — nothing currently queued there
// can make progress this iteration.
func (a *Arbiter) grantAtLevel(level int) {
	for {
		free := a.freeCores()
		if len(free) == 0 {
			return
		}
		remaining := a.pq.Len(level)
		if remaining == 0 {
			return
		}

		progressed := false
		for attempt := 0; attempt < remaining; attempt++ {
			p, ok := a.pq.Dequeue(level)
			if !ok {
				break
			}
			if a.procs[p.PID] != p {
				// Destroyed while queued; drop the stale entry.
				continue
			}
			if p.Desired[level] <= p.Granted[level] {
				// No longer wants more at this level; drop silently,
				// Sync will re-add if demand changes again.
				continue
			}
			thread := p.oldestInState(Blocked)
			if thread == nil {
				thread = p.oldestInState(RunningPreempted)
			}
			if thread == nil {
				// A thread that has never been granted a core and
				// never explicitly blocked is still eligible for its
				// first grant, directly from an unmet CORE_REQUEST.
				thread = p.oldestInState(RunningUnmanaged)
			}
			if thread == nil {
				// Skipped this round; re-queue at the tail.
				a.pq.Enqueue(level, p)
				continue
			}

			free = a.freeCores()
			if len(free) == 0 {
				a.pq.Enqueue(level, p)
				return
			}
			core := free[0]
			if !a.grant(p, thread, core, level) {
				a.pq.Enqueue(level, p)
				continue
			}
			progressed = true

			a.pq.Sync(level, p)
			break
		}
		if !progressed {
			return
		}
	}
}

// grant marks the thread exclusive, moves it into the core's cpuset,
// wakes it if it was blocked, updates bookkeeping, and (by the caller
// via Sync) potentially re-enqueues the process. A false return means the thread
// could not be placed — it is considered dead and its socket's close
// will clean it up.
func (a *Arbiter) grant(p *Process, t *Thread, c *Core, level int) bool {
	wasBlocked := t.State == Blocked

	if err := a.cpuset.MoveThreadToExclusiveCore(int(t.ClientTID), c.ID); err != nil {
		if !isBenignVanish(err) {
			a.log.Error("failed to move thread into exclusive cpuset", "tid", t.ClientTID, "core", c.ID, "error", err)
			return false
		}
		a.log.Debug("thread vanished during grant", "tid", t.ClientTID)
		return false
	}

	if c.HasOccupant {
		a.invariantViolation("granting an occupied core", "core", c.ID, "occupant", c.Occupant)
		return false
	}

	p.transition(t, RunningExclusive)
	t.Core = c.ID
	t.HasCore = true
	t.GrantedPriority = level

	c.Occupant = t.ID
	c.HasOccupant = true

	p.TotalCoresOwned++
	p.Granted[level]++
	a.grantSeq++
	p.lastGrantSeq = a.grantSeq

	if wasBlocked {
		a.wakeThread(t)
	}

	a.log.Debug("granted core", "pid", p.PID, "tid", t.ClientTID, "core", c.ID, "priority", level)
	return true
}

// requestReleaseIfNeeded looks for a priority queue that is still
// non-empty with no free cores, and a holder to reclaim from. Exactly
// one core is requested per affected process per call, so a shift in
// demand never triggers a burst of simultaneous releases.
func (a *Arbiter) requestReleaseIfNeeded() {
	if len(a.freeCores()) > 0 {
		return
	}
	for level := 0; level < a.pq.NumPriorities(); level++ {
		if a.pq.Len(level) == 0 {
			continue
		}
		target, core, ok := a.selectReleaseTarget(level)
		if !ok {
			continue
		}
		a.beginRelease(target, core)
		return
	}
}

// reclaimable reports whether p's grant at level q can serve an unmet
// request at unmetLevel. Two cases qualify: p holds cores at a
// strictly lower priority than the unmet request, or p holds more
// cores at q than its own demand there asks for (the excess left
// behind when a client shrinks its demand vector below what it owns).
func reclaimable(p *Process, q, unmetLevel int) bool {
	if p.Granted[q] == 0 {
		return false
	}
	return q > unmetLevel || p.Granted[q] > p.Desired[q]
}

// selectReleaseTarget finds the process with the most excess cores at
// the lowest reclaimable priority level, breaking ties by
// least-recent grant, and the core one of its threads holds there.
func (a *Arbiter) selectReleaseTarget(unmetLevel int) (*Process, *Core, bool) {
	for q := a.pq.NumPriorities() - 1; q >= unmetLevel; q-- {
		var best *Process
		for _, p := range a.procs {
			if p.pendingRelease != nil || !reclaimable(p, q, unmetLevel) {
				continue
			}
			if best == nil ||
				excessAt(p, q) > excessAt(best, q) ||
				(excessAt(p, q) == excessAt(best, q) && p.lastGrantSeq < best.lastGrantSeq) {
				best = p
			}
		}
		if best == nil {
			continue
		}
		for e := best.byState[RunningExclusive].Front(); e != nil; e = e.Next() {
			t := e.Value.(*Thread)
			if t.GrantedPriority == q {
				return best, a.cores[t.Core], true
			}
		}
	}
	return nil, nil, false
}

// excessAt counts the cores p holds at level q beyond its own demand
// there. A lower-priority holder whose demand is fully met has zero
// excess yet may still be reclaimed from; excess only orders
// candidates, it does not gate them.
func excessAt(p *Process, q int) int {
	e := int(p.Granted[q]) - int(p.Desired[q])
	if e < 0 {
		return 0
	}
	return e
}

func isBenignVanish(err error) bool {
	return cpuset.IsProcessVanished(err)
}

package arbiter

import (
	"testing"

	"github.com/hashicorp/go-hclog"
)

func newTestArbiter(numPriorities int, cores []uint16) (*Arbiter, *fakeCoreMover, *fakeReactor) {
	mover := newFakeCoreMover()
	react := newFakeReactor()
	cfg := Config{
		ExclusiveCores:          cores,
		NumPriorities:           numPriorities,
		PreemptionTimeoutMillis: 5,
	}
	a := NewArbiter(hclog.NewNullLogger(), cfg, mover, react, nil)
	return a, mover, react
}

func registerThread(a *Arbiter, fd int, clientTID, pid int32) *Process {
	t := &Thread{ID: ThreadID(fd), ClientTID: clientTID, ProcessID: pid, Fd: fd}
	proc, ok := a.procs[pid]
	if !ok {
		proc = newProcess(pid, "", a.pq.NumPriorities())
		a.procs[pid] = proc
	}
	proc.addThread(t)
	a.threads[t.ID] = t
	return proc
}

// Scenario 1: single process requests 2 cores at priority 0 on a
// 4-exclusive-core machine with one registered thread.
func TestScenarioSingleProcessPartialGrant(t *testing.T) {
	a, mover, _ := newTestArbiter(8, []uint16{0, 1, 2, 3})
	registerThread(a, 10, 100, 1)

	a.HandleCoreRequest(10, []uint32{2, 0, 0, 0, 0, 0, 0, 0})

	th := a.threads[ThreadID(10)]
	if th.State != RunningExclusive {
		t.Fatalf("expected thread to be RunningExclusive, got %v", th.State)
	}
	if _, ok := mover.exclusive[100]; !ok {
		t.Fatal("expected thread to be moved into an exclusive cpuset")
	}
	if !a.pq.Contains(0, 1) {
		t.Fatal("expected process to remain queued at priority 0 with unmet demand")
	}
}

// Scenario 2: two processes both request one core; when the holder
// drops its demand to zero, a release is requested against its now
// excess core, and the waiter receives it once the holder blocks.
func TestScenarioFIFOQueueingAndRelease(t *testing.T) {
	a, _, _ := newTestArbiter(4, []uint16{0})
	registerThread(a, 10, 100, 1)
	registerThread(a, 20, 200, 2)

	a.HandleCoreRequest(10, []uint32{1, 0, 0, 0})
	a.HandleCoreRequest(20, []uint32{1, 0, 0, 0})

	if a.threads[ThreadID(10)].State != RunningExclusive {
		t.Fatal("expected process 1 to receive the only free core")
	}
	if a.threads[ThreadID(20)].State == RunningExclusive {
		t.Fatal("expected process 2 to be queued, not granted")
	}

	a.HandleCoreRequest(10, []uint32{0, 0, 0, 0})
	proc1 := a.procs[1]
	if proc1.pendingRelease == nil {
		t.Fatal("expected a release request against the excess core")
	}

	a.HandleThreadBlock(10)
	if a.threads[ThreadID(20)].State != RunningExclusive {
		t.Fatal("expected process 2 to receive the released core")
	}
}

// Scenario 3: a low-priority holder is asked to release when a
// higher-priority request cannot otherwise be satisfied, and the core
// is re-granted once the holder voluntarily blocks.
func TestScenarioReleaseRequestAndVoluntaryBlock(t *testing.T) {
	a, _, react := newTestArbiter(4, []uint16{0})
	registerThread(a, 10, 100, 1)
	a.HandleCoreRequest(10, []uint32{0, 0, 0, 1})

	registerThread(a, 20, 200, 2)
	a.HandleCoreRequest(20, []uint32{1, 0, 0, 0})

	proc1 := a.procs[1]
	if proc1.pendingRelease == nil {
		t.Fatal("expected a release request against the low-priority holder")
	}
	if proc1.ReleaseRequestCount != 1 {
		t.Fatalf("expected ReleaseRequestCount 1, got %d", proc1.ReleaseRequestCount)
	}

	a.HandleThreadBlock(10)
	if proc1.pendingRelease != nil {
		t.Fatal("expected the release request to be cancelled on voluntary block")
	}
	if a.threads[ThreadID(20)].State != RunningExclusive {
		t.Fatal("expected the priority-0 requester to receive the core")
	}
	_ = react
}

// Scenario 4: as scenario 3, but the holder never blocks — the timer
// fires and the server forcibly preempts.
func TestScenarioForcedPreemptionOnTimeout(t *testing.T) {
	a, mover, react := newTestArbiter(4, []uint16{0})
	registerThread(a, 10, 100, 1)
	a.HandleCoreRequest(10, []uint32{0, 0, 0, 1})

	registerThread(a, 20, 200, 2)
	a.HandleCoreRequest(20, []uint32{1, 0, 0, 0})

	proc1 := a.procs[1]
	if proc1.pendingRelease == nil {
		t.Fatal("expected a pending release request")
	}
	timerFd := proc1.pendingRelease.timerFd

	react.fire(timerFd)

	if a.threads[ThreadID(10)].State != RunningPreempted {
		t.Fatalf("expected holder thread to be RunningPreempted, got %v", a.threads[ThreadID(10)].State)
	}
	if _, stillExclusive := mover.exclusive[100]; stillExclusive {
		t.Fatal("expected preempted thread to be removed from the exclusive cpuset map")
	}
	if proc1.Shm != nil && !proc1.Shm.Preempted() {
		t.Fatal("expected threadPreempted to be set")
	}
	if a.threads[ThreadID(20)].State != RunningExclusive {
		t.Fatal("expected the priority-0 requester to now hold the core")
	}
}

// Scenario 6: a client disconnects while holding an exclusive core;
// the core is freed and granted to the next waiter, and the process
// record is destroyed once its last thread disconnects.
func TestScenarioDisconnectFreesCoreAndDestroysProcess(t *testing.T) {
	a, _, _ := newTestArbiter(4, []uint16{0})
	registerThread(a, 10, 100, 1)
	a.HandleCoreRequest(10, []uint32{1, 0, 0, 0})

	registerThread(a, 20, 200, 2)
	a.HandleCoreRequest(20, []uint32{1, 0, 0, 0})

	if a.threads[ThreadID(20)].State == RunningExclusive {
		t.Fatal("expected process 2 to still be queued before process 1 disconnects")
	}

	a.CleanupConnection(10)

	if _, stillExists := a.procs[1]; stillExists {
		t.Fatal("expected process 1's record to be destroyed after its last thread disconnected")
	}
	if a.threads[ThreadID(20)].State != RunningExclusive {
		t.Fatal("expected process 2 to receive the freed core")
	}
}

// Invariant check: sum of totalCoresOwned across processes equals the
// number of occupied cores, after a sequence of requests.
func TestInvariantTotalCoresOwnedMatchesOccupiedCores(t *testing.T) {
	a, _, _ := newTestArbiter(4, []uint16{0, 1, 2})
	registerThread(a, 10, 100, 1)
	registerThread(a, 11, 101, 1)
	registerThread(a, 20, 200, 2)

	a.HandleCoreRequest(10, []uint32{2, 0, 0, 0})
	a.HandleCoreRequest(20, []uint32{1, 0, 0, 0})

	occupied := 0
	for _, c := range a.cores {
		if c.HasOccupant {
			occupied++
		}
	}
	owned := 0
	for _, p := range a.procs {
		owned += p.TotalCoresOwned
	}
	if occupied != owned {
		t.Fatalf("expected occupied cores (%d) to equal total cores owned (%d)", occupied, owned)
	}
}

// Idempotent demand: submitting the same demand vector twice yields
// the same allocation as submitting it once.
func TestLawIdempotentDemand(t *testing.T) {
	a, _, _ := newTestArbiter(4, []uint16{0, 1})
	registerThread(a, 10, 100, 1)

	a.HandleCoreRequest(10, []uint32{1, 0, 0, 0})
	firstState := a.threads[ThreadID(10)].State
	firstCore := a.threads[ThreadID(10)].Core

	a.HandleCoreRequest(10, []uint32{1, 0, 0, 0})
	if a.threads[ThreadID(10)].State != firstState || a.threads[ThreadID(10)].Core != firstCore {
		t.Fatal("expected repeating an identical demand vector to leave allocation unchanged")
	}
}

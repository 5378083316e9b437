package arbiter

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// checkInvariants asserts the bookkeeping relations that must hold
// after every event loop iteration: occupant/state consistency,
// totalCoresOwned equal to the exclusive thread count, and
// release-request monotonicity.
func checkInvariants(t *testing.T, a *Arbiter) {
	t.Helper()

	occupied := 0
	for _, c := range a.cores {
		if !c.HasOccupant {
			continue
		}
		occupied++
		th, ok := a.threads[c.Occupant]
		require.True(t, ok, "core %d occupant has no thread record", c.ID)
		require.Equal(t, RunningExclusive, th.State, "core %d occupant state", c.ID)
		require.Equal(t, c.ID, th.Core, "core %d occupant core linkage", c.ID)
	}

	totalOwned := 0
	for pid, p := range a.procs {
		exclusive := p.byState[RunningExclusive].Len()
		require.Equal(t, exclusive, p.TotalCoresOwned, "process %d owned-count drift", pid)
		totalOwned += p.TotalCoresOwned
		require.GreaterOrEqual(t, p.ReleaseRequestCount, p.ReleaseCount, "process %d released more than requested", pid)

		for level := 0; level < a.pq.NumPriorities(); level++ {
			if p.Desired[level] > p.Granted[level] && hasGrantableThread(p) {
				require.True(t, a.pq.Contains(level, pid),
					"process %d has unmet demand at level %d but is not queued", pid, level)
			}
		}
	}
	require.Equal(t, occupied, totalOwned, "occupied cores must equal total cores owned")

	for _, th := range a.threads {
		if th.State == RunningExclusive {
			require.True(t, th.HasCore, "exclusive thread %d without a core", th.ID)
		} else {
			require.False(t, th.HasCore, "%v thread %d still linked to a core", th.State, th.ID)
		}
	}
}

func hasGrantableThread(p *Process) bool {
	return p.byState[Blocked].Len() > 0 ||
		p.byState[RunningPreempted].Len() > 0 ||
		p.byState[RunningUnmanaged].Len() > 0
}

// Scenario 5: rapid ramp. One process alternates between wanting one
// core and wanting all of them, two hundred times. The final state
// reflects only the last request and the invariants hold throughout.
func TestScenarioRapidRamp(t *testing.T) {
	const numCores = 4
	a, _, _ := newTestArbiter(8, []uint16{0, 1, 2, 3})
	for i := 0; i < numCores; i++ {
		registerThread(a, 10+i, int32(100+i), 1)
	}

	low := []uint32{1, 0, 0, 0, 0, 0, 0, 0}
	high := []uint32{numCores, 0, 0, 0, 0, 0, 0, 0}
	for i := 0; i < 200; i++ {
		if i%2 == 0 {
			a.HandleCoreRequest(10, high)
		} else {
			a.HandleCoreRequest(10, low)
		}
		checkInvariants(t, a)
	}

	// Last request was low. The process holds whatever it was granted
	// before the ramp-down; with no other process waiting, no release
	// is requested for the excess and nothing is silently revoked.
	proc := a.procs[1]
	require.EqualValues(t, 1, proc.Desired[0])
	require.LessOrEqual(t, proc.ReleaseCount, proc.ReleaseRequestCount)
	checkInvariants(t, a)
}

// Priority safety: when a release frees a core, the highest-priority
// waiter receives it, regardless of arrival order.
func TestScenarioPrioritySafetyOnRelease(t *testing.T) {
	a, _, _ := newTestArbiter(4, []uint16{0})
	registerThread(a, 10, 100, 1)
	a.HandleCoreRequest(10, []uint32{0, 0, 1, 0})
	require.Equal(t, RunningExclusive, a.threads[ThreadID(10)].State)

	// The lower-priority waiter arrives first, the higher second.
	registerThread(a, 30, 300, 3)
	a.HandleCoreRequest(30, []uint32{0, 0, 0, 1})
	registerThread(a, 20, 200, 2)
	a.HandleCoreRequest(20, []uint32{0, 1, 0, 0})

	proc1 := a.procs[1]
	require.NotNil(t, proc1.pendingRelease, "expected a release request against the priority-2 holder")

	a.HandleThreadBlock(10)

	require.Equal(t, RunningExclusive, a.threads[ThreadID(20)].State,
		"the priority-1 waiter must win the freed core")
	require.NotEqual(t, RunningExclusive, a.threads[ThreadID(30)].State,
		"the priority-3 waiter must keep waiting")
	checkInvariants(t, a)
}

// FIFO within a priority level: with two waiters at the same level,
// the one whose demand arrived first is served first.
func TestScenarioFIFOWithinPriority(t *testing.T) {
	a, _, _ := newTestArbiter(4, []uint16{0, 1})
	registerThread(a, 10, 100, 1)
	registerThread(a, 11, 101, 1)
	registerThread(a, 20, 200, 2)
	registerThread(a, 30, 300, 3)

	a.HandleCoreRequest(10, []uint32{2, 0, 0, 0})
	require.Equal(t, 2, a.procs[1].TotalCoresOwned)

	a.HandleCoreRequest(20, []uint32{1, 0, 0, 0})
	a.HandleCoreRequest(30, []uint32{1, 0, 0, 0})

	// Process 1 gives both cores back, one release request at a time.
	a.HandleCoreRequest(10, []uint32{0, 0, 0, 0})
	require.NotNil(t, a.procs[1].pendingRelease)
	a.HandleThreadBlock(10)
	require.Equal(t, RunningExclusive, a.threads[ThreadID(20)].State,
		"first-demand process must be served first")
	require.NotEqual(t, RunningExclusive, a.threads[ThreadID(30)].State)

	require.NotNil(t, a.procs[1].pendingRelease, "second excess core must be requested next")
	a.HandleThreadBlock(11)
	checkInvariants(t, a)
}

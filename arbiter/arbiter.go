// File: arbiter/arbiter.go
// Author: momentics <momentics@gmail.com>
//
// Arbiter holds every piece of mutable server state: registered
// threads and processes, the free/occupied status of every exclusive
// core, the priority queues, and outstanding preemption timers. It is
// mutated exclusively by the event loop goroutine (single-threaded
// cooperative scheduling, no locks on server state because there is no
// concurrent writer).
package arbiter

import (
	"sync/atomic"

	"github.com/hashicorp/go-hclog"
)

// Config is the daemon's startup configuration.
type Config struct {
	// SocketPath is the filesystem path of the listening Unix socket.
	SocketPath string
	// ShmDir is the directory prefix under which per-process
	// shared-memory backing files are created.
	ShmDir string
	// ExclusiveCores is the list of CPU ids the arbiter manages
	// exclusively; the remainder of the machine's online cpus form
	// the Unmanaged pool.
	ExclusiveCores []uint16
	// NumPriorities is the number of priority levels clients may
	// request cores at.
	NumPriorities int
	// ImmediateArbitration, when true, builds the cpuset hierarchy
	// (including the whole-machine migration into Unmanaged) during
	// Start; when false it is deferred to the first client contact.
	ImmediateArbitration bool
	// PreemptionTimeoutMillis is the window a process has to
	// voluntarily release a core before the arbiter forcibly
	// preempts one of its threads. Implementation-defined default is
	// applied by NewArbiter when zero.
	PreemptionTimeoutMillis int
}

// DefaultPreemptionTimeoutMillis is used when Config leaves the
// timeout unset: a few milliseconds is long enough for a cooperating
// client to block voluntarily and short enough to bound priority inversion.
const DefaultPreemptionTimeoutMillis = 5

// Arbiter is the core arbitration engine, independent of its
// transport (see Server in server.go for the event-loop wiring).
type Arbiter struct {
	log hclog.Logger
	cfg Config

	cpuset CoreMover
	react  TimerReactor

	cores   map[uint16]*Core
	threads map[ThreadID]*Thread
	procs   map[int32]*Process
	pq      *PriorityQueues

	grantSeq uint64

	// preemptTimeoutMs is read by the event loop and written by the
	// control layer's reload listener, hence the atomic.
	preemptTimeoutMs atomic.Int64

	metrics      Metrics
	socketWriter func(fd int, b byte) error
}

// Metrics is the narrow surface the arbiter pushes observations
// through; control.Metrics implements it in production, tests pass nil
// and get the no-op default.
type Metrics interface {
	SetCoresGranted(n int)
	SetCoresFree(n int)
	IncPreemptions()
	SetReleaseRequestsOutstanding(n int)
	SetQueueDepth(priority int, n int)
}

type noopMetrics struct{}

func (noopMetrics) SetCoresGranted(int)               {}
func (noopMetrics) SetCoresFree(int)                  {}
func (noopMetrics) IncPreemptions()                   {}
func (noopMetrics) SetReleaseRequestsOutstanding(int) {}
func (noopMetrics) SetQueueDepth(int, int)            {}

// NewArbiter constructs an Arbiter. ctl and react are injected so
// tests can substitute fakes.
func NewArbiter(log hclog.Logger, cfg Config, ctl CoreMover, react TimerReactor, metrics Metrics) *Arbiter {
	if cfg.PreemptionTimeoutMillis <= 0 {
		cfg.PreemptionTimeoutMillis = DefaultPreemptionTimeoutMillis
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	a := &Arbiter{
		log:     log.Named("arbiter"),
		cfg:     cfg,
		cpuset:  ctl,
		react:   react,
		cores:   make(map[uint16]*Core, len(cfg.ExclusiveCores)),
		threads: make(map[ThreadID]*Thread),
		procs:   make(map[int32]*Process),
		pq:      NewPriorityQueues(cfg.NumPriorities),
		metrics: metrics,
	}
	a.preemptTimeoutMs.Store(int64(cfg.PreemptionTimeoutMillis))
	for _, id := range cfg.ExclusiveCores {
		a.cores[id] = &Core{ID: id}
	}
	return a
}

// SetPreemptionTimeout applies a runtime update to the preemption
// window. Requests already armed keep their original deadline.
func (a *Arbiter) SetPreemptionTimeout(ms int) {
	if ms > 0 {
		a.preemptTimeoutMs.Store(int64(ms))
	}
}

// TotalAvailableCores reports the number of exclusive cores under
// management, regardless of occupancy.
func (a *Arbiter) TotalAvailableCores() uint32 {
	return uint32(len(a.cores))
}

// CountBlockedThreads reports the number of threads across every
// process currently in the Blocked state.
func (a *Arbiter) CountBlockedThreads() uint32 {
	var n uint32
	for _, t := range a.threads {
		if t.State == Blocked {
			n++
		}
	}
	return n
}

func (a *Arbiter) freeCores() []*Core {
	free := make([]*Core, 0, len(a.cores))
	for _, c := range a.cores {
		if !c.HasOccupant {
			free = append(free, c)
		}
	}
	sortCoresByID(free)
	return free
}

func sortCoresByID(cores []*Core) {
	for i := 1; i < len(cores); i++ {
		for j := i; j > 0 && cores[j-1].ID > cores[j].ID; j-- {
			cores[j-1], cores[j] = cores[j], cores[j-1]
		}
	}
}

func (a *Arbiter) publishMetrics() {
	granted := 0
	for _, c := range a.cores {
		if c.HasOccupant {
			granted++
		}
	}
	a.metrics.SetCoresGranted(granted)
	a.metrics.SetCoresFree(len(a.cores) - granted)
	outstanding := 0
	for _, p := range a.procs {
		if p.pendingRelease != nil {
			outstanding++
		}
	}
	a.metrics.SetReleaseRequestsOutstanding(outstanding)
	for level := 0; level < a.pq.NumPriorities(); level++ {
		a.metrics.SetQueueDepth(level, a.pq.Len(level))
	}
}

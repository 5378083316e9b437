// File: arbiter/priorityqueues.go
// Author: momentics <momentics@gmail.com>
//
// PriorityQueues holds one FIFO per priority level. A process is
// queued at p whenever it wants more cores at priority p than it has
// been granted there; an entry whose demand has since been met stays
// in place until it reaches the head and is dropped. Membership is
// tracked alongside each queue's backing FIFO so Enqueue is a no-op
// for a process already waiting at that level.
package arbiter

import "github.com/eapache/queue"

// PriorityQueues is one FIFO of waiting processes per priority level.
type PriorityQueues struct {
	fifos  []*queue.Queue
	queued []map[int32]bool
}

// NewPriorityQueues builds an empty vector of n priority levels.
func NewPriorityQueues(n int) *PriorityQueues {
	pq := &PriorityQueues{
		fifos:  make([]*queue.Queue, n),
		queued: make([]map[int32]bool, n),
	}
	for i := 0; i < n; i++ {
		pq.fifos[i] = queue.New()
		pq.queued[i] = make(map[int32]bool)
	}
	return pq
}

// NumPriorities reports the number of priority levels.
func (pq *PriorityQueues) NumPriorities() int { return len(pq.fifos) }

// Enqueue appends p to the tail of level's FIFO, unless p is already
// waiting there.
func (pq *PriorityQueues) Enqueue(level int, p *Process) {
	if pq.queued[level][p.PID] {
		return
	}
	pq.queued[level][p.PID] = true
	pq.fifos[level].Add(p)
}

// Dequeue pops the head of level's FIFO, or returns ok=false if empty.
// The popped process is no longer considered queued at level until
// Enqueue is called again.
func (pq *PriorityQueues) Dequeue(level int) (p *Process, ok bool) {
	if pq.fifos[level].Length() == 0 {
		return nil, false
	}
	v := pq.fifos[level].Remove()
	p = v.(*Process)
	delete(pq.queued[level], p.PID)
	return p, true
}

// Len reports how many processes currently wait at level.
func (pq *PriorityQueues) Len(level int) int {
	return pq.fifos[level].Length()
}

// Contains reports whether pid is currently queued at level.
func (pq *PriorityQueues) Contains(level int, pid int32) bool {
	return pq.queued[level][pid]
}

// Sync brings level's membership in line with p's current demand: if
// p still wants more at level it is enqueued (no-op if already
// present); callers never need to dequeue-to-remove since absence of
// unmet demand is checked again the next time p reaches the head.
func (pq *PriorityQueues) Sync(level int, p *Process) {
	if p.Desired[level] > p.Granted[level] {
		pq.Enqueue(level, p)
	}
}

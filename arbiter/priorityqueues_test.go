package arbiter

import "testing"

func TestPriorityQueuesFIFOAndDedup(t *testing.T) {
	pq := NewPriorityQueues(2)
	p1 := newProcess(1, "", 2)
	p2 := newProcess(2, "", 2)

	pq.Enqueue(0, p1)
	pq.Enqueue(0, p2)
	pq.Enqueue(0, p1) // duplicate, must be ignored

	if pq.Len(0) != 2 {
		t.Fatalf("expected 2 queued processes, got %d", pq.Len(0))
	}

	head, ok := pq.Dequeue(0)
	if !ok || head.PID != 1 {
		t.Fatalf("expected process 1 first, got %+v", head)
	}
	head, ok = pq.Dequeue(0)
	if !ok || head.PID != 2 {
		t.Fatalf("expected process 2 second, got %+v", head)
	}
	if _, ok := pq.Dequeue(0); ok {
		t.Fatal("expected the queue to be empty")
	}
}

func TestPriorityQueuesSyncEnqueuesOnlyUnmetDemand(t *testing.T) {
	pq := NewPriorityQueues(2)
	p := newProcess(1, "", 2)

	p.Desired[1] = 1
	pq.Sync(0, p)
	pq.Sync(1, p)

	if pq.Contains(0, 1) {
		t.Fatal("expected no queue membership at a level with zero demand")
	}
	if !pq.Contains(1, 1) {
		t.Fatal("expected queue membership at the level with unmet demand")
	}

	p.Granted[1] = 1
	pq.Sync(1, p)
	// Sync never removes; the stale entry is dropped at dequeue time.
	if got, _ := pq.Dequeue(1); got.Desired[1] > got.Granted[1] {
		t.Fatal("expected demand to be met at dequeue time")
	}
}

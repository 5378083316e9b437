package control

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsPublish(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.SetCoresGranted(3)
	m.SetCoresFree(1)
	m.IncPreemptions()
	m.IncPreemptions()
	m.SetReleaseRequestsOutstanding(1)
	m.SetQueueDepth(0, 2)

	if got := testutil.ToFloat64(m.coresGranted); got != 3 {
		t.Fatalf("cores_granted = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.coresFree); got != 1 {
		t.Fatalf("cores_free = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.preemptions); got != 2 {
		t.Fatalf("preemptions_total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.queueDepth.WithLabelValues("0")); got != 2 {
		t.Fatalf("queue_depth{priority=0} = %v, want 2", got)
	}
}

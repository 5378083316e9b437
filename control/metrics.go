// control/metrics.go
// Author: momentics <momentics@gmail.com>
//
// Prometheus collectors for the arbiter's operational state. The
// arbiter pushes observations after every allocation pass; the debug
// listener serves them over /metrics.

package control

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the arbiter's Prometheus collectors.
type Metrics struct {
	coresGranted       prometheus.Gauge
	coresFree          prometheus.Gauge
	preemptions        prometheus.Counter
	releaseOutstanding prometheus.Gauge
	queueDepth         *prometheus.GaugeVec
}

// NewMetrics builds and registers the collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		coresGranted: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "arbiter",
			Name:      "cores_granted",
			Help:      "Exclusive cores currently granted to a thread.",
		}),
		coresFree: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "arbiter",
			Name:      "cores_free",
			Help:      "Exclusive cores currently unoccupied.",
		}),
		preemptions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "arbiter",
			Name:      "preemptions_total",
			Help:      "Threads forcibly migrated off an exclusive core.",
		}),
		releaseOutstanding: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "arbiter",
			Name:      "release_requests_outstanding",
			Help:      "Processes with an unanswered release request.",
		}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "arbiter",
			Name:      "queue_depth",
			Help:      "Processes waiting for cores, by priority level.",
		}, []string{"priority"}),
	}
	reg.MustRegister(m.coresGranted, m.coresFree, m.preemptions, m.releaseOutstanding, m.queueDepth)
	return m
}

func (m *Metrics) SetCoresGranted(n int) { m.coresGranted.Set(float64(n)) }
func (m *Metrics) SetCoresFree(n int)    { m.coresFree.Set(float64(n)) }
func (m *Metrics) IncPreemptions()       { m.preemptions.Inc() }

func (m *Metrics) SetReleaseRequestsOutstanding(n int) {
	m.releaseOutstanding.Set(float64(n))
}

func (m *Metrics) SetQueueDepth(priority int, n int) {
	m.queueDepth.WithLabelValues(strconv.Itoa(priority)).Set(float64(n))
}

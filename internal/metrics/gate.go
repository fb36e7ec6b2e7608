// SPDX-License-Identifier: MIT

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	gateActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vidlint_gate_active_jobs",
		Help: "Jobs currently admitted by the concurrency gate",
	})
	gateQueued = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vidlint_gate_queued_jobs",
		Help: "Jobs waiting for admission",
	})
	gateCapacity = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vidlint_gate_capacity",
		Help: "Configured maximum of concurrently running jobs",
	})
	gateRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vidlint_gate_rejections_total",
		Help: "Submissions rejected because the queue was full",
	})
	gateWait = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "vidlint_gate_wait_seconds",
		Help:    "Time jobs spent queued before admission",
		Buckets: prometheus.ExponentialBuckets(0.1, 3, 10),
	})
)

// SetGateState publishes the gate's counters.
func SetGateState(active, queued, capacity int) {
	gateActive.Set(float64(active))
	gateQueued.Set(float64(queued))
	gateCapacity.Set(float64(capacity))
}

// RecordQueueRejection counts a queue-full rejection.
func RecordQueueRejection() {
	gateRejections.Inc()
}

// ObserveGateWait records queue wait time in seconds.
func ObserveGateWait(seconds float64) {
	gateWait.Observe(seconds)
}

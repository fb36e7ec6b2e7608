// SPDX-License-Identifier: MIT

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	inferenceCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vidlint_inference_calls_total",
		Help: "Inference service calls by operation and outcome",
	}, []string{"op", "outcome"}) // op=upload|status|analyze|delete outcome=ok|transient|permanent

	inferenceRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vidlint_inference_retries_total",
		Help: "Retries of transient inference failures",
	}, []string{"op"})

	breakerOpen = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "vidlint_breaker_open",
		Help: "1 while the named breaker rejects calls, 0.5 while it probes, 0 when closed",
	}, []string{"name"})

	breakerTrips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vidlint_breaker_trips_total",
		Help: "Breaker transitions to open",
	}, []string{"name", "reason"})

	readyWait = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "vidlint_inference_ready_wait_seconds",
		Help:    "Time until an uploaded chunk became ready",
		Buckets: prometheus.ExponentialBuckets(1, 2, 11),
	})
)

// RecordInferenceCall counts one inference call.
func RecordInferenceCall(op, outcome string) {
	inferenceCalls.WithLabelValues(op, outcome).Inc()
}

// RecordInferenceRetry counts one retry of op.
func RecordInferenceRetry(op string) {
	inferenceRetries.WithLabelValues(op).Inc()
}

// ObserveReadyWait records how long a remote file took to become ready.
func ObserveReadyWait(seconds float64) {
	readyWait.Observe(seconds)
}

// SetBreakerState publishes a breaker state (closed, half-open or open).
func SetBreakerState(name, state string) {
	v := 0.0
	switch state {
	case "open":
		v = 1
	case "half-open":
		v = 0.5
	}
	breakerOpen.WithLabelValues(name).Set(v)
}

// RecordBreakerTrip counts one transition to open.
func RecordBreakerTrip(name, reason string) {
	breakerTrips.WithLabelValues(name, reason).Inc()
}

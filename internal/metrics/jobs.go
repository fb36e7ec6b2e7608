// SPDX-License-Identifier: MIT

// Package metrics exposes the daemon's Prometheus instruments.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vidlint_jobs_total",
		Help: "Analysis jobs by terminal status",
	}, []string{"status"}) // status=completed|failed

	jobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vidlint_job_duration_seconds",
		Help:    "Wall time from admission to terminal state",
		Buckets: []float64{10, 30, 60, 120, 300, 600, 1200, 2400, 3600},
	}, []string{"status"})

	chunksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vidlint_chunks_total",
		Help: "Processed chunks by outcome",
	}, []string{"outcome"}) // outcome=ok|upload_failed|not_ready|analyze_failed

	segmentFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vidlint_segment_fallback_total",
		Help: "Segmentations that fell back from stream copy to re-encoding",
	})

	cleanupFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vidlint_cleanup_failures_total",
		Help: "Best-effort cleanup steps that failed",
	}, []string{"resource"}) // resource=chunk_file|chunk_dir|remote|source|results
)

// RecordJob counts a finished job and observes its duration.
func RecordJob(status string, d time.Duration) {
	jobsTotal.WithLabelValues(status).Inc()
	jobDuration.WithLabelValues(status).Observe(d.Seconds())
}

// RecordChunk counts a chunk outcome.
func RecordChunk(outcome string) {
	chunksTotal.WithLabelValues(outcome).Inc()
}

// RecordSegmentFallback counts a re-encode fallback.
func RecordSegmentFallback() {
	segmentFallbacks.Inc()
}

// RecordCleanupFailure counts a cleanup step that could not release its resource.
func RecordCleanupFailure(resource string) {
	cleanupFailures.WithLabelValues(resource).Inc()
}

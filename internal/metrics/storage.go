// SPDX-License-Identifier: MIT

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	historyBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vidlint_history_bytes",
		Help: "Total size of the history directory (last computation)",
	})
	historyEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vidlint_history_evictions_total",
		Help: "History entries deleted by the retention cap",
	})
	archiveUploads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vidlint_archive_uploads_total",
		Help: "History entries mirrored to object storage by outcome",
	}, []string{"outcome"})
	sessionStoreErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vidlint_session_store_errors_total",
		Help: "Session store failures by backend and operation",
	}, []string{"backend", "op"})
)

// SetHistoryBytes publishes the history directory size.
func SetHistoryBytes(n int64) {
	historyBytes.Set(float64(n))
}

// RecordHistoryEviction counts one retention deletion.
func RecordHistoryEviction() {
	historyEvictions.Inc()
}

// RecordArchiveUpload counts one archive attempt.
func RecordArchiveUpload(outcome string) {
	archiveUploads.WithLabelValues(outcome).Inc()
}

// RecordSessionStoreError counts a session store failure.
func RecordSessionStoreError(backend, op string) {
	sessionStoreErrors.WithLabelValues(backend, op).Inc()
}

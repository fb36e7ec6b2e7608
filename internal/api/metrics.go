// SPDX-License-Identifier: MIT

package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	uploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vidlint_uploads_total",
		Help: "Job submissions by outcome",
	}, []string{"source", "outcome"})

	uploadBytes = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "vidlint_upload_bytes",
		Help:    "Size of uploaded videos in bytes",
		Buckets: prometheus.ExponentialBuckets(1<<20, 4, 8), // 1 MiB .. 16 GiB
	})

	streamsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vidlint_streams_active",
		Help: "Number of open job event streams",
	})

	fileRequestsDeniedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vidlint_file_requests_denied_total",
		Help: "Number of history file requests denied",
	}, []string{"reason"})

	fileRequestsAllowedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vidlint_file_requests_allowed_total",
		Help: "Number of history file requests allowed",
	})

	fileCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vidlint_file_cache_hits_total",
		Help: "Number of history file requests served as 304 Not Modified",
	})
)

func recordUpload(source, outcome string) {
	uploadsTotal.WithLabelValues(source, outcome).Inc()
}

func recordFileRequestAllowed() {
	fileRequestsAllowedTotal.Inc()
}

func recordFileRequestDenied(reason string) {
	fileRequestsDeniedTotal.WithLabelValues(reason).Inc()
}

func recordFileCacheHit() {
	fileCacheHitsTotal.Inc()
}

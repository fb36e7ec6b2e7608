// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordJob(t *testing.T) {
	before := testutil.ToFloat64(jobsTotal.WithLabelValues("completed"))
	RecordJob("completed", 3*time.Second)
	assert.Equal(t, before+1, testutil.ToFloat64(jobsTotal.WithLabelValues("completed")))

	m := &dto.Metric{}
	hist, ok := jobDuration.WithLabelValues("completed").(prometheus.Metric)
	require.True(t, ok)
	require.NoError(t, hist.Write(m))
	assert.GreaterOrEqual(t, m.GetHistogram().GetSampleCount(), uint64(1))
}

func TestSetGateState(t *testing.T) {
	SetGateState(2, 5, 3)
	assert.Equal(t, 2.0, testutil.ToFloat64(gateActive))
	assert.Equal(t, 5.0, testutil.ToFloat64(gateQueued))
	assert.Equal(t, 3.0, testutil.ToFloat64(gateCapacity))
}

func TestBreakerState(t *testing.T) {
	for _, tt := range []struct {
		state string
		want  float64
	}{{"open", 1}, {"half-open", 0.5}, {"closed", 0}} {
		SetBreakerState("inference", tt.state)
		assert.Equal(t, tt.want, testutil.ToFloat64(breakerOpen.WithLabelValues("inference")), tt.state)
	}

	before := testutil.ToFloat64(breakerTrips.WithLabelValues("inference", "threshold_exceeded"))
	RecordBreakerTrip("inference", "threshold_exceeded")
	assert.Equal(t, before+1, testutil.ToFloat64(breakerTrips.WithLabelValues("inference", "threshold_exceeded")))
}

func TestCounters(t *testing.T) {
	tests := []struct {
		name   string
		record func()
		read   func() float64
	}{
		{"chunk", func() { RecordChunk("ok") }, func() float64 { return testutil.ToFloat64(chunksTotal.WithLabelValues("ok")) }},
		{"retry", func() { RecordInferenceRetry("analyze") }, func() float64 { return testutil.ToFloat64(inferenceRetries.WithLabelValues("analyze")) }},
		{"rejection", RecordQueueRejection, func() float64 { return testutil.ToFloat64(gateRejections) }},
		{"eviction", RecordHistoryEviction, func() float64 { return testutil.ToFloat64(historyEvictions) }},
		{"fallback", RecordSegmentFallback, func() float64 { return testutil.ToFloat64(segmentFallbacks) }},
		{"terminate", func() { IncProcTerminate("SIGTERM", "sent") }, func() float64 {
			return testutil.ToFloat64(procTerminate.WithLabelValues("SIGTERM", "sent"))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := tt.read()
			tt.record()
			assert.Equal(t, before+1, tt.read())
		})
	}
}

func TestPromhttpExposure(t *testing.T) {
	SetHistoryBytes(1024)

	rec := httptest.NewRecorder()
	promhttp.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "vidlint_history_bytes 1024")
}

// SPDX-License-Identifier: MIT

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys shared by HTTP, job and chunk spans.
const (
	HTTPMethodKey     = "http.method"
	HTTPStatusCodeKey = "http.status_code"
	HTTPRouteKey      = "http.route"
	HTTPURLKey        = "http.url"

	JobIDKey     = "job.id"
	JobSourceKey = "job.source"
	JobStatusKey = "job.status"
	JobChunksKey = "job.chunks"

	ChunkIndexKey  = "chunk.index"
	ChunkTotalKey  = "chunk.total"
	ChunkOffsetKey = "chunk.offset_seconds"
	ChunkRemoteKey = "chunk.remote_file"

	InferenceModelKey   = "inference.model"
	InferenceAttemptKey = "inference.attempt"

	ErrorKey     = "error"
	ErrorTypeKey = "error.type"
)

// HTTPAttributes creates common HTTP span attributes.
func HTTPAttributes(method, route, url string, statusCode int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(HTTPMethodKey, method),
		attribute.String(HTTPRouteKey, route),
		attribute.String(HTTPURLKey, url),
		attribute.Int(HTTPStatusCodeKey, statusCode),
	}
}

// JobAttributes describes an analysis job span.
func JobAttributes(jobID, source string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(JobIDKey, jobID),
		attribute.String(JobSourceKey, source),
	}
}

// ChunkAttributes describes a per-chunk span. remote is omitted until the upload succeeded.
func ChunkAttributes(index, total, offsetSeconds int, remote string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.Int(ChunkIndexKey, index),
		attribute.Int(ChunkTotalKey, total),
		attribute.Int(ChunkOffsetKey, offsetSeconds),
	}
	if remote != "" {
		attrs = append(attrs, attribute.String(ChunkRemoteKey, remote))
	}
	return attrs
}

// ErrorAttributes creates error-related span attributes.
func ErrorAttributes(errorType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorTypeKey, errorType),
	}
}

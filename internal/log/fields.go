// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldSessionID = "session_id"
	FieldRequestID = "request_id"
	FieldJobID     = "job_id"

	// Process / pipeline fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldState     = "state"
	FieldAttempt   = "attempt"

	// Chunk fields
	FieldChunkIndex = "chunk_index"
	FieldChunkTotal = "chunk_total"
	FieldRemoteFile = "remote_file"

	// Queue fields
	FieldQueuePosition = "queue_position"
	FieldActiveJobs    = "active_jobs"

	// Path / URL fields
	FieldPath     = "path"
	FieldSource   = "source"
	FieldVideoURL = "video_url"

	// HTTP fields
	FieldMethod   = "method"
	FieldRoute    = "route"
	FieldStatus   = "status"
	FieldDuration = "duration_ms"
	FieldBytes    = "bytes"
)

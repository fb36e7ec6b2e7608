// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package inference talks to the external multimodal analysis service.
//
// Vendors implement the narrow Service interface; Client layers retries,
// readiness polling, metrics and logging on top of it.
package inference

import (
	"context"
	"mime"
	"path/filepath"
)

// State is the processing state of an uploaded file.
type State string

const (
	StateUnspecified State = "STATE_UNSPECIFIED"
	StateProcessing  State = "PROCESSING"
	StateActive      State = "ACTIVE"
	StateFailed      State = "FAILED"
	StateDeleted     State = "DELETED"
)

// File is the remote handle of an uploaded chunk.
type File struct {
	Name     string
	URI      string
	MIMEType string
	State    State
}

// Stream yields analysis text fragments. It is finite and cannot be restarted.
type Stream interface {
	// Recv returns the next fragment, or io.EOF after the last one.
	Recv() (string, error)
	Close() error
}

// Service is the vendor boundary. Implementations classify failures as
// *TransientError or *PermanentError.
type Service interface {
	Upload(ctx context.Context, localPath, mimeType string) (File, error)
	Status(ctx context.Context, name string) (File, error)
	// Analyze issues the streaming request. An error here means the request
	// never started and may be retried.
	Analyze(ctx context.Context, file File, prompt string) (Stream, error)
	Delete(ctx context.Context, name string) error
}

// MIMEType guesses a video content type from the file extension.
func MIMEType(path string) string {
	ext := filepath.Ext(path)
	switch ext {
	case ".mp4", ".m4v":
		return "video/mp4"
	case ".mkv":
		return "video/x-matroska"
	case ".mov":
		return "video/quicktime"
	case ".webm":
		return "video/webm"
	case ".avi":
		return "video/x-msvideo"
	case ".mpeg", ".mpg":
		return "video/mpeg"
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}

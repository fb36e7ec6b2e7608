// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package inference

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
)

// ErrNotConfigured is returned by services that lack credentials.
var ErrNotConfigured = errors.New("inference service not configured")

// TransientError is a retry-eligible failure (5xx, throttling, network).
type TransientError struct {
	Op   string
	Code int
	Err  error
}

func (e *TransientError) Error() string {
	if e.Code > 0 {
		return fmt.Sprintf("%s: transient error (status %d): %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("%s: transient error: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError is a failure that retrying cannot fix.
type PermanentError struct {
	Op   string
	Code int
	Err  error
}

func (e *PermanentError) Error() string {
	if e.Code > 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// UploadError reports a chunk the service would not accept.
type UploadError struct {
	Path string
	Err  error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload %s: %v", e.Path, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// ReadyError reports a remote file that never became ACTIVE.
type ReadyError struct {
	Name    string
	State   State
	Timeout bool
}

func (e *ReadyError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("timed out waiting for file %s to become ACTIVE (last state=%s)", e.Name, e.State)
	}
	return fmt.Sprintf("file %s state is %s; cannot proceed", e.Name, e.State)
}

// IsTransient reports whether err is retry-eligible.
func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}

// TransientStatus reports whether an HTTP status is worth retrying.
func TransientStatus(code int) bool {
	switch code {
	case 408, 429, 500, 502, 503, 504:
		return true
	}
	return false
}

// FromStatus classifies a failed call that produced an HTTP status.
func FromStatus(op string, code int, err error) error {
	if TransientStatus(code) {
		return &TransientError{Op: op, Code: code, Err: err}
	}
	return &PermanentError{Op: op, Code: code, Err: err}
}

// FromTransport classifies a failure without a status: timeouts, resets and
// truncated responses are transient. Caller cancellation is passed through unchanged.
func FromTransport(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	var netErr net.Error
	switch {
	case errors.As(err, &netErr) && netErr.Timeout(),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.EPIPE),
		errors.Is(err, io.ErrUnexpectedEOF):
		return &TransientError{Op: op, Err: err}
	}
	return &PermanentError{Op: op, Err: err}
}

// outcome labels err for metrics.
func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case IsTransient(err):
		return "transient"
	default:
		return "permanent"
	}
}

var (
	errEmptyHandle = errors.New("service returned no file name")
	errNoURI       = errors.New("service returned no file URI")
)

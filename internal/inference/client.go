// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package inference

import (
	"context"
	"time"

	"github.com/ManuGH/vidlint/internal/metrics"
	"github.com/rs/zerolog"
)

// Client adds retries, readiness polling and observability to a Service.
type Client struct {
	svc          Service
	policy       RetryPolicy
	pollInterval time.Duration
	readyTimeout time.Duration
	logger       zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithRetryPolicy overrides the retry policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Client) { c.policy = p }
}

// WithReadyPolling sets the status poll interval and the readiness ceiling.
func WithReadyPolling(interval, timeout time.Duration) Option {
	return func(c *Client) {
		c.pollInterval = interval
		c.readyTimeout = timeout
	}
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient wraps svc.
func NewClient(svc Service, opts ...Option) *Client {
	c := &Client{
		svc:          svc,
		policy:       DefaultRetryPolicy(),
		pollInterval: 3 * time.Second,
		readyTimeout: 25 * time.Minute,
		logger:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Upload sends a chunk, retrying transient failures. Final failures are *UploadError.
func (c *Client) Upload(ctx context.Context, localPath, mimeType string, onRetry OnRetry) (File, error) {
	f, err := Retry(ctx, c.policy, "upload", onRetry, func(ctx context.Context) (File, error) {
		f, err := c.svc.Upload(ctx, localPath, mimeType)
		metrics.RecordInferenceCall("upload", outcome(err))
		return f, err
	})
	if err != nil {
		return File{}, &UploadError{Path: localPath, Err: err}
	}
	if f.Name == "" {
		return File{}, &UploadError{Path: localPath, Err: &PermanentError{Op: "upload", Err: errEmptyHandle}}
	}
	c.logger.Debug().
		Str("event", "inference.uploaded").
		Str("remote_file", f.Name).
		Msg("chunk uploaded")
	return f, nil
}

// AwaitReady waits until the remote file is ACTIVE.
func (c *Client) AwaitReady(ctx context.Context, name string) (File, error) {
	start := time.Now()
	f, err := AwaitReady(ctx, c.svc, name, c.pollInterval, c.readyTimeout)
	if err != nil {
		return File{}, err
	}
	metrics.ObserveReadyWait(time.Since(start).Seconds())
	if f.URI == "" {
		return File{}, &PermanentError{Op: "status", Err: errNoURI}
	}
	return f, nil
}

// Analyze opens the response stream, retrying only the initiating call.
func (c *Client) Analyze(ctx context.Context, file File, prompt string, onRetry OnRetry) (Stream, error) {
	return Retry(ctx, c.policy, "analyze", onRetry, func(ctx context.Context) (Stream, error) {
		s, err := c.svc.Analyze(ctx, file, prompt)
		metrics.RecordInferenceCall("analyze", outcome(err))
		return s, err
	})
}

// Delete removes the remote copy. Failures are logged and returned for
// accounting only; callers never escalate them.
func (c *Client) Delete(ctx context.Context, name string) error {
	err := c.svc.Delete(ctx, name)
	metrics.RecordInferenceCall("delete", outcome(err))
	if err != nil {
		c.logger.Warn().
			Err(err).
			Str("event", "cleanup.remote_delete_failed").
			Str("remote_file", name).
			Msg("failed to delete remote file")
	}
	return err
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package gemini implements inference.Service on the Gemini API.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"path/filepath"
	"time"

	"github.com/ManuGH/vidlint/internal/inference"
	"github.com/ManuGH/vidlint/internal/metrics"
	"github.com/ManuGH/vidlint/internal/resilience"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"
	"google.golang.org/genai"
)

// Config configures the adapter.
type Config struct {
	APIKey            string
	BaseURL           string
	Model             string
	RequestTimeout    time.Duration
	RequestsPerSecond float64
	Burst             int
	BreakerThreshold  int
	BreakerReset      time.Duration
}

// Service is the Gemini implementation of inference.Service.
type Service struct {
	client  *genai.Client
	model   string
	limiter *rate.Limiter
	breaker *resilience.CircuitBreaker
}

var _ inference.Service = (*Service)(nil)

// New builds the adapter. Without an API key it returns a service whose
// every call fails permanently with inference.ErrNotConfigured.
func New(ctx context.Context, cfg Config) (inference.Service, error) {
	if cfg.APIKey == "" {
		return unconfigured{}, nil
	}

	hc := &http.Client{
		Timeout:   cfg.RequestTimeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
	cc := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: hc,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}

	s := &Service{
		client:  client,
		model:   cfg.Model,
		limiter: rate.NewLimiter(limit, burst),
	}
	if cfg.BreakerThreshold > 0 {
		s.breaker = resilience.NewCircuitBreaker("inference", cfg.BreakerThreshold, cfg.BreakerReset,
			resilience.WithFailureFilter(inference.IsTransient))
	}
	return s, nil
}

// call paces and guards one request.
func (s *Service) call(ctx context.Context, op string, fn func() error) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	if s.breaker == nil {
		return fn()
	}
	err := s.breaker.Execute(fn)
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return &inference.TransientError{Op: op, Err: resilience.ErrCircuitOpen}
	}
	return err
}

// Upload implements inference.Service.
func (s *Service) Upload(ctx context.Context, localPath, mimeType string) (inference.File, error) {
	var out inference.File
	err := s.call(ctx, "upload", func() error {
		f, err := s.client.Files.UploadFromPath(ctx, localPath, &genai.UploadFileConfig{
			MIMEType:    mimeType,
			DisplayName: filepath.Base(localPath),
		})
		if err != nil {
			return classify("upload", err)
		}
		out = toFile(f)
		return nil
	})
	return out, err
}

// Status implements inference.Service.
func (s *Service) Status(ctx context.Context, name string) (inference.File, error) {
	var out inference.File
	err := s.call(ctx, "status", func() error {
		f, err := s.client.Files.Get(ctx, name, nil)
		if err != nil {
			return classify("status", err)
		}
		out = toFile(f)
		return nil
	})
	return out, err
}

// Analyze implements inference.Service. The first response is pulled before
// returning so failures to start the stream surface here, where they can be retried.
func (s *Service) Analyze(ctx context.Context, file inference.File, prompt string) (inference.Stream, error) {
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromText(prompt),
			genai.NewPartFromURI(file.URI, file.MIMEType),
		}, genai.RoleUser),
	}

	var st *stream
	err := s.call(ctx, "analyze", func() error {
		next, stop := iter.Pull2(s.client.Models.GenerateContentStream(ctx, s.model, contents, nil))
		resp, err, ok := next()
		if ok && err != nil {
			stop()
			return classify("analyze", err)
		}
		st = &stream{next: next, stop: stop, first: resp, done: !ok}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return st, nil
}

// Delete implements inference.Service.
func (s *Service) Delete(ctx context.Context, name string) error {
	return s.call(ctx, "delete", func() error {
		if _, err := s.client.Files.Delete(ctx, name, nil); err != nil {
			return classify("delete", err)
		}
		return nil
	})
}

// BreakerState reports the circuit breaker state for readiness output.
func (s *Service) BreakerState() string {
	if s.breaker == nil {
		return "disabled"
	}
	return string(s.breaker.State())
}

func toFile(f *genai.File) inference.File {
	if f == nil {
		return inference.File{}
	}
	return inference.File{
		Name:     f.Name,
		URI:      f.URI,
		MIMEType: f.MIMEType,
		State:    toState(f.State),
	}
}

func toState(s genai.FileState) inference.State {
	switch s {
	case genai.FileStateActive:
		return inference.StateActive
	case genai.FileStateProcessing:
		return inference.StateProcessing
	case genai.FileStateFailed:
		return inference.StateFailed
	}
	return inference.StateUnspecified
}

// classify maps SDK errors onto the inference error taxonomy.
func classify(op string, err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return inference.FromStatus(op, apiErr.Code, err)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return inference.FromStatus(op, apiErrPtr.Code, err)
	}
	return inference.FromTransport(op, err)
}

type stream struct {
	next  func() (*genai.GenerateContentResponse, error, bool)
	stop  func()
	first *genai.GenerateContentResponse
	done  bool
}

func (s *stream) Recv() (string, error) {
	for {
		if s.first != nil {
			resp := s.first
			s.first = nil
			if text := resp.Text(); text != "" {
				return text, nil
			}
			continue
		}
		if s.done {
			return "", io.EOF
		}
		resp, err, ok := s.next()
		if !ok {
			s.done = true
			return "", io.EOF
		}
		if err != nil {
			s.done = true
			metrics.RecordInferenceCall("analyze_stream", "error")
			return "", classify("analyze", err)
		}
		if text := resp.Text(); text != "" {
			return text, nil
		}
	}
}

func (s *stream) Close() error {
	s.done = true
	s.stop()
	return nil
}

type unconfigured struct{}

func (unconfigured) err(op string) error {
	return &inference.PermanentError{Op: op, Err: inference.ErrNotConfigured}
}

func (u unconfigured) Upload(context.Context, string, string) (inference.File, error) {
	return inference.File{}, u.err("upload")
}

func (u unconfigured) Status(context.Context, string) (inference.File, error) {
	return inference.File{}, u.err("status")
}

func (u unconfigured) Analyze(context.Context, inference.File, string) (inference.Stream, error) {
	return nil, u.err("analyze")
}

func (u unconfigured) Delete(context.Context, string) error {
	return u.err("delete")
}

// Configured reports whether svc can reach the remote service.
func Configured(svc inference.Service) bool {
	_, ok := svc.(unconfigured)
	return !ok
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package api serves the HTTP surface of the daemon: job submission with a
// streamed progress response, session recovery and the history endpoints.
package api

import (
	"context"
	_ "embed"
	"net"
	"net/http"
	"time"

	"github.com/ManuGH/vidlint/internal/control/http/problem"
	"github.com/ManuGH/vidlint/internal/control/middleware"
	"github.com/ManuGH/vidlint/internal/health"
	"github.com/ManuGH/vidlint/internal/history"
	"github.com/ManuGH/vidlint/internal/job"
	"github.com/ManuGH/vidlint/internal/session"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

//go:embed openapi.yaml
var openAPISpec []byte

// OpenAPISpec returns the embedded API description.
func OpenAPISpec() []byte { return openAPISpec }

// DefaultRetryAfter is advertised when the job queue is full.
const DefaultRetryAfter = 30 * time.Second

// Jobs is the job manager as seen by the handlers.
type Jobs interface {
	Submit(ctx context.Context, req job.Request) (*job.Job, error)
	BySession(sessionID string) (*job.Job, bool)
	Running(id string) bool
	QueuePosition(id string) int
}

// Config holds the HTTP-facing settings. The func fields are read per
// request so a config reload takes effect without a restart.
type Config struct {
	Stack              middleware.StackConfig
	UploadDir          string
	MaxUploadBytes     func() int64
	MaxHistoryBytes    func() int64
	UploadsPerMinute   int
	RateLimitWhitelist []*net.IPNet
	RetryAfter         time.Duration
}

// Deps are the collaborators of the handlers.
type Deps struct {
	Jobs     Jobs
	History  *history.Store
	Sessions session.Store
	Health   *health.Manager
}

// Server holds the handlers and their dependencies.
type Server struct {
	cfg      Config
	jobs     Jobs
	history  *history.Store
	sessions session.Store
	health   *health.Manager
}

// New returns a Server. Deps must be complete; Health may be nil.
func New(cfg Config, deps Deps) *Server {
	if cfg.RetryAfter <= 0 {
		cfg.RetryAfter = DefaultRetryAfter
	}
	if deps.Health == nil {
		deps.Health = health.NewManager("")
	}
	return &Server{
		cfg:      cfg,
		jobs:     deps.Jobs,
		history:  deps.History,
		sessions: deps.Sessions,
		health:   deps.Health,
	}
}

func (s *Server) maxUpload() int64 {
	if s.cfg.MaxUploadBytes == nil {
		return 0
	}
	return s.cfg.MaxUploadBytes()
}

func (s *Server) maxHistory() int64 {
	if s.cfg.MaxHistoryBytes == nil {
		return 0
	}
	return s.cfg.MaxHistoryBytes()
}

// Router builds the chi router with the canonical middleware stack.
func (s *Server) Router() *chi.Mux {
	r := middleware.NewRouter(s.cfg.Stack)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		problem.NotFound(w, r, "Route not found.")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		problem.Write(w, r, http.StatusMethodNotAllowed, "system/method_not_allowed", "Method Not Allowed",
			problem.CodeMethodNotAllow, "", nil)
	})

	r.Get("/healthz", s.health.ServeHealth)
	r.Get("/readyz", s.health.ServeReady)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/openapi.yaml", s.handleOpenAPI)

	upload := r.With()
	if s.cfg.UploadsPerMinute > 0 {
		upload = r.With(middleware.UploadRateLimit(s.cfg.UploadsPerMinute, s.cfg.RateLimitWhitelist))
	}
	upload.Post("/upload", s.handleUpload)

	r.Get("/session/{sessionId}", s.handleSession)
	r.Get("/session/{sessionId}/events", s.handleSessionEvents)

	r.Get("/history/list", s.handleHistoryList)
	r.Get("/history/storage", s.handleHistoryStorage)
	r.Delete("/history/{id}", s.handleHistoryDelete)
	r.Method(http.MethodGet, history.StaticRoute+"/*", http.StripPrefix(history.StaticRoute+"/", s.historyFiles()))

	return r
}

func (s *Server) handleOpenAPI(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	_, _ = w.Write(openAPISpec)
}

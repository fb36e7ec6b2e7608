// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package job runs analysis jobs: source resolution, segmentation, the
// sequential chunk loop against the inference service, and guaranteed
// cleanup. Manager admits jobs through the concurrency gate and keeps them
// reachable for reattachment.
package job

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ManuGH/vidlint/internal/history"
	"github.com/ManuGH/vidlint/internal/session"
)

var (
	// ErrMissingPrompt rejects submissions without a prompt.
	ErrMissingPrompt = errors.New("Missing prompt.")
	// ErrSourceConflict rejects submissions carrying both a file and a URL.
	ErrSourceConflict = errors.New("Provide either a video file OR a YouTube URL, not both.")
	// ErrNoSource rejects submissions carrying neither.
	ErrNoSource = errors.New("Upload a video or provide a YouTube URL.")
)

// State is the runner's position in a job's lifecycle.
type State string

const (
	StateQueued          State = "queued"
	StateResolvingSource State = "resolving_source"
	StateSegmenting      State = "segmenting"
	StateAnalyzing       State = "analyzing"
	StateFinalizing      State = "finalizing"
	StateCompleted       State = "completed"
	StateFailed          State = "failed"
)

var transitions = map[State][]State{
	StateQueued:          {StateResolvingSource, StateFailed},
	StateResolvingSource: {StateSegmenting, StateFailed},
	StateSegmenting:      {StateAnalyzing, StateFailed},
	StateAnalyzing:       {StateAnalyzing, StateFinalizing, StateFailed},
	StateFinalizing:      {StateCompleted, StateFailed},
}

// Terminal reports whether s is Completed or Failed.
func (s State) Terminal() bool { return s == StateCompleted || s == StateFailed }

func (s State) can(to State) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Source is the job's single input video.
type Source struct {
	// FilePath is an uploaded temporary file. The job owns it until it is
	// archived and removes it in cleanup otherwise.
	FilePath string
	// FileName is the sanitised client file name.
	FileName string
	// URL is a remote video reference.
	URL string
}

// Validate enforces exactly one input.
func (s Source) Validate() error {
	switch {
	case s.FilePath != "" && s.URL != "":
		return ErrSourceConflict
	case s.FilePath == "" && s.URL == "":
		return ErrNoSource
	}
	return nil
}

// Kind returns the history source kind.
func (s Source) Kind() string {
	if s.URL != "" {
		return history.SourceYouTube
	}
	return history.SourceFile
}

// Request is a validated submission.
type Request struct {
	// SessionID is the client's recovery handle. A fresh one is generated
	// when empty or already taken.
	SessionID string
	Prompt    string
	Source    Source
}

// Job is one analysis run.
type Job struct {
	ID        string
	SessionID string
	Prompt    string
	Source    Source
	CreatedAt time.Time

	events *Journal
	done   chan struct{}

	mu    sync.Mutex
	state State
	err   string
}

func newJob(id, sessionID string, req Request, now time.Time, events *Journal) *Job {
	return &Job{
		ID:        id,
		SessionID: sessionID,
		Prompt:    req.Prompt,
		Source:    req.Source,
		CreatedAt: now,
		events:    events,
		done:      make(chan struct{}),
		state:     StateQueued,
	}
}

// Events returns the job's event journal.
func (j *Job) Events() *Journal { return j.events }

// Done is closed once the job has reached a terminal state and its stream
// has ended.
func (j *Job) Done() <-chan struct{} { return j.done }

// State returns the current lifecycle state.
func (j *Job) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Err returns the job-fatal error message, if any.
func (j *Job) Err() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

func (j *Job) transition(to State) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.state.can(to) {
		return fmt.Errorf("job %s: invalid transition %s -> %s", j.ID, j.state, to)
	}
	j.state = to
	return nil
}

// fail moves any non-terminal job to Failed.
func (j *Job) fail(msg string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state.Terminal() {
		return
	}
	j.state = StateFailed
	j.err = msg
}

// SessionStatus maps the lifecycle state onto the wire status.
func (j *Job) SessionStatus() session.Status {
	switch st := j.State(); st {
	case StateQueued:
		return session.StatusQueued
	case StateCompleted:
		return session.StatusCompleted
	case StateFailed:
		return session.StatusFailed
	default:
		return session.StatusActive
	}
}

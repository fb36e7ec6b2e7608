// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package session maps client-visible session ids to jobs so a client that
// lost its connection can recover status and results.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned for unknown session ids.
	ErrNotFound = errors.New("session not found")
	// ErrExists is returned when creating a session id that is already taken.
	ErrExists = errors.New("session already exists")
	// ErrInvalidTransition is returned for backwards or terminal-to-any moves.
	ErrInvalidTransition = errors.New("invalid session transition")
)

// Status is the lifecycle state of a job as seen by its session.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

func (s Status) rank() int {
	switch s {
	case StatusQueued:
		return 1
	case StatusActive:
		return 2
	case StatusCompleted, StatusFailed:
		return 3
	}
	return 0
}

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool { return s.rank() > 0 }

// Record is the stored state of one session.
type Record struct {
	SessionID string    `json:"sessionId"`
	JobID     string    `json:"historyId"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Error     string    `json:"error,omitempty"`
}

// Advance returns rec moved to status to. Transitions only go forward;
// repeating the current non-terminal status is allowed and refreshes UpdatedAt.
func Advance(rec Record, to Status, errMsg string, now time.Time) (Record, error) {
	if !to.Valid() {
		return rec, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, to)
	}
	if rec.Status.Terminal() || to.rank() < rec.Status.rank() {
		return rec, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, rec.Status, to)
	}
	rec.Status = to
	rec.UpdatedAt = now.UTC()
	if errMsg != "" {
		rec.Error = errMsg
	}
	return rec, nil
}

// New returns a queued record.
func New(sessionID, jobID string, now time.Time) Record {
	now = now.UTC()
	return Record{SessionID: sessionID, JobID: jobID, Status: StatusQueued, CreatedAt: now, UpdatedAt: now}
}

// Store persists session records.
type Store interface {
	// Create stores a new record; ErrExists if the id is taken.
	Create(ctx context.Context, rec Record) error
	// Get returns the record or ErrNotFound.
	Get(ctx context.Context, sessionID string) (Record, error)
	// Advance applies a forward transition atomically.
	Advance(ctx context.Context, sessionID string, to Status, errMsg string) (Record, error)
	// Ping checks the backend is reachable.
	Ping(ctx context.Context) error
	Close() error
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps records for the lifetime of the process.
type MemoryStore struct {
	mu   sync.RWMutex
	recs map[string]Record
	now  func() time.Time
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{recs: make(map[string]Record), now: time.Now}
}

func (s *MemoryStore) Create(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.recs[rec.SessionID]; ok {
		return ErrExists
	}
	s.recs[rec.SessionID] = rec
	return nil
}

func (s *MemoryStore) Get(_ context.Context, sessionID string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.recs[sessionID]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func (s *MemoryStore) Advance(_ context.Context, sessionID string, to Status, errMsg string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[sessionID]
	if !ok {
		return Record{}, ErrNotFound
	}
	next, err := Advance(rec, to, errMsg, s.now())
	if err != nil {
		return rec, err
	}
	s.recs[sessionID] = next
	return next, nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }
func (s *MemoryStore) Close() error               { return nil }

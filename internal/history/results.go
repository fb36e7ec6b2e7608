// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package history

import (
	"os"
	"path/filepath"
	"sync"
)

// ResultsWriter appends to an entry's results.txt. Every Write goes straight
// to the file so a crash loses at most the write in flight.
type ResultsWriter struct {
	mu     sync.Mutex
	f      *os.File
	closed bool
}

// OpenResults opens results.txt of entry id for appending.
func (s *Store) OpenResults(id string) (*ResultsWriter, error) {
	dir, err := s.Dir(id)
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(filepath.Join(dir, ResultsFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640) // #nosec G304 -- id validated
	if err != nil {
		return nil, err
	}
	return &ResultsWriter{f: f}, nil
}

// WriteString appends s.
func (w *ResultsWriter) WriteString(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return 0, os.ErrClosed
	}
	return w.f.WriteString(s)
}

// Close syncs and closes the file. It is safe to call more than once.
func (w *ResultsWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	serr := w.f.Sync()
	if err := w.f.Close(); err != nil {
		return err
	}
	return serr
}

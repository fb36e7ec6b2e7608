// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/ManuGH/vidlint/internal/job"
	"github.com/ManuGH/vidlint/internal/log"
	"github.com/ManuGH/vidlint/internal/protocol"
)

const (
	headerSessionID = "X-Session-ID"
	headerHistoryID = "X-History-ID"
)

// eventWriter encodes events and flushes after each one.
type eventWriter struct {
	enc protocol.Encoder
	rc  *http.ResponseController
}

// openStream writes the streaming response headers and returns the writer.
func openStream(w http.ResponseWriter, r *http.Request, sessionID, historyID string) *eventWriter {
	enc := protocol.NewEncoder(w, r.Header.Get("Accept"))
	h := w.Header()
	h.Set("Content-Type", enc.ContentType())
	h.Set("Cache-Control", "no-cache, no-transform")
	h.Set("X-Accel-Buffering", "no")
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set(headerSessionID, sessionID)
	h.Set(headerHistoryID, historyID)
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	// Analyses run for minutes; the server write timeout must not cut them.
	_ = rc.SetWriteDeadline(time.Time{})
	ew := &eventWriter{enc: enc, rc: rc}
	_ = ew.flush()
	return ew
}

func (ew *eventWriter) write(ev protocol.Event) error {
	if err := ew.enc.Encode(ev); err != nil {
		return err
	}
	return ew.flush()
}

func (ew *eventWriter) flush() error {
	if err := ew.rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	return nil
}

// stream relays the job's journal to the client until the job ends or the
// client goes away. A disconnect only ends this stream; the job keeps running.
func (s *Server) stream(w http.ResponseWriter, r *http.Request, j *job.Job) {
	streamsActive.Inc()
	defer streamsActive.Dec()

	ctx := log.ContextWithJobID(log.ContextWithSessionID(r.Context(), j.SessionID), j.ID)
	logger := log.WithComponentFromContext(ctx, "api")

	ew := openStream(w, r, j.SessionID, j.ID)
	err := j.Events().Follow(ctx, ew.write)
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		logger.Info().Str(log.FieldEvent, "stream.client_gone").Msg("client disconnected, job continues")
	default:
		logger.Warn().Err(err).Str(log.FieldEvent, "stream.write_failed").Msg("event stream ended early")
	}
}

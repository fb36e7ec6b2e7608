// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ManuGH/vidlint/internal/control/http/problem"
	"github.com/ManuGH/vidlint/internal/history"
	"github.com/ManuGH/vidlint/internal/log"
	"github.com/ManuGH/vidlint/internal/protocol"
	"github.com/ManuGH/vidlint/internal/session"
	"github.com/go-chi/chi/v5"
)

const msgSessionNotFound = "Session not found"

// SessionMeta describes the video of a session.
type SessionMeta struct {
	Name          string `json:"name"`
	Source        string `json:"source"`
	VideoFileName string `json:"videoFileName,omitempty"`
	VideoURL      string `json:"videoUrl,omitempty"`
}

// SessionStatus is the body of GET /session/{sessionId}.
type SessionStatus struct {
	SessionID     string         `json:"sessionId"`
	Status        session.Status `json:"status"`
	HistoryID     string         `json:"historyId"`
	CreatedAt     int64          `json:"createdAt"`
	QueuePosition int            `json:"queuePosition"`
	ResultsText   string         `json:"resultsText"`
	Error         string         `json:"error,omitempty"`
	Meta          *SessionMeta   `json:"meta,omitempty"`
}

func (s *Server) lookupSession(w http.ResponseWriter, r *http.Request) (session.Record, bool) {
	id := chi.URLParam(r, "sessionId")
	rec, err := s.sessions.Get(r.Context(), id)
	if errors.Is(err, session.ErrNotFound) {
		problem.NotFound(w, r, msgSessionNotFound)
		return rec, false
	}
	if err != nil {
		log.FromContext(r.Context()).Error().Err(err).
			Str(log.FieldEvent, "session.lookup_failed").
			Str(log.FieldSessionID, id).
			Msg("session lookup failed")
		problem.Internal(w, r, "Failed to load session.")
		return rec, false
	}
	return rec, true
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.lookupSession(w, r)
	if !ok {
		return
	}

	out := SessionStatus{
		SessionID: rec.SessionID,
		Status:    rec.Status,
		HistoryID: rec.JobID,
		CreatedAt: rec.CreatedAt.UnixMilli(),
		Error:     rec.Error,
	}
	if rec.Status == session.StatusQueued {
		out.QueuePosition = s.jobs.QueuePosition(rec.JobID)
	}
	if text, err := s.history.ReadResults(rec.JobID); err == nil {
		out.ResultsText = text
	}
	if m, err := s.history.ReadMeta(rec.JobID); err == nil {
		e := history.EntryOf(m)
		out.Meta = &SessionMeta{
			Name:          m.Name,
			Source:        m.Source,
			VideoFileName: m.VideoFileName,
			VideoURL:      e.VideoURL,
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	_ = json.NewEncoder(w).Encode(out)
}

// handleSessionEvents reattaches to the job's event stream. A job that is no
// longer held by the manager is replayed from its stored results.
func (s *Server) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	if j, live := s.jobs.BySession(rec.SessionID); live {
		s.stream(w, r, j)
		return
	}
	if !rec.Status.Terminal() {
		// The record outlived its job, e.g. after a restart with a persistent store.
		problem.Write(w, r, http.StatusConflict, "session/orphaned", "Conflict",
			problem.CodeConflict, "Job is no longer running.", nil)
		return
	}

	results, _ := s.history.ReadResults(rec.JobID)
	ew := openStream(w, r, rec.SessionID, rec.JobID)
	evs := []protocol.Event{protocol.IDs(rec.SessionID, rec.JobID)}
	if results != "" {
		evs = append(evs, protocol.Text(results))
	}
	if rec.Status == session.StatusFailed && rec.Error != "" {
		evs = append(evs, protocol.JobError(rec.Error))
	}
	evs = append(evs, protocol.Done(string(rec.Status)))
	for _, ev := range evs {
		if err := ew.write(ev); err != nil {
			return
		}
	}
}

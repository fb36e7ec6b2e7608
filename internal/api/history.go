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
	"github.com/go-chi/chi/v5"
)

// StorageStats is the body of GET /history/storage. Total is the configured
// history cap.
type StorageStats struct {
	Used      int64  `json:"used"`
	Total     int64  `json:"total"`
	DiskFree  uint64 `json:"diskFree"`
	DiskTotal uint64 `json:"diskTotal"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleHistoryList(w http.ResponseWriter, r *http.Request) {
	entries, err := s.history.List()
	if err != nil {
		log.FromContext(r.Context()).Error().Err(err).Str(log.FieldEvent, "history.list_failed").Msg("failed to list history")
		problem.Internal(w, r, "Failed to list history.")
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleHistoryStorage(w http.ResponseWriter, r *http.Request) {
	used, err := s.history.Usage(r.Context())
	if err != nil {
		log.FromContext(r.Context()).Error().Err(err).Str(log.FieldEvent, "history.usage_failed").Msg("failed to measure history")
		problem.Internal(w, r, "Failed to measure history storage.")
		return
	}
	out := StorageStats{Used: used, Total: s.maxHistory()}
	if d, err := s.history.Disk(); err == nil {
		out.DiskFree, out.DiskTotal = d.Free, d.Total
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleHistoryDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if s.jobs.Running(id) {
		problem.Write(w, r, http.StatusConflict, "history/busy", "Conflict",
			problem.CodeConflict, "Job is still running.", nil)
		return
	}

	err := s.history.Delete(id)
	switch {
	case err == nil:
	case errors.Is(err, history.ErrNotFound), errors.Is(err, history.ErrInvalidID):
		problem.NotFound(w, r, "History entry not found")
		return
	default:
		log.FromContext(r.Context()).Error().Err(err).
			Str(log.FieldEvent, "history.delete_failed").
			Str(log.FieldJobID, id).
			Msg("failed to delete history entry")
		problem.Internal(w, r, "Failed to delete history entry.")
		return
	}

	log.FromContext(r.Context()).Info().
		Str(log.FieldEvent, "history.deleted").
		Str(log.FieldJobID, id).
		Msg("history entry deleted")
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "History entry deleted"})
}

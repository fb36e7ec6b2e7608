// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package problem writes RFC 7807 problem details responses.
package problem

import (
	"encoding/json"
	"net/http"

	"github.com/ManuGH/vidlint/internal/log"
)

const (
	// HeaderRequestID is the canonical header for request correlation.
	HeaderRequestID = "X-Request-ID"
	// JSONKeyRequestID is the canonical JSON key for request correlation.
	JSONKeyRequestID = "requestId"
)

// Stable machine-readable codes.
const (
	CodeInvalidInput   = "INVALID_INPUT"
	CodeTooLarge       = "PAYLOAD_TOO_LARGE"
	CodeQueueFull      = "QUEUE_FULL"
	CodeUnavailable    = "UNAVAILABLE"
	CodeNotFound       = "NOT_FOUND"
	CodeConflict       = "CONFLICT"
	CodeForbidden      = "FORBIDDEN"
	CodeRateLimited    = "RATE_LIMITED"
	CodeInternal       = "INTERNAL"
	CodeMethodNotAllow = "METHOD_NOT_ALLOWED"
)

// Write writes an RFC 7807 problem details response.
//
// Semantics:
//   - type: canonical machine identifier (e.g. "upload/invalid").
//   - title: human-readable short label (e.g. "Bad Request").
//   - code: stable machine-readable short code (e.g. "INVALID_INPUT").
//   - detail: human-readable explanation of the specific error. Clients show
//     it verbatim, so it carries the user-facing message.
func Write(w http.ResponseWriter, r *http.Request, status int, problemType, title, code, detail string, extra map[string]any) {
	if r == nil {
		log.L().Error().Str("type", problemType).Int("status", status).Msg("problem.Write called with nil request")
	}

	instance := ""
	reqID := ""
	if r != nil {
		instance = r.URL.EscapedPath()
		reqID = log.RequestIDFromContext(r.Context())
	}
	if reqID == "" {
		reqID = w.Header().Get(HeaderRequestID)
	}

	res := map[string]any{
		"type":   problemType,
		"title":  title,
		"status": status,
		"code":   code,
	}
	if reqID != "" {
		res[JSONKeyRequestID] = reqID
		w.Header().Set(HeaderRequestID, reqID)
	}
	if detail != "" {
		res["detail"] = detail
	}
	if instance != "" {
		res["instance"] = instance
	}

	// Extensions go at top level; reserved keys are protected.
	for k, v := range extra {
		switch k {
		case "type", "title", "status", "detail", "instance", "code":
			log.L().Warn().Str("key", k).Str("problem_type", problemType).Msg("ignoring reserved key in problem extras")
			continue
		}
		res[k] = v
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(res); err != nil {
		log.L().Error().
			Err(err).
			Str("type", problemType).
			Int("status", status).
			Msg("failed to encode problem response")
	}
}

// BadRequest writes a 400 INVALID_INPUT problem carrying msg as detail.
func BadRequest(w http.ResponseWriter, r *http.Request, msg string) {
	Write(w, r, http.StatusBadRequest, "request/invalid", "Bad Request", CodeInvalidInput, msg, nil)
}

// NotFound writes a 404 problem carrying msg as detail.
func NotFound(w http.ResponseWriter, r *http.Request, msg string) {
	Write(w, r, http.StatusNotFound, "system/not_found", "Not Found", CodeNotFound, msg, nil)
}

// Internal writes a 500 problem. The detail never carries internal error text.
func Internal(w http.ResponseWriter, r *http.Request, msg string) {
	Write(w, r, http.StatusInternalServerError, "system/internal", "Internal Server Error", CodeInternal, msg, nil)
}

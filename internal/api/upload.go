// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/ManuGH/vidlint/internal/control/http/problem"
	"github.com/ManuGH/vidlint/internal/fetch"
	"github.com/ManuGH/vidlint/internal/gate"
	"github.com/ManuGH/vidlint/internal/job"
	"github.com/ManuGH/vidlint/internal/log"
	"github.com/dustin/go-humanize"
)

const (
	// maxFieldBytes caps every non-file form field; prompts are the largest.
	maxFieldBytes = 64 << 10
	// multipartOverhead is allowed on top of the upload cap for part headers
	// and the text fields.
	multipartOverhead = 1 << 20
)

const (
	msgUnsupportedType = "Unsupported video type."
	msgEmptyUpload     = "Uploaded video is empty."
	msgNotMultipart    = "Expected a multipart/form-data request."
	msgFieldTooLarge   = "Form field is too large."
	msgShuttingDown    = "Server is shutting down. Please try again later."
	msgQueueFull       = "Server is busy. Please try again later."
)

// uploadError is a client error detected while reading the form.
type uploadError struct {
	status int
	code   string
	msg    string
}

func (e *uploadError) Error() string { return e.msg }

func badUpload(msg string) *uploadError {
	return &uploadError{status: http.StatusBadRequest, code: problem.CodeInvalidInput, msg: msg}
}

// uploadForm is the parsed submission. path is a file in the upload
// directory owned by the handler until the job accepts it.
type uploadForm struct {
	prompt    string
	url       string
	sessionID string
	path      string
	fileName  string
	size      int64
}

func (f *uploadForm) discard() {
	if f.path != "" {
		_ = os.Remove(f.path)
		f.path = ""
	}
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	logger := log.WithComponentFromContext(r.Context(), "api")

	form, err := s.readUpload(w, r)
	if err != nil {
		form.discard()
		var ue *uploadError
		if errors.As(err, &ue) {
			recordUpload("unknown", "rejected")
			problem.Write(w, r, ue.status, "upload/invalid", http.StatusText(ue.status), ue.code, ue.msg, nil)
			return
		}
		logger.Error().Err(err).Str(log.FieldEvent, "upload.read_failed").Msg("failed to read upload")
		problem.Internal(w, r, "Failed to read upload.")
		return
	}

	src := job.Source{FilePath: form.path, FileName: form.fileName, URL: form.url}
	sourceKind := src.Kind()

	j, err := s.jobs.Submit(r.Context(), job.Request{
		SessionID: form.sessionID,
		Prompt:    form.prompt,
		Source:    src,
	})
	if err != nil {
		form.discard()
		recordUpload(sourceKind, "rejected")
		s.writeSubmitError(w, r, err)
		return
	}
	recordUpload(sourceKind, "accepted")
	if form.size > 0 {
		uploadBytes.Observe(float64(form.size))
	}

	logger.Info().
		Str(log.FieldEvent, "upload.accepted").
		Str(log.FieldJobID, j.ID).
		Str(log.FieldSessionID, j.SessionID).
		Str(log.FieldSource, sourceKind).
		Str("size", humanize.IBytes(uint64(form.size))).
		Msg("job submitted")

	s.stream(w, r, j)
}

func (s *Server) writeSubmitError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, job.ErrMissingPrompt),
		errors.Is(err, job.ErrSourceConflict),
		errors.Is(err, job.ErrNoSource):
		problem.BadRequest(w, r, err.Error())
	case errors.Is(err, fetch.ErrInvalidURL):
		problem.BadRequest(w, r, fetch.ErrInvalidURL.Error())
	case errors.Is(err, gate.ErrQueueFull):
		w.Header().Set("Retry-After", strconv.Itoa(int(s.cfg.RetryAfter.Seconds())))
		problem.Write(w, r, http.StatusServiceUnavailable, "jobs/queue_full", "Service Unavailable",
			problem.CodeQueueFull, msgQueueFull, nil)
	case errors.Is(err, gate.ErrClosed):
		problem.Write(w, r, http.StatusServiceUnavailable, "jobs/shutting_down", "Service Unavailable",
			problem.CodeUnavailable, msgShuttingDown, nil)
	default:
		log.FromContext(r.Context()).Error().
			Err(err).
			Str(log.FieldEvent, "upload.submit_failed").
			Msg("job submission failed")
		problem.Internal(w, r, "Failed to start the analysis.")
	}
}

// readUpload streams the multipart body: the video part goes straight to a
// temp file in the upload directory, the text fields are read into memory.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) (*uploadForm, error) {
	form := &uploadForm{}
	limit := s.maxUpload()
	if limit > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, limit+multipartOverhead)
	}

	mr, err := r.MultipartReader()
	if err != nil {
		return form, badUpload(msgNotMultipart)
	}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return form, s.bodyError(err)
		}
		err = s.readPart(form, part, limit)
		_ = part.Close()
		if err != nil {
			return form, err
		}
	}
	return form, nil
}

func (s *Server) readPart(form *uploadForm, part *multipart.Part, limit int64) error {
	switch part.FormName() {
	case "video":
		if part.FileName() == "" {
			// Browsers send an empty part when no file was chosen.
			return nil
		}
		if form.path != "" {
			return badUpload("Upload exactly one video.")
		}
		if !allowedVideoType(part.Header.Get("Content-Type"), part.FileName()) {
			return badUpload(msgUnsupportedType)
		}
		return s.saveVideo(form, part, limit)
	case "prompt":
		v, err := readField(part)
		form.prompt = v
		return err
	case "url":
		v, err := readField(part)
		form.url = strings.TrimSpace(v)
		return err
	case "sessionId":
		v, err := readField(part)
		form.sessionID = strings.TrimSpace(v)
		return err
	default:
		_, err := io.Copy(io.Discard, part)
		return err
	}
}

func (s *Server) saveVideo(form *uploadForm, part *multipart.Part, limit int64) error {
	f, err := os.CreateTemp(s.cfg.UploadDir, "upload-*")
	if err != nil {
		return fmt.Errorf("create upload file: %w", err)
	}
	form.path = f.Name()
	form.fileName = SanitizeFilename(part.FileName())

	var src io.Reader = part
	if limit > 0 {
		src = io.LimitReader(part, limit+1)
	}
	n, err := io.Copy(f, src)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return s.bodyError(err)
	}
	if limit > 0 && n > limit {
		return s.tooLarge()
	}
	if n == 0 {
		return badUpload(msgEmptyUpload)
	}
	form.size = n
	return nil
}

func (s *Server) bodyError(err error) error {
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		return s.tooLarge()
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, multipart.ErrMessageTooLarge) {
		return badUpload("Malformed upload.")
	}
	return err
}

func (s *Server) tooLarge() error {
	return &uploadError{
		status: http.StatusRequestEntityTooLarge,
		code:   problem.CodeTooLarge,
		msg:    fmt.Sprintf("File too large. The limit is %s.", humanize.IBytes(uint64(s.maxUpload()))),
	}
}

func readField(part *multipart.Part) (string, error) {
	data, err := io.ReadAll(io.LimitReader(part, maxFieldBytes+1))
	if err != nil {
		return "", err
	}
	if len(data) > maxFieldBytes {
		return "", badUpload(msgFieldTooLarge)
	}
	return string(data), nil
}

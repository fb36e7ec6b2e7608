// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ManuGH/vidlint/internal/bus"
	"github.com/ManuGH/vidlint/internal/fetch"
	"github.com/ManuGH/vidlint/internal/gate"
	"github.com/ManuGH/vidlint/internal/history"
	"github.com/ManuGH/vidlint/internal/inference"
	"github.com/ManuGH/vidlint/internal/inference/inferencetest"
	"github.com/ManuGH/vidlint/internal/job"
	"github.com/ManuGH/vidlint/internal/media"
	"github.com/ManuGH/vidlint/internal/protocol"
	"github.com/ManuGH/vidlint/internal/session"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type oneChunkSplitter struct{}

func (oneChunkSplitter) Segment(_ context.Context, _, dir string, _ int) ([]string, error) {
	p := filepath.Join(dir, fmt.Sprintf(media.ChunkPattern, 0))
	return []string{p}, os.WriteFile(p, []byte("chunk"), 0o600)
}

// stubJobs lets handler tests control submission outcomes.
type stubJobs struct {
	err      error
	running  map[string]bool
	position map[string]int
}

func (s *stubJobs) Submit(context.Context, job.Request) (*job.Job, error) {
	if s.err != nil {
		return nil, s.err
	}
	return nil, errors.New("stub cannot run jobs")
}

func (s *stubJobs) BySession(string) (*job.Job, bool) { return nil, false }
func (s *stubJobs) Running(id string) bool            { return s.running[id] }
func (s *stubJobs) QueuePosition(id string) int       { return s.position[id] }

type testEnv struct {
	history  *history.Store
	sessions *session.MemoryStore
	uploads  string
	svc      *inferencetest.Fake
	handler  http.Handler
}

func newTestEnv(t *testing.T, jobs Jobs, maxUpload int64) *testEnv {
	t.Helper()
	root := t.TempDir()
	hs, err := history.NewStore(filepath.Join(root, "history"), zerolog.Nop())
	require.NoError(t, err)
	uploads := filepath.Join(root, "uploads")
	work := filepath.Join(root, "work")
	require.NoError(t, os.MkdirAll(uploads, 0o750))
	require.NoError(t, os.MkdirAll(work, 0o750))

	env := &testEnv{history: hs, sessions: session.NewMemoryStore(), uploads: uploads, svc: inferencetest.New()}
	if jobs == nil {
		m := job.NewManager(job.Options{
			Runner: &job.Runner{
				Splitter: oneChunkSplitter{},
				Inference: inference.NewClient(env.svc,
					inference.WithRetryPolicy(inference.RetryPolicy{Attempts: 2, BaseDelay: time.Millisecond}),
					inference.WithReadyPolling(time.Millisecond, time.Second),
				),
				History:      hs,
				Sessions:     env.sessions,
				ChunkSeconds: 120,
				WorkDir:      work,
				Logger:       zerolog.Nop(),
			},
			Gate:     gate.New(1, 4),
			Sessions: env.sessions,
			Bus:      bus.NewMemoryBus(),
			Logger:   zerolog.Nop(),
			Linger:   time.Minute,
		})
		t.Cleanup(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = m.Shutdown(ctx)
		})
		jobs = m
	}

	srv := New(Config{
		UploadDir:       uploads,
		MaxUploadBytes:  func() int64 { return maxUpload },
		MaxHistoryBytes: func() int64 { return 1 << 30 },
	}, Deps{Jobs: jobs, History: hs, Sessions: env.sessions})
	env.handler = srv.Router()
	return env
}

type part struct {
	field, fileName, contentType, body string
}

func multipartBody(t *testing.T, parts ...part) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, p := range parts {
		if p.fileName == "" {
			require.NoError(t, mw.WriteField(p.field, p.body))
			continue
		}
		h := textproto.MIMEHeader{}
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, p.field, p.fileName))
		h.Set("Content-Type", p.contentType)
		w, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, err = io.WriteString(w, p.body)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func (e *testEnv) do(t *testing.T, method, target string, body io.Reader, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) upload(t *testing.T, accept string, parts ...part) *httptest.ResponseRecorder {
	t.Helper()
	body, ct := multipartBody(t, parts...)
	return e.do(t, http.MethodPost, "/upload", body, map[string]string{"Content-Type": ct, "Accept": accept})
}

func decodeProblem(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	var p map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	return p
}

// sseEvents parses an SSE body into events.
func sseEvents(t *testing.T, body string) []protocol.Event {
	t.Helper()
	var out []protocol.Event
	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev protocol.Event
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
		out = append(out, ev)
	}
	return out
}

func assertUploadsEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestUploadStreamsJobAndSessionRecovers(t *testing.T) {
	e := newTestEnv(t, nil, 1<<20)
	e.svc.Fragments = func(string, string) []string { return []string{"No errors ", "found."} }

	rec := e.upload(t, protocol.ContentTypeSSE,
		part{field: "prompt", body: "Find subtitle errors."},
		part{field: "sessionId", body: "sess-1"},
		part{field: "video", fileName: "../clip.mp4", contentType: "video/mp4", body: "video bytes"},
	)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, protocol.ContentTypeSSE, rec.Header().Get("Content-Type"))
	assert.Equal(t, "sess-1", rec.Header().Get(headerSessionID))
	historyID := rec.Header().Get(headerHistoryID)
	require.True(t, history.ValidID(historyID))

	evs := sseEvents(t, rec.Body.String())
	require.NotEmpty(t, evs)
	assert.Equal(t, protocol.KindIDs, evs[0].Kind)
	last := evs[len(evs)-1]
	assert.Equal(t, protocol.KindDone, last.Kind)
	assert.Equal(t, "completed", last.Status)
	assertUploadsEmpty(t, e.uploads)

	statusRec := e.do(t, http.MethodGet, "/session/sess-1", nil, nil)
	require.Equal(t, http.StatusOK, statusRec.Code)
	var st SessionStatus
	require.NoError(t, json.Unmarshal(statusRec.Body.Bytes(), &st))
	assert.Equal(t, session.StatusCompleted, st.Status)
	assert.Equal(t, historyID, st.HistoryID)
	assert.Contains(t, st.ResultsText, "No errors found.")
	require.NotNil(t, st.Meta)
	assert.Equal(t, history.SourceFile, st.Meta.Source)
	assert.Equal(t, "clip.mp4", st.Meta.VideoFileName)

	again := e.do(t, http.MethodGet, "/session/sess-1", nil, nil)
	assert.Equal(t, statusRec.Body.String(), again.Body.String())

	video := e.do(t, http.MethodGet, st.Meta.VideoURL, nil, nil)
	require.Equal(t, http.StatusOK, video.Code)
	assert.Equal(t, "video bytes", video.Body.String())

	replay := e.do(t, http.MethodGet, "/session/sess-1/events", nil, map[string]string{"Accept": protocol.ContentTypeSSE})
	require.Equal(t, http.StatusOK, replay.Code)
	revs := sseEvents(t, replay.Body.String())
	require.NotEmpty(t, revs)
	assert.Equal(t, historyID, revs[0].JobID)
	assert.Equal(t, "completed", revs[len(revs)-1].Status)
}

func TestUploadMarkerStream(t *testing.T) {
	e := newTestEnv(t, nil, 1<<20)

	rec := e.upload(t, "",
		part{field: "prompt", body: "p"},
		part{field: "video", fileName: "clip.mov", contentType: "application/octet-stream", body: "v"},
	)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, protocol.ContentTypeMarkers, rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.True(t, strings.HasPrefix(body, "[SESSION_ID:"), body)
	assert.Contains(t, body, "[HISTORY_ID:"+rec.Header().Get(headerHistoryID)+"]")
	assert.Contains(t, body, "[PROGRESS:")
}

func TestUploadRejectsBadInput(t *testing.T) {
	tests := []struct {
		name   string
		parts  []part
		status int
		code   string
		detail string
	}{
		{
			name:   "missing prompt",
			parts:  []part{{field: "video", fileName: "a.mp4", contentType: "video/mp4", body: "v"}},
			status: http.StatusBadRequest,
			code:   "INVALID_INPUT",
			detail: job.ErrMissingPrompt.Error(),
		},
		{
			name:   "no source",
			parts:  []part{{field: "prompt", body: "p"}},
			status: http.StatusBadRequest,
			code:   "INVALID_INPUT",
			detail: job.ErrNoSource.Error(),
		},
		{
			name: "both sources",
			parts: []part{
				{field: "prompt", body: "p"},
				{field: "url", body: "https://youtu.be/abc"},
				{field: "video", fileName: "a.mp4", contentType: "video/mp4", body: "v"},
			},
			status: http.StatusBadRequest,
			code:   "INVALID_INPUT",
			detail: job.ErrSourceConflict.Error(),
		},
		{
			name:   "unsupported type",
			parts:  []part{{field: "prompt", body: "p"}, {field: "video", fileName: "notes.txt", contentType: "text/plain", body: "v"}},
			status: http.StatusBadRequest,
			code:   "INVALID_INPUT",
			detail: msgUnsupportedType,
		},
		{
			name:   "empty file",
			parts:  []part{{field: "prompt", body: "p"}, {field: "video", fileName: "a.mp4", contentType: "video/mp4"}},
			status: http.StatusBadRequest,
			code:   "INVALID_INPUT",
			detail: msgEmptyUpload,
		},
		{
			name:   "too large",
			parts:  []part{{field: "prompt", body: "p"}, {field: "video", fileName: "a.mp4", contentType: "video/mp4", body: strings.Repeat("x", 64)}},
			status: http.StatusRequestEntityTooLarge,
			code:   "PAYLOAD_TOO_LARGE",
			detail: "File too large. The limit is 32 B.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEnv(t, nil, 32)
			rec := e.upload(t, "", tt.parts...)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			p := decodeProblem(t, rec)
			assert.Equal(t, tt.code, p["code"])
			assert.Equal(t, tt.detail, p["detail"])
			assertUploadsEmpty(t, e.uploads)
		})
	}
}

func TestUploadRequiresMultipart(t *testing.T) {
	e := newTestEnv(t, nil, 32)
	rec := e.do(t, http.MethodPost, "/upload", strings.NewReader(`{"prompt":"p"}`),
		map[string]string{"Content-Type": "application/json"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, msgNotMultipart, decodeProblem(t, rec)["detail"])
}

func TestSubmitErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		status     int
		code       string
		retryAfter string
	}{
		{"queue full", fmt.Errorf("admit: %w", gate.ErrQueueFull), http.StatusServiceUnavailable, "QUEUE_FULL", "30"},
		{"shutting down", gate.ErrClosed, http.StatusServiceUnavailable, "UNAVAILABLE", ""},
		{"invalid url", fetch.ErrInvalidURL, http.StatusBadRequest, "INVALID_INPUT", ""},
		{"unexpected", errors.New("disk on fire"), http.StatusInternalServerError, "INTERNAL", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEnv(t, &stubJobs{err: tt.err}, 1<<20)
			rec := e.upload(t, "",
				part{field: "prompt", body: "p"},
				part{field: "video", fileName: "a.mp4", contentType: "video/mp4", body: "v"},
			)
			require.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, decodeProblem(t, rec)["code"])
			assert.Equal(t, tt.retryAfter, rec.Header().Get("Retry-After"))
			assertUploadsEmpty(t, e.uploads)
		})
	}
}

func TestSessionNotFound(t *testing.T) {
	e := newTestEnv(t, &stubJobs{}, 0)
	for _, path := range []string{"/session/nope", "/session/nope/events"} {
		rec := e.do(t, http.MethodGet, path, nil, nil)
		require.Equal(t, http.StatusNotFound, rec.Code, path)
		assert.Equal(t, msgSessionNotFound, decodeProblem(t, rec)["detail"])
	}
}

func TestSessionQueuedReportsLivePosition(t *testing.T) {
	jobs := &stubJobs{position: map[string]int{"job-1": 2}}
	e := newTestEnv(t, jobs, 0)
	now := time.Now()
	require.NoError(t, e.sessions.Create(context.Background(), session.New("s", "job-1", now)))

	rec := e.do(t, http.MethodGet, "/session/s", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var st SessionStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, session.StatusQueued, st.Status)
	assert.Equal(t, 2, st.QueuePosition)
	assert.Equal(t, now.UnixMilli(), st.CreatedAt)
	assert.Empty(t, st.ResultsText)
	assert.Nil(t, st.Meta)

	// No live job behind a non-terminal record.
	events := e.do(t, http.MethodGet, "/session/s/events", nil, nil)
	assert.Equal(t, http.StatusConflict, events.Code)
}

func TestSessionEventsReplayFailedJob(t *testing.T) {
	e := newTestEnv(t, &stubJobs{}, 0)
	ctx := context.Background()
	require.NoError(t, e.sessions.Create(ctx, session.New("s", "job-1", time.Now())))
	_, err := e.sessions.Advance(ctx, "s", session.StatusFailed, "Video processing failed.")
	require.NoError(t, err)

	rec := e.do(t, http.MethodGet, "/session/s/events", nil, map[string]string{"Accept": protocol.ContentTypeSSE})
	require.Equal(t, http.StatusOK, rec.Code)
	evs := sseEvents(t, rec.Body.String())
	require.Len(t, evs, 3)
	assert.Equal(t, protocol.KindIDs, evs[0].Kind)
	assert.Equal(t, "Video processing failed.", evs[1].Text)
	assert.Equal(t, "failed", evs[2].Status)
}

func addHistoryEntry(t *testing.T, hs *history.Store, id string) {
	t.Helper()
	_, err := hs.Create(id)
	require.NoError(t, err)
	require.NoError(t, hs.WriteMeta(history.Meta{ID: id, Name: "clip.mp4", Source: history.SourceFile, CreatedAt: 1}))
}

func TestHistoryEndpoints(t *testing.T) {
	jobs := &stubJobs{running: map[string]bool{"busy": true}}
	e := newTestEnv(t, jobs, 0)

	list := e.do(t, http.MethodGet, "/history/list", nil, nil)
	require.Equal(t, http.StatusOK, list.Code)
	assert.JSONEq(t, "[]", list.Body.String())

	addHistoryEntry(t, e.history, "busy")
	addHistoryEntry(t, e.history, "done")

	list = e.do(t, http.MethodGet, "/history/list", nil, nil)
	var entries []history.Entry
	require.NoError(t, json.Unmarshal(list.Body.Bytes(), &entries))
	assert.Len(t, entries, 2)

	storage := e.do(t, http.MethodGet, "/history/storage", nil, nil)
	require.Equal(t, http.StatusOK, storage.Code)
	var stats StorageStats
	require.NoError(t, json.Unmarshal(storage.Body.Bytes(), &stats))
	assert.Positive(t, stats.Used)
	assert.Equal(t, int64(1<<30), stats.Total)

	busy := e.do(t, http.MethodDelete, "/history/busy", nil, nil)
	assert.Equal(t, http.StatusConflict, busy.Code)
	assert.Equal(t, "Job is still running.", decodeProblem(t, busy)["detail"])

	missing := e.do(t, http.MethodDelete, "/history/gone", nil, nil)
	assert.Equal(t, http.StatusNotFound, missing.Code)

	invalid := e.do(t, http.MethodDelete, "/history/.hidden", nil, nil)
	assert.Equal(t, http.StatusNotFound, invalid.Code)

	ok := e.do(t, http.MethodDelete, "/history/done", nil, nil)
	require.Equal(t, http.StatusOK, ok.Code)
	assert.JSONEq(t, `{"success":true,"message":"History entry deleted"}`, ok.Body.String())
	_, err := e.history.ReadMeta("done")
	assert.ErrorIs(t, err, history.ErrNotFound)
}

func TestHistoryFilesCaching(t *testing.T) {
	e := newTestEnv(t, &stubJobs{}, 0)
	addHistoryEntry(t, e.history, "entry")
	dir, err := e.history.Dir("entry")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, history.ResultsFile), []byte("results"), 0o600))

	target := history.StaticRoute + "/entry/" + history.ResultsFile
	rec := e.do(t, http.MethodGet, target, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/plain; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, "results", rec.Body.String())
	etag := rec.Header().Get("ETag")
	require.NotEmpty(t, etag)

	cached := e.do(t, http.MethodGet, target, nil, map[string]string{"If-None-Match": etag})
	assert.Equal(t, http.StatusNotModified, cached.Code)

	listing := e.do(t, http.MethodGet, history.StaticRoute+"/entry/", nil, nil)
	assert.Equal(t, http.StatusForbidden, listing.Code)

	missing := e.do(t, http.MethodGet, history.StaticRoute+"/entry/nope.mp4", nil, nil)
	assert.Equal(t, http.StatusNotFound, missing.Code)
}

func TestHistoryFilesRejectsSymlinkEscape(t *testing.T) {
	e := newTestEnv(t, &stubJobs{}, 0)
	addHistoryEntry(t, e.history, "entry")
	dir, err := e.history.Dir("entry")
	require.NoError(t, err)
	secret := filepath.Join(t.TempDir(), "secret.txt")
	require.NoError(t, os.WriteFile(secret, []byte("secret"), 0o600))
	require.NoError(t, os.Symlink(secret, filepath.Join(dir, "link.txt")))

	rec := e.do(t, http.MethodGet, history.StaticRoute+"/entry/link.txt", nil, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.NotContains(t, rec.Body.String(), "secret\n")
}

func TestIsPathTraversal(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"entry/video.mp4", false},
		{"entry/results.txt", false},
		{"../etc/passwd", true},
		{"entry/%2e%2e/x", true},
		{"entry/%252e%252e/x", true},
		{"entry\\..\\x", true},
		{"entry/a%00.mp4", true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, isPathTraversal(tt.path), tt.path)
	}
}

func TestUnknownRouteIsProblem(t *testing.T) {
	e := newTestEnv(t, &stubJobs{}, 0)
	rec := e.do(t, http.MethodGet, "/nope", nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", decodeProblem(t, rec)["code"])

	rec = e.do(t, http.MethodPut, "/upload", nil, nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

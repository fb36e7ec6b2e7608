// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ManuGH/vidlint/internal/api"
	"github.com/ManuGH/vidlint/internal/history"
	"github.com/ManuGH/vidlint/internal/protocol"
	"github.com/ManuGH/vidlint/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(srv.URL)
	require.NoError(t, err)
	return c
}

func TestNewRejectsBadServer(t *testing.T) {
	for _, s := range []string{"ftp://host", "localhost:3001", "http://"} {
		_, err := New(s)
		assert.Error(t, err, s)
	}
	c, err := New("")
	require.NoError(t, err)
	assert.Equal(t, DefaultServer+"/history/list", c.endpoint("history", "list"))
}

func TestSubmitUploadsFileAndDecodesStream(t *testing.T) {
	video := filepath.Join(t.TempDir(), "clip.mp4")
	require.NoError(t, os.WriteFile(video, []byte("frames"), 0o600))

	var gotPrompt, gotName, gotType, gotBody string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/upload", r.URL.Path)
		assert.Equal(t, protocol.ContentTypeMarkers, r.Header.Get("Accept"))
		mr, err := r.MultipartReader()
		require.NoError(t, err)
		for {
			part, err := mr.NextPart()
			if errors.Is(err, io.EOF) {
				break
			}
			require.NoError(t, err)
			b, _ := io.ReadAll(part)
			switch part.FormName() {
			case "prompt":
				gotPrompt = string(b)
			case "video":
				gotName, gotType, gotBody = part.FileName(), part.Header.Get("Content-Type"), string(b)
			}
		}

		w.Header().Set("Content-Type", protocol.ContentTypeMarkers)
		w.Header().Set("X-Session-ID", "s-1")
		w.Header().Set("X-History-ID", "h-1")
		enc := protocol.NewMarkerEncoder(w)
		c := protocol.Chunk{Number: 1, Total: 1, Start: 0, End: 120}
		for _, ev := range []protocol.Event{
			protocol.IDs("s-1", "h-1"),
			protocol.ProgressEvent(10, "Splitting video", "split"),
			protocol.ChunkStart(c),
			protocol.Text("00:00:05 Typo in subtitle\n"),
			protocol.ProgressEvent(100, "Done", "done"),
		} {
			require.NoError(t, enc.Encode(ev))
		}
	}))

	var kinds []protocol.Kind
	var text strings.Builder
	sub, err := c.Submit(context.Background(), SubmitRequest{Prompt: "Find typos.", FilePath: video}, func(ev protocol.Event) error {
		kinds = append(kinds, ev.Kind)
		if ev.Kind == protocol.KindText {
			text.WriteString(ev.Text)
		}
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, Submission{SessionID: "s-1", HistoryID: "h-1"}, sub)
	assert.Equal(t, "Find typos.", gotPrompt)
	assert.Equal(t, "clip.mp4", gotName)
	assert.Equal(t, "video/mp4", gotType)
	assert.Equal(t, "frames", gotBody)
	assert.Equal(t, protocol.KindIDs, kinds[0])
	assert.Contains(t, kinds, protocol.KindChunk)
	assert.Contains(t, text.String(), "Typo in subtitle")
}

func TestSubmitErrors(t *testing.T) {
	t.Run("no source", func(t *testing.T) {
		c, err := New("")
		require.NoError(t, err)
		_, err = c.Submit(context.Background(), SubmitRequest{Prompt: "p"}, nil)
		assert.ErrorIs(t, err, ErrNoSource)
	})

	t.Run("queue full", func(t *testing.T) {
		c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.Copy(io.Discard, r.Body)
			w.Header().Set("Content-Type", "application/problem+json")
			w.Header().Set("Retry-After", "30")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"type":"jobs/queue_full","title":"Service Unavailable","status":503,"code":"QUEUE_FULL","detail":"Too many jobs are waiting."}`))
		}))
		_, err := c.Submit(context.Background(), SubmitRequest{Prompt: "p", URL: "https://youtu.be/x"}, nil)
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusServiceUnavailable, apiErr.Status)
		assert.Equal(t, "QUEUE_FULL", apiErr.Code)
		assert.Equal(t, 30*time.Second, apiErr.RetryAfter)
		assert.Contains(t, apiErr.Error(), "Too many jobs are waiting.")
	})

	t.Run("callback error stops reading", func(t *testing.T) {
		c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.Copy(io.Discard, r.Body)
			enc := protocol.NewMarkerEncoder(w)
			_ = enc.Encode(protocol.IDs("s", "h"))
			_ = enc.Encode(protocol.Info("Video split into 1 chunk(s)"))
		}))
		stop := errors.New("stop")
		sub, err := c.Submit(context.Background(), SubmitRequest{Prompt: "p", URL: "https://youtu.be/x"}, func(protocol.Event) error {
			return stop
		})
		assert.ErrorIs(t, err, stop)
		assert.Equal(t, "s", sub.SessionID)
	})
}

func TestJSONEndpoints(t *testing.T) {
	var deleted string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/history/list":
			_ = json.NewEncoder(w).Encode([]history.Entry{{Meta: history.Meta{ID: "h-1", Name: "clip.mp4", Source: "upload"}}})
		case r.Method == http.MethodGet && r.URL.Path == "/history/storage":
			_ = json.NewEncoder(w).Encode(api.StorageStats{Used: 1024, Total: 4096})
		case r.Method == http.MethodGet && r.URL.Path == "/session/s-1":
			_ = json.NewEncoder(w).Encode(api.SessionStatus{SessionID: "s-1", Status: session.StatusCompleted, HistoryID: "h-1"})
		case r.Method == http.MethodDelete && strings.HasPrefix(r.URL.Path, "/history/"):
			deleted = strings.TrimPrefix(r.URL.Path, "/history/")
			if deleted == "missing" {
				w.Header().Set("Content-Type", "application/problem+json")
				w.WriteHeader(http.StatusNotFound)
				_, _ = w.Write([]byte(`{"title":"Not Found","status":404,"code":"NOT_FOUND","detail":"History entry not found"}`))
				return
			}
			_, _ = w.Write([]byte(`{"success":true,"message":"History entry deleted"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	ctx := context.Background()

	entries, err := c.History(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "h-1", entries[0].ID)

	stats, err := c.Storage(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1024), stats.Used)

	st, err := c.Session(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, session.StatusCompleted, st.Status)

	require.NoError(t, c.DeleteHistory(ctx, "h-1"))
	assert.Equal(t, "h-1", deleted)

	err = c.DeleteHistory(ctx, "missing")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, "History entry not found (HTTP 404)", apiErr.Error())
}

func TestRendererPlainOutput(t *testing.T) {
	var out, status bytes.Buffer
	r := NewRenderer(&out, &status)
	c := protocol.Chunk{Number: 1, Total: 2, Start: 0, End: 120}

	for _, ev := range []protocol.Event{
		protocol.IDs("s-1", "h-1"),
		protocol.Queue(2),
		protocol.ProgressEvent(5, "Splitting video", "split"),
		protocol.ProgressEvent(6, "Splitting video", "split"),
		protocol.ChunkStart(c),
		protocol.Text("00:00:05 Typo[PROGRESS:{\"pct\":50}]\n"),
		protocol.RetryNotice(2, 2),
		protocol.ChunkError(protocol.Chunk{Number: 2, Total: 2, Start: 120, End: 200}, "quota"),
		protocol.Done("completed"),
	} {
		require.NoError(t, r.Handle(ev))
	}
	r.Finish()

	assert.Equal(t, "\n### Chunk 1/2 (00:00:00–00:02:00)\n00:00:05 Typo\n", out.String())
	s := status.String()
	assert.Contains(t, s, "Session s-1\n")
	assert.Contains(t, s, "Queued at position 2\n")
	assert.Equal(t, 1, strings.Count(s, "Splitting video"), "unchanged labels print once")
	assert.Contains(t, s, "Retrying attempt 2")
	assert.Contains(t, s, "Chunk 2 (Chunk 2/2) failed: quota")
	assert.NotContains(t, s, "\x1b[", "no escape codes off a terminal")
	assert.Equal(t, "completed", r.Status())
	assert.True(t, r.Failed())
}

func TestRendererWithoutDoneEvent(t *testing.T) {
	var out, status bytes.Buffer
	r := NewRenderer(&out, &status)
	require.NoError(t, r.Handle(protocol.Text("fine\n")))
	r.Finish()
	assert.Equal(t, "completed", r.Status())
	assert.False(t, r.Failed())
}

func TestRenderTables(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	entries := []history.Entry{{Meta: history.Meta{
		ID: "h-1", Name: "clip.mp4", Source: "upload", CreatedAt: now.Add(-2 * time.Hour).UnixMilli(),
	}}}
	h := RenderHistory(entries, now)
	assert.Contains(t, h, "clip.mp4")
	assert.Contains(t, h, "2 hours ago")
	assert.Equal(t, "No history entries.", RenderHistory(nil, now))

	s := RenderStorage(api.StorageStats{Used: 512 << 20, Total: 1 << 30, DiskFree: 1 << 30, DiskTotal: 4 << 30})
	assert.Contains(t, s, "512 MiB")
	assert.Contains(t, s, "1.0 GiB")
	assert.Contains(t, s, "50.0%")
	assert.Contains(t, s, "75.0%")
	assert.Contains(t, RenderStorage(api.StorageStats{Used: 1}), "unlimited")

	sess := RenderSession(api.SessionStatus{
		SessionID: "s-1", Status: session.StatusFailed, HistoryID: "h-1", Error: "boom", ResultsText: "partial",
	}, now)
	assert.Contains(t, sess, "failed")
	assert.Contains(t, sess, "boom")
	assert.True(t, strings.HasSuffix(sess, "\npartial"))
}

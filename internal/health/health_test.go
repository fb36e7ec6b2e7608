// SPDX-License-Identifier: MIT

package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/ManuGH/vidlint/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockChecker struct {
	name   string
	status Status
}

func (m *mockChecker) Name() string { return m.name }

func (m *mockChecker) Check(context.Context) CheckResult { return CheckResult{Status: m.status} }

func TestManager_Health(t *testing.T) {
	m := NewManager("v1.0.0")
	m.RegisterChecker(&mockChecker{name: "healthy", status: StatusHealthy})
	m.RegisterChecker(&mockChecker{name: "degraded", status: StatusDegraded})

	resp := m.Health(context.Background(), false)
	assert.Equal(t, StatusHealthy, resp.Status)
	assert.Equal(t, "v1.0.0", resp.Version)
	assert.Nil(t, resp.Checks)

	resp = m.Health(context.Background(), true)
	assert.Equal(t, StatusDegraded, resp.Status)
	assert.Len(t, resp.Checks, 2)
}

func TestManager_Ready(t *testing.T) {
	tests := []struct {
		name      string
		statuses  []Status
		wantReady bool
		want      Status
	}{
		{"no checkers", nil, true, StatusHealthy},
		{"all healthy", []Status{StatusHealthy, StatusHealthy}, true, StatusHealthy},
		{"degraded is ready", []Status{StatusHealthy, StatusDegraded}, true, StatusDegraded},
		{"unhealthy wins", []Status{StatusUnhealthy, StatusDegraded}, false, StatusUnhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager("v")
			for i, s := range tt.statuses {
				m.RegisterChecker(&mockChecker{name: string(rune('a' + i)), status: s})
			}
			resp := m.Ready(context.Background())
			assert.Equal(t, tt.wantReady, resp.Ready)
			assert.Equal(t, tt.want, resp.Status)
		})
	}
}

func TestServeReady(t *testing.T) {
	m := NewManager("v")
	m.RegisterChecker(NewPingChecker("sessions", func(context.Context) error { return errors.New("down") }))

	rec := httptest.NewRecorder()
	m.ServeReady(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body ReadinessResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.False(t, body.Ready)
	assert.Equal(t, "down", body.Checks["sessions"].Error)

	rec = httptest.NewRecorder()
	m.ServeHealth(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestDirChecker(t *testing.T) {
	dir := t.TempDir()
	assert.Equal(t, StatusHealthy, NewDirChecker("history", dir).Check(context.Background()).Status)

	missing := filepath.Join(dir, "missing")
	assert.Equal(t, StatusUnhealthy, NewDirChecker("history", missing).Check(context.Background()).Status)

	file := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(file, nil, 0o600))
	assert.Equal(t, StatusUnhealthy, NewDirChecker("history", file).Check(context.Background()).Status)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "probe files are removed")
}

func TestBinaryChecker(t *testing.T) {
	missing := "vidlint-no-such-binary"
	assert.Equal(t, StatusUnhealthy, NewBinaryChecker("ffmpeg", missing, false).Check(context.Background()).Status)
	assert.Equal(t, StatusDegraded, NewBinaryChecker("yt-dlp", missing, true).Check(context.Background()).Status)
	assert.Equal(t, StatusHealthy, NewBinaryChecker("sh", "sh", false).Check(context.Background()).Status)
}

func TestPerformStartupChecks(t *testing.T) {
	root := t.TempDir()
	cfg := config.Defaults()
	cfg.Storage.HistoryDir = filepath.Join(root, "history")
	cfg.Storage.UploadDir = filepath.Join(root, "uploads")
	cfg.Media.FFmpegBin = "sh"

	require.NoError(t, PerformStartupChecks(cfg))
	assert.DirExists(t, cfg.Storage.HistoryDir)
	assert.DirExists(t, cfg.Storage.UploadDir)

	cfg.Server.ListenAddr = "no-port"
	assert.Error(t, PerformStartupChecks(cfg))

	cfg.Server.ListenAddr = ":3001"
	cfg.Media.FFmpegBin = "vidlint-no-such-binary"
	assert.Error(t, PerformStartupChecks(cfg))
}

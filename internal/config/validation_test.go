// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ManuGH/vidlint/internal/validate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig(t *testing.T) AppConfig {
	t.Helper()
	cfg := Defaults()
	cfg.Storage.HistoryDir = filepath.Join(t.TempDir(), "history")
	cfg.Storage.UploadDir = filepath.Join(t.TempDir(), "uploads")
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*AppConfig)
		wantErr string
	}{
		{name: "defaults", mutate: func(*AppConfig) {}},
		{
			name:    "bad log level",
			mutate:  func(c *AppConfig) { c.Log.Level = "loud" },
			wantErr: "log.level",
		},
		{
			name:    "zero capacity",
			mutate:  func(c *AppConfig) { c.Jobs.MaxConcurrent = 0 },
			wantErr: "jobs.maxConcurrent",
		},
		{
			name:    "negative queue",
			mutate:  func(c *AppConfig) { c.Jobs.MaxQueue = -1 },
			wantErr: "jobs.maxQueue",
		},
		{
			name:    "tiny chunks",
			mutate:  func(c *AppConfig) { c.Media.ChunkSeconds = 1 },
			wantErr: "media.chunkSeconds",
		},
		{
			name:    "unknown session backend",
			mutate:  func(c *AppConfig) { c.Sessions.Backend = "etcd" },
			wantErr: "sessions.backend",
		},
		{
			name: "redis without address",
			mutate: func(c *AppConfig) {
				c.Sessions.Backend = "redis"
				c.Sessions.RedisAddr = ""
			},
			wantErr: "sessions.redisAddr",
		},
		{
			name:    "archive without bucket",
			mutate:  func(c *AppConfig) { c.Archive.Enabled = true },
			wantErr: "archive.bucket",
		},
		{
			name: "telemetry bad exporter",
			mutate: func(c *AppConfig) {
				c.Telemetry.Enabled = true
				c.Telemetry.Exporter = "zipkin"
			},
			wantErr: "telemetry.exporter",
		},
		{
			name:    "bad listen address",
			mutate:  func(c *AppConfig) { c.Server.ListenAddr = "nope" },
			wantErr: "server.listenAddr",
		},
		{
			name:    "origin without scheme",
			mutate:  func(c *AppConfig) { c.Server.AllowedOrigins = []string{"app.example.com"} },
			wantErr: "server.allowedOrigins",
		},
		{
			name:    "wildcard origin",
			mutate:  func(c *AppConfig) { c.Server.AllowedOrigins = []string{"*", "https://app.example.com"} },
			wantErr: "",
		},
		{
			name:    "bad trusted proxy",
			mutate:  func(c *AppConfig) { c.Server.TrustedProxies = []string{"10.0.0.0/33"} },
			wantErr: "server.trustedProxies",
		},
		{
			name: "bad whitelist entry",
			mutate: func(c *AppConfig) {
				c.RateLimit.Enabled = true
				c.RateLimit.Whitelist = []string{"127.0.0.1", "localhost"}
			},
			wantErr: "rateLimit.whitelist",
		},
		{
			name:    "negative stall timeout",
			mutate:  func(c *AppConfig) { c.Media.StallTimeout = -time.Second },
			wantErr: "media.stallTimeout",
		},
		{
			name:    "missing api key is allowed",
			mutate:  func(c *AppConfig) { c.Inference.APIKey = "" },
			wantErr: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(&cfg)
			err := Validate(cfg)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			var verr validate.ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/ManuGH/vidlint/internal/validate"
)

// SessionBackends lists the supported session store backends.
var SessionBackends = []string{"memory", "sqlite", "redis", "badger"}

// Validate checks the configuration for values the daemon cannot run with.
// It never inspects the inference API key: a missing key is reported by the
// readiness probe so the daemon can still serve history and sessions.
func Validate(cfg AppConfig) error {
	v := validate.New()

	v.OneOf("log.level", cfg.Log.Level, []string{"trace", "debug", "info", "warn", "error"})

	v.ListenAddr("server.listenAddr", cfg.Server.ListenAddr)
	v.NonNegative("server.maxConnections", cfg.Server.MaxConnections)
	v.DurationAtLeast("server.shutdownTimeout", cfg.Server.ShutdownTimeout, time.Second)
	v.Custom("server.allowedOrigins", cfg.Server.AllowedOrigins, validOrigins)
	v.Custom("server.trustedProxies", cfg.Server.TrustedProxies, validCIDRs)

	v.Directory("storage.historyDir", cfg.Storage.HistoryDir, false)
	v.Directory("storage.uploadDir", cfg.Storage.UploadDir, false)
	v.PositiveInt64("storage.maxHistoryBytes", cfg.Storage.MaxHistoryBytes)
	v.PositiveInt64("storage.maxUploadBytes", cfg.Storage.MaxUploadBytes)

	v.Range("jobs.maxConcurrent", cfg.Jobs.MaxConcurrent, 1, 64)
	v.Range("jobs.maxQueue", cfg.Jobs.MaxQueue, 0, 10000)

	v.NotEmpty("media.ffmpegBin", cfg.Media.FFmpegBin)
	v.NotEmpty("media.ffprobeBin", cfg.Media.FFprobeBin)
	v.Range("media.chunkSeconds", cfg.Media.ChunkSeconds, 10, 3600)
	v.DurationAtLeast("media.stallTimeout", cfg.Media.StallTimeout, 0)

	v.NotEmpty("fetch.ytdlpBin", cfg.Fetch.YTDLPBin)

	v.NotEmpty("inference.model", cfg.Inference.Model)
	if cfg.Inference.BaseURL != "" {
		v.URL("inference.baseURL", cfg.Inference.BaseURL, []string{"http", "https"})
	}
	v.DurationAtLeast("inference.pollInterval", cfg.Inference.PollInterval, 100*time.Millisecond)
	v.DurationAtLeast("inference.readyTimeout", cfg.Inference.ReadyTimeout, time.Second)
	v.DurationAtLeast("inference.requestTimeout", cfg.Inference.RequestTimeout, time.Second)
	v.Range("inference.retryAttempts", cfg.Inference.RetryAttempts, 1, 10)
	v.DurationAtLeast("inference.retryBaseDelay", cfg.Inference.RetryBaseDelay, 0)
	v.FloatRange("inference.requestsPerSecond", cfg.Inference.RequestsPerSecond, 0, 1000)
	v.NonNegative("inference.breakerThreshold", cfg.Inference.BreakerThreshold)

	v.OneOf("sessions.backend", cfg.Sessions.Backend, SessionBackends)
	switch cfg.Sessions.Backend {
	case "sqlite", "badger":
		v.NotEmpty("sessions.path", cfg.Sessions.Path)
	case "redis":
		v.NotEmpty("sessions.redisAddr", cfg.Sessions.RedisAddr)
	}

	if cfg.Archive.Enabled {
		v.Custom("archive.bucket", cfg.Archive.Bucket, func(val any) error {
			if s, _ := val.(string); s == "" {
				return errors.New("bucket is required when archive is enabled")
			}
			return nil
		})
		if cfg.Archive.Endpoint != "" {
			v.URL("archive.endpoint", cfg.Archive.Endpoint, []string{"http", "https"})
		}
	}

	if cfg.Telemetry.Enabled {
		v.OneOf("telemetry.exporter", cfg.Telemetry.Exporter, []string{"grpc", "http"})
		v.NotEmpty("telemetry.endpoint", cfg.Telemetry.Endpoint)
		v.FloatRange("telemetry.samplingRate", cfg.Telemetry.SamplingRate, 0, 1)
	}

	if cfg.RateLimit.Enabled {
		v.Positive("rateLimit.requestsPerMinute", cfg.RateLimit.RequestsPerMinute)
		v.Positive("rateLimit.uploadsPerMinute", cfg.RateLimit.UploadsPerMinute)
		v.Custom("rateLimit.whitelist", cfg.RateLimit.Whitelist, validCIDRs)
	}

	return v.Err()
}

// validCIDRs accepts CIDRs and bare IPs.
func validCIDRs(val any) error {
	items, _ := val.([]string)
	for _, item := range items {
		if strings.Contains(item, "/") {
			if _, _, err := net.ParseCIDR(item); err != nil {
				return fmt.Errorf("invalid CIDR %q", item)
			}
			continue
		}
		if net.ParseIP(item) == nil {
			return fmt.Errorf("invalid IP %q", item)
		}
	}
	return nil
}

func validOrigins(val any) error {
	items, _ := val.([]string)
	for _, item := range items {
		if item == "*" {
			continue
		}
		u, err := url.Parse(item)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" || (u.Path != "" && u.Path != "/") {
			return fmt.Errorf("invalid origin %q", item)
		}
	}
	return nil
}

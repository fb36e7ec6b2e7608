// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment key the loader consumes.
const EnvPrefix = "VIDLINT_"

// Loader handles configuration loading with precedence
type Loader struct {
	configPath      string
	version         string
	ConsumedEnvKeys map[string]struct{}
}

// NewLoader creates a new configuration loader
func NewLoader(configPath, version string) *Loader {
	return &Loader{
		configPath:      configPath,
		version:         version,
		ConsumedEnvKeys: make(map[string]struct{}),
	}
}

// Path returns the YAML file the loader reads, if any.
func (l *Loader) Path() string {
	return l.configPath
}

// Load loads configuration with precedence: ENV > File > Defaults.
// The result is validated before it is returned.
func (l *Loader) Load() (AppConfig, error) {
	cfg := Defaults()

	if l.configPath != "" {
		if err := l.loadFile(l.configPath, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}

	l.mergeEnv(&cfg)
	cfg.Version = l.version

	if abs, err := filepath.Abs(cfg.Storage.HistoryDir); err == nil {
		cfg.Storage.HistoryDir = abs
	}
	if cfg.Sessions.Path == "" && (cfg.Sessions.Backend == "sqlite" || cfg.Sessions.Backend == "badger") {
		cfg.Sessions.Path = defaultSessionPath(cfg.Storage.HistoryDir, cfg.Sessions.Backend)
	}

	if err := Validate(cfg); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func defaultSessionPath(historyDir, backend string) string {
	if backend == "sqlite" {
		return filepath.Join(historyDir, ".sessions.db")
	}
	return filepath.Join(historyDir, ".sessions")
}

// loadFile decodes the YAML file on top of dst, rejecting unknown keys.
func (l *Loader) loadFile(path string, dst *AppConfig) error {
	path = filepath.Clean(path)

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("unsupported config format: %s (only YAML supported)", ext)
	}

	// #nosec G304 -- configuration file paths are provided by the operator via CLI/ENV
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("strict config parse error: %w", err)
	}

	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("config file contains multiple documents or trailing content")
	}
	return nil
}

func (l *Loader) key(name string) string {
	k := EnvPrefix + name
	l.ConsumedEnvKeys[k] = struct{}{}
	return k
}

// mergeEnv applies environment overrides. Each value already in cfg acts as the default.
func (l *Loader) mergeEnv(cfg *AppConfig) {
	cfg.Log.Level = ParseString(l.key("LOG_LEVEL"), cfg.Log.Level)
	cfg.Log.Service = ParseString(l.key("LOG_SERVICE"), cfg.Log.Service)

	cfg.Server.ListenAddr = ParseString(l.key("LISTEN"), cfg.Server.ListenAddr)
	cfg.Server.MaxConnections = ParseInt(l.key("MAX_CONNECTIONS"), cfg.Server.MaxConnections)
	cfg.Server.ShutdownTimeout = ParseDuration(l.key("SHUTDOWN_TIMEOUT"), cfg.Server.ShutdownTimeout)
	cfg.Server.AllowedOrigins = ParseList(l.key("ALLOWED_ORIGINS"), cfg.Server.AllowedOrigins)
	cfg.Server.TrustedProxies = ParseList(l.key("TRUSTED_PROXIES"), cfg.Server.TrustedProxies)

	cfg.Storage.HistoryDir = ParseString(l.key("HISTORY_DIR"), cfg.Storage.HistoryDir)
	cfg.Storage.UploadDir = ParseString(l.key("UPLOAD_DIR"), cfg.Storage.UploadDir)
	cfg.Storage.MaxHistoryBytes = ParseInt64(l.key("MAX_HISTORY_BYTES"), cfg.Storage.MaxHistoryBytes)
	cfg.Storage.MaxUploadBytes = ParseInt64(l.key("MAX_UPLOAD_BYTES"), cfg.Storage.MaxUploadBytes)

	cfg.Jobs.MaxConcurrent = ParseInt(l.key("MAX_CONCURRENT_JOBS"), cfg.Jobs.MaxConcurrent)
	cfg.Jobs.MaxQueue = ParseInt(l.key("MAX_QUEUE"), cfg.Jobs.MaxQueue)
	cfg.Jobs.DrainTimeout = ParseDuration(l.key("DRAIN_TIMEOUT"), cfg.Jobs.DrainTimeout)

	cfg.Media.FFmpegBin = ParseString(l.key("FFMPEG_BIN"), cfg.Media.FFmpegBin)
	cfg.Media.FFprobeBin = ParseString(l.key("FFPROBE_BIN"), cfg.Media.FFprobeBin)
	cfg.Media.ChunkSeconds = ParseInt(l.key("CHUNK_SECONDS"), cfg.Media.ChunkSeconds)
	cfg.Media.StallTimeout = ParseDuration(l.key("STALL_TIMEOUT"), cfg.Media.StallTimeout)

	cfg.Fetch.YTDLPBin = ParseString(l.key("YTDLP_BIN"), cfg.Fetch.YTDLPBin)
	cfg.Fetch.Timeout = ParseDuration(l.key("FETCH_TIMEOUT"), cfg.Fetch.Timeout)

	// GEMINI_API_KEY is honoured as the conventional name; the prefixed key wins.
	cfg.Inference.APIKey = ParseString("GEMINI_API_KEY", cfg.Inference.APIKey)
	cfg.Inference.APIKey = ParseString(l.key("API_KEY"), cfg.Inference.APIKey)
	cfg.Inference.BaseURL = ParseString(l.key("INFERENCE_BASE_URL"), cfg.Inference.BaseURL)
	cfg.Inference.Model = ParseString(l.key("MODEL"), cfg.Inference.Model)
	cfg.Inference.PollInterval = ParseDuration(l.key("POLL_INTERVAL"), cfg.Inference.PollInterval)
	cfg.Inference.ReadyTimeout = ParseDuration(l.key("READY_TIMEOUT"), cfg.Inference.ReadyTimeout)
	cfg.Inference.RequestTimeout = ParseDuration(l.key("REQUEST_TIMEOUT"), cfg.Inference.RequestTimeout)
	cfg.Inference.RetryAttempts = ParseInt(l.key("RETRY_ATTEMPTS"), cfg.Inference.RetryAttempts)
	cfg.Inference.RetryBaseDelay = ParseDuration(l.key("RETRY_BASE_DELAY"), cfg.Inference.RetryBaseDelay)
	cfg.Inference.RequestsPerSecond = ParseFloat(l.key("INFERENCE_RPS"), cfg.Inference.RequestsPerSecond)

	cfg.Sessions.Backend = ParseString(l.key("SESSION_BACKEND"), cfg.Sessions.Backend)
	cfg.Sessions.Path = ParseString(l.key("SESSION_PATH"), cfg.Sessions.Path)
	cfg.Sessions.RedisAddr = ParseString(l.key("REDIS_ADDR"), cfg.Sessions.RedisAddr)
	cfg.Sessions.RedisPassword = ParseString(l.key("REDIS_PASSWORD"), cfg.Sessions.RedisPassword)
	cfg.Sessions.RedisDB = ParseInt(l.key("REDIS_DB"), cfg.Sessions.RedisDB)

	cfg.Archive.Enabled = ParseBool(l.key("ARCHIVE_ENABLED"), cfg.Archive.Enabled)
	cfg.Archive.Bucket = ParseString(l.key("ARCHIVE_BUCKET"), cfg.Archive.Bucket)
	cfg.Archive.Prefix = ParseString(l.key("ARCHIVE_PREFIX"), cfg.Archive.Prefix)
	cfg.Archive.Region = ParseString(l.key("ARCHIVE_REGION"), cfg.Archive.Region)
	cfg.Archive.Endpoint = ParseString(l.key("ARCHIVE_ENDPOINT"), cfg.Archive.Endpoint)
	cfg.Archive.AccessKeyID = ParseString(l.key("ARCHIVE_ACCESS_KEY_ID"), cfg.Archive.AccessKeyID)
	cfg.Archive.SecretAccessKey = ParseString(l.key("ARCHIVE_SECRET_ACCESS_KEY"), cfg.Archive.SecretAccessKey)

	cfg.Telemetry.Enabled = ParseBool(l.key("TELEMETRY_ENABLED"), cfg.Telemetry.Enabled)
	cfg.Telemetry.Exporter = ParseString(l.key("TELEMETRY_EXPORTER"), cfg.Telemetry.Exporter)
	cfg.Telemetry.Endpoint = ParseString(l.key("TELEMETRY_ENDPOINT"), cfg.Telemetry.Endpoint)
	cfg.Telemetry.SamplingRate = ParseFloat(l.key("TELEMETRY_SAMPLING_RATE"), cfg.Telemetry.SamplingRate)

	cfg.RateLimit.Enabled = ParseBool(l.key("RATE_LIMIT_ENABLED"), cfg.RateLimit.Enabled)
	cfg.RateLimit.RequestsPerMinute = ParseInt(l.key("RATE_LIMIT_RPM"), cfg.RateLimit.RequestsPerMinute)
	cfg.RateLimit.UploadsPerMinute = ParseInt(l.key("RATE_LIMIT_UPLOADS_PER_MINUTE"), cfg.RateLimit.UploadsPerMinute)
	cfg.RateLimit.Whitelist = ParseList(l.key("RATE_LIMIT_WHITELIST"), cfg.RateLimit.Whitelist)
}

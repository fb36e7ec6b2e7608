// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package config loads and validates the daemon configuration.
//
// Precedence is ENV > YAML file > defaults. The YAML file is parsed strictly:
// unknown keys are rejected so typos surface at startup instead of silently
// falling back to defaults.
package config

import (
	"os"
	"path/filepath"
	"time"
)

// Byte sizes used by defaults.
const (
	MiB = int64(1) << 20
	GiB = int64(1) << 30
)

// AppConfig is the complete runtime configuration of the daemon.
type AppConfig struct {
	Version string `yaml:"-"`

	Log       LogConfig       `yaml:"log"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Jobs      JobsConfig      `yaml:"jobs"`
	Media     MediaConfig     `yaml:"media"`
	Fetch     FetchConfig     `yaml:"fetch"`
	Inference InferenceConfig `yaml:"inference"`
	Sessions  SessionsConfig  `yaml:"sessions"`
	Archive   ArchiveConfig   `yaml:"archive"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	RateLimit RateLimitConfig `yaml:"rateLimit"`
}

// LogConfig controls the global logger.
type LogConfig struct {
	Level   string `yaml:"level"`
	Service string `yaml:"service"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	ListenAddr        string        `yaml:"listenAddr"`
	MaxConnections    int           `yaml:"maxConnections"`
	ReadHeaderTimeout time.Duration `yaml:"readHeaderTimeout"`
	IdleTimeout       time.Duration `yaml:"idleTimeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdownTimeout"`
	CSP               string        `yaml:"csp"`
	// AllowedOrigins are the browser origins allowed by CORS and the CSRF check.
	AllowedOrigins []string `yaml:"allowedOrigins"`
	// TrustedProxies are CIDRs allowed to set X-Forwarded-Proto.
	TrustedProxies []string `yaml:"trustedProxies"`
}

// StorageConfig controls the history directory and upload limits.
type StorageConfig struct {
	HistoryDir      string `yaml:"historyDir"`
	UploadDir       string `yaml:"uploadDir"`
	MaxHistoryBytes int64  `yaml:"maxHistoryBytes"`
	MaxUploadBytes  int64  `yaml:"maxUploadBytes"`
}

// JobsConfig controls the concurrency gate.
type JobsConfig struct {
	MaxConcurrent int           `yaml:"maxConcurrent"`
	MaxQueue      int           `yaml:"maxQueue"`
	DrainTimeout  time.Duration `yaml:"drainTimeout"`
}

// MediaConfig controls the external transcoder.
type MediaConfig struct {
	FFmpegBin    string        `yaml:"ffmpegBin"`
	FFprobeBin   string        `yaml:"ffprobeBin"`
	ChunkSeconds int           `yaml:"chunkSeconds"`
	KillGrace    time.Duration `yaml:"killGrace"`
	// StallTimeout aborts a split when ffmpeg reports no progress for this
	// long. Zero disables the watchdog.
	StallTimeout time.Duration `yaml:"stallTimeout"`
}

// FetchConfig controls remote video downloads.
type FetchConfig struct {
	YTDLPBin string        `yaml:"ytdlpBin"`
	Timeout  time.Duration `yaml:"timeout"`
}

// InferenceConfig controls the external analysis service.
type InferenceConfig struct {
	APIKey            string        `yaml:"apiKey"`
	BaseURL           string        `yaml:"baseURL"`
	Model             string        `yaml:"model"`
	PollInterval      time.Duration `yaml:"pollInterval"`
	ReadyTimeout      time.Duration `yaml:"readyTimeout"`
	RequestTimeout    time.Duration `yaml:"requestTimeout"`
	RetryAttempts     int           `yaml:"retryAttempts"`
	RetryBaseDelay    time.Duration `yaml:"retryBaseDelay"`
	RequestsPerSecond float64       `yaml:"requestsPerSecond"`
	Burst             int           `yaml:"burst"`
	BreakerThreshold  int           `yaml:"breakerThreshold"`
	BreakerReset      time.Duration `yaml:"breakerReset"`
}

// SessionsConfig selects the session store backend.
type SessionsConfig struct {
	Backend       string        `yaml:"backend"`
	Path          string        `yaml:"path"`
	RedisAddr     string        `yaml:"redisAddr"`
	RedisPassword string        `yaml:"redisPassword"`
	RedisDB       int           `yaml:"redisDB"`
	TTL           time.Duration `yaml:"ttl"`
}

// ArchiveConfig controls the optional S3 mirror of finished history entries.
type ArchiveConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Bucket       string `yaml:"bucket"`
	Prefix       string `yaml:"prefix"`
	Region       string `yaml:"region"`
	Endpoint     string `yaml:"endpoint"`
	UsePathStyle bool   `yaml:"usePathStyle"`
	// Static credentials; when empty the default AWS credential chain is used.
	AccessKeyID     string `yaml:"accessKeyID"`
	SecretAccessKey string `yaml:"secretAccessKey"`
}

// TelemetryConfig controls OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	Environment  string  `yaml:"environment"`
	SamplingRate float64 `yaml:"samplingRate"`
}

// RateLimitConfig controls per-IP HTTP rate limiting.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requestsPerMinute"`
	UploadsPerMinute  int  `yaml:"uploadsPerMinute"`
	// Whitelist holds IPs or CIDRs exempt from limiting.
	Whitelist []string `yaml:"whitelist"`
}

// Defaults returns the built-in configuration.
func Defaults() AppConfig {
	return AppConfig{
		Log: LogConfig{
			Level:   "info",
			Service: "vidlint",
		},
		Server: ServerConfig{
			ListenAddr:        ":3001",
			MaxConnections:    256,
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       120 * time.Second,
			ShutdownTimeout:   30 * time.Second,
		},
		Storage: StorageConfig{
			HistoryDir:      "./history",
			UploadDir:       filepath.Join(os.TempDir(), "vidlint-uploads"),
			MaxHistoryBytes: 20 * GiB,
			MaxUploadBytes:  2 * GiB,
		},
		Jobs: JobsConfig{
			MaxConcurrent: 3,
			MaxQueue:      32,
			DrainTimeout:  2 * time.Minute,
		},
		Media: MediaConfig{
			FFmpegBin:    "ffmpeg",
			FFprobeBin:   "ffprobe",
			ChunkSeconds: 120,
			KillGrace:    5 * time.Second,
			StallTimeout: 2 * time.Minute,
		},
		Fetch: FetchConfig{
			YTDLPBin: "yt-dlp",
			Timeout:  30 * time.Minute,
		},
		Inference: InferenceConfig{
			Model:             "gemini-2.5-flash",
			PollInterval:      3 * time.Second,
			ReadyTimeout:      25 * time.Minute,
			RequestTimeout:    30 * time.Minute,
			RetryAttempts:     3,
			RetryBaseDelay:    2 * time.Second,
			RequestsPerSecond: 2,
			Burst:             4,
			BreakerThreshold:  5,
			BreakerReset:      time.Minute,
		},
		Sessions: SessionsConfig{
			Backend: "memory",
			TTL:     24 * time.Hour,
		},
		Telemetry: TelemetryConfig{
			Exporter:     "grpc",
			Endpoint:     "localhost:4317",
			Environment:  "production",
			SamplingRate: 1.0,
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerMinute: 600,
			UploadsPerMinute:  10,
		},
	}
}

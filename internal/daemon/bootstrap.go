// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"

	"github.com/ManuGH/vidlint/internal/api"
	"github.com/ManuGH/vidlint/internal/archive"
	"github.com/ManuGH/vidlint/internal/bus"
	"github.com/ManuGH/vidlint/internal/config"
	"github.com/ManuGH/vidlint/internal/control/middleware"
	"github.com/ManuGH/vidlint/internal/fetch"
	"github.com/ManuGH/vidlint/internal/gate"
	"github.com/ManuGH/vidlint/internal/health"
	"github.com/ManuGH/vidlint/internal/history"
	"github.com/ManuGH/vidlint/internal/inference"
	"github.com/ManuGH/vidlint/internal/inference/gemini"
	"github.com/ManuGH/vidlint/internal/job"
	"github.com/ManuGH/vidlint/internal/log"
	"github.com/ManuGH/vidlint/internal/media"
	"github.com/ManuGH/vidlint/internal/session"
	"github.com/ManuGH/vidlint/internal/telemetry"
	"github.com/rs/zerolog"
)

// Options tune Build beyond what the config carries.
type Options struct {
	Version string
	Logger  zerolog.Logger

	// Listener replaces listening on Server.ListenAddr.
	Listener net.Listener
	// Inference replaces the service built from the inference config.
	Inference inference.Service
	// Splitter replaces the ffmpeg segmenter.
	Splitter media.Splitter
	// SkipLock skips the history directory lock.
	SkipLock bool
}

// Runtime is the assembled daemon.
type Runtime struct {
	Manager Manager
	Jobs    *job.Manager
	Gate    *gate.Gate
	Handler *api.Server

	maxUpload  atomic.Int64
	maxHistory atomic.Int64
	logger     zerolog.Logger
}

// Apply pushes the reloadable parts of cfg into the running components.
// Listener, storage paths and backends need a restart.
func (rt *Runtime) Apply(cfg config.AppConfig) {
	if cfg.Log.Level != "" && !log.SetLevel(cfg.Log.Level) {
		rt.logger.Warn().Str("level", cfg.Log.Level).Msg("ignoring invalid log level")
	}
	rt.Gate.SetCapacity(cfg.Jobs.MaxConcurrent)
	rt.Gate.SetMaxQueue(cfg.Jobs.MaxQueue)
	rt.maxUpload.Store(cfg.Storage.MaxUploadBytes)
	rt.maxHistory.Store(cfg.Storage.MaxHistoryBytes)

	rt.logger.Info().
		Str(log.FieldEvent, "config.applied").
		Int("max_concurrent", cfg.Jobs.MaxConcurrent).
		Int("max_queue", cfg.Jobs.MaxQueue).
		Int64("max_upload_bytes", cfg.Storage.MaxUploadBytes).
		Int64("max_history_bytes", cfg.Storage.MaxHistoryBytes).
		Msg("runtime limits updated")
}

// Build wires every component from cfg. On error, everything opened so far
// is closed again.
func Build(ctx context.Context, cfg config.AppConfig, opts Options) (rt *Runtime, err error) {
	logger := opts.Logger
	if logger.GetLevel() == zerolog.Disabled {
		logger = log.WithComponent("daemon")
	}

	var cleanups []namedHook
	defer func() {
		if err == nil {
			return
		}
		for i := len(cleanups) - 1; i >= 0; i-- {
			if cerr := cleanups[i].hook(context.WithoutCancel(ctx)); cerr != nil {
				logger.Warn().Err(cerr).Str("hook", cleanups[i].name).Msg("cleanup after failed build")
			}
		}
	}()
	onShutdown := func(name string, hook ShutdownHook) {
		cleanups = append(cleanups, namedHook{name: name, hook: hook})
	}

	if !opts.SkipLock {
		lock, lerr := AcquireLock(cfg.Storage.HistoryDir)
		if lerr != nil {
			return nil, lerr
		}
		onShutdown("lock", func(context.Context) error { return lock.Release() })
	}

	tp, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Log.Service,
		ServiceVersion: opts.Version,
		Environment:    cfg.Telemetry.Environment,
		ExporterType:   cfg.Telemetry.Exporter,
		Endpoint:       cfg.Telemetry.Endpoint,
		SamplingRate:   cfg.Telemetry.SamplingRate,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	onShutdown("telemetry", tp.Shutdown)

	sessions, err := session.Open(ctx, cfg.Sessions, logger)
	if err != nil {
		return nil, fmt.Errorf("sessions: %w", err)
	}
	onShutdown("sessions", func(context.Context) error { return sessions.Close() })

	hist, err := history.NewStore(cfg.Storage.HistoryDir, log.WithComponent("history"))
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}

	ffmpeg := media.NewExecutor(cfg.Media.FFmpegBin, cfg.Media.KillGrace, log.WithComponent("ffmpeg"))
	ffmpegOK := func() bool {
		_, lerr := ffmpeg.LookPath()
		return lerr == nil
	}
	var splitter media.Splitter = media.NewSegmenter(ffmpeg, log.WithComponent("segmenter")).WithStallTimeout(cfg.Media.StallTimeout)
	if opts.Splitter != nil {
		splitter = opts.Splitter
	}
	ytdlp := media.NewExecutor(cfg.Fetch.YTDLPBin, cfg.Media.KillGrace, log.WithComponent("yt-dlp"))
	downloader := fetch.NewYTDLP(ytdlp, ffmpegOK, cfg.Fetch.Timeout, log.WithComponent("fetch"))

	svc := opts.Inference
	if svc == nil {
		svc, err = gemini.New(ctx, gemini.Config{
			APIKey:            cfg.Inference.APIKey,
			BaseURL:           cfg.Inference.BaseURL,
			Model:             cfg.Inference.Model,
			RequestTimeout:    cfg.Inference.RequestTimeout,
			RequestsPerSecond: cfg.Inference.RequestsPerSecond,
			Burst:             cfg.Inference.Burst,
			BreakerThreshold:  cfg.Inference.BreakerThreshold,
			BreakerReset:      cfg.Inference.BreakerReset,
		})
		if err != nil {
			return nil, fmt.Errorf("inference: %w", err)
		}
		if !gemini.Configured(svc) {
			logger.Warn().Str(log.FieldEvent, "inference.unconfigured").Msg("no inference API key; analyses will fail")
		}
	}
	client := inference.NewClient(svc,
		inference.WithRetryPolicy(inference.RetryPolicy{
			Attempts:  cfg.Inference.RetryAttempts,
			BaseDelay: cfg.Inference.RetryBaseDelay,
		}),
		inference.WithReadyPolling(cfg.Inference.PollInterval, cfg.Inference.ReadyTimeout),
		inference.WithLogger(log.WithComponent("inference")),
	)

	rt = &Runtime{
		Gate:   gate.New(cfg.Jobs.MaxConcurrent, cfg.Jobs.MaxQueue),
		logger: logger,
	}
	rt.maxUpload.Store(cfg.Storage.MaxUploadBytes)
	rt.maxHistory.Store(cfg.Storage.MaxHistoryBytes)

	runner := &job.Runner{
		Splitter:        splitter,
		Prober:          media.NewProber(cfg.Media.FFprobeBin),
		Downloader:      downloader,
		Inference:       client,
		History:         hist,
		Sessions:        sessions,
		ChunkSeconds:    cfg.Media.ChunkSeconds,
		WorkDir:         cfg.Storage.UploadDir,
		MaxHistoryBytes: rt.maxHistory.Load,
		Tracer:          telemetry.Tracer("vidlint/job"),
		Logger:          log.WithComponent("runner"),
	}
	mirror, err := archive.New(ctx, cfg.Archive, log.WithComponent("archive"))
	if err != nil {
		return nil, fmt.Errorf("archive: %w", err)
	}
	if mirror != nil {
		runner.Archive = mirror
	}

	rt.Jobs = job.NewManager(job.Options{
		Runner:   runner,
		Gate:     rt.Gate,
		Sessions: sessions,
		Bus:      bus.NewMemoryBus(),
		Logger:   log.WithComponent("jobs"),
	})

	hm := health.NewManager(opts.Version)
	hm.RegisterChecker(health.NewBinaryChecker("ffmpeg", cfg.Media.FFmpegBin, false))
	hm.RegisterChecker(health.NewBinaryChecker("ffprobe", cfg.Media.FFprobeBin, true))
	hm.RegisterChecker(health.NewBinaryChecker("yt-dlp", cfg.Fetch.YTDLPBin, true))
	hm.RegisterChecker(health.NewDirChecker("history_dir", cfg.Storage.HistoryDir))
	hm.RegisterChecker(health.NewPingChecker("sessions", sessions.Ping))

	stack, err := stackConfig(cfg)
	if err != nil {
		return nil, err
	}
	rt.Handler = api.New(api.Config{
		Stack:              stack,
		UploadDir:          cfg.Storage.UploadDir,
		MaxUploadBytes:     rt.maxUpload.Load,
		MaxHistoryBytes:    rt.maxHistory.Load,
		UploadsPerMinute:   uploadsPerMinute(cfg),
		RateLimitWhitelist: stack.RateLimitWhitelist,
	}, api.Deps{
		Jobs:     rt.Jobs,
		History:  hist,
		Sessions: sessions,
		Health:   hm,
	})

	mgr, err := NewManager(cfg.Server, Deps{
		Logger:       logger,
		APIHandler:   rt.Handler.Router(),
		Listener:     opts.Listener,
		Drain:        rt.Jobs.Shutdown,
		DrainTimeout: cfg.Jobs.DrainTimeout,
	})
	if err != nil {
		return nil, err
	}
	for _, h := range cleanups {
		mgr.RegisterShutdownHook(h.name, h.hook)
	}
	rt.Manager = mgr

	logger.Info().
		Str(log.FieldEvent, "daemon.built").
		Str("sessions", cfg.Sessions.Backend).
		Bool("archive", mirror != nil).
		Bool("telemetry", cfg.Telemetry.Enabled).
		Msg("runtime assembled")
	return rt, nil
}

func stackConfig(cfg config.AppConfig) (middleware.StackConfig, error) {
	proxies, err := middleware.ParseCIDRs(cfg.Server.TrustedProxies)
	if err != nil {
		return middleware.StackConfig{}, fmt.Errorf("trusted proxies: %w", err)
	}
	whitelist, err := middleware.ParseCIDRs(cfg.RateLimit.Whitelist)
	if err != nil {
		return middleware.StackConfig{}, fmt.Errorf("rate limit whitelist: %w", err)
	}
	sc := middleware.StackConfig{
		EnableCORS:            len(cfg.Server.AllowedOrigins) > 0,
		AllowedOrigins:        cfg.Server.AllowedOrigins,
		EnableSecurityHeaders: true,
		CSP:                   cfg.Server.CSP,
		TrustedProxies:        proxies,
		EnableMetrics:         true,
		EnableLogging:         true,
		EnableRateLimit:       cfg.RateLimit.Enabled && cfg.RateLimit.RequestsPerMinute > 0,
		RateLimitPerMinute:    cfg.RateLimit.RequestsPerMinute,
		RateLimitWhitelist:    whitelist,
	}
	if cfg.Telemetry.Enabled {
		sc.TracingService = cfg.Log.Service
	}
	return sc, nil
}

func uploadsPerMinute(cfg config.AppConfig) int {
	if !cfg.RateLimit.Enabled {
		return 0
	}
	return cfg.RateLimit.UploadsPerMinute
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package job

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/ManuGH/vidlint/internal/fetch"
	"github.com/ManuGH/vidlint/internal/history"
	"github.com/ManuGH/vidlint/internal/inference"
	"github.com/ManuGH/vidlint/internal/log"
	"github.com/ManuGH/vidlint/internal/media"
	"github.com/ManuGH/vidlint/internal/metrics"
	"github.com/ManuGH/vidlint/internal/progress"
	"github.com/ManuGH/vidlint/internal/protocol"
	"github.com/ManuGH/vidlint/internal/report"
	"github.com/ManuGH/vidlint/internal/session"
	"github.com/ManuGH/vidlint/internal/telemetry"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultChunkSeconds is the segment length used when none is configured.
const DefaultChunkSeconds = 120

var errDownloadsDisabled = errors.New("remote video downloads are not configured")

// Prober reports a video's duration in seconds.
type Prober interface {
	Duration(ctx context.Context, path string) (float64, error)
}

// Archiver mirrors a finished history entry elsewhere.
type Archiver interface {
	Upload(ctx context.Context, id, dir string) error
}

// Runner executes jobs. It holds no per-job state, so one Runner serves all
// concurrently admitted jobs.
type Runner struct {
	Splitter   media.Splitter
	Prober     Prober
	Downloader fetch.Downloader
	Inference  *inference.Client
	History    *history.Store
	Sessions   session.Store
	Archive    Archiver

	ChunkSeconds int
	// WorkDir is the parent of per-job chunk and download directories.
	WorkDir string
	// MaxHistoryBytes returns the current retention cap; <= 0 disables it.
	MaxHistoryBytes func() int64
	// InUse reports history entries of jobs that have not finished yet.
	// Retention never evicts them.
	InUse func(id string) bool

	Tracer trace.Tracer
	Logger zerolog.Logger
	Now    func() time.Time
}

func (r *Runner) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r *Runner) chunkSeconds() int {
	if r.ChunkSeconds > 0 {
		return r.ChunkSeconds
	}
	return DefaultChunkSeconds
}

func (r *Runner) workDir() string {
	if r.WorkDir != "" {
		return r.WorkDir
	}
	return os.TempDir()
}

func (r *Runner) tracer() trace.Tracer {
	if r.Tracer != nil {
		return r.Tracer
	}
	return telemetry.Tracer("vidlint/job")
}

// run is the state of one job execution.
type run struct {
	r       *Runner
	job     *Job
	res     *resources
	tracker progress.Tracker
	results *history.ResultsWriter
	logger  zerolog.Logger

	resultsBroken bool
}

// Run drives job from source resolution to a terminal state and returns
// that state. Cleanup always runs before Run returns; the job's stream
// ends with a done event.
func (r *Runner) Run(ctx context.Context, job *Job) session.Status {
	started := r.now()
	ctx = log.ContextWithJobID(log.ContextWithSessionID(ctx, job.SessionID), job.ID)
	logger := log.WithContext(ctx, r.Logger)

	ctx, span := r.tracer().Start(ctx, "job.run", trace.WithAttributes(telemetry.JobAttributes(job.ID, job.Source.Kind())...))
	defer span.End()

	x := &run{r: r, job: job, res: &resources{}, logger: logger}
	r.advanceSession(ctx, job, session.StatusActive, "", logger)
	logger.Info().
		Str(log.FieldEvent, "job.started").
		Str(log.FieldSource, job.Source.Kind()).
		Msg("job started")

	status := session.StatusCompleted
	var failure string
	if err := x.execute(ctx); err != nil {
		status = session.StatusFailed
		failure = err.Error()
		job.fail(failure)
		x.emit(protocol.JobError(failure))
		span.RecordError(err)
		span.SetStatus(codes.Error, failure)
		span.SetAttributes(telemetry.ErrorAttributes(errorType(err))...)
		logger.Error().
			Err(err).
			Str(log.FieldEvent, "job.failed").
			Msg("job failed")
	}

	if n := x.res.release(ctx, r.Inference, logger); n > 0 {
		logger.Warn().
			Str(log.FieldEvent, "cleanup.incomplete").
			Int("failures", n).
			Msg("job cleanup finished with failures")
	}
	r.enforceRetention(ctx, job.ID, logger)

	if status == session.StatusCompleted {
		if err := job.transition(StateCompleted); err != nil {
			logger.Error().Err(err).Str(log.FieldEvent, "job.state_invalid").Msg("job state machine rejected completion")
		}
	}
	r.advanceSession(ctx, job, status, failure, logger)

	elapsed := r.now().Sub(started)
	metrics.RecordJob(string(status), elapsed)
	telemetry.RecordJobOutcome(ctx, string(status), job.Source.Kind())
	x.emit(protocol.Done(string(status)))
	logger.Info().
		Str(log.FieldEvent, "job.finished").
		Str(log.FieldStatus, string(status)).
		Int64(log.FieldDuration, elapsed.Milliseconds()).
		Msg("job finished")
	return status
}

func (x *run) execute(ctx context.Context) error {
	job := x.job
	if err := job.transition(StateResolvingSource); err != nil {
		return err
	}
	src, err := x.resolveSource(ctx)
	if err != nil {
		return err
	}
	videoPath := x.archive(src)

	if err := job.transition(StateSegmenting); err != nil {
		return err
	}
	chunks, err := x.segment(ctx, videoPath)
	if err != nil {
		return err
	}

	if err := job.transition(StateAnalyzing); err != nil {
		return err
	}
	for _, ch := range chunks {
		x.analyzeChunk(ctx, ch, len(chunks))
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("job cancelled: %w", err)
		}
	}

	if err := job.transition(StateFinalizing); err != nil {
		return err
	}
	x.advance(progress.Complete, 10, "Complete… Finalizing results")
	x.advance(progress.Complete, 50, "Complete… Finalizing results")
	x.advance(progress.Complete, 100, "Complete!")
	return nil
}

type resolvedSource struct {
	path string
	// fileName is the name the video is archived under.
	fileName string
	// name is the display name recorded in meta.json.
	name string
}

func (x *run) resolveSource(ctx context.Context) (resolvedSource, error) {
	src := x.job.Source
	if src.FilePath != "" {
		x.res.setSource(src.FilePath)
	}
	if err := src.Validate(); err != nil {
		return resolvedSource{}, err
	}

	if src.URL == "" {
		// The client reports its own transfer progress; only confirm completion.
		x.advance(progress.Upload, 90, "Uploading…")
		name := src.FileName
		if name == "" {
			name = filepath.Base(src.FilePath)
		}
		return resolvedSource{path: src.FilePath, fileName: name, name: name}, nil
	}

	if x.r.Downloader == nil {
		return resolvedSource{}, errDownloadsDisabled
	}
	dir, err := os.MkdirTemp(x.r.workDir(), "download-"+x.job.ID+"-")
	if err != nil {
		return resolvedSource{}, fmt.Errorf("create download dir: %w", err)
	}
	x.res.mu.Lock()
	x.res.downloadDir = dir
	x.res.mu.Unlock()

	x.advance(progress.Upload, 5, "Downloading YouTube video…")
	path, err := x.r.Downloader.Download(ctx, src.URL, dir)
	if err != nil {
		return resolvedSource{}, err
	}
	x.res.setSource(path)
	x.advance(progress.Upload, 50, "Downloading YouTube video…")
	x.advance(progress.Upload, 90, "Downloading YouTube video…")
	x.advance(progress.Upload, 100, "Download complete")
	return resolvedSource{path: path, fileName: filepath.Base(path), name: src.URL}, nil
}

// archive moves the source into the history entry and opens the results
// file. It returns the path the segmenter should read. Failures here are
// logged; the job continues from the temporary copy.
func (x *run) archive(src resolvedSource) string {
	hs := x.r.History
	id := x.job.ID
	videoPath := src.path

	if _, err := hs.Create(id); err != nil {
		x.logger.Error().Err(err).Str(log.FieldEvent, "history.create_failed").Msg("failed to create history entry")
		return videoPath
	}

	if archived, err := hs.Archive(id, src.path, src.fileName); err != nil {
		x.logger.Warn().
			Err(err).
			Str(log.FieldEvent, "history.archive_failed").
			Str(log.FieldPath, src.path).
			Msg("failed to archive source video")
	} else {
		videoPath = archived
		// The archived copy belongs to the history entry now.
		x.res.setSource("")
	}

	meta := history.Meta{
		ID:            id,
		Name:          src.name,
		Source:        x.job.Source.Kind(),
		VideoFileName: src.fileName,
		CreatedAt:     x.job.CreatedAt.UnixMilli(),
	}
	if err := hs.WriteMeta(meta); err != nil {
		x.logger.Warn().Err(err).Str(log.FieldEvent, "history.meta_failed").Msg("failed to write history metadata")
	}

	w, err := hs.OpenResults(id)
	if err != nil {
		x.logger.Warn().Err(err).Str(log.FieldEvent, "history.results_failed").Msg("failed to open results file")
		return videoPath
	}
	x.results = w
	x.res.mu.Lock()
	x.res.results = w
	x.res.mu.Unlock()
	return videoPath
}

func (x *run) segment(ctx context.Context, videoPath string) ([]media.Chunk, error) {
	x.advance(progress.Process, 10, "Processing…")
	x.advance(progress.Process, 30, "Processing… Splitting video into chunks…")

	dir, err := os.MkdirTemp(x.r.workDir(), "chunks-"+x.job.ID+"-")
	if err != nil {
		return nil, fmt.Errorf("create chunk dir: %w", err)
	}
	x.res.mu.Lock()
	x.res.chunkDir = dir
	x.res.mu.Unlock()

	seconds := x.r.chunkSeconds()
	paths, err := x.r.Splitter.Segment(ctx, videoPath, dir, seconds)
	if err != nil {
		return nil, fmt.Errorf("Failed to split video into chunks: %w", err)
	}
	x.res.mu.Lock()
	x.res.chunks = append([]string(nil), paths...)
	x.res.mu.Unlock()
	if len(paths) == 0 {
		return nil, media.ErrNoChunks
	}

	var total float64
	if x.r.Prober != nil {
		if d, err := x.r.Prober.Duration(ctx, videoPath); err != nil {
			x.logger.Debug().Err(err).Str(log.FieldEvent, "probe.failed").Msg("duration probe failed; using nominal chunk ranges")
		} else {
			total = d
		}
	}
	chunks := media.Plan(paths, seconds, total)

	x.advance(progress.Process, 70, "Processing… Chunks created")
	x.advance(progress.Process, 100, fmt.Sprintf("Processing… Created %d chunk(s)", len(chunks)))
	x.emit(protocol.Info(fmt.Sprintf("Video split into %d chunk(s)", len(chunks))))
	x.logger.Info().
		Str(log.FieldEvent, "job.segmented").
		Int(log.FieldChunkTotal, len(chunks)).
		Msg("video segmented")
	return chunks, nil
}

// analyzeChunk runs one chunk to completion. Its failure is recorded inline
// and never ends the job.
func (x *run) analyzeChunk(ctx context.Context, ch media.Chunk, total int) {
	number := ch.Index + 1
	info := protocol.Chunk{Number: number, Total: total, Start: ch.Start, End: ch.End}
	logger := x.logger.With().
		Int(log.FieldChunkIndex, ch.Index).
		Int(log.FieldChunkTotal, total).
		Logger()

	ctx, span := x.r.tracer().Start(ctx, "job.chunk", trace.WithAttributes(telemetry.ChunkAttributes(ch.Index, total, ch.Start, "")...))
	defer span.End()

	err := x.processChunk(ctx, ch, info, span, logger)
	if err == nil {
		metrics.RecordChunk("ok")
		return
	}
	metrics.RecordChunk("failed")
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	logger.Error().
		Err(err).
		Str(log.FieldEvent, "chunk.failed").
		Msg("chunk analysis failed")
	x.emit(protocol.ChunkError(info, err.Error()))
}

func (x *run) processChunk(ctx context.Context, ch media.Chunk, info protocol.Chunk, span trace.Span, logger zerolog.Logger) error {
	client := x.r.Inference
	lo, hi := progress.ChunkRange(ch.Index, info.Total)
	size := hi - lo
	onRetry := func(next int, delay time.Duration, err error) {
		logger.Warn().
			Err(err).
			Str(log.FieldEvent, "chunk.retry").
			Int(log.FieldAttempt, next).
			Dur("delay", delay).
			Msg("transient inference error, retrying")
		x.emit(protocol.RetryNotice(info.Number, next))
	}

	x.advance(progress.Analyze, lo+size*0.05, fmt.Sprintf("Analyzing… Preparing chunk %d", info.Number))
	uploaded, err := client.Upload(ctx, ch.Path, inference.MIMEType(ch.Path), onRetry)
	if err != nil {
		return err
	}
	x.res.addRemote(uploaded.Name)
	defer x.deleteRemote(ctx, uploaded.Name)
	span.SetAttributes(telemetry.ChunkAttributes(ch.Index, info.Total, ch.Start, uploaded.Name)...)

	x.advance(progress.Analyze, lo+size*0.15, fmt.Sprintf("Analyzing… Processing chunk %d", info.Number))
	ready, err := client.AwaitReady(ctx, uploaded.Name)
	if err != nil {
		return err
	}

	streamFrom := lo + size*0.25
	label := fmt.Sprintf("Analyzing… Chunk %d/%d", info.Number, info.Total)
	x.advance(progress.Analyze, streamFrom, label)
	x.emit(protocol.ChunkStart(info))

	prompt := inference.BuildPrompt(x.job.Prompt, info.Number, info.Total, ch.Start, ch.End)
	stream, err := client.Analyze(ctx, ready, prompt, onRetry)
	if err != nil {
		return err
	}
	defer func() { _ = stream.Close() }()

	rebaser := report.NewRebaser(ch.Start, ch.End)
	count := 0
	for {
		frag, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			x.emitText(rebaser.Flush())
			return err
		}
		if frag == "" {
			continue
		}
		x.emitText(rebaser.Feed(frag))
		count++
		x.advance(progress.Analyze, streamFrom+(hi-streamFrom)*progress.StreamRatio(count), label)
	}
	x.emitText(rebaser.Flush())

	x.advance(progress.Analyze, hi, label+" complete")
	x.emit(protocol.Text("\n"))
	logger.Debug().
		Str(log.FieldEvent, "chunk.analyzed").
		Int("fragments", count).
		Msg("chunk analyzed")
	return nil
}

// deleteRemote releases a chunk's remote copy as soon as the chunk is done.
// On failure the handle stays listed for the job's final cleanup.
func (x *run) deleteRemote(ctx context.Context, name string) {
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), remoteDeleteTimeout)
	defer cancel()
	if err := x.r.Inference.Delete(dctx, name); err == nil {
		x.res.dropRemote(name)
	}
}

func (x *run) emitText(s string) {
	if s != "" {
		x.emit(protocol.Text(s))
	}
}

// emit appends ev to the job's stream and its results-file share to the
// results file.
func (x *run) emit(ev protocol.Event) {
	x.job.events.Append(ev)
	if x.results == nil {
		return
	}
	s := protocol.ResultsText(ev)
	if s == "" {
		return
	}
	if _, err := x.results.WriteString(s); err != nil && !x.resultsBroken {
		x.resultsBroken = true
		x.logger.Error().
			Err(err).
			Str(log.FieldEvent, "history.results_write_failed").
			Msg("failed to append results")
	}
}

func (x *run) advance(phase progress.Phase, sectionPct float64, label string) {
	u, ok := x.tracker.Advance(phase, sectionPct, label)
	if !ok {
		return
	}
	x.emit(protocol.ProgressEvent(u.Percent, u.Label, u.Phase.Step()))
}

func (r *Runner) advanceSession(ctx context.Context, job *Job, to session.Status, errMsg string, logger zerolog.Logger) {
	if r.Sessions == nil {
		return
	}
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if _, err := r.Sessions.Advance(sctx, job.SessionID, to, errMsg); err != nil {
		logger.Warn().
			Err(err).
			Str(log.FieldEvent, "session.advance_failed").
			Str(log.FieldState, string(to)).
			Msg("failed to update session status")
	}
}

func (r *Runner) enforceRetention(ctx context.Context, keep string, logger zerolog.Logger) {
	if r.MaxHistoryBytes == nil {
		return
	}
	limit := r.MaxHistoryBytes()
	if limit <= 0 {
		return
	}
	skip := func(id string) bool {
		return id == keep || (r.InUse != nil && r.InUse(id))
	}
	evicted, err := r.History.EnforceCap(context.WithoutCancel(ctx), limit, skip)
	if err != nil {
		logger.Warn().Err(err).Str(log.FieldEvent, "history.retention_failed").Msg("failed to enforce history retention")
		return
	}
	if len(evicted) > 0 {
		logger.Info().
			Str(log.FieldEvent, "history.evicted").
			Strs("ids", evicted).
			Msg("evicted old history entries")
	}
}

// Mirror copies the history entry of a finished job to the archive, if one
// is configured. Failures are logged only.
func (r *Runner) Mirror(ctx context.Context, id string) {
	if r.Archive == nil {
		return
	}
	logger := log.WithContext(log.ContextWithJobID(ctx, id), r.Logger)
	dir, err := r.History.Dir(id)
	if err != nil {
		return
	}
	if _, err := os.Stat(dir); err != nil {
		return
	}
	if err := r.Archive.Upload(ctx, id, dir); err != nil {
		logger.Debug().Err(err).Str(log.FieldEvent, "archive.mirror_failed").Msg("history entry not mirrored")
	}
}

func errorType(err error) string {
	var dl *fetch.DownloadError
	switch {
	case errors.Is(err, ErrSourceConflict), errors.Is(err, ErrNoSource):
		return "invalid_source"
	case errors.As(err, &dl):
		return "download"
	case errors.Is(err, media.ErrNoChunks):
		return "no_chunks"
	case errors.Is(err, media.ErrSegmentation):
		return "segmentation"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	}
	return "internal"
}

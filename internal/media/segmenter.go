// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package media splits source videos into fixed-length chunks with ffmpeg.
package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/ManuGH/vidlint/internal/media/ffmpeg/watchdog"
	"github.com/ManuGH/vidlint/internal/metrics"
	"github.com/rs/zerolog"
)

// ChunkPattern is the ffmpeg output template; %03d keeps lexical and temporal order aligned.
const ChunkPattern = "output_chunk_%03d.mp4"

var chunkName = regexp.MustCompile(`^output_chunk_\d{3}\.mp4$`)

// Splitter cuts a video into ordered chunk files.
type Splitter interface {
	Segment(ctx context.Context, inputPath, outputDir string, chunkSeconds int) ([]string, error)
}

// Segmenter implements Splitter on top of ffmpeg's segment muxer.
type Segmenter struct {
	exec         *Executor
	logger       zerolog.Logger
	stallTimeout time.Duration
}

var _ Splitter = (*Segmenter)(nil)

// NewSegmenter returns a Segmenter using exec for ffmpeg invocations.
func NewSegmenter(exec *Executor, logger zerolog.Logger) *Segmenter {
	return &Segmenter{exec: exec, logger: logger}
}

// WithStallTimeout aborts an ffmpeg run that reports no progress for d.
// Zero disables the check.
func (s *Segmenter) WithStallTimeout(d time.Duration) *Segmenter {
	s.stallTimeout = d
	return s
}

// Segment splits inputPath into chunkSeconds-long files in outputDir.
// Stream copy is tried first; on failure the split is retried with re-encoding.
// Every failure is a *SegmentationError.
func (s *Segmenter) Segment(ctx context.Context, inputPath, outputDir string, chunkSeconds int) ([]string, error) {
	if chunkSeconds <= 0 {
		return nil, &SegmentationError{Op: "args", Err: fmt.Errorf("chunk duration must be positive, got %d", chunkSeconds)}
	}
	if _, err := s.exec.LookPath(); err != nil {
		return nil, &SegmentationError{Op: "lookup", Err: err}
	}
	if err := os.MkdirAll(outputDir, 0o750); err != nil {
		return nil, &SegmentationError{Op: "mkdir", Err: err}
	}

	pattern := filepath.Join(outputDir, ChunkPattern)
	stderr, err := s.run(ctx, SegmentArgs(inputPath, pattern, chunkSeconds, true))
	if err != nil {
		if errors.Is(err, watchdog.ErrStalled) {
			return nil, &SegmentationError{Op: "stall", Stderr: stderr, Err: err}
		}
		if ctx.Err() != nil {
			return nil, &SegmentationError{Op: "copy", Stderr: stderr, Err: ctx.Err()}
		}
		s.logger.Warn().
			Err(err).
			Str("event", "segment.fallback").
			Strs("stderr", lastN(stderr, 5)).
			Msg("stream copy split failed, retrying with re-encoding")
		metrics.RecordSegmentFallback()

		removeChunks(outputDir)
		stderr, err = s.run(ctx, SegmentArgs(inputPath, pattern, chunkSeconds, false))
		if err != nil {
			if errors.Is(err, watchdog.ErrStalled) {
				return nil, &SegmentationError{Op: "stall", Stderr: stderr, Err: err}
			}
			return nil, &SegmentationError{Op: "reencode", Stderr: stderr, Err: err}
		}
	}

	chunks, err := CollectChunks(outputDir)
	if err != nil {
		return nil, &SegmentationError{Op: "collect", Err: err}
	}
	if len(chunks) == 0 {
		return nil, &SegmentationError{Op: "collect", Stderr: stderr, Err: ErrNoChunks}
	}

	s.logger.Info().
		Str("event", "segment.done").
		Int("chunks", len(chunks)).
		Msg("video split into chunks")
	return chunks, nil
}

// run executes ffmpeg under the stall watchdog when one is configured.
func (s *Segmenter) run(ctx context.Context, args []string) ([]string, error) {
	if s.stallTimeout <= 0 {
		return s.exec.Run(ctx, args...)
	}

	wd := watchdog.New(0, s.stallTimeout)
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	stalled := make(chan error, 1)
	go func() {
		err := wd.Run(runCtx)
		if err != nil {
			cancel()
		}
		stalled <- err
	}()

	stderr, err := s.exec.RunObserved(runCtx, wd.ParseLine, append([]string{"-progress", "pipe:2"}, args...)...)
	cancel()
	if werr := <-stalled; werr != nil {
		s.logger.Warn().
			Err(werr).
			Str("event", "segment.stalled").
			Str("state", wd.State().String()).
			Msg("ffmpeg stopped making progress")
		return stderr, werr
	}
	return stderr, err
}

// SegmentArgs builds the ffmpeg arguments. copy selects stream copy instead of re-encoding.
func SegmentArgs(inputPath, outputPattern string, chunkSeconds int, copy bool) []string {
	args := []string{"-hide_banner", "-nostdin", "-i", inputPath}
	if copy {
		args = append(args, "-c", "copy")
	}
	return append(args,
		"-map", "0:v",
		"-map", "0:a?",
		"-segment_time", strconv.Itoa(chunkSeconds),
		"-f", "segment",
		"-reset_timestamps", "1",
		"-y",
		outputPattern,
	)
}

// CollectChunks lists chunk files in dir in temporal order.
func CollectChunks(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read chunk dir: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.Type().IsRegular() && chunkName.MatchString(e.Name()) {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}

// removeChunks drops partial output from a failed stream-copy attempt.
func removeChunks(dir string) {
	chunks, err := CollectChunks(dir)
	if err != nil {
		return
	}
	for _, c := range chunks {
		_ = os.Remove(c)
	}
}

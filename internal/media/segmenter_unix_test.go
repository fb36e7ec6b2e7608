// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

//go:build unix

package media

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ManuGH/vidlint/internal/media/ffmpeg/watchdog"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTool writes an executable shell script standing in for ffmpeg.
func fakeTool(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-ffmpeg")
	script := "#!/bin/sh\nfor a in \"$@\"; do last=\"$a\"; done\ndir=$(dirname \"$last\")\n" + body
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func newTestSegmenter(bin string) *Segmenter {
	return NewSegmenter(NewExecutor(bin, 200*time.Millisecond, zerolog.Nop()), zerolog.Nop())
}

func TestSegmentStreamCopy(t *testing.T) {
	bin := fakeTool(t, `touch "$dir/output_chunk_001.mp4" "$dir/output_chunk_000.mp4"`)
	out := filepath.Join(t.TempDir(), "chunks")

	chunks, err := newTestSegmenter(bin).Segment(context.Background(), "in.mp4", out, 120)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(out, "output_chunk_000.mp4"),
		filepath.Join(out, "output_chunk_001.mp4"),
	}, chunks)
}

func TestSegmentFallsBackToReencode(t *testing.T) {
	bin := fakeTool(t, `
case " $* " in
  *" -c copy "*) touch "$dir/output_chunk_000.mp4"; echo "copy not supported" >&2; exit 1;;
esac
touch "$dir/output_chunk_000.mp4" "$dir/output_chunk_001.mp4" "$dir/output_chunk_002.mp4"
`)
	out := t.TempDir()

	chunks, err := newTestSegmenter(bin).Segment(context.Background(), "in.mp4", out, 60)
	require.NoError(t, err)
	assert.Len(t, chunks, 3)
}

func TestSegmentBothAttemptsFail(t *testing.T) {
	bin := fakeTool(t, `echo "invalid data found" >&2; exit 1`)

	_, err := newTestSegmenter(bin).Segment(context.Background(), "in.mp4", t.TempDir(), 60)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSegmentation))

	var segErr *SegmentationError
	require.True(t, errors.As(err, &segErr))
	assert.Equal(t, "reencode", segErr.Op)
	assert.Contains(t, segErr.Stderr, "invalid data found")
}

func TestSegmentNoChunks(t *testing.T) {
	bin := fakeTool(t, `exit 0`)

	_, err := newTestSegmenter(bin).Segment(context.Background(), "in.mp4", t.TempDir(), 60)
	assert.True(t, errors.Is(err, ErrNoChunks))
	assert.True(t, errors.Is(err, ErrSegmentation))
}

func TestSegmentMissingTool(t *testing.T) {
	_, err := newTestSegmenter("/nonexistent/ffmpeg").Segment(context.Background(), "in.mp4", t.TempDir(), 60)
	assert.True(t, errors.Is(err, ErrToolMissing))
	assert.True(t, errors.Is(err, ErrSegmentation))
}

func TestSegmentCancelled(t *testing.T) {
	bin := fakeTool(t, `sleep 30`)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	begin := time.Now()
	_, err := newTestSegmenter(bin).Segment(ctx, "in.mp4", t.TempDir(), 60)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Less(t, time.Since(begin), 5*time.Second)
}

func TestSegmentStalledRunIsAborted(t *testing.T) {
	bin := fakeTool(t, `sleep 5`)
	seg := newTestSegmenter(bin).WithStallTimeout(200 * time.Millisecond)

	start := time.Now()
	_, err := seg.Segment(context.Background(), "in.mp4", t.TempDir(), 60)
	require.Error(t, err)
	assert.ErrorIs(t, err, watchdog.ErrStalled)
	assert.ErrorIs(t, err, ErrSegmentation)
	var segErr *SegmentationError
	require.True(t, errors.As(err, &segErr))
	assert.Equal(t, "stall", segErr.Op)
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestSegmentWatchdogKeepsProgressOutOfTail(t *testing.T) {
	bin := fakeTool(t, `
echo "out_time_us=1000" >&2
echo "total_size=48" >&2
echo "real warning" >&2
echo "progress=end" >&2
touch "$dir/output_chunk_000.mp4"
`)
	seg := newTestSegmenter(bin).WithStallTimeout(time.Second)

	chunks, err := seg.Segment(context.Background(), "in.mp4", t.TempDir(), 60)
	require.NoError(t, err)
	assert.Len(t, chunks, 1)

	stderr, err := seg.exec.RunObserved(context.Background(), watchdog.New(0, time.Second).ParseLine, filepath.Join(t.TempDir(), "out.mp4"))
	require.NoError(t, err)
	assert.Equal(t, []string{"real warning"}, stderr)
}

func TestExecutorCapturesStderrTail(t *testing.T) {
	bin := fakeTool(t, `printf 'frame=1\rframe=2\rdone\n' >&2`)
	e := NewExecutor(bin, time.Second, zerolog.Nop())

	tail, err := e.Run(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, []string{"frame=1", "frame=2", "done"}, tail)
}

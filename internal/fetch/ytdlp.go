// SPDX-License-Identifier: MIT

// Package fetch resolves remote video references into local files.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ManuGH/vidlint/internal/media"
	"github.com/rs/zerolog"
)

var (
	// ErrNeedsFFmpeg means yt-dlp could not merge separate audio and video streams.
	ErrNeedsFFmpeg = errors.New("YouTube download needs ffmpeg for merging. Install it and try again.")
	// ErrRestricted means the video is private, age-restricted or otherwise blocked.
	ErrRestricted = errors.New("This YouTube video cannot be downloaded (private, age-restricted, etc).")
	// ErrDownload covers every other download failure.
	ErrDownload = errors.New("YouTube download failed:")
	// ErrNoOutput means yt-dlp exited cleanly without producing a file.
	ErrNoOutput = errors.New("yt-dlp finished but no output file was found.")
)

// DownloadError pairs a user-facing kind with the tool's diagnostics.
type DownloadError struct {
	Kind   error
	Detail string
}

func (e *DownloadError) Error() string {
	if e.Detail == "" {
		return e.Kind.Error()
	}
	return e.Kind.Error() + "\n" + e.Detail
}

func (e *DownloadError) Unwrap() error { return e.Kind }

// Downloader fetches a remote video into dir and returns the local path.
type Downloader interface {
	Download(ctx context.Context, rawURL, dir string) (string, error)
}

// YTDLP downloads YouTube videos with yt-dlp.
type YTDLP struct {
	exec     *media.Executor
	ffmpegOK func() bool
	timeout  time.Duration
	logger   zerolog.Logger
	now      func() time.Time
}

var _ Downloader = (*YTDLP)(nil)

// NewYTDLP returns a downloader. ffmpegOK reports whether merging is possible;
// without it only progressive formats are requested.
func NewYTDLP(exec *media.Executor, ffmpegOK func() bool, timeout time.Duration, logger zerolog.Logger) *YTDLP {
	if ffmpegOK == nil {
		ffmpegOK = func() bool { return true }
	}
	return &YTDLP{exec: exec, ffmpegOK: ffmpegOK, timeout: timeout, logger: logger, now: time.Now}
}

// FormatArgs prefers MP4 with AAC audio; merging separate streams requires ffmpeg.
func FormatArgs(ffmpegOK bool) []string {
	format := "bv*[ext=mp4]+ba[ext=m4a]/b[ext=mp4]/best"
	if !ffmpegOK {
		format = "b[ext=mp4]/best"
	}
	args := []string{
		"--no-playlist",
		"-f", format,
		"-S", "ext:mp4:m4a,res,codec:avc1:acodec:aac",
	}
	if ffmpegOK {
		args = append(args, "--merge-output-format", "mp4")
	}
	return args
}

// Download runs yt-dlp for rawURL writing yt-<millis>.<ext> into dir.
func (y *YTDLP) Download(ctx context.Context, rawURL, dir string) (string, error) {
	u, err := ValidateYouTubeURL(rawURL)
	if err != nil {
		return "", err
	}
	if _, err := y.exec.LookPath(); err != nil {
		return "", &DownloadError{Kind: ErrDownload, Detail: err.Error()}
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create download dir: %w", err)
	}
	if y.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, y.timeout)
		defer cancel()
	}

	base := "yt-" + strconv.FormatInt(y.now().UnixMilli(), 10)
	args := append([]string{u.String()}, FormatArgs(y.ffmpegOK())...)
	args = append(args, "-o", filepath.Join(dir, base+".%(ext)s"))

	y.logger.Info().Str("event", "fetch.start").Str("url", u.String()).Msg("downloading remote video")
	stderr, err := y.exec.Run(ctx, args...)
	if err != nil {
		derr := classify(stderr, err)
		y.logger.Warn().Err(derr).Str("event", "fetch.failed").Msg("remote video download failed")
		return "", derr
	}

	path, err := findOutput(dir, base)
	if err != nil {
		return "", err
	}
	y.logger.Info().Str("event", "fetch.done").Str("path", path).Msg("remote video downloaded")
	return path, nil
}

func classify(stderr []string, runErr error) *DownloadError {
	detail := strings.TrimSpace(strings.Join(stderr, "\n"))
	if detail == "" {
		detail = runErr.Error()
	}
	lower := strings.ToLower(detail)
	switch {
	case strings.Contains(lower, "ffmpeg") && (strings.Contains(lower, "not found") || strings.Contains(lower, "not installed")):
		return &DownloadError{Kind: ErrNeedsFFmpeg, Detail: detail}
	case strings.Contains(lower, "private video"),
		strings.Contains(lower, "sign in to confirm"),
		strings.Contains(lower, "age-restricted"),
		strings.Contains(lower, "members-only"),
		strings.Contains(lower, "video unavailable"):
		return &DownloadError{Kind: ErrRestricted, Detail: detail}
	default:
		return &DownloadError{Kind: ErrDownload, Detail: detail}
	}
}

// findOutput returns the merged file; yt-dlp may leave .part or .ytdl helpers next to it.
func findOutput(dir, base string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("read download dir: %w", err)
	}
	for _, e := range entries {
		name := e.Name()
		if !e.Type().IsRegular() || !strings.HasPrefix(name, base+".") {
			continue
		}
		if strings.HasSuffix(name, ".part") || strings.HasSuffix(name, ".ytdl") {
			continue
		}
		return filepath.Join(dir, name), nil
	}
	return "", ErrNoOutput
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package media

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// Prober reads container metadata with ffprobe.
type Prober struct {
	BinaryPath string
}

// NewProber returns a Prober for binaryPath (defaults to "ffprobe").
func NewProber(binaryPath string) *Prober {
	if binaryPath == "" {
		binaryPath = "ffprobe"
	}
	return &Prober{BinaryPath: binaryPath}
}

// Duration returns the container duration of path in seconds.
func (p *Prober) Duration(ctx context.Context, path string) (float64, error) {
	// #nosec G204 -- binary from config; path is a job-owned file
	cmd := exec.CommandContext(ctx, p.BinaryPath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		errStr := stderr.String()
		if len(errStr) > 4096 {
			errStr = errStr[:4096] + "..."
		}
		return 0, fmt.Errorf("ffprobe failed: %w (stderr: %s)", err, errStr)
	}
	return parseDuration(string(out))
}

func parseDuration(out string) (float64, error) {
	s := strings.TrimSpace(out)
	if s == "" || s == "N/A" {
		return 0, fmt.Errorf("ffprobe reported no duration")
	}
	d, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", s, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %v", d)
	}
	return d, nil
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package media

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrSegmentation marks every failure to split a video. Always fatal for the job.
	ErrSegmentation = errors.New("segmentation failed")
	// ErrNoChunks is returned when the transcoder succeeded but wrote no segments.
	ErrNoChunks = errors.New("no chunk files were created")
	// ErrToolMissing is returned when the transcoder binary cannot be found.
	ErrToolMissing = errors.New("transcoder not found")
)

// SegmentationError carries the failed step and the transcoder's last stderr lines.
type SegmentationError struct {
	Op     string // lookup|copy|reencode|stall|collect
	Stderr []string
	Err    error
}

func (e *SegmentationError) Error() string {
	msg := fmt.Sprintf("segment %s: %v", e.Op, e.Err)
	if len(e.Stderr) > 0 {
		msg += " (stderr: " + strings.Join(lastN(e.Stderr, 3), " | ") + ")"
	}
	return msg
}

func (e *SegmentationError) Unwrap() error { return e.Err }

// Is makes every SegmentationError match ErrSegmentation.
func (e *SegmentationError) Is(target error) bool { return target == ErrSegmentation }

func lastN(lines []string, n int) []string {
	if len(lines) <= n {
		return lines
	}
	return lines[len(lines)-n:]
}

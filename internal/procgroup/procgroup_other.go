// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

//go:build !unix

package procgroup

import (
	"errors"
	"os"
	"os/exec"
)

var errGone = os.ErrProcessDone

// Set is a no-op on platforms without process groups.
func Set(*exec.Cmd) {}

func terminate(cmd *exec.Cmd) error {
	return kill(cmd)
}

func kill(cmd *exec.Cmd) error {
	if cmd == nil || cmd.Process == nil {
		return ErrNotStarted
	}
	if err := cmd.Process.Kill(); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			return errGone
		}
		return err
	}
	return nil
}

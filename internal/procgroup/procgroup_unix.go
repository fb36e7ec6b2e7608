// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

//go:build unix

package procgroup

import (
	"errors"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

var errGone = unix.ESRCH

// Set configures the command to start in a new process group.
// Must be called before cmd.Start for Terminate to reach child processes.
func Set(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

// Signal sends sig to the process group of cmd.
// An already exited group yields an error wrapping ESRCH.
func Signal(cmd *exec.Cmd, sig unix.Signal) error {
	if cmd == nil || cmd.Process == nil {
		return ErrNotStarted
	}
	pgid, err := unix.Getpgid(cmd.Process.Pid)
	if err != nil {
		return err
	}
	// Negative pid addresses the whole group.
	if err := unix.Kill(-pgid, sig); err != nil {
		return err
	}
	return nil
}

func terminate(cmd *exec.Cmd) error {
	return Signal(cmd, unix.SIGTERM)
}

func kill(cmd *exec.Cmd) error {
	err := Signal(cmd, unix.SIGKILL)
	if err != nil && !errors.Is(err, unix.ESRCH) {
		// Fall back to the leader alone when the group is not addressable.
		if perr := cmd.Process.Kill(); perr == nil {
			return nil
		}
	}
	return err
}

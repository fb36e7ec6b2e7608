// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

//go:build unix

package procgroup

import (
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func start(t *testing.T, script string) (*exec.Cmd, <-chan error) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	cmd := exec.Command("sh", "-c", script)
	Set(cmd)
	require.NoError(t, cmd.Start())

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()
	return cmd, waitCh
}

func TestSetMakesGroupLeader(t *testing.T) {
	cmd, waitCh := start(t, "sleep 5")
	pgid, err := unix.Getpgid(cmd.Process.Pid)
	require.NoError(t, err)
	assert.Equal(t, cmd.Process.Pid, pgid)

	_ = Terminate(cmd, waitCh, time.Second)
}

func TestTerminateKillsWholeGroup(t *testing.T) {
	cmd, waitCh := start(t, "sleep 100 & sleep 100")
	pgid := cmd.Process.Pid

	err := Terminate(cmd, waitCh, 500*time.Millisecond)
	require.Error(t, err, "terminated process exits non-zero")

	assert.Eventually(t, func() bool {
		return unix.Kill(-pgid, 0) == unix.ESRCH
	}, 2*time.Second, 20*time.Millisecond, "process group should be gone")
}

func TestTerminateEscalatesToSIGKILL(t *testing.T) {
	cmd, waitCh := start(t, "trap '' TERM; sleep 100")
	// Give the shell time to install the trap.
	time.Sleep(150 * time.Millisecond)

	begin := time.Now()
	err := Terminate(cmd, waitCh, 200*time.Millisecond)
	require.Error(t, err)
	assert.GreaterOrEqual(t, time.Since(begin), 200*time.Millisecond)
}

func TestTerminateNilCommand(t *testing.T) {
	assert.NoError(t, Terminate(nil, nil, time.Millisecond))
	assert.NoError(t, Terminate(exec.Command("true"), nil, time.Millisecond))
}

func TestSignalAfterExit(t *testing.T) {
	cmd, waitCh := start(t, "exit 0")
	require.NoError(t, <-waitCh)

	err := Signal(cmd, unix.SIGTERM)
	require.Error(t, err)
	assert.Equal(t, "esrch", signalResult(err))
}

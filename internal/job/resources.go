// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package job

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/ManuGH/vidlint/internal/metrics"
	"github.com/rs/zerolog"
)

const remoteDeleteTimeout = 30 * time.Second

// remoteDeleter is the part of the inference client cleanup needs.
type remoteDeleter interface {
	Delete(ctx context.Context, name string) error
}

// resources lists everything a job acquires that must be released when it
// ends. Fields are filled in as the runner acquires them; release walks all
// of them regardless of how the job ended.
type resources struct {
	mu sync.Mutex

	// source is the temporary input copy; cleared once archived.
	source string
	// downloadDir holds remote downloads.
	downloadDir string
	// chunkDir is the job's private segment directory.
	chunkDir string
	chunks   []string
	remotes  []string
	results  interface{ Close() error }
}

func (r *resources) setSource(path string) {
	r.mu.Lock()
	r.source = path
	r.mu.Unlock()
}

func (r *resources) addRemote(name string) {
	r.mu.Lock()
	r.remotes = append(r.remotes, name)
	r.mu.Unlock()
}

// dropRemote forgets a remote handle that was already deleted.
func (r *resources) dropRemote(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, n := range r.remotes {
		if n == name {
			r.remotes = append(r.remotes[:i], r.remotes[i+1:]...)
			return
		}
	}
}

// release frees every resource and returns the number of failures. Failures
// are logged and counted, never returned.
func (r *resources) release(ctx context.Context, remote remoteDeleter, logger zerolog.Logger) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	failures := 0
	fail := func(resource, path string, err error) {
		failures++
		metrics.RecordCleanupFailure(resource)
		logger.Warn().
			Err(err).
			Str("event", "cleanup."+resource+"_failed").
			Str("path", path).
			Msg("cleanup step failed")
	}

	if remote != nil && len(r.remotes) > 0 {
		// Remote copies are deleted even when the job itself was cancelled.
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), remoteDeleteTimeout)
		for _, name := range r.remotes {
			if err := remote.Delete(dctx, name); err != nil {
				failures++
				metrics.RecordCleanupFailure("remote")
			}
		}
		cancel()
		r.remotes = nil
	}

	for _, p := range r.chunks {
		if err := removeFile(p); err != nil {
			fail("chunk", p, err)
		}
	}
	r.chunks = nil

	if r.chunkDir != "" {
		if err := os.RemoveAll(r.chunkDir); err != nil {
			fail("chunk_dir", r.chunkDir, err)
		}
		r.chunkDir = ""
	}

	if r.source != "" {
		if err := removeFile(r.source); err != nil {
			fail("source", r.source, err)
		}
		r.source = ""
	}

	if r.downloadDir != "" {
		if err := os.RemoveAll(r.downloadDir); err != nil {
			fail("download_dir", r.downloadDir, err)
		}
		r.downloadDir = ""
	}

	if r.results != nil {
		if err := r.results.Close(); err != nil {
			fail("results", "", err)
		}
		r.results = nil
	}
	return failures
}

func removeFile(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

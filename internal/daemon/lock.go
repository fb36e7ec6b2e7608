// SPDX-License-Identifier: MIT

package daemon

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// LockFileName is created inside the history directory.
const LockFileName = ".vidlint.lock"

// Lock is an exclusive advisory lock on a history directory.
type Lock struct {
	fl *flock.Flock
}

// AcquireLock takes the lock for dir without blocking. It returns ErrLocked
// when another process holds it.
func AcquireLock(dir string) (*Lock, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create %s: %w", dir, err)
	}
	fl := flock.New(filepath.Join(dir, LockFileName))
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", fl.Path(), err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLocked, dir)
	}
	return &Lock{fl: fl}, nil
}

// Path returns the lock file path.
func (l *Lock) Path() string { return l.fl.Path() }

// Release drops the lock. The lock file stays on disk.
func (l *Lock) Release() error {
	return l.fl.Unlock()
}

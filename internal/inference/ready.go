// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package inference

import (
	"context"
	"errors"
	"time"
)

// AwaitReady polls Status every interval until the file is ACTIVE.
// FAILED, DELETED and timeout all yield a *ReadyError. Transient status
// errors are tolerated until the timeout.
func AwaitReady(ctx context.Context, svc Service, name string, interval, timeout time.Duration) (File, error) {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := StateUnspecified
	for {
		f, err := svc.Status(waitCtx, name)
		switch {
		case err == nil:
			last = f.State
			switch f.State {
			case StateActive:
				return f, nil
			case StateFailed, StateDeleted:
				return File{}, &ReadyError{Name: name, State: f.State}
			}
		case ctx.Err() != nil:
			return File{}, ctx.Err()
		case errors.Is(err, context.DeadlineExceeded) && waitCtx.Err() != nil:
			return File{}, &ReadyError{Name: name, State: last, Timeout: true}
		case !IsTransient(err):
			return File{}, err
		}

		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return File{}, ctx.Err()
			}
			return File{}, &ReadyError{Name: name, State: last, Timeout: true}
		case <-ticker.C:
		}
	}
}

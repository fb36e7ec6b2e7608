// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package inference

import (
	"context"
	"fmt"
	"time"

	"github.com/ManuGH/vidlint/internal/metrics"
)

// RetryPolicy bounds retries of transient failures with exponential backoff.
type RetryPolicy struct {
	Attempts  int
	BaseDelay time.Duration
}

// DefaultRetryPolicy makes 3 attempts, waiting 2s then 4s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, BaseDelay: 2 * time.Second}
}

// OnRetry is called before each backoff wait with the upcoming attempt number.
type OnRetry func(nextAttempt int, delay time.Duration, err error)

// Delay returns the wait after the given failed attempt (1-based): base, 2*base, 4*base...
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return p.BaseDelay << (attempt - 1)
}

// Retry calls fn until it succeeds, fails permanently, or attempts run out.
// Only *TransientError failures are retried.
func Retry[T any](ctx context.Context, p RetryPolicy, op string, onRetry OnRetry, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 1; ; attempt++ {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		if attempt >= attempts || !IsTransient(err) || ctx.Err() != nil {
			if attempt > 1 {
				return zero, fmt.Errorf("%s failed after %d attempts: %w", op, attempt, err)
			}
			return zero, err
		}

		delay := p.Delay(attempt)
		if onRetry != nil {
			onRetry(attempt+1, delay, err)
		}
		metrics.RecordInferenceRetry(op)

		if werr := sleep(ctx, delay); werr != nil {
			return zero, fmt.Errorf("%s retry aborted: %w", op, err)
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Package retry runs an operation with a bounded number of attempts and a
// fixed pause between them.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Policy configures Do. MaxRetries counts retries, so an operation runs at
// most MaxRetries+1 times.
type Policy struct {
	MaxRetries int
	Delay      time.Duration

	// OnRetry, when set, sees every intermediate failure before the pause.
	OnRetry func(attempt int, err error)
}

var sleepFn = func(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do calls op until it succeeds or attempts run out, returning the most
// recent error. A cancelled ctx stops waiting between attempts.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context, attempt int) (T, error)) (T, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	maxRetries := p.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	var (
		zero    T
		lastErr error
	)
	for attempt := 1; attempt <= maxRetries+1; attempt++ {
		result, err := op(ctx, attempt)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if attempt > maxRetries {
			break
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, err)
		}
		if waitErr := sleepFn(ctx, p.Delay); waitErr != nil {
			return zero, errors.Join(lastErr, fmt.Errorf("retry aborted after attempt %d: %w", attempt, waitErr))
		}
	}
	return zero, lastErr
}

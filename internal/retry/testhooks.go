package retry

import (
	"context"
	"time"
)

// SetSleepFn replaces the pause between attempts, e.g. to record delays in tests.
func SetSleepFn(fn func(context.Context, time.Duration) error) (restore func()) {
	prev := sleepFn
	if fn != nil {
		sleepFn = fn
	}
	return func() { sleepFn = prev }
}

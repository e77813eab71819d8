package executor

import (
	"context"
	"time"
)

// SetSleepFn replaces the pacing sleep between tasks.
func SetSleepFn(fn func(context.Context, time.Duration) error) (restore func()) {
	prev := sleepFn
	if fn != nil {
		sleepFn = fn
	}
	return func() { sleepFn = prev }
}

// SetLogFuncs redirects run logging, typically to capture it in tests. Nil
// arguments leave the current hook in place.
func SetLogFuncs(info, warn, errorFn func(string)) (restore func()) {
	prevInfo, prevWarn, prevError := logInfo, logWarn, logError
	if info != nil {
		logInfo = info
	}
	if warn != nil {
		logWarn = warn
	}
	if errorFn != nil {
		logError = errorFn
	}
	return func() {
		logInfo, logWarn, logError = prevInfo, prevWarn, prevError
	}
}

package executor

import (
	"context"
	"time"

	ilogger "tablegen/internal/logger"
)

var (
	logInfo  = ilogger.LogInfo
	logWarn  = ilogger.LogWarn
	logError = ilogger.LogError
	logDebug = ilogger.LogDebug
)

var sleepFn = func(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
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

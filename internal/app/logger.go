package app

import (
	"fmt"
	"io"

	"tablegen/internal/backend"
	config "tablegen/internal/config"
	ilogger "tablegen/internal/logger"
)

func logInfo(msg string) { ilogger.LogInfo(msg) }

func logWarn(msg string) { ilogger.LogWarn(msg) }

func logError(msg string) { ilogger.LogError(msg) }

var (
	cleanupOldLogsFn   = ilogger.CleanupOldLogs
	startupCleanupHook = func() {}
)

// runWithLogger installs a per-process log file for the duration of fn. On a
// non-zero exit the most recent errors are echoed to stderr and the log is
// kept for inspection; otherwise it is removed.
func runWithLogger(command string, stderr io.Writer, fn func() int) (exitCode int) {
	logger, err := ilogger.NewLoggerWithSuffix(command)
	if err != nil {
		fmt.Fprintf(stderr, "ERROR: failed to initialize logger: %v\n", err)
		return 1
	}
	ilogger.SetLogger(logger)
	backend.SetLogFuncs(logWarn, logError)
	defer backend.SetLogFuncs(nil, nil)

	defer func() {
		logger := ilogger.ActiveLogger()
		if logger != nil {
			logger.Flush()
		}
		if err := ilogger.CloseLogger(); err != nil {
			fmt.Fprintf(stderr, "ERROR: failed to close logger: %v\n", err)
		}
		if logger == nil {
			return
		}

		if exitCode != 0 && exitCode != exitInterrupted {
			if entries := logger.ExtractRecentErrors(10); len(entries) > 0 {
				fmt.Fprintln(stderr, "\n=== Recent Errors ===")
				for _, entry := range entries {
					fmt.Fprintln(stderr, entry)
				}
			}
			fmt.Fprintf(stderr, "Log file: %s\n", logger.Path())
			return
		}
		_ = logger.RemoveLogFile()
	}()

	scheduleStartupCleanup()
	logInfo(fmt.Sprintf("%s %s: %s started", ilogger.AppName, version, command))
	return fn()
}

// scheduleStartupCleanup removes logs left behind by dead processes. It can be
// turned off with TABLEGEN_CLEANUP_ON_START=0.
func scheduleStartupCleanup() {
	if !config.EnvFlagDefaultTrue("TABLEGEN_CLEANUP_ON_START") {
		return
	}
	stats, err := cleanupOldLogsFn()
	if err != nil {
		logWarn(fmt.Sprintf("startup log cleanup: %v", err))
	} else if stats.Deleted > 0 {
		logInfo(fmt.Sprintf("startup log cleanup removed %d stale log(s)", stats.Deleted))
	}
	startupCleanupHook()
}

func runCleanupMode(stdout, stderr io.Writer) int {
	stats, err := cleanupOldLogsFn()
	if err != nil {
		fmt.Fprintf(stderr, "Cleanup failed: %v\n", err)
		return 1
	}

	fmt.Fprintln(stdout, "Cleanup completed")
	fmt.Fprintf(stdout, "Files scanned: %d\n", stats.Scanned)
	fmt.Fprintf(stdout, "Files deleted: %d\n", stats.Deleted)
	for _, f := range stats.DeletedFiles {
		fmt.Fprintf(stdout, "  - %s\n", f)
	}
	fmt.Fprintf(stdout, "Files kept: %d\n", stats.Kept)
	for _, f := range stats.KeptFiles {
		fmt.Fprintf(stdout, "  - %s\n", f)
	}
	if stats.Errors > 0 {
		fmt.Fprintf(stdout, "Deletion errors: %d\n", stats.Errors)
	}
	return 0
}

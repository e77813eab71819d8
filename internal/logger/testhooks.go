package logger

import (
	"os"
	"time"
)

// CleanupHooks replaces the process and filesystem checks CleanupOldLogs
// relies on. Nil fields leave the current check in place.
type CleanupHooks struct {
	ProcessRunning   func(pid int) bool
	ProcessStartTime func(pid int) time.Time
	RemoveFile       func(path string) error
	Glob             func(pattern string) ([]string, error)
	Stat             func(path string) (os.FileInfo, error)
	EvalSymlinks     func(path string) (string, error)
}

func currentCleanupHooks() CleanupHooks {
	return CleanupHooks{
		ProcessRunning:   processRunningCheck,
		ProcessStartTime: processStartTimeFn,
		RemoveFile:       removeLogFileFn,
		Glob:             globLogFiles,
		Stat:             fileStatFn,
		EvalSymlinks:     evalSymlinksFn,
	}
}

func installCleanupHooks(h CleanupHooks) {
	if h.ProcessRunning != nil {
		processRunningCheck = h.ProcessRunning
	}
	if h.ProcessStartTime != nil {
		processStartTimeFn = h.ProcessStartTime
	}
	if h.RemoveFile != nil {
		removeLogFileFn = h.RemoveFile
	}
	if h.Glob != nil {
		globLogFiles = h.Glob
	}
	if h.Stat != nil {
		fileStatFn = h.Stat
	}
	if h.EvalSymlinks != nil {
		evalSymlinksFn = h.EvalSymlinks
	}
}

// SetCleanupHooks installs h and returns a func that puts the previous
// checks back.
func SetCleanupHooks(h CleanupHooks) (restore func()) {
	prev := currentCleanupHooks()
	installCleanupHooks(h)
	return func() { installCleanupHooks(prev) }
}

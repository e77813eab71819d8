package logger

import "sync/atomic"

// The process-wide logger used by the package-level Log* helpers. Until
// SetLogger is called the helpers drop their messages.
var active atomic.Pointer[Logger]

func SetLogger(l *Logger) { active.Store(l) }

func ActiveLogger() *Logger { return active.Load() }

// CloseLogger detaches and closes the active logger. The file stays on disk.
func CloseLogger() error {
	if l := active.Swap(nil); l != nil {
		return l.Close()
	}
	return nil
}

// The helpers rely on *Logger methods tolerating a nil receiver.

func LogDebug(msg string) { ActiveLogger().Debug(msg) }

func LogInfo(msg string) { ActiveLogger().Info(msg) }

func LogWarn(msg string) { ActiveLogger().Warn(msg) }

func LogError(msg string) { ActiveLogger().Error(msg) }

func logWarn(msg string) { LogWarn(msg) }

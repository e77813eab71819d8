// Package logger writes a per-process JSON log file and keeps the latest
// warnings and errors in memory for the end-of-run summary.
package logger

import (
	"errors"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

const maxErrorEntries = 100

// Logger is safe for concurrent use. A nil *Logger ignores every call.
type Logger struct {
	path string
	file *os.File
	zl   zerolog.Logger

	mu      sync.Mutex
	closed  bool
	entries []string
}

// NewLogger creates $TMPDIR/tablegen-<pid>.log.
func NewLogger() (*Logger, error) {
	return newLogger("")
}

// NewLoggerWithSuffix creates $TMPDIR/tablegen-<pid>-<suffix>.log, so one
// process can keep several logs apart.
func NewLoggerWithSuffix(suffix string) (*Logger, error) {
	return newLogger(sanitizeLogSuffix(suffix))
}

func newLogger(suffix string) (*Logger, error) {
	name := fmt.Sprintf("%s-%d", PrimaryLogPrefix(), os.Getpid())
	if suffix != "" {
		name += "-" + suffix
	}
	path := filepath.Join(os.TempDir(), name+".log")

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	zl := zerolog.New(f).
		Level(zerolog.DebugLevel).
		With().
		Timestamp().
		Int("pid", os.Getpid()).
		Logger()

	return &Logger{path: path, file: f, zl: zl}, nil
}

func (l *Logger) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

func (l *Logger) Debug(msg string) { l.write(zerolog.DebugLevel, msg) }
func (l *Logger) Info(msg string)  { l.write(zerolog.InfoLevel, msg) }
func (l *Logger) Warn(msg string)  { l.write(zerolog.WarnLevel, msg) }
func (l *Logger) Error(msg string) { l.write(zerolog.ErrorLevel, msg) }

func (l *Logger) write(level zerolog.Level, msg string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	if level >= zerolog.WarnLevel {
		l.entries = append(l.entries, msg)
		if len(l.entries) > maxErrorEntries {
			l.entries = l.entries[len(l.entries)-maxErrorEntries:]
		}
	}
	l.zl.WithLevel(level).Msg(msg)
}

// Flush syncs the log file to disk.
func (l *Logger) Flush() {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed || l.file == nil {
		return
	}
	_ = l.file.Sync()
}

// Close stops further writes. The file is kept for inspection.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

// RemoveLogFile deletes the log file. A missing file is not an error.
func (l *Logger) RemoveLogFile() error {
	if l == nil || l.path == "" {
		return nil
	}
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// ExtractRecentErrors returns up to maxEntries of the latest warning and
// error messages, oldest first.
func (l *Logger) ExtractRecentErrors(maxEntries int) []string {
	if l == nil || maxEntries <= 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.entries) == 0 {
		return nil
	}
	start := 0
	if len(l.entries) > maxEntries {
		start = len(l.entries) - maxEntries
	}
	return append([]string(nil), l.entries[start:]...)
}

// sanitizeLogSuffix maps arbitrary text to a file-name-safe suffix. Inputs
// that differ only in characters it strips get a short hash to stay distinct.
func sanitizeLogSuffix(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		case r == '-' || r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := strings.Trim(b.String(), "-.")
	if out == "" {
		out = "log"
	}
	if out != raw {
		h := fnv.New32a()
		_, _ = h.Write([]byte(raw))
		out = fmt.Sprintf("%s-%08x", out, h.Sum32())
	}
	return out
}

func SanitizeLogSuffix(raw string) string { return sanitizeLogSuffix(raw) }

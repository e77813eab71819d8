package logger

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// CleanupStats reports what CleanupOldLogs did.
type CleanupStats struct {
	Scanned      int
	Deleted      int
	Kept         int
	Errors       int
	DeletedFiles []string
	KeptFiles    []string
}

var (
	processRunningCheck = isProcessRunning
	processStartTimeFn  = getProcessStartTime
	removeLogFileFn     = os.Remove
	globLogFiles        = filepath.Glob
	fileStatFn          = os.Lstat
	evalSymlinksFn      = filepath.EvalSymlinks
)

// A log whose owner start time is unknown is treated as orphaned once older
// than this.
const unknownStartMaxAge = 7 * 24 * time.Hour

// CleanupOldLogs removes log files left behind by processes that are gone.
func CleanupOldLogs() (CleanupStats, error) { return cleanupOldLogs() }

func cleanupOldLogs() (CleanupStats, error) {
	var stats CleanupStats
	tempDir := os.TempDir()

	var matches []string
	for _, prefix := range LogPrefixes() {
		found, err := globLogFiles(filepath.Join(tempDir, prefix+"-*.log"))
		if err != nil {
			logWarn(fmt.Sprintf("cleanupOldLogs: glob failed: %v", err))
			return stats, fmt.Errorf("cleanupOldLogs: %w", err)
		}
		matches = append(matches, found...)
	}

	var errs []error
	for _, path := range matches {
		stats.Scanned++
		pid, ok := parsePIDFromLog(path)
		if !ok {
			stats.Kept++
			stats.KeptFiles = append(stats.KeptFiles, filepath.Base(path))
			continue
		}

		if unsafe, reason := isUnsafeFile(path, tempDir); unsafe {
			logWarn(fmt.Sprintf("cleanupOldLogs: skipping %s: %s", path, reason))
			stats.Kept++
			stats.KeptFiles = append(stats.KeptFiles, filepath.Base(path))
			continue
		}

		if processRunningCheck(pid) && !isPIDReused(path, pid) {
			stats.Kept++
			stats.KeptFiles = append(stats.KeptFiles, filepath.Base(path))
			continue
		}

		if err := removeLogFileFn(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				stats.Deleted++
				stats.DeletedFiles = append(stats.DeletedFiles, filepath.Base(path))
				continue
			}
			stats.Errors++
			logWarn(fmt.Sprintf("cleanupOldLogs: failed to remove %s: %v", path, err))
			errs = append(errs, fmt.Errorf("failed to remove %s: %w", path, err))
			continue
		}
		stats.Deleted++
		stats.DeletedFiles = append(stats.DeletedFiles, filepath.Base(path))
	}

	if len(errs) > 0 {
		return stats, fmt.Errorf("cleanupOldLogs: %w", errors.Join(errs...))
	}
	return stats, nil
}

// isUnsafeFile refuses symlinks and anything resolving outside tempDir.
func isUnsafeFile(path, tempDir string) (bool, string) {
	info, err := fileStatFn(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, ""
		}
		return true, fmt.Sprintf("stat failed: %v", err)
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return true, "refusing to delete symlink"
	}

	resolved, err := evalSymlinksFn(path)
	if err != nil {
		return true, fmt.Sprintf("path resolution failed: %v", err)
	}
	base, err := filepath.Abs(tempDir)
	if err != nil {
		return true, fmt.Sprintf("tempDir resolution failed: %v", err)
	}
	if evalBase, err := filepath.EvalSymlinks(base); err == nil {
		base = evalBase
	}
	rel, err := filepath.Rel(filepath.Clean(base), filepath.Clean(resolved))
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return true, "file is outside tempDir"
	}
	return false, ""
}

// isPIDReused reports whether the running process with pid is probably not
// the one that wrote the log.
func isPIDReused(path string, pid int) bool {
	info, err := fileStatFn(path)
	if err != nil {
		return false
	}
	start := processStartTimeFn(pid)
	if start.IsZero() {
		return time.Since(info.ModTime()) > unknownStartMaxAge
	}
	return start.After(info.ModTime())
}

// parsePIDFromLog reads the pid out of "<prefix>-<pid>[-suffix].log".
func parsePIDFromLog(path string) (int, bool) {
	name := filepath.Base(path)
	for _, prefix := range LogPrefixes() {
		rest, ok := strings.CutPrefix(name, prefix+"-")
		if !ok {
			continue
		}
		rest = strings.TrimSuffix(rest, ".log")
		digits := rest
		if i := strings.IndexByte(rest, '-'); i >= 0 {
			digits = rest[:i]
		}
		if digits == "" {
			return 0, false
		}
		pid, err := strconv.ParseInt(digits, 10, 64)
		if err != nil || pid <= 0 || pid > math.MaxInt32 {
			return 0, false
		}
		return int(pid), true
	}
	return 0, false
}

func toPID32(pid int) (int32, bool) {
	if pid <= 0 || pid > math.MaxInt32 {
		return 0, false
	}
	return int32(pid), true
}

// isProcessRunning errs on the side of "running" when the process table
// cannot be read, so a live process never loses its log.
func isProcessRunning(pid int) bool {
	pid32, ok := toPID32(pid)
	if !ok {
		return false
	}
	exists, err := process.PidExists(pid32)
	switch {
	case err == nil:
		return exists
	case errors.Is(err, process.ErrorProcessNotRunning):
		return false
	default:
		return true
	}
}

// getProcessStartTime returns the zero time when it cannot tell.
func getProcessStartTime(pid int) time.Time {
	pid32, ok := toPID32(pid)
	if !ok {
		return time.Time{}
	}
	proc, err := process.NewProcess(pid32)
	if err != nil {
		return time.Time{}
	}
	ms, err := proc.CreateTime()
	if err != nil || ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

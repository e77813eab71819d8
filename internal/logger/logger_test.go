package logger

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"
)

func useTempDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if resolved, err := filepath.EvalSymlinks(dir); err == nil {
		dir = resolved
	}
	t.Setenv("TMPDIR", dir)
	return dir
}

func readEntries(t *testing.T, path string) []map[string]any {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var out []map[string]any
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		out = append(out, m)
	}
	require.NoError(t, sc.Err())
	return out
}

func TestNewLoggerNamesFileAfterPID(t *testing.T) {
	dir := useTempDir(t)

	l, err := NewLogger()
	require.NoError(t, err)
	defer l.RemoveLogFile()
	defer l.Close()
	require.Equal(t, filepath.Join(dir, fmt.Sprintf("%s-%d.log", AppName, os.Getpid())), l.Path())

	s, err := NewLoggerWithSuffix("run")
	require.NoError(t, err)
	defer s.RemoveLogFile()
	defer s.Close()
	require.True(t, strings.HasSuffix(s.Path(), fmt.Sprintf("-%d-run.log", os.Getpid())))
}

func TestLoggerWritesJSONLines(t *testing.T) {
	useTempDir(t)
	l, err := NewLogger()
	require.NoError(t, err)
	defer l.RemoveLogFile()

	l.Debug("d")
	l.Info("i")
	l.Warn("w")
	l.Error("e")
	l.Flush()
	require.NoError(t, l.Close())

	entries := readEntries(t, l.Path())
	require.Len(t, entries, 4)
	levels := make([]string, 0, len(entries))
	for _, e := range entries {
		levels = append(levels, e["level"].(string))
		require.EqualValues(t, os.Getpid(), e["pid"])
		require.NotEmpty(t, e["time"])
	}
	require.Equal(t, []string{"debug", "info", "warn", "error"}, levels)
	require.Equal(t, "e", entries[3]["message"])
}

func TestLoggerCloseStopsWritesAndKeepsFile(t *testing.T) {
	useTempDir(t)
	l, err := NewLogger()
	require.NoError(t, err)

	l.Info("before")
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())
	l.Error("after")
	l.Flush()

	require.Len(t, readEntries(t, l.Path()), 1)
	require.Empty(t, l.ExtractRecentErrors(5))

	require.NoError(t, l.RemoveLogFile())
	_, err = os.Stat(l.Path())
	require.True(t, errors.Is(err, os.ErrNotExist))
	require.NoError(t, l.RemoveLogFile())
}

func TestNilLoggerIsInert(t *testing.T) {
	var l *Logger
	l.Info("x")
	l.Flush()
	require.Empty(t, l.Path())
	require.NoError(t, l.Close())
	require.NoError(t, l.RemoveLogFile())
	require.Nil(t, l.ExtractRecentErrors(3))
}

func TestActiveLoggerHelpers(t *testing.T) {
	useTempDir(t)
	LogInfo("dropped: no active logger")

	l, err := NewLogger()
	require.NoError(t, err)
	defer l.RemoveLogFile()

	SetLogger(l)
	require.Same(t, l, ActiveLogger())
	LogDebug("debug")
	LogWarn("warned")
	LogError("failed")
	require.NoError(t, CloseLogger())
	require.Nil(t, ActiveLogger())
	require.NoError(t, CloseLogger())

	require.Equal(t, []string{"warned", "failed"}, l.ExtractRecentErrors(10))
	require.Len(t, readEntries(t, l.Path()), 3)
}

func TestLoggerConcurrentWrites(t *testing.T) {
	useTempDir(t)
	l, err := NewLogger()
	require.NoError(t, err)
	defer l.RemoveLogFile()

	const goroutines, each = 8, 50
	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < each; i++ {
				l.Warn(fmt.Sprintf("g%d-%d", g, i))
			}
		}(g)
	}
	wg.Wait()
	require.NoError(t, l.Close())
	require.Len(t, readEntries(t, l.Path()), goroutines*each)
}

func TestExtractRecentErrors(t *testing.T) {
	useTempDir(t)
	l, err := NewLogger()
	require.NoError(t, err)
	defer l.RemoveLogFile()
	defer l.Close()

	for i := 0; i < maxErrorEntries+20; i++ {
		l.Error(fmt.Sprintf("err-%d", i))
		l.Info("noise")
	}

	tests := []struct {
		max  int
		want []string
	}{
		{0, nil},
		{-1, nil},
		{2, []string{fmt.Sprintf("err-%d", maxErrorEntries+18), fmt.Sprintf("err-%d", maxErrorEntries+19)}},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, l.ExtractRecentErrors(tt.max), "max=%d", tt.max)
	}

	all := l.ExtractRecentErrors(1000)
	require.Len(t, all, maxErrorEntries)
	require.Equal(t, "err-20", all[0])
}

func TestSanitizeLogSuffix(t *testing.T) {
	require.Equal(t, "run", SanitizeLogSuffix("run"))
	require.Equal(t, "job_v2.1", SanitizeLogSuffix("job_v2.1"))
	require.True(t, strings.HasPrefix(SanitizeLogSuffix(""), "log-"))

	seen := map[string]string{}
	for _, in := range []string{"a/b", "a b", "a_b", "a:b", "../x", "中文"} {
		out := SanitizeLogSuffix(in)
		require.NotContains(t, out, "/")
		require.NotContains(t, out, " ")
		if prev, dup := seen[out]; dup {
			t.Fatalf("%q and %q both map to %q", prev, in, out)
		}
		seen[out] = in
	}
}

func TestParsePIDFromLog(t *testing.T) {
	tests := []struct {
		name   string
		pid    int
		wantOK bool
	}{
		{"tablegen-123.log", 123, true},
		{"tablegen-77-run.log", 77, true},
		{"/tmp/tablegen-9-a-b.log", 9, true},
		{"tablegen-.log", 0, false},
		{"tablegen-abc.log", 0, false},
		{"tablegen-0.log", 0, false},
		{"tablegen-99999999999.log", 0, false},
		{"other-123.log", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pid, ok := parsePIDFromLog(tt.name)
			require.Equal(t, tt.wantOK, ok)
			require.Equal(t, tt.pid, pid)
		})
	}
}

type fakeFileInfo struct {
	modTime time.Time
	mode    os.FileMode
}

func (f fakeFileInfo) Name() string       { return "fake" }
func (f fakeFileInfo) Size() int64        { return 0 }
func (f fakeFileInfo) Mode() os.FileMode  { return f.mode }
func (f fakeFileInfo) ModTime() time.Time { return f.modTime }
func (f fakeFileInfo) IsDir() bool        { return false }
func (f fakeFileInfo) Sys() any           { return nil }

func TestIsPIDReused(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name    string
		modTime time.Time
		start   time.Time
		statErr error
		want    bool
	}{
		{"process started after log was written", now.Add(-time.Hour), now, nil, true},
		{"process older than log", now, now.Add(-time.Hour), nil, false},
		{"unknown start, fresh log", now.Add(-time.Hour), time.Time{}, nil, false},
		{"unknown start, week-old log", now.Add(-8 * 24 * time.Hour), time.Time{}, nil, true},
		{"stat fails", now, now, errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Cleanup(SetCleanupHooks(CleanupHooks{
				Stat: func(string) (os.FileInfo, error) {
					if tt.statErr != nil {
						return nil, tt.statErr
					}
					return fakeFileInfo{modTime: tt.modTime}, nil
				},
				ProcessStartTime: func(int) time.Time { return tt.start },
			}))
			require.Equal(t, tt.want, isPIDReused("tablegen-1.log", 1))
		})
	}
}

func TestIsUnsafeFile(t *testing.T) {
	dir := useTempDir(t)
	inside := filepath.Join(dir, "tablegen-1.log")
	require.NoError(t, os.WriteFile(inside, nil, 0o600))

	unsafe, _ := isUnsafeFile(inside, dir)
	require.False(t, unsafe)

	unsafe, _ = isUnsafeFile(filepath.Join(dir, "gone.log"), dir)
	require.False(t, unsafe)

	outside := filepath.Join(t.TempDir(), "tablegen-2.log")
	require.NoError(t, os.WriteFile(outside, nil, 0o600))
	link := filepath.Join(dir, "tablegen-2.log")
	if err := os.Symlink(outside, link); err == nil {
		unsafe, reason := isUnsafeFile(link, dir)
		require.True(t, unsafe)
		require.Contains(t, reason, "symlink")
	}

	t.Run("resolves outside", func(t *testing.T) {
		t.Cleanup(SetCleanupHooks(CleanupHooks{EvalSymlinks: func(string) (string, error) { return outside, nil }}))
		unsafe, reason := isUnsafeFile(inside, dir)
		require.True(t, unsafe)
		require.Contains(t, reason, "outside tempDir")
	})

	t.Run("stat error", func(t *testing.T) {
		t.Cleanup(SetCleanupHooks(CleanupHooks{Stat: func(string) (os.FileInfo, error) { return nil, os.ErrPermission }}))
		unsafe, reason := isUnsafeFile(inside, dir)
		require.True(t, unsafe)
		require.Contains(t, reason, "stat failed")
	})
}

func createLog(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("{}\n"), 0o600))
	return path
}

func TestCleanupOldLogs(t *testing.T) {
	dir := useTempDir(t)
	orphan := createLog(t, dir, "tablegen-111.log")
	orphanSuffixed := createLog(t, dir, "tablegen-111-run.log")
	alive := createLog(t, dir, "tablegen-222.log")
	reused := createLog(t, dir, "tablegen-333.log")
	invalid := createLog(t, dir, "tablegen-notapid.log")
	createLog(t, dir, "unrelated-111.log")

	logTime := time.Now()
	t.Cleanup(SetCleanupHooks(CleanupHooks{
		ProcessRunning: func(pid int) bool { return pid == 222 || pid == 333 },
		ProcessStartTime: func(pid int) time.Time {
			if pid == 333 {
				return logTime.Add(time.Hour)
			}
			return logTime.Add(-time.Hour)
		},
	}))

	stats, err := CleanupOldLogs()
	require.NoError(t, err)
	require.Equal(t, 5, stats.Scanned)
	require.Equal(t, 3, stats.Deleted)
	require.Equal(t, 2, stats.Kept)
	require.ElementsMatch(t, []string{filepath.Base(orphan), filepath.Base(orphanSuffixed), filepath.Base(reused)}, stats.DeletedFiles)
	require.ElementsMatch(t, []string{filepath.Base(alive), filepath.Base(invalid)}, stats.KeptFiles)

	for _, p := range []string{alive, invalid} {
		_, err := os.Stat(p)
		require.NoError(t, err)
	}
	_, err = os.Stat(orphan)
	require.True(t, errors.Is(err, os.ErrNotExist))
}

func TestCleanupOldLogsKeepsCurrentProcessLog(t *testing.T) {
	useTempDir(t)
	l, err := NewLogger()
	require.NoError(t, err)
	defer l.RemoveLogFile()
	defer l.Close()

	stats, err := CleanupOldLogs()
	require.NoError(t, err)
	require.Zero(t, stats.Deleted)
	_, err = os.Stat(l.Path())
	require.NoError(t, err)
}

func TestCleanupOldLogsFailures(t *testing.T) {
	t.Run("glob error", func(t *testing.T) {
		useTempDir(t)
		t.Cleanup(SetCleanupHooks(CleanupHooks{Glob: func(string) ([]string, error) { return nil, errors.New("bad pattern") }}))
		_, err := CleanupOldLogs()
		require.ErrorContains(t, err, "bad pattern")
	})

	t.Run("remove errors", func(t *testing.T) {
		dir := useTempDir(t)
		createLog(t, dir, "tablegen-1.log")
		createLog(t, dir, "tablegen-2.log")
		t.Cleanup(SetCleanupHooks(CleanupHooks{
			ProcessRunning: func(int) bool { return false },
			RemoveFile: func(path string) error {
				if strings.HasSuffix(path, "-1.log") {
					return os.ErrNotExist
				}
				return os.ErrPermission
			},
		}))

		stats, err := CleanupOldLogs()
		require.Error(t, err)
		require.Equal(t, 1, stats.Deleted)
		require.Equal(t, 1, stats.Errors)
	})

	t.Run("empty dir", func(t *testing.T) {
		useTempDir(t)
		stats, err := CleanupOldLogs()
		require.NoError(t, err)
		require.Equal(t, CleanupStats{}, stats)
	})
}

package table

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/simplifiedchinese"
)

func TestAppendRowBackfillsColumns(t *testing.T) {
	tb := New("a")
	tb.AppendRow(map[string]string{"a": "1"})
	tb.AppendRow(map[string]string{"a": "2", "b": "x"})

	require.Equal(t, []string{"a", "b"}, tb.Columns())
	r0, err := tb.Row(0)
	require.NoError(t, err)
	require.Equal(t, Row{"a": "1", "b": ""}, r0)

	_, err = tb.Row(2)
	require.Error(t, err)

	tb.AppendRow(map[string]string{"z": "1", "c": "2", "m": "3"})
	require.Equal(t, []string{"a", "b", "c", "m", "z"}, tb.Columns())
	r0, _ = tb.Row(0)
	require.Equal(t, "", r0["m"])
}

func TestRowReturnsCopy(t *testing.T) {
	tb := New("a")
	tb.AppendRow(map[string]string{"a": "1"})
	r, _ := tb.Row(0)
	r["a"] = "changed"
	v, _ := tb.Cell(0, "a")
	require.Equal(t, "1", v)
}

func TestSetCellAndEnsureColumn(t *testing.T) {
	tb := New("a")
	tb.AppendRow(map[string]string{"a": "1"})

	require.Error(t, tb.SetCell(0, "missing", "x"))
	require.Error(t, tb.SetCell(5, "a", "x"))

	created, err := tb.EnsureColumn("out")
	require.NoError(t, err)
	require.True(t, created)
	created, err = tb.EnsureColumn("out")
	require.NoError(t, err)
	require.False(t, created)

	require.NoError(t, tb.SetCell(0, "out", "value"))
	v, ok := tb.Cell(0, "out")
	require.True(t, ok)
	require.Equal(t, "value", v)

	_, err = tb.EnsureColumn("")
	require.Error(t, err)
}

func TestConcurrentWrites(t *testing.T) {
	tb := New("in")
	for i := 0; i < 50; i++ {
		tb.AppendRow(map[string]string{"in": "x"})
	}
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = tb.EnsureColumn("out")
			_ = tb.SetCell(i, "out", "done")
			_ = tb.Snapshot()
		}(i)
	}
	wg.Wait()
	for _, r := range tb.Snapshot().Rows {
		require.Equal(t, "done", r["out"])
	}
}

func TestReadJSONL(t *testing.T) {
	in := "\xef\xbb\xbf{\"name\":\"a\",\"n\":1.5,\"ok\":true,\"tags\":[\"x\",\"<y>\"],\"z\":null}\n\n{\"name\":\"b\",\"extra\":\"e\"}\n"
	tb, err := ReadJSONL(strings.NewReader(in))
	require.NoError(t, err)
	require.Equal(t, 2, tb.RowCount())
	require.Equal(t, []string{"n", "name", "ok", "tags", "z", "extra"}, tb.Columns())

	r0, _ := tb.Row(0)
	require.Equal(t, "1.5", r0["n"])
	require.Equal(t, "true", r0["ok"])
	require.Equal(t, `["x","<y>"]`, r0["tags"])
	require.Equal(t, "", r0["z"])
	require.Equal(t, "", r0["extra"])

	_, err = ReadJSONL(strings.NewReader("{\"a\":1}\n[1]\n"))
	require.ErrorContains(t, err, "line 2")
}

func TestJSONLRoundTripKeepsColumnOrder(t *testing.T) {
	tb := New("q", "answer")
	tb.AppendRow(map[string]string{"q": "what?", "answer": "错误: timeout"})

	var buf bytes.Buffer
	require.NoError(t, tb.WriteJSONL(&buf))
	require.True(t, strings.HasPrefix(buf.String(), `{"q":"what?","answer":`))

	back, err := ReadJSONL(&buf)
	require.NoError(t, err)
	r, _ := back.Row(0)
	require.Equal(t, "错误: timeout", r["answer"])
}

func TestSaveJSONL(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.jsonl")
	tb := New("a")
	tb.AppendRow(map[string]string{"a": "1"})
	require.NoError(t, tb.SaveJSONL(path))

	loaded, err := LoadJSONL(path)
	require.NoError(t, err)
	require.Equal(t, 1, loaded.RowCount())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func TestLongTextColumn(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "doc1.txt"), []byte("第一段长文本内容，用于测试预览"))
	writeFile(t, filepath.Join(dir, "nested", "doc2.md"), []byte("# heading\nbody"))
	writeFile(t, filepath.Join(dir, "blank.txt"), []byte("   \n"))
	writeFile(t, filepath.Join(dir, "ignored.csv"), []byte("a,b"))
	gbk, err := simplifiedchinese.GBK.NewEncoder().Bytes([]byte("中文内容"))
	require.NoError(t, err)
	writeFile(t, filepath.Join(dir, "legacy.txt"), gbk)

	tb := New("file")
	for _, f := range []string{"doc1", "doc2", "blank", "ignored", "legacy", ""} {
		tb.AppendRow(map[string]string{"file": f})
	}

	col, err := tb.AddLongTextColumn(LongTextConfig{Name: "body", FilenameField: "file", Folder: dir, PreviewLength: 3})
	require.NoError(t, err)
	require.Equal(t, 4, col.FileCount())
	require.True(t, tb.IsExpandedField("body"))
	require.False(t, tb.IsExpandedField("file"))
	require.Equal(t, []string{"body"}, tb.LongTextColumns())

	cells := make([]string, tb.RowCount())
	for i := range cells {
		cells[i], _ = tb.Cell(i, "body")
	}
	require.Equal(t, []string{
		"第一段...",
		"# h...",
		PreviewEmpty,
		"[file not found: ignored]",
		"中文内...",
		"",
	}, cells)

	content, ok := tb.ExpandedContent("body", 0)
	require.True(t, ok)
	require.Equal(t, "第一段长文本内容，用于测试预览", content)

	content, ok = tb.ExpandedContent("body", 4)
	require.True(t, ok)
	require.Equal(t, "中文内容", content)

	for _, idx := range []int{2, 3, 5, 99} {
		_, ok = tb.ExpandedContent("body", idx)
		require.False(t, ok, "row %d", idx)
	}
	_, ok = tb.ExpandedContent("file", 0)
	require.False(t, ok)
}

func TestAddLongTextColumnErrors(t *testing.T) {
	tb := New("file")
	_, err := tb.AddLongTextColumn(LongTextConfig{Name: "body", FilenameField: "nope", Folder: t.TempDir()})
	require.ErrorContains(t, err, "filename field")

	_, err = tb.AddLongTextColumn(LongTextConfig{Name: "body", FilenameField: "file", Folder: filepath.Join(t.TempDir(), "missing")})
	require.Error(t, err)

	_, err = tb.AddLongTextColumn(LongTextConfig{Name: "", FilenameField: "file", Folder: "x"})
	require.Error(t, err)
}

func TestEnsureSubColumn(t *testing.T) {
	tb := New("task_id", "task")
	tb.AppendRow(map[string]string{"task_id": "42", "task": ""})

	_, err := tb.EnsureSubColumn("task", "task_id")
	require.ErrorIs(t, err, ErrColumnConflict)

	created, err := tb.EnsureSubColumn("task", "task_topic")
	require.NoError(t, err)
	require.True(t, created)
	created, err = tb.EnsureSubColumn("task", "task_topic")
	require.NoError(t, err)
	require.False(t, created)

	_, err = tb.EnsureSubColumn("other", "task_topic")
	require.ErrorIs(t, err, ErrColumnConflict)
	_, err = tb.EnsureSubColumn("task", "task")
	require.Error(t, err)

	require.Equal(t, []string{"task_topic"}, tb.SubColumns("task"))
	require.Equal(t, map[string][]string{"task": {"task_topic"}}, tb.Snapshot().SubColumns)
	v, ok := tb.Cell(0, "task_topic")
	require.True(t, ok)
	require.Empty(t, v)
}

func TestSaveJSONLKeepsSubColumnRegistry(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.jsonl")
	tb := New("task_id", "task")
	tb.AppendRow(map[string]string{"task_id": "42", "task": "raw"})
	_, err := tb.EnsureSubColumn("task", "task_kind")
	require.NoError(t, err)
	require.NoError(t, tb.SaveJSONL(path))
	require.FileExists(t, MetaPath(path))

	loaded, err := LoadJSONL(path)
	require.NoError(t, err)
	require.Equal(t, []string{"task_kind"}, loaded.SubColumns("task"))
	require.Empty(t, loaded.SubColumns("task_id"))

	// a registry entry for a column that is gone is dropped
	writeFile(t, MetaPath(path), []byte(`{"sub_columns":{"task":["task_kind","task_gone"]}}`))
	loaded, err = LoadJSONL(path)
	require.NoError(t, err)
	require.Equal(t, []string{"task_kind"}, loaded.SubColumns("task"))

	// without sub-columns the metadata file is removed
	require.NoError(t, New("a").SaveJSONL(path))
	require.NoFileExists(t, MetaPath(path))

	writeFile(t, MetaPath(path), []byte("{"))
	_, err = LoadJSONL(path)
	require.Error(t, err)
}

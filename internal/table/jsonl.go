package table

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/goccy/go-json"
)

const maxJSONLLine = 16 * 1024 * 1024

// ReadJSONL loads one JSON object per line. Blank lines are skipped. Scalar
// values become their text form and nested values are stored as compact
// JSON. Columns appear in first-seen order; keys new to a line are added in
// sorted order.
func ReadJSONL(r io.Reader) (*Table, error) {
	t := New()
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxJSONLLine)

	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := bytes.TrimSpace(sc.Bytes())
		if lineNo == 1 {
			line = bytes.TrimPrefix(line, []byte("\xef\xbb\xbf"))
		}
		if len(line) == 0 {
			continue
		}

		dec := json.NewDecoder(bytes.NewReader(line))
		dec.UseNumber()
		var obj map[string]any
		if err := dec.Decode(&obj); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		if obj == nil {
			return nil, fmt.Errorf("line %d: expected a JSON object", lineNo)
		}

		keys := make([]string, 0, len(obj))
		for k := range obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if !t.HasColumn(k) {
				if _, err := t.EnsureColumn(k); err != nil {
					return nil, fmt.Errorf("line %d: %w", lineNo, err)
				}
			}
		}

		values := make(map[string]string, len(obj))
		for k, v := range obj {
			values[k] = cellText(v)
		}
		t.AppendRow(values)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read jsonl: %w", err)
	}
	return t, nil
}

// LoadJSONL reads a table from a .jsonl file, plus the sub-column registry
// from its metadata file when one exists.
func LoadJSONL(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	t, err := ReadJSONL(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if err := t.loadMeta(MetaPath(path)); err != nil {
		return nil, err
	}
	return t, nil
}

// MetaPath is where SaveJSONL keeps the metadata of the table at path.
func MetaPath(path string) string { return path + ".meta.json" }

type tableMeta struct {
	SubColumns map[string][]string `json:"sub_columns"`
}

func (t *Table) loadMeta(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	var m tableMeta
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	t.registerSubColumns(m.SubColumns)
	return nil
}
// WriteJSONL writes every row with keys in column order. All values are
// written as JSON strings.
func (t *Table) WriteJSONL(w io.Writer) error {
	snap := t.Snapshot()
	bw := bufio.NewWriter(w)
	for _, row := range snap.Rows {
		bw.WriteByte('{')
		for i, col := range snap.Columns {
			if i > 0 {
				bw.WriteByte(',')
			}
			k, err := json.Marshal(col)
			if err != nil {
				return err
			}
			v, err := json.Marshal(row[col])
			if err != nil {
				return err
			}
			bw.Write(k)
			bw.WriteByte(':')
			bw.Write(v)
		}
		bw.WriteString("}\n")
	}
	return bw.Flush()
}

// SaveJSONL writes the table to path through a temp file and rename. The
// sub-column registry goes to MetaPath(path); a stale metadata file is
// removed when nothing is registered.
func (t *Table) SaveJSONL(path string) error {
	if err := writeAtomic(path, t.WriteJSONL); err != nil {
		return err
	}

	snap := t.Snapshot()
	metaPath := MetaPath(path)
	if len(snap.SubColumns) == 0 {
		if err := os.Remove(metaPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		return nil
	}
	data, err := json.MarshalIndent(tableMeta{SubColumns: snap.SubColumns}, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomic(metaPath, func(w io.Writer) error {
		_, err := w.Write(append(data, '\n'))
		return err
	})
}

func writeAtomic(path string, write func(io.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	_ = tmp.Chmod(0o644)
	if err := write(tmp); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

func cellText(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case json.Number:
		return val.String()
	case bool:
		if val {
			return "true"
		}
		return "false"
	default:
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(val); err != nil {
			return fmt.Sprint(val)
		}
		return strings.TrimRight(buf.String(), "\n")
	}
}

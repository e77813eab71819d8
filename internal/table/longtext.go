package table

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"tablegen/internal/utils"

	"golang.org/x/text/encoding/simplifiedchinese"
)

const DefaultPreviewLength = 20

// Preview placeholders shown in a long-text column instead of file content.
const (
	PreviewEmpty        = "[file content empty]"
	previewNotFoundFmt  = "[file not found: %s]"
	previewReadErrorFmt = "[read failed: %v]"
)

var supportedTextExts = map[string]struct{}{
	".txt":   {},
	".md":    {},
	".json":  {},
	".jsonl": {},
}

// LongTextConfig binds a column to a folder of text files. The file for a row
// is the one whose base name (without extension) equals the row's value in
// FilenameField.
type LongTextConfig struct {
	Name          string `yaml:"name"`
	FilenameField string `yaml:"filename_field"`
	Folder        string `yaml:"folder"`
	PreviewLength int    `yaml:"preview_length"`
}

func (c LongTextConfig) Validate() error {
	switch {
	case strings.TrimSpace(c.Name) == "":
		return fmt.Errorf("long text column name is empty")
	case strings.TrimSpace(c.FilenameField) == "":
		return fmt.Errorf("long text column %q: filename_field is empty", c.Name)
	case strings.TrimSpace(c.Folder) == "":
		return fmt.Errorf("long text column %q: folder is empty", c.Name)
	case c.PreviewLength < 0:
		return fmt.Errorf("long text column %q: preview_length must be >= 0", c.Name)
	}
	return nil
}

// LongTextColumn is a configured long-text column with its folder index.
type LongTextColumn struct {
	cfg   LongTextConfig
	files map[string]string // base name -> path
}

func (c *LongTextColumn) Config() LongTextConfig { return c.cfg }

// FileCount reports how many candidate files the folder index holds.
func (c *LongTextColumn) FileCount() int { return len(c.files) }

func (c *LongTextColumn) lookup(key string) (string, bool) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", false
	}
	path, ok := c.files[key]
	return path, ok
}

// indexFolder walks folder recursively. When two files share a base name the
// lexically first path wins so the result does not depend on walk order.
func indexFolder(folder string) (map[string]string, error) {
	info, err := os.Stat(folder)
	if err != nil {
		return nil, fmt.Errorf("long text folder: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("long text folder %s is not a directory", folder)
	}

	var paths []string
	err = filepath.WalkDir(folder, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if _, ok := supportedTextExts[strings.ToLower(filepath.Ext(path))]; ok {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("index long text folder %s: %w", folder, err)
	}
	sort.Strings(paths)

	files := make(map[string]string, len(paths))
	for _, p := range paths {
		base := filepath.Base(p)
		key := strings.TrimSuffix(base, filepath.Ext(base))
		if _, dup := files[key]; !dup {
			files[key] = p
		}
	}
	return files, nil
}

// readTextFile returns the file text. Content that is not valid UTF-8 is
// decoded as GBK, which is what spreadsheets exported on Chinese-locale
// systems usually carry.
func readTextFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if !utf8.Valid(data) {
		decoded, derr := simplifiedchinese.GBK.NewDecoder().Bytes(data)
		if derr != nil {
			return "", fmt.Errorf("decode %s: %w", filepath.Base(path), derr)
		}
		data = decoded
	}
	return string(data), nil
}

// Preview shortens content to n runes followed by "...".
func Preview(content string, n int) string {
	if n <= 0 {
		n = DefaultPreviewLength
	}
	return utils.RunePreview(content, n)
}

// AddLongTextColumn indexes cfg.Folder, creates the column if needed, and
// fills every row with a preview of its file.
func (t *Table) AddLongTextColumn(cfg LongTextConfig) (*LongTextColumn, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.PreviewLength == 0 {
		cfg.PreviewLength = DefaultPreviewLength
	}
	if !t.HasColumn(cfg.FilenameField) {
		return nil, fmt.Errorf("long text column %q: filename field %q does not exist", cfg.Name, cfg.FilenameField)
	}
	files, err := indexFolder(cfg.Folder)
	if err != nil {
		return nil, err
	}
	col := &LongTextColumn{cfg: cfg, files: files}

	if _, err := t.EnsureColumn(cfg.Name); err != nil {
		return nil, err
	}
	t.mu.Lock()
	t.longText[cfg.Name] = col
	t.mu.Unlock()

	t.RefreshPreviews(cfg.Name)
	return col, nil
}

// RefreshPreviews rewrites the preview cells of a long-text column.
func (t *Table) RefreshPreviews(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	col, ok := t.longText[name]
	if !ok {
		return
	}
	for _, r := range t.rows {
		r[name] = col.preview(r[col.cfg.FilenameField])
	}
}

func (c *LongTextColumn) preview(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return ""
	}
	path, ok := c.lookup(key)
	if !ok {
		return fmt.Sprintf(previewNotFoundFmt, key)
	}
	content, err := readTextFile(path)
	if err != nil {
		return fmt.Sprintf(previewReadErrorFmt, err)
	}
	if strings.TrimSpace(content) == "" {
		return PreviewEmpty
	}
	return Preview(content, c.cfg.PreviewLength)
}

// LongTextColumns lists configured long-text column names in sorted order.
func (t *Table) LongTextColumns() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	names := make([]string, 0, len(t.longText))
	for n := range t.longText {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// IsExpandedField reports whether name is a long-text column.
func (t *Table) IsExpandedField(name string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.longText[name]
	return ok
}

// ExpandedContent returns the full file text behind a long-text cell. The
// second result is false when the file is missing, unreadable or blank.
func (t *Table) ExpandedContent(name string, rowIndex int) (string, bool) {
	t.mu.RLock()
	col, ok := t.longText[name]
	var key string
	if ok && rowIndex >= 0 && rowIndex < len(t.rows) {
		key = t.rows[rowIndex][col.cfg.FilenameField]
	}
	t.mu.RUnlock()
	if !ok {
		return "", false
	}

	path, found := col.lookup(key)
	if !found {
		return "", false
	}
	content, err := readTextFile(path)
	if err != nil || strings.TrimSpace(content) == "" {
		return "", false
	}
	return content, true
}

// Package table holds the in-memory dataset a run reads rows from and writes
// derived cells into.
package table

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Row maps column name to cell value.
type Row map[string]string

// Table is safe for concurrent use. Column order is insertion order.
type Table struct {
	mu       sync.RWMutex
	columns  []string
	colIndex map[string]struct{}
	rows     []Row
	longText map[string]*LongTextColumn
	// primary column -> sub-columns a run derived from it
	subCols map[string][]string
}

// ErrColumnConflict is returned when a sub-column name is already taken by a
// column that is not a sub-column of the same primary.
var ErrColumnConflict = errors.New("column exists and is not a sub-column of this column")

func New(columns ...string) *Table {
	t := &Table{
		colIndex: make(map[string]struct{}),
		longText: make(map[string]*LongTextColumn),
		subCols:  make(map[string][]string),
	}
	for _, c := range columns {
		t.addColumnLocked(c)
	}
	return t
}

// AppendRow adds a row; unknown keys become new columns in sorted order.
func (t *Table) AppendRow(values map[string]string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	row := make(Row, len(t.columns))
	for _, c := range t.columns {
		row[c] = ""
	}
	var added []string
	for k, v := range values {
		if _, ok := t.colIndex[k]; !ok {
			added = append(added, k)
		}
		row[k] = v
	}
	sort.Strings(added)
	for _, k := range added {
		t.addColumnLocked(k)
	}
	for _, c := range t.columns {
		if _, ok := row[c]; !ok {
			row[c] = ""
		}
	}
	// back-fill columns this row introduced
	for _, r := range t.rows {
		for _, k := range added {
			r[k] = ""
		}
	}
	t.rows = append(t.rows, row)
	return len(t.rows) - 1
}

func (t *Table) RowCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rows)
}

// Row returns a copy of the row at index.
func (t *Table) Row(index int) (Row, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if index < 0 || index >= len(t.rows) {
		return nil, fmt.Errorf("row index %d out of range [0,%d)", index, len(t.rows))
	}
	out := make(Row, len(t.rows[index]))
	for k, v := range t.rows[index] {
		out[k] = v
	}
	return out, nil
}

func (t *Table) Cell(index int, col string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if index < 0 || index >= len(t.rows) {
		return "", false
	}
	v, ok := t.rows[index][col]
	return v, ok
}

// SetCell writes a value into an existing column.
func (t *Table) SetCell(index int, col, value string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if index < 0 || index >= len(t.rows) {
		return fmt.Errorf("row index %d out of range [0,%d)", index, len(t.rows))
	}
	if _, ok := t.colIndex[col]; !ok {
		return fmt.Errorf("column %q does not exist", col)
	}
	t.rows[index][col] = value
	return nil
}

// EnsureColumn creates col (blank in every row) if it does not exist yet.
// It reports whether the column was created by this call.
func (t *Table) EnsureColumn(col string) (bool, error) {
	if col == "" {
		return false, fmt.Errorf("column name is empty")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.colIndex[col]; ok {
		return false, nil
	}
	t.addColumnLocked(col)
	for _, r := range t.rows {
		r[col] = ""
	}
	return true, nil
}

// EnsureSubColumn creates col as a sub-column of primary. An existing column
// is accepted only when it is already registered under primary.
func (t *Table) EnsureSubColumn(primary, col string) (bool, error) {
	if primary == "" || col == "" || col == primary {
		return false, fmt.Errorf("invalid sub-column %q of %q", col, primary)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.colIndex[col]; ok {
		if t.isSubLocked(primary, col) {
			return false, nil
		}
		return false, fmt.Errorf("sub-column %s: %w", col, ErrColumnConflict)
	}
	t.addColumnLocked(col)
	for _, r := range t.rows {
		r[col] = ""
	}
	t.subCols[primary] = append(t.subCols[primary], col)
	return true, nil
}

// SubColumns lists the registered sub-columns of primary in creation order.
func (t *Table) SubColumns(primary string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]string(nil), t.subCols[primary]...)
}

func (t *Table) isSubLocked(primary, col string) bool {
	for _, c := range t.subCols[primary] {
		if c == col {
			return true
		}
	}
	return false
}

// registerSubColumns restores a saved registry. Names that are not columns
// of the table, or that already belong to another primary, are dropped.
func (t *Table) registerSubColumns(subs map[string][]string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	owner := make(map[string]string)
	for primary, cols := range t.subCols {
		for _, c := range cols {
			owner[c] = primary
		}
	}
	primaries := make([]string, 0, len(subs))
	for p := range subs {
		primaries = append(primaries, p)
	}
	sort.Strings(primaries)
	for _, primary := range primaries {
		for _, c := range subs[primary] {
			if _, ok := t.colIndex[c]; !ok || c == primary {
				continue
			}
			if _, taken := owner[c]; taken {
				continue
			}
			owner[c] = primary
			t.subCols[primary] = append(t.subCols[primary], c)
		}
	}
}

func (t *Table) HasColumn(col string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.colIndex[col]
	return ok
}

func (t *Table) Columns() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]string(nil), t.columns...)
}

// Snapshot is a point-in-time copy used by readers such as the status analyzer.
type Snapshot struct {
	Columns []string
	Rows    []Row
	// SubColumns maps a primary column to its registered sub-columns.
	SubColumns map[string][]string
}

func (t *Table) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	snap := Snapshot{
		Columns:    append([]string(nil), t.columns...),
		Rows:       make([]Row, len(t.rows)),
		SubColumns: make(map[string][]string, len(t.subCols)),
	}
	for p, cols := range t.subCols {
		snap.SubColumns[p] = append([]string(nil), cols...)
	}
	for i, r := range t.rows {
		cp := make(Row, len(r))
		for k, v := range r {
			cp[k] = v
		}
		snap.Rows[i] = cp
	}
	return snap
}

func (t *Table) addColumnLocked(col string) {
	if _, ok := t.colIndex[col]; ok {
		return
	}
	t.colIndex[col] = struct{}{}
	t.columns = append(t.columns, col)
}

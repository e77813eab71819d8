// Package executor runs a derived column over a set of rows: render the
// prompt, call the backend with retry, parse multi-field answers and write
// the cells, with a bounded number of concurrent tasks.
package executor

import (
	"errors"
	"fmt"

	"tablegen/internal/backend"
	"tablegen/internal/column"
	"tablegen/internal/table"
)

// Table is the row store a run reads from and writes into. Implementations
// must tolerate concurrent calls.
type Table interface {
	RowCount() int
	Row(index int) (table.Row, error)
	SetCell(index int, col, value string) error
	EnsureColumn(col string) (bool, error)
	EnsureSubColumn(primary, col string) (bool, error)
	IsExpandedField(name string) bool
	ExpandedContent(name string, rowIndex int) (string, bool)
}

// ProgressFunc receives counters after every finished task. Calls come from
// worker goroutines one at a time, with completed strictly increasing; the
// callback should return quickly.
type ProgressFunc func(completed, total, success, failed int)

type Options struct {
	// Metrics is optional.
	Metrics *Metrics
}

type Executor struct {
	table Table
	gen   backend.Generator
	opts  Options
}

var errNilCollaborator = errors.New("executor needs a table and a generator")

func New(t Table, gen backend.Generator, opts Options) *Executor {
	return &Executor{table: t, gen: gen, opts: opts}
}

func (ex *Executor) backendName() string {
	if ex.gen == nil {
		return ""
	}
	return ex.gen.Name()
}

// checkRows rejects indexes outside the table.
func (ex *Executor) checkRows(rows []int) error {
	n := ex.table.RowCount()
	for _, idx := range rows {
		if idx < 0 || idx >= n {
			return fmt.Errorf("row index %d out of range [0,%d)", idx, n)
		}
	}
	return nil
}

// prepareColumns creates the primary column and, for predefined multi-field
// output, every sub-column, before any task runs. A predefined sub-column
// whose name is already taken by a source column fails the run.
func (ex *Executor) prepareColumns(spec column.Spec) error {
	if _, err := ex.table.EnsureColumn(spec.Name); err != nil {
		return fmt.Errorf("create column %s: %w", spec.Name, err)
	}
	for _, sub := range spec.SubColumns() {
		if _, err := ex.table.EnsureSubColumn(spec.Name, sub); err != nil {
			return fmt.Errorf("create sub-column %s: %w", sub, err)
		}
	}
	return nil
}

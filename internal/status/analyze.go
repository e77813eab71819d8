// Package status classifies the rows of a derived column so a caller can
// report progress and pick rows to process again.
package status

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"tablegen/internal/column"
	"tablegen/internal/table"
)

type Classification int

const (
	Processed Classification = iota
	Failed
	Empty
)

func (c Classification) String() string {
	switch c {
	case Processed:
		return "processed"
	case Failed:
		return "failed"
	case Empty:
		return "empty"
	default:
		return fmt.Sprintf("Classification(%d)", int(c))
	}
}

// Report summarizes one column. Row lists hold zero-based row indexes in
// ascending order. PartiallyProcessed rows are also counted in Empty.
type Report struct {
	Column string

	Total              int
	Processed          int
	Failed             int
	Empty              int
	PartiallyProcessed int

	FailedRows             []int
	EmptyRows              []int
	PartiallyProcessedRows []int

	// CompletionRate is Processed/Total as a percentage, one decimal place.
	CompletionRate float64
}

// Analyze reads snap without locking; the snapshot is a private copy.
func Analyze(snap table.Snapshot, spec column.Spec) Report {
	rep := Report{Column: spec.Name, Total: len(snap.Rows)}
	subs := subColumns(snap, spec)

	for i, row := range snap.Rows {
		class, partial := classify(row, spec.Name, subs, spec.IsMulti())
		switch class {
		case Failed:
			rep.Failed++
			rep.FailedRows = append(rep.FailedRows, i)
		case Empty:
			rep.Empty++
			rep.EmptyRows = append(rep.EmptyRows, i)
			if partial {
				rep.PartiallyProcessed++
				rep.PartiallyProcessedRows = append(rep.PartiallyProcessedRows, i)
			}
		default:
			rep.Processed++
		}
	}

	if rep.Total > 0 {
		rate := float64(rep.Processed) / float64(rep.Total) * 100
		rep.CompletionRate = math.Round(rate*10) / 10
	}
	return rep
}

func classify(row table.Row, primaryName string, subs []string, multi bool) (Classification, bool) {
	primary := row[primaryName]
	if column.IsErrorValue(primary) {
		return Failed, false
	}
	if !multi {
		if column.IsBlank(primary) {
			return Empty, false
		}
		return Processed, false
	}

	anySub := false
	for _, name := range subs {
		v := row[name]
		if column.IsErrorValue(v) {
			return Failed, false
		}
		if !column.IsBlank(v) {
			anySub = true
		}
	}

	switch {
	case anySub:
		return Processed, false
	case column.IsBlank(primary):
		return Empty, false
	default:
		// answer stored, extraction produced nothing
		return Empty, true
	}
}

// subColumns lists the sub-columns to inspect. Predefined fields name theirs;
// auto-parsed ones are those the table registered for the column, so source
// columns that merely share the "{column}_" prefix are never counted.
func subColumns(snap table.Snapshot, spec column.Spec) []string {
	if !spec.IsMulti() {
		return nil
	}
	if spec.FieldMode == column.Predefined {
		return spec.SubColumns()
	}
	return snap.SubColumns[spec.Name]
}

// Selection names a row set for reprocessing.
type Selection string

const (
	SelectFailed      Selection = "failed"
	SelectEmpty       Selection = "empty"
	SelectUnprocessed Selection = "unprocessed"
	SelectPartial     Selection = "partial"
)

func ParseSelection(raw string) (Selection, error) {
	switch s := Selection(strings.ToLower(strings.TrimSpace(raw))); s {
	case SelectFailed, SelectEmpty, SelectUnprocessed, SelectPartial:
		return s, nil
	case "":
		return SelectUnprocessed, nil
	default:
		return "", fmt.Errorf("unknown row selection %q (want failed, empty, unprocessed or partial)", raw)
	}
}

// RowsFor returns the sorted rows matching sel. Unprocessed is failed plus empty.
func (r Report) RowsFor(sel Selection) []int {
	switch sel {
	case SelectFailed:
		return append([]int(nil), r.FailedRows...)
	case SelectEmpty:
		return append([]int(nil), r.EmptyRows...)
	case SelectPartial:
		return append([]int(nil), r.PartiallyProcessedRows...)
	case SelectUnprocessed:
		out := make([]int, 0, len(r.FailedRows)+len(r.EmptyRows))
		out = append(out, r.FailedRows...)
		out = append(out, r.EmptyRows...)
		sort.Ints(out)
		return out
	default:
		return nil
	}
}

package executor

import (
	"fmt"

	"tablegen/internal/column"
	"tablegen/internal/parser"
)

// Reparse extracts fields again from answers already stored in the primary
// cells of a multi-field column, without calling the backend. Rows whose
// primary cell is blank or holds an error are skipped and not counted.
func (ex *Executor) Reparse(rows []int, spec column.Spec) (Stats, error) {
	var stats Stats
	if ex == nil || ex.table == nil {
		return stats, errNilCollaborator
	}
	if !spec.IsMulti() {
		return stats, fmt.Errorf("column %s is not a multi-field column", spec.Name)
	}
	if err := spec.Validate(); err != nil {
		return stats, err
	}
	if err := ex.checkRows(rows); err != nil {
		return stats, err
	}
	if err := ex.prepareColumns(spec); err != nil {
		return stats, err
	}

	ensure := func(col string) error {
		_, err := ex.table.EnsureSubColumn(spec.Name, col)
		return err
	}

	for _, idx := range rows {
		row, err := ex.table.Row(idx)
		if err != nil {
			return stats, err
		}
		cell := row[spec.Name]
		if column.IsBlank(cell) || column.IsErrorValue(cell) {
			continue
		}

		stats.TotalTasks++
		stats.CompletedTasks++
		raw := parser.StripAnnotation(cell)
		if _, err := writeFields(ex.table, idx, spec, raw, ensure); err != nil {
			stats.FailedCount++
			logWarn(fmt.Sprintf("reparse %s: row %d: %v", spec.Name, idx, err))
			continue
		}
		stats.SuccessCount++
	}
	logInfo(fmt.Sprintf("reparse %s: %d rows, %d ok, %d failed", spec.Name, stats.TotalTasks, stats.SuccessCount, stats.FailedCount))
	return stats, nil
}

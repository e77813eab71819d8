package app

import (
	"fmt"
	"io"
	"strings"

	"tablegen/internal/column"
	"tablegen/internal/executor"
	"tablegen/internal/status"
	"tablegen/internal/utils"

	"github.com/spf13/cobra"
)

const cellPreviewRunes = 60

func newStatusCommand(opts *cliOptions) *cobra.Command {
	var show int
	cmd := &cobra.Command{
		Use:           "status <job.yaml>",
		Short:         "Report processed, failed and empty rows per derived column",
		Args:          cobra.ExactArgs(1),
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return codeToErr(runWithLogger("status", cmd.ErrOrStderr(), func() int {
				s, err := resolveSettings(cmd, opts)
				if err != nil {
					logError(err.Error())
					return 1
				}
				w, err := loadWorkspace(args[0], s)
				if err != nil {
					logError(err.Error())
					return 1
				}
				cols, err := w.selectColumns(opts.Columns)
				if err != nil {
					logError(err.Error())
					return 1
				}
				snap := w.table.Snapshot()
				for _, rc := range cols {
					rep := status.Analyze(snap, rc.Spec)
					printReport(cmd.OutOrStdout(), rc.Spec, rep)
					if show > 0 {
						printFailedCells(cmd.OutOrStdout(), w, rc.Spec, rep, show)
					}
				}
				return 0
			}))
		},
	}
	addColumnFlags(cmd.Flags(), opts)
	cmd.Flags().IntVar(&show, "show", 0, "Print the cell text of up to N failed rows per column")
	return cmd
}

func printReport(w io.Writer, spec column.Spec, rep status.Report) {
	mode := spec.OutputMode.String()
	if spec.IsMulti() {
		mode += "/" + spec.FieldMode.String()
	}
	fmt.Fprintf(w, "Column: %s (%s)\n", rep.Column, mode)
	fmt.Fprintf(w, "  Total: %d  Processed: %d  Failed: %d  Empty: %d  Completion: %.1f%%\n",
		rep.Total, rep.Processed, rep.Failed, rep.Empty, rep.CompletionRate)
	if spec.IsMulti() {
		fmt.Fprintf(w, "  Partially processed: %d\n", rep.PartiallyProcessed)
	}
	if len(rep.FailedRows) > 0 {
		fmt.Fprintf(w, "  Failed rows: %s\n", joinInts(rep.FailedRows))
	}
	if len(rep.EmptyRows) > 0 {
		fmt.Fprintf(w, "  Empty rows: %s\n", joinInts(rep.EmptyRows))
	}
}

func printFailedCells(out io.Writer, w *workspace, spec column.Spec, rep status.Report, limit int) {
	for i, idx := range rep.FailedRows {
		if i >= limit {
			fmt.Fprintf(out, "  ... %d more\n", len(rep.FailedRows)-limit)
			return
		}
		cell, _ := w.table.Cell(idx, spec.Name)
		cell = strings.ReplaceAll(utils.SanitizeOutput(cell), "\n", " ")
		fmt.Fprintf(out, "  row %d: %s\n", idx, utils.SafeTruncate(cell, cellPreviewRunes))
	}
}

func joinInts(v []int) string {
	parts := make([]string, len(v))
	for i, n := range v {
		parts[i] = fmt.Sprint(n)
	}
	return strings.Join(parts, ", ")
}

func newReparseCommand(opts *cliOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "reparse <job.yaml>",
		Short:         "Re-extract multi-field sub-columns from stored answers without calling the backend",
		Args:          cobra.ExactArgs(1),
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return codeToErr(runWithLogger("reparse", cmd.ErrOrStderr(), func() int {
				s, err := resolveSettings(cmd, opts)
				if err != nil {
					logError(err.Error())
					return 1
				}
				return reparseJob(args[0], opts, s, cmd.OutOrStdout())
			}))
		},
	}
	addColumnFlags(cmd.Flags(), opts)
	return cmd
}

func reparseJob(jobPath string, opts *cliOptions, s settings, stdout io.Writer) int {
	w, err := loadWorkspace(jobPath, s)
	if err != nil {
		logError(err.Error())
		return 1
	}
	cols, err := w.selectColumns(opts.Columns)
	if err != nil {
		logError(err.Error())
		return 1
	}

	rows := make([]int, w.table.RowCount())
	for i := range rows {
		rows[i] = i
	}
	ex := executor.New(w.table, nil, executor.Options{})
	changed := false
	for _, rc := range cols {
		if !rc.Spec.IsMulti() {
			fmt.Fprintf(stdout, "[%s] single output, nothing to reparse\n", rc.Spec.Name)
			continue
		}
		stats, err := ex.Reparse(rows, rc.Spec)
		if err != nil {
			logError(fmt.Sprintf("column %s: %v", rc.Spec.Name, err))
			return 1
		}
		changed = true
		fmt.Fprintf(stdout, "[%s] reparsed %d row(s): %d ok, %d failed\n",
			rc.Spec.Name, stats.CompletedTasks, stats.SuccessCount, stats.FailedCount)
	}
	if !changed {
		return 0
	}
	if err := w.table.SaveJSONL(w.job.Output); err != nil {
		logError(fmt.Sprintf("save %s: %v", w.job.Output, err))
		return 1
	}
	fmt.Fprintf(stdout, "Output: %s\n", w.job.Output)
	return 0
}

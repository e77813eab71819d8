package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"

	config "tablegen/internal/config"
	"tablegen/internal/executor"
	"tablegen/internal/status"

	"github.com/spf13/cobra"
)

const selectAll = "all"

var signalNotifyFn = signal.Notify

func newRunCommand(opts *cliOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "run <job.yaml>",
		Short:         "Generate derived columns for the rows of a job",
		Args:          cobra.ExactArgs(1),
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			stderr := cmd.ErrOrStderr()
			return codeToErr(runWithLogger("run", stderr, func() int {
				s, err := resolveSettings(cmd, opts)
				if err != nil {
					logError(err.Error())
					return 1
				}
				return runJob(cmd.Context(), args[0], opts, s, cmd.OutOrStdout(), stderr)
			}))
		},
	}
	addColumnFlags(cmd.Flags(), opts)
	cmd.Flags().StringVar(&opts.Rows, "rows", "", "Rows to process: unprocessed (default), failed, empty, partial or all")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "Process at most N selected rows per column (0 = no limit)")
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while running")
	return cmd
}

// selectRows picks the row indexes for one column according to sel.
func selectRows(w *workspace, rc config.ResolvedColumn, sel string, limit int) ([]int, error) {
	var rows []int
	if sel == selectAll {
		n := w.table.RowCount()
		rows = make([]int, n)
		for i := range rows {
			rows[i] = i
		}
	} else {
		parsed, err := status.ParseSelection(sel)
		if err != nil {
			return nil, err
		}
		rows = status.Analyze(w.table.Snapshot(), rc.Spec).RowsFor(parsed)
	}
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

// interrupter turns the first SIGINT/SIGTERM into a cooperative stop of the
// active run and the second into context cancellation.
type interrupter struct {
	mu       sync.Mutex
	active   *executor.Run
	stopping atomic.Bool
	cancel   context.CancelFunc
}

// setActive stops r at once when an interrupt already arrived, so a signal
// landing between columns is not lost.
func (in *interrupter) setActive(r *executor.Run) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.active = r
	if r != nil && in.stopping.Load() {
		r.Stop()
	}
}

func (in *interrupter) interrupt(stderr io.Writer) {
	if !in.stopping.CompareAndSwap(false, true) {
		fmt.Fprintln(stderr, "Second interrupt: cancelling in-flight requests")
		in.cancel()
		return
	}
	fmt.Fprintln(stderr, "Interrupt: finishing in-flight rows, no new rows will start (press again to abort)")
	in.mu.Lock()
	if in.active != nil {
		in.active.Stop()
	}
	in.mu.Unlock()
}

func (in *interrupter) watch(ctx context.Context, stderr io.Writer) (stop func()) {
	sigCh := make(chan os.Signal, 2)
	signalNotifyFn(sigCh, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-sigCh:
				in.interrupt(stderr)
			case <-done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return func() {
		signal.Stop(sigCh)
		close(done)
	}
}

func runJob(parent context.Context, jobPath string, opts *cliOptions, s settings, stdout, stderr io.Writer) int {
	if parent == nil {
		parent = context.Background()
	}
	sel := opts.Rows
	if sel != selectAll {
		if _, err := status.ParseSelection(sel); err != nil {
			logError(err.Error())
			return 1
		}
	}
	if opts.Limit < 0 {
		logError("--limit must be >= 0")
		return 1
	}

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

	reg := newRegistry()
	metrics := executor.NewMetrics(reg)
	if s.metricsAddr != "" {
		shutdown, err := startMetricsServer(s.metricsAddr, reg)
		if err != nil {
			logError(err.Error())
			return 1
		}
		defer shutdown()
	}

	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	in := &interrupter{cancel: cancel}
	defer in.watch(ctx, stderr)()

	gens := generators{}
	anyFailed := false
	for _, rc := range cols {
		if in.stopping.Load() {
			logInfo(fmt.Sprintf("column %s skipped after interrupt", rc.Spec.Name))
			continue
		}
		rows, err := selectRows(w, rc, sel, opts.Limit)
		if err != nil {
			logError(err.Error())
			return 1
		}
		if len(rows) == 0 {
			fmt.Fprintf(stdout, "[%s] nothing to do\n", rc.Spec.Name)
			continue
		}
		gen, err := gens.get(rc.Target)
		if err != nil {
			logError(err.Error())
			return 1
		}

		ex := executor.New(w.table, gen, executor.Options{Metrics: metrics})
		r := ex.NewRun(rows, rc.Spec, progressPrinter(stderr, rc.Spec.Name))
		in.setActive(r)
		fmt.Fprintf(stderr, "[%s] %d row(s) via %s/%s, %d worker(s), run %s\n",
			rc.Spec.Name, len(rows), gen.Name(), rc.Spec.Model, rc.Spec.Params.MaxWorkers, r.ID)
		stats, runErr := r.Execute(ctx)
		in.setActive(nil)

		if err := w.table.SaveJSONL(w.job.Output); err != nil {
			logError(fmt.Sprintf("save %s: %v", w.job.Output, err))
			return 1
		}
		if runErr != nil {
			logError(fmt.Sprintf("column %s: %v", rc.Spec.Name, runErr))
			return 1
		}

		suffix := ""
		if stats.Stopped {
			suffix = " (stopped)"
		}
		fmt.Fprintf(stdout, "[%s] %d/%d done, %d ok, %d failed%s\n",
			rc.Spec.Name, stats.CompletedTasks, stats.TotalTasks, stats.SuccessCount, stats.FailedCount, suffix)
		if stats.FailedCount > 0 {
			anyFailed = true
		}
	}

	fmt.Fprintf(stdout, "Output: %s\n", w.job.Output)
	switch {
	case in.stopping.Load():
		return exitInterrupted
	case anyFailed:
		logWarn("some rows failed; rerun with --rows failed to retry them")
		return exitRowsFailed
	default:
		return 0
	}
}

// progressPrinter reports roughly every 5% plus the final task.
// TABLEGEN_NO_PROGRESS=1 silences it.
func progressPrinter(w io.Writer, name string) executor.ProgressFunc {
	if config.EnvFlagEnabled("TABLEGEN_NO_PROGRESS") {
		return nil
	}
	var mu sync.Mutex
	return func(completed, total, success, failed int) {
		step := total / 20
		if step < 1 {
			step = 1
		}
		if completed != total && completed%step != 0 {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintf(w, "[%s] %d/%d (ok %d, failed %d)\n", name, completed, total, success, failed)
	}
}

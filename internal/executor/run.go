package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"tablegen/internal/column"
	"tablegen/internal/parser"
	"tablegen/internal/retry"
	"tablegen/internal/table"
	"tablegen/internal/template"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

type State int32

const (
	StateIdle State = iota
	StateDispatching
	StateRunning
	StateCompleted
	StateStopped
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDispatching:
		return "dispatching"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Stats are the run counters. SuccessCount+FailedCount always equals
// CompletedTasks; skipped tasks count as failed.
type Stats struct {
	TotalTasks     int
	CompletedTasks int
	SuccessCount   int
	FailedCount    int
	Stopped        bool
}

// Outcome is the result of one task.
type Outcome struct {
	RowIndex int
	Success  bool
	Payload  string
	Fields   map[string]string
	Err      error

	stopped bool
}

var ErrAlreadyExecuted = errors.New("run already executed")

// Run is one pass of a column over a row set. It is single use; its stop
// flag and counters belong to it alone. The request delay is slept after
// every task that called the backend; tasks that fail before the call, such
// as template errors, and stopped tasks do not sleep.
type Run struct {
	ID string

	ex         *Executor
	rows       []int
	spec       column.Spec
	onProgress ProgressFunc

	state   atomic.Int32
	stop    atomic.Bool
	started atomic.Bool

	// progressMu orders record calls so onProgress sees increasing counts.
	progressMu sync.Mutex
	mu         sync.Mutex
	stats      Stats
	knownSubs  map[string]error
}

// NewRun prepares a run. Nothing happens until Execute.
func (ex *Executor) NewRun(rows []int, spec column.Spec, onProgress ProgressFunc) *Run {
	r := &Run{
		ID:         uuid.NewString(),
		ex:         ex,
		rows:       append([]int(nil), rows...),
		spec:       spec,
		onProgress: onProgress,
		knownSubs:  make(map[string]error),
	}
	r.stats.TotalTasks = len(rows)
	return r
}

// Stop asks the run to start no further tasks. Tasks already calling the
// backend finish normally.
func (r *Run) Stop() {
	if r.stop.CompareAndSwap(false, true) {
		logInfo(fmt.Sprintf("run %s: stop requested for column %s", r.ID, r.spec.Name))
	}
}

func (r *Run) State() State { return State(r.state.Load()) }

func (r *Run) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

func (r *Run) setState(s State) { r.state.Store(int32(s)) }

func (r *Run) fail(err error) (Stats, error) {
	r.setState(StateFailed)
	logError(fmt.Sprintf("run %s: column %s failed: %v", r.ID, r.spec.Name, err))
	return r.Stats(), err
}

// Execute processes every row and blocks until all tasks have reported.
// The error is non-nil only for run-level failures; per-row failures are in
// Stats and in the cells.
func (r *Run) Execute(ctx context.Context) (Stats, error) {
	if !r.started.CompareAndSwap(false, true) {
		return r.Stats(), ErrAlreadyExecuted
	}
	r.setState(StateDispatching)

	ex := r.ex
	if ex == nil || ex.table == nil || ex.gen == nil {
		return r.fail(errNilCollaborator)
	}
	if err := r.spec.Validate(); err != nil {
		return r.fail(err)
	}
	if err := ex.checkRows(r.rows); err != nil {
		return r.fail(err)
	}
	if err := ex.prepareColumns(r.spec); err != nil {
		return r.fail(err)
	}

	params := r.spec.Params
	logInfo(fmt.Sprintf("run %s: column %s, %d rows, backend %s, model %s, workers %d, delay %v, retries %d",
		r.ID, r.spec.Name, len(r.rows), ex.backendName(), r.spec.Model,
		params.MaxWorkers, params.RequestDelay(), params.MaxRetries))

	r.setState(StateRunning)
	started := time.Now()

	var g errgroup.Group
	g.SetLimit(params.MaxWorkers)
	for _, idx := range r.rows {
		idx := idx
		g.Go(func() error {
			r.record(r.runTask(ctx, idx))
			return nil
		})
	}
	_ = g.Wait()

	stats := r.Stats()
	if stats.Stopped {
		r.setState(StateStopped)
	} else {
		r.setState(StateCompleted)
	}
	logInfo(fmt.Sprintf("run %s: %s after %v: %d/%d done, %d ok, %d failed",
		r.ID, r.State(), time.Since(started).Round(time.Millisecond),
		stats.CompletedTasks, stats.TotalTasks, stats.SuccessCount, stats.FailedCount))
	return stats, nil
}

func (r *Run) stopRequested(ctx context.Context) bool {
	return r.stop.Load() || ctx.Err() != nil
}

func (r *Run) runTask(ctx context.Context, idx int) (out Outcome) {
	out.RowIndex = idx
	if r.stopRequested(ctx) {
		return stoppedOutcome(idx)
	}

	defer func() {
		if p := recover(); p != nil {
			out = r.failTask(idx, fmt.Errorf("panic: %v", p))
		}
	}()

	begin := time.Now()
	defer func() {
		if !out.stopped {
			r.ex.opts.Metrics.observeDuration(r.spec.Name, time.Since(begin))
		}
	}()

	row, err := r.ex.table.Row(idx)
	if err != nil {
		return r.failTask(idx, err)
	}

	prompt, err := template.Render(r.spec.PromptTemplate, row, idx, r.ex.table)
	if err != nil {
		// no backend call, so no pacing either
		return r.failTask(idx, err)
	}

	// a task that passed the first check may still lose the race with Stop
	if r.stopRequested(ctx) {
		return stoppedOutcome(idx)
	}

	answer, genErr := retry.Do(ctx, retry.Policy{
		MaxRetries: r.spec.Params.MaxRetries,
		Delay:      r.spec.Params.RetryDelay(),
		OnRetry: func(attempt int, err error) {
			logWarn(fmt.Sprintf("run %s: row %d attempt %d failed, retrying: %v", r.ID, idx, attempt, err))
		},
	}, func(ctx context.Context, attempt int) (string, error) {
		r.ex.opts.Metrics.countAttempt(r.ex.backendName())
		return r.ex.gen.Generate(ctx, prompt, r.spec.Model)
	})

	if genErr != nil {
		out = r.failTask(idx, genErr)
	} else {
		out = r.store(idx, answer)
	}

	_ = sleepFn(ctx, r.spec.Params.RequestDelay())
	return out
}

// store writes a successful answer. Multi-field answers are parsed first;
// sub-columns are written before the primary cell.
func (r *Run) store(idx int, answer string) Outcome {
	if !r.spec.IsMulti() {
		if err := r.ex.table.SetCell(idx, r.spec.Name, answer); err != nil {
			return r.failTask(idx, err)
		}
		return Outcome{RowIndex: idx, Success: true, Payload: answer}
	}

	fields, err := writeFields(r.ex.table, idx, r.spec, answer, r.ensureSub)
	if err != nil {
		logWarn(fmt.Sprintf("run %s: row %d answer kept unparsed: %v", r.ID, idx, err))
		return Outcome{RowIndex: idx, Payload: answer, Err: err}
	}
	return Outcome{RowIndex: idx, Success: true, Payload: answer, Fields: fields}
}

// writeFields parses answer and stores each field plus the raw answer. On a
// parse failure the primary cell gets the annotated raw answer. A field whose
// sub-column name belongs to another column is dropped with a warning.
func writeFields(t Table, idx int, spec column.Spec, answer string, ensure func(string) error) (map[string]string, error) {
	fields, perr := parser.Parse(answer, spec.OutputFields, spec.FieldMode)
	if perr != nil {
		if err := t.SetCell(idx, spec.Name, parser.Annotate(answer, perr)); err != nil {
			return nil, errors.Join(perr, err)
		}
		return nil, perr
	}
	for _, name := range parser.SortedKeys(fields) {
		col := column.SubColumnName(spec.Name, name)
		if err := ensure(col); err != nil {
			if errors.Is(err, table.ErrColumnConflict) {
				logWarn(fmt.Sprintf("column %s: row %d: field %q not stored: %v", spec.Name, idx, name, err))
				delete(fields, name)
				continue
			}
			return nil, err
		}
		if err := t.SetCell(idx, col, fields[name]); err != nil {
			return nil, err
		}
	}
	if err := t.SetCell(idx, spec.Name, answer); err != nil {
		return nil, err
	}
	return fields, nil
}

// ensureSub creates a discovered sub-column once per run and remembers
// conflicts so the table is asked only once per name.
func (r *Run) ensureSub(col string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err, ok := r.knownSubs[col]; ok {
		return err
	}
	created, err := r.ex.table.EnsureSubColumn(r.spec.Name, col)
	if err != nil && !errors.Is(err, table.ErrColumnConflict) {
		return fmt.Errorf("create sub-column %s: %w", col, err)
	}
	if created {
		logDebug(fmt.Sprintf("run %s: created sub-column %s", r.ID, col))
	}
	r.knownSubs[col] = err
	return err
}

// failTask writes a readable error into the primary cell.
func (r *Run) failTask(idx int, err error) Outcome {
	msg := column.ErrorValue(err.Error())
	if werr := r.ex.table.SetCell(idx, r.spec.Name, msg); werr != nil {
		logError(fmt.Sprintf("run %s: row %d: write error cell: %v", r.ID, idx, werr))
	}
	logWarn(fmt.Sprintf("run %s: row %d failed: %v", r.ID, idx, err))
	return Outcome{RowIndex: idx, Payload: msg, Err: err}
}

func stoppedOutcome(idx int) Outcome {
	return Outcome{RowIndex: idx, Payload: column.StoppedPayload, stopped: true}
}

func (r *Run) record(o Outcome) {
	r.progressMu.Lock()
	defer r.progressMu.Unlock()

	r.mu.Lock()
	r.stats.CompletedTasks++
	if o.Success {
		r.stats.SuccessCount++
	} else {
		r.stats.FailedCount++
	}
	if o.stopped {
		r.stats.Stopped = true
	}
	s := r.stats
	r.mu.Unlock()

	r.ex.opts.Metrics.countTask(r.spec.Name, o)
	if r.onProgress != nil {
		r.onProgress(s.CompletedTasks, s.TotalTasks, s.SuccessCount, s.FailedCount)
	}
}

package app

import (
	"fmt"
	"os"
	"strings"

	"tablegen/internal/backend"
	config "tablegen/internal/config"
	"tablegen/internal/table"
)

// workspace is a loaded job: its table with long-text columns attached and
// the resolved derived columns. The table comes from the job output when that
// file exists, so reruns continue where the previous run left off.
type workspace struct {
	job     *config.Job
	table   *table.Table
	columns []config.ResolvedColumn
}

func loadWorkspace(jobPath string, s settings) (*workspace, error) {
	job, err := config.LoadJob(jobPath)
	if err != nil {
		return nil, err
	}
	if s.backend != "" {
		job.Backend = s.backend
	}
	if s.model != "" {
		job.Model = s.model
	}

	source := job.Input
	if _, err := os.Stat(job.Output); err == nil {
		source = job.Output
	}
	tb, err := table.LoadJSONL(source)
	if err != nil {
		return nil, fmt.Errorf("load table: %w", err)
	}
	logInfo(fmt.Sprintf("loaded %d row(s) from %s", tb.RowCount(), source))
	for _, lt := range job.LongTextColumns {
		col, err := tb.AddLongTextColumn(lt)
		if err != nil {
			return nil, err
		}
		logInfo(fmt.Sprintf("long text column %s: indexed %d file(s) in %s", lt.Name, col.FileCount(), lt.Folder))
	}

	cols, err := job.Resolve()
	if err != nil {
		return nil, err
	}
	return &workspace{job: job, table: tb, columns: cols}, nil
}

// selectColumns returns the resolved columns named in names, in job order, or
// all of them when names is empty.
func (w *workspace) selectColumns(names []string) ([]config.ResolvedColumn, error) {
	if len(names) == 0 {
		return w.columns, nil
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		want[n] = false
	}
	var out []config.ResolvedColumn
	for _, c := range w.columns {
		if _, ok := want[c.Spec.Name]; ok {
			want[c.Spec.Name] = true
			out = append(out, c)
		}
	}
	for n, found := range want {
		if !found {
			return nil, fmt.Errorf("column %q is not defined in the job", n)
		}
	}
	return out, nil
}

var newGeneratorFn = func(t config.Target) (backend.Generator, error) {
	return backend.New(t.Backend, backend.Options{
		BaseURL:         t.BaseURL,
		APIKey:          t.APIKey,
		Timeout:         t.Timeout(),
		ReasoningModels: config.ReasoningModels(),
	})
}

// generators shares one client per distinct backend configuration.
type generators map[string]backend.Generator

func (g generators) get(t config.Target) (backend.Generator, error) {
	key := strings.Join([]string{t.Backend, t.BaseURL, t.APIKey, t.Timeout().String()}, "\x00")
	if gen, ok := g[key]; ok {
		return gen, nil
	}
	gen, err := newGeneratorFn(t)
	if err != nil {
		return nil, fmt.Errorf("backend %s: %w", t.Backend, err)
	}
	g[key] = gen
	return gen, nil
}

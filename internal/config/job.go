package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"tablegen/internal/column"
	ilogger "tablegen/internal/logger"
	"tablegen/internal/table"

	"gopkg.in/yaml.v3"
)

// ColumnConfig is one derived column as written in a job file. Pointer fields
// distinguish "unset" from an explicit zero.
type ColumnConfig struct {
	Name                string   `yaml:"name"`
	Prompt              string   `yaml:"prompt"`
	PromptFile          string   `yaml:"prompt_file"`
	Model               string   `yaml:"model"`
	OutputMode          string   `yaml:"output_mode"`
	OutputFields        []string `yaml:"output_fields"`
	FieldMode           string   `yaml:"field_mode"`
	MaxWorkers          *int     `yaml:"max_workers"`
	RequestDelaySeconds *float64 `yaml:"request_delay_seconds"`
	MaxRetries          *int     `yaml:"max_retries"`
	RetryDelaySeconds   *float64 `yaml:"retry_delay_seconds"`
}

// Job is a YAML description of an input table, the long-text columns bound
// to it and the derived columns to generate.
type Job struct {
	Input           string                 `yaml:"input"`
	Output          string                 `yaml:"output"`
	Backend         string                 `yaml:"backend"`
	Model           string                 `yaml:"model"`
	LongTextColumns []table.LongTextConfig `yaml:"long_text_columns"`
	Columns         []ColumnConfig         `yaml:"columns"`

	dir string
}

// ResolvedColumn pairs a validated column spec with the backend it runs on.
type ResolvedColumn struct {
	Spec   column.Spec
	Target Target
}

// LoadJob reads and validates a job file. Relative paths inside it are
// resolved against the file's directory.
func LoadJob(path string) (*Job, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- job path is user supplied on the command line
	if err != nil {
		return nil, err
	}
	job, err := ParseJob(data, filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return job, nil
}

// ParseJob decodes job YAML. Unknown keys are rejected.
func ParseJob(data []byte, baseDir string) (*Job, error) {
	var job Job
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&job); err != nil {
		return nil, fmt.Errorf("parse job: %w", err)
	}
	job.dir = baseDir

	if strings.TrimSpace(job.Input) == "" {
		return nil, errors.New("job input is empty")
	}
	job.Input = job.resolvePath(job.Input)
	if strings.TrimSpace(job.Output) == "" {
		job.Output = job.Input
	} else {
		job.Output = job.resolvePath(job.Output)
	}
	for i := range job.LongTextColumns {
		job.LongTextColumns[i].Folder = job.resolvePath(job.LongTextColumns[i].Folder)
		if err := job.LongTextColumns[i].Validate(); err != nil {
			return nil, err
		}
	}
	if len(job.Columns) == 0 {
		return nil, errors.New("job defines no columns")
	}
	seen := make(map[string]struct{}, len(job.Columns))
	for _, c := range job.Columns {
		name := strings.TrimSpace(c.Name)
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("duplicate column %q", name)
		}
		seen[name] = struct{}{}
	}
	for _, c := range job.Columns {
		if mode, err := column.ParseOutputMode(c.OutputMode); err != nil || mode != column.Multi {
			continue
		}
		for _, f := range c.OutputFields {
			sub := column.SubColumnName(strings.TrimSpace(c.Name), strings.TrimSpace(f))
			if _, clash := seen[sub]; clash {
				return nil, fmt.Errorf("column %q: field %q would overwrite column %q", c.Name, f, sub)
			}
		}
	}
	return &job, nil
}

func (j *Job) resolvePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return p
	}
	if expanded, err := expandHome(p); err == nil {
		p = expanded
	}
	if !filepath.IsAbs(p) && j.dir != "" {
		p = filepath.Join(j.dir, p)
	}
	return filepath.Clean(p)
}

// Column returns the named column config.
func (j *Job) Column(name string) (ColumnConfig, bool) {
	for _, c := range j.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return ColumnConfig{}, false
}

// Resolve turns every column into a validated spec with its backend target.
func (j *Job) Resolve() ([]ResolvedColumn, error) {
	out := make([]ResolvedColumn, 0, len(j.Columns))
	for _, c := range j.Columns {
		rc, err := j.ResolveColumn(c)
		if err != nil {
			return nil, err
		}
		out = append(out, rc)
	}
	return out, nil
}

func (j *Job) ResolveColumn(c ColumnConfig) (ResolvedColumn, error) {
	prompt := c.Prompt
	if strings.TrimSpace(c.PromptFile) != "" {
		if strings.TrimSpace(prompt) != "" {
			return ResolvedColumn{}, fmt.Errorf("column %q: set prompt or prompt_file, not both", c.Name)
		}
		text, err := ReadPromptFile(j.resolvePath(c.PromptFile))
		if err != nil {
			return ResolvedColumn{}, fmt.Errorf("column %q: %w", c.Name, err)
		}
		prompt = text
	}

	outputMode, err := column.ParseOutputMode(c.OutputMode)
	if err != nil {
		return ResolvedColumn{}, fmt.Errorf("column %q: %w", c.Name, err)
	}
	fieldMode, err := column.ParseFieldMode(c.FieldMode)
	if err != nil {
		return ResolvedColumn{}, fmt.Errorf("column %q: %w", c.Name, err)
	}

	params := column.DefaultParams()
	if c.MaxWorkers != nil {
		params.MaxWorkers = *c.MaxWorkers
	}
	if c.RequestDelaySeconds != nil {
		params.RequestDelaySeconds = *c.RequestDelaySeconds
	}
	if c.MaxRetries != nil {
		params.MaxRetries = *c.MaxRetries
	}
	if c.RetryDelaySeconds != nil {
		params.RetryDelaySeconds = *c.RetryDelaySeconds
	}

	ref := c.Model
	if strings.TrimSpace(ref) == "" {
		ref = j.Model
	}
	target := ResolveModel(ref, j.Backend)

	fields := make([]string, 0, len(c.OutputFields))
	for _, f := range c.OutputFields {
		fields = append(fields, strings.TrimSpace(f))
	}

	spec := column.Spec{
		Name:           strings.TrimSpace(c.Name),
		PromptTemplate: prompt,
		Model:          target.Model,
		OutputMode:     outputMode,
		OutputFields:   fields,
		FieldMode:      fieldMode,
		Params:         params,
	}
	if err := spec.Validate(); err != nil {
		return ResolvedColumn{}, err
	}
	if capped := CapWorkers(spec.Params.MaxWorkers); capped != spec.Params.MaxWorkers {
		ilogger.LogInfo(fmt.Sprintf("column %s: max_workers capped from %d to %d by TABLEGEN_MAX_WORKERS", spec.Name, spec.Params.MaxWorkers, capped))
		spec.Params.MaxWorkers = capped
	}
	return ResolvedColumn{Spec: spec, Target: target}, nil
}

func expandHome(raw string) (string, error) {
	if raw != "~" && !strings.HasPrefix(raw, "~/") && !strings.HasPrefix(raw, "~\\") {
		return raw, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	if raw == "~" {
		return home, nil
	}
	return home + raw[1:], nil
}

// ReadPromptFile loads a prompt template from disk. A leading "~" expands to
// the home directory. Trailing newlines are dropped.
func ReadPromptFile(path string) (string, error) {
	raw := strings.TrimSpace(path)
	if raw == "" {
		return "", nil
	}

	expanded, err := expandHome(raw)
	if err != nil {
		return "", err
	}
	absPath, err := filepath.Abs(expanded)
	if err != nil {
		return "", err
	}

	data, err := os.ReadFile(filepath.Clean(absPath)) // #nosec G304 -- prompt files are named by the job author
	if err != nil {
		return "", err
	}
	text := strings.TrimRight(string(data), "\r\n")
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("prompt file %s is empty", absPath)
	}
	return text, nil
}

package column

import (
	"fmt"
	"strings"
	"time"
)

// OutputMode selects whether a derived column stores one answer or a set of
// extracted fields.
type OutputMode int

const (
	Single OutputMode = iota
	Multi
)

func (m OutputMode) String() string {
	switch m {
	case Single:
		return "single"
	case Multi:
		return "multi"
	default:
		return fmt.Sprintf("OutputMode(%d)", int(m))
	}
}

// ParseOutputMode accepts "single" / "multi" (case-insensitive). Empty means Single.
func ParseOutputMode(raw string) (OutputMode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "single":
		return Single, nil
	case "multi", "multiple":
		return Multi, nil
	default:
		return Single, fmt.Errorf("unknown output mode %q", raw)
	}
}

// FieldMode selects how multi-field answers are mapped to sub-columns.
type FieldMode int

const (
	Predefined FieldMode = iota
	AutoParse
)

func (m FieldMode) String() string {
	switch m {
	case Predefined:
		return "predefined"
	case AutoParse:
		return "auto"
	default:
		return fmt.Sprintf("FieldMode(%d)", int(m))
	}
}

// ParseFieldMode accepts "predefined" / "auto" (case-insensitive). Empty means Predefined.
func ParseFieldMode(raw string) (FieldMode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "predefined":
		return Predefined, nil
	case "auto", "autoparse", "auto_parse", "auto-parse":
		return AutoParse, nil
	default:
		return Predefined, fmt.Errorf("unknown field mode %q", raw)
	}
}

const (
	MinWorkers = 1
	MaxWorkers = 999

	DefaultMaxWorkers          = 3
	DefaultRequestDelaySeconds = 1.0
	DefaultMaxRetries          = 3
	DefaultRetryDelaySeconds   = 1.0
)

// Params bounds how hard a run pushes the generation backend.
type Params struct {
	MaxWorkers          int
	RequestDelaySeconds float64
	MaxRetries          int
	RetryDelaySeconds   float64
}

// DefaultParams mirrors the values the processing dialog starts with.
func DefaultParams() Params {
	return Params{
		MaxWorkers:          DefaultMaxWorkers,
		RequestDelaySeconds: DefaultRequestDelaySeconds,
		MaxRetries:          DefaultMaxRetries,
		RetryDelaySeconds:   DefaultRetryDelaySeconds,
	}
}

func (p Params) RequestDelay() time.Duration {
	return secondsToDuration(p.RequestDelaySeconds)
}

func (p Params) RetryDelay() time.Duration {
	return secondsToDuration(p.RetryDelaySeconds)
}

func (p Params) Validate() error {
	if p.MaxWorkers < MinWorkers || p.MaxWorkers > MaxWorkers {
		return fmt.Errorf("max_workers must be between %d and %d, got %d", MinWorkers, MaxWorkers, p.MaxWorkers)
	}
	if p.RequestDelaySeconds < 0 {
		return fmt.Errorf("request_delay_seconds must be >= 0, got %v", p.RequestDelaySeconds)
	}
	if p.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be >= 0, got %d", p.MaxRetries)
	}
	if p.RetryDelaySeconds < 0 {
		return fmt.Errorf("retry_delay_seconds must be >= 0, got %v", p.RetryDelaySeconds)
	}
	return nil
}

// Spec describes one derived (AI) column.
type Spec struct {
	Name           string
	PromptTemplate string
	Model          string
	OutputMode     OutputMode
	OutputFields   []string
	FieldMode      FieldMode
	Params         Params
}

func (s Spec) IsMulti() bool { return s.OutputMode == Multi }

// SubColumns returns the sub-column names for the predefined output fields.
// AutoParse columns discover theirs at run time.
func (s Spec) SubColumns() []string {
	if !s.IsMulti() || s.FieldMode != Predefined {
		return nil
	}
	out := make([]string, 0, len(s.OutputFields))
	for _, f := range s.OutputFields {
		out = append(out, SubColumnName(s.Name, f))
	}
	return out
}

func (s Spec) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("column name is empty")
	}
	if strings.TrimSpace(s.PromptTemplate) == "" {
		return fmt.Errorf("column %q: prompt template is empty", s.Name)
	}
	if s.IsMulti() && s.FieldMode == Predefined {
		if len(s.OutputFields) == 0 {
			return fmt.Errorf("column %q: multi output with predefined fields requires output_fields", s.Name)
		}
		seen := make(map[string]struct{}, len(s.OutputFields))
		for _, f := range s.OutputFields {
			f = strings.TrimSpace(f)
			if f == "" {
				return fmt.Errorf("column %q: empty output field name", s.Name)
			}
			if _, dup := seen[f]; dup {
				return fmt.Errorf("column %q: duplicate output field %q", s.Name, f)
			}
			seen[f] = struct{}{}
		}
	}
	if err := s.Params.Validate(); err != nil {
		return fmt.Errorf("column %q: %w", s.Name, err)
	}
	return nil
}

// SubColumnName is the only place the {column}_{field} convention lives.
func SubColumnName(columnName, field string) string {
	return columnName + "_" + field
}

func secondsToDuration(sec float64) time.Duration {
	if sec <= 0 {
		return 0
	}
	return time.Duration(sec * float64(time.Second))
}

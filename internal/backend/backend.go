// Package backend adapts text-generation services to a single blocking call.
package backend

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Generator turns one prompt into one answer. Implementations must be safe
// for concurrent use.
type Generator interface {
	Name() string
	Generate(ctx context.Context, prompt, model string) (string, error)
}

// GenerationError wraps every transport or service failure of a Generator.
type GenerationError struct {
	Backend string
	Model   string
	// StatusCode is the HTTP status when the service answered, else 0.
	StatusCode int
	Cause      error
}

func (e *GenerationError) Error() string {
	msg := fmt.Sprintf("%s generation failed", e.Backend)
	if e.Model != "" {
		msg += " (model " + e.Model + ")"
	}
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(": status %d", e.StatusCode)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *GenerationError) Unwrap() error { return e.Cause }

const (
	DefaultTimeout     = 120 * time.Second
	StandardTemp       = 0.7
	StandardMaxTokens  = 1000
	pingMaxTokens      = 10
	errorBodyMaxLength = 300
)

// DefaultReasoningModels accept neither temperature nor an output limit.
var DefaultReasoningModels = []string{"o1", "o1-mini", "o3", "o3-mini", "o4-mini"}

// Profile is the sampling setup sent with a request. A nil Temperature and a
// zero MaxTokens mean the parameter is omitted.
type Profile struct {
	Name        string
	Temperature *float32
	MaxTokens   int
}

func (p Profile) IsReasoning() bool { return p.Temperature == nil && p.MaxTokens == 0 }

func StandardProfile() Profile {
	t := float32(StandardTemp)
	return Profile{Name: "standard", Temperature: &t, MaxTokens: StandardMaxTokens}
}

func ReasoningProfile() Profile {
	return Profile{Name: "reasoning"}
}

// ProfileFor picks the reasoning profile when model is listed in reasoning
// (case-insensitive), else the standard one.
func ProfileFor(model string, reasoning []string) Profile {
	key := strings.ToLower(strings.TrimSpace(model))
	for _, r := range reasoning {
		if key != "" && key == strings.ToLower(strings.TrimSpace(r)) {
			return ReasoningProfile()
		}
	}
	return StandardProfile()
}

// Options configures a backend. Empty fields fall back to backend defaults.
type Options struct {
	BaseURL         string
	APIKey          string
	Timeout         time.Duration
	ReasoningModels []string
	HTTPClient      *http.Client
}

func (o Options) timeout() time.Duration {
	if o.Timeout > 0 {
		return o.Timeout
	}
	return DefaultTimeout
}

func (o Options) reasoningModels() []string {
	if o.ReasoningModels != nil {
		return o.ReasoningModels
	}
	return DefaultReasoningModels
}

var (
	logWarnFn  = func(string) {}
	logErrorFn = func(string) {}
)

// SetLogFuncs configures optional logging hooks used by some backends.
// Callers can safely pass nil to disable the hook.
func SetLogFuncs(warnFn, errorFn func(string)) {
	if warnFn != nil {
		logWarnFn = warnFn
	} else {
		logWarnFn = func(string) {}
	}
	if errorFn != nil {
		logErrorFn = errorFn
	} else {
		logErrorFn = func(string) {}
	}
}

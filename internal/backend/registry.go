package backend

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Factory builds a Generator from options.
type Factory func(opts Options) (Generator, error)

const DefaultBackend = "openai"

var registry = map[string]Factory{
	"openai": func(opts Options) (Generator, error) { return NewOpenAI(opts) },
	"gemini": func(opts Options) (Generator, error) { return NewGemini(context.Background(), opts) },
}

// Names lists the registered backends in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func Select(name string) (Factory, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		key = DefaultBackend
	}
	if f, ok := registry[key]; ok {
		return f, nil
	}
	return nil, fmt.Errorf("unsupported backend %q (available: %s)", name, strings.Join(Names(), ", "))
}

// New selects a backend by name and builds it.
func New(name string, opts Options) (Generator, error) {
	f, err := Select(name)
	if err != nil {
		return nil, err
	}
	return f(opts)
}

const pingPrompt = "Connection test. Reply with the single word: connected"

// Ping sends a tiny prompt and returns the trimmed reply.
func Ping(ctx context.Context, g Generator, model string) (string, error) {
	if p, ok := g.(interface {
		ping(ctx context.Context, model string) (string, error)
	}); ok {
		reply, err := p.ping(ctx, model)
		return strings.TrimSpace(reply), err
	}
	reply, err := g.Generate(ctx, pingPrompt, model)
	return strings.TrimSpace(reply), err
}

package backend

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"google.golang.org/genai"
)

// GeminiBackend calls the Gemini API through the genai SDK.
type GeminiBackend struct {
	client    *genai.Client
	reasoning []string
}

// NewGemini builds a client. Without an explicit key it falls back to
// GEMINI_API_KEY from ~/.gemini/.env, then to the SDK's own environment lookup.
func NewGemini(ctx context.Context, opts Options) (*GeminiBackend, error) {
	apiKey := strings.TrimSpace(opts.APIKey)
	baseURL := strings.TrimSpace(opts.BaseURL)
	if apiKey == "" || baseURL == "" {
		env := LoadGeminiEnv()
		if apiKey == "" {
			apiKey = env["GEMINI_API_KEY"]
		}
		if baseURL == "" {
			baseURL = env["GOOGLE_GEMINI_BASE_URL"]
		}
	}

	cfg := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: opts.HTTPClient,
	}
	if baseURL != "" {
		cfg.HTTPOptions.BaseURL = baseURL
	}
	timeout := opts.timeout()
	cfg.HTTPOptions.Timeout = &timeout

	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini backend: %w", err)
	}
	return &GeminiBackend{client: client, reasoning: opts.reasoningModels()}, nil
}

func (b *GeminiBackend) Name() string { return "gemini" }

func (b *GeminiBackend) Generate(ctx context.Context, prompt, model string) (string, error) {
	return b.generate(ctx, prompt, model, ProfileFor(model, b.reasoning))
}

func (b *GeminiBackend) ping(ctx context.Context, model string) (string, error) {
	p := ProfileFor(model, b.reasoning)
	if !p.IsReasoning() {
		p.MaxTokens = pingMaxTokens
	}
	return b.generate(ctx, pingPrompt, model, p)
}

func (b *GeminiBackend) generate(ctx context.Context, prompt, model string, profile Profile) (string, error) {
	var cfg *genai.GenerateContentConfig
	if !profile.IsReasoning() {
		cfg = &genai.GenerateContentConfig{
			Temperature:     profile.Temperature,
			MaxOutputTokens: int32(profile.MaxTokens),
		}
	}

	resp, err := b.client.Models.GenerateContent(ctx, model, genai.Text(prompt), cfg)
	if err != nil {
		gerr := &GenerationError{Backend: b.Name(), Model: model, Cause: err}
		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			gerr.StatusCode = apiErr.Code
			logErrorFn(fmt.Sprintf("gemini: %s returned %d: %s", model, apiErr.Code, apiErr.Message))
		}
		return "", gerr
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		logWarnFn(fmt.Sprintf("gemini: %s returned an empty completion", model))
		return "", &GenerationError{Backend: b.Name(), Model: model, Cause: errors.New("empty completion")}
	}
	return text, nil
}

// LoadGeminiEnv loads environment variables from ~/.gemini/.env.
// Supports GEMINI_API_KEY and GOOGLE_GEMINI_BASE_URL.
func LoadGeminiEnv() map[string]string {
	home, err := userHomeDir()
	if err != nil || home == "" {
		return nil
	}

	envDir := filepath.Clean(filepath.Join(home, ".gemini"))
	envPath := filepath.Clean(filepath.Join(envDir, ".env"))
	rel, err := filepath.Rel(envDir, envPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return nil
	}

	data, err := os.ReadFile(envPath) // #nosec G304 -- path is fixed under user home and validated to stay within envDir
	if err != nil {
		return nil
	}

	env := make(map[string]string)
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		idx := strings.IndexByte(line, '=')
		if idx <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:idx])
		value := strings.Trim(strings.TrimSpace(line[idx+1:]), `"'`)
		if key != "" && value != "" {
			env[key] = value
		}
	}
	if len(env) == 0 {
		return nil
	}
	return env
}

var userHomeDir = os.UserHomeDir

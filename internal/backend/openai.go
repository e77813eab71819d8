package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"tablegen/internal/utils"

	"github.com/goccy/go-json"
)

const DefaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAIBackend talks to any OpenAI-compatible /chat/completions endpoint.
type OpenAIBackend struct {
	baseURL   string
	apiKey    string
	reasoning []string
	client    *http.Client
}

func NewOpenAI(opts Options) (*OpenAIBackend, error) {
	apiKey := strings.TrimSpace(opts.APIKey)
	if apiKey == "" {
		return nil, errors.New("openai backend: API key is not configured")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultOpenAIBaseURL
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: opts.timeout()}
	}
	return &OpenAIBackend{
		baseURL:   baseURL,
		apiKey:    apiKey,
		reasoning: opts.reasoningModels(),
		client:    client,
	}, nil
}

func (b *OpenAIBackend) Name() string { return "openai" }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature *float32      `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

func (b *OpenAIBackend) Generate(ctx context.Context, prompt, model string) (string, error) {
	return b.complete(ctx, prompt, model, ProfileFor(model, b.reasoning))
}

func (b *OpenAIBackend) ping(ctx context.Context, model string) (string, error) {
	p := ProfileFor(model, b.reasoning)
	if !p.IsReasoning() {
		p.MaxTokens = pingMaxTokens
	}
	return b.complete(ctx, pingPrompt, model, p)
}

func (b *OpenAIBackend) complete(ctx context.Context, prompt, model string, profile Profile) (string, error) {
	fail := func(status int, err error) (string, error) {
		return "", &GenerationError{Backend: b.Name(), Model: model, StatusCode: status, Cause: err}
	}

	body, err := json.Marshal(chatRequest{
		Model:       model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: profile.Temperature,
		MaxTokens:   profile.MaxTokens,
	})
	if err != nil {
		return fail(0, fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return fail(0, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+b.apiKey)

	resp, err := b.client.Do(req)
	if err != nil {
		return fail(0, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fail(resp.StatusCode, fmt.Errorf("read response: %w", err))
	}

	var parsed chatResponse
	decodeErr := json.Unmarshal(raw, &parsed)

	if resp.StatusCode != http.StatusOK {
		detail := utils.Truncate(strings.TrimSpace(string(raw)), errorBodyMaxLength)
		if decodeErr == nil && parsed.Error != nil && parsed.Error.Message != "" {
			detail = parsed.Error.Message
		}
		logErrorFn(fmt.Sprintf("openai: %s returned %d: %s", model, resp.StatusCode, detail))
		return fail(resp.StatusCode, errors.New(detail))
	}
	if decodeErr != nil {
		return fail(resp.StatusCode, fmt.Errorf("decode response: %w", decodeErr))
	}
	if parsed.Error != nil {
		return fail(resp.StatusCode, errors.New(parsed.Error.Message))
	}
	if len(parsed.Choices) == 0 {
		return fail(resp.StatusCode, errors.New("no completion returned"))
	}

	content := strings.TrimSpace(parsed.Choices[0].Message.Content)
	if content == "" {
		logWarnFn(fmt.Sprintf("openai: %s returned an empty completion", model))
		return fail(resp.StatusCode, errors.New("empty completion"))
	}
	return content, nil
}

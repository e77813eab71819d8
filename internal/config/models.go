package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"tablegen/internal/backend"
	ilogger "tablegen/internal/logger"

	"github.com/goccy/go-json"
)

type BackendConfig struct {
	BaseURL        string `json:"base_url,omitempty"`
	APIKey         string `json:"api_key,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
}

func (b BackendConfig) Timeout() time.Duration {
	if b.TimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(b.TimeoutSeconds) * time.Second
}

// ModelAlias lets a job refer to a backend+model pair by a short name.
type ModelAlias struct {
	Backend     string `json:"backend"`
	Model       string `json:"model"`
	Description string `json:"description,omitempty"`
	BaseURL     string `json:"base_url,omitempty"`
	APIKey      string `json:"api_key,omitempty"`
}

type ModelsConfig struct {
	DefaultBackend  string                   `json:"default_backend"`
	DefaultModel    string                   `json:"default_model"`
	ReasoningModels []string                 `json:"reasoning_models,omitempty"`
	Aliases         map[string]ModelAlias    `json:"aliases,omitempty"`
	Backends        map[string]BackendConfig `json:"backends,omitempty"`
}

var defaultModelsConfig = ModelsConfig{
	DefaultBackend:  backend.DefaultBackend,
	DefaultModel:    "gpt-4o-mini",
	ReasoningModels: backend.DefaultReasoningModels,
	Aliases: map[string]ModelAlias{
		"fast":      {Backend: "openai", Model: "gpt-4o-mini", Description: "Cheap single-field columns"},
		"quality":   {Backend: "openai", Model: "gpt-4o", Description: "Multi-field extraction"},
		"reasoning": {Backend: "openai", Model: "o1-mini", Description: "No sampling parameters"},
		"gemini":    {Backend: "gemini", Model: "gemini-2.0-flash", Description: "Google Gemini"},
	},
}

// apiKeyEnv is consulted when models.json carries no key for a backend.
var apiKeyEnv = map[string]string{
	"openai": "OPENAI_API_KEY",
	"gemini": "GEMINI_API_KEY",
}

var (
	modelsConfigOnce   sync.Once
	modelsConfigCached *ModelsConfig
)

func modelsConfig() *ModelsConfig {
	modelsConfigOnce.Do(func() {
		modelsConfigCached = loadModelsConfig()
	})
	if modelsConfigCached == nil {
		return &defaultModelsConfig
	}
	return modelsConfigCached
}

func loadModelsConfig() *ModelsConfig {
	home, err := os.UserHomeDir()
	if err != nil {
		ilogger.LogWarn(fmt.Sprintf("Failed to resolve home directory for models config: %v; using defaults", err))
		return &defaultModelsConfig
	}

	configDir := filepath.Clean(filepath.Join(home, ConfigDirName))
	configPath := filepath.Clean(filepath.Join(configDir, "models.json"))
	rel, err := filepath.Rel(configDir, configPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return &defaultModelsConfig
	}

	data, err := os.ReadFile(configPath) // #nosec G304 -- path is fixed under user home and validated to stay within configDir
	if err != nil {
		if !os.IsNotExist(err) {
			ilogger.LogWarn(fmt.Sprintf("Failed to read models config %s: %v; using defaults", configPath, err))
		}
		return &defaultModelsConfig
	}

	var cfg ModelsConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		ilogger.LogWarn(fmt.Sprintf("Failed to parse models config %s: %v; using defaults", configPath, err))
		return &defaultModelsConfig
	}

	cfg.DefaultBackend = strings.ToLower(strings.TrimSpace(cfg.DefaultBackend))
	if cfg.DefaultBackend == "" {
		cfg.DefaultBackend = defaultModelsConfig.DefaultBackend
	}
	cfg.DefaultModel = strings.TrimSpace(cfg.DefaultModel)
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = defaultModelsConfig.DefaultModel
	}
	// an explicit empty list disables the reasoning profile
	if cfg.ReasoningModels == nil {
		cfg.ReasoningModels = defaultModelsConfig.ReasoningModels
	}

	for name, alias := range defaultModelsConfig.Aliases {
		if _, exists := cfg.Aliases[name]; !exists {
			if cfg.Aliases == nil {
				cfg.Aliases = make(map[string]ModelAlias)
			}
			cfg.Aliases[name] = alias
		}
	}

	// Normalize backend keys so lookups can be case-insensitive.
	if len(cfg.Backends) > 0 {
		normalized := make(map[string]BackendConfig, len(cfg.Backends))
		for k, v := range cfg.Backends {
			key := strings.ToLower(strings.TrimSpace(k))
			if key == "" {
				continue
			}
			normalized[key] = v
		}
		if len(normalized) > 0 {
			cfg.Backends = normalized
		} else {
			cfg.Backends = nil
		}
	}

	return &cfg
}

// ResolveBackendConfig returns the settings for backendName (default backend
// when empty). A missing API key falls back to the backend's usual
// environment variable.
func ResolveBackendConfig(backendName string) BackendConfig {
	cfg := modelsConfig()
	key := strings.ToLower(strings.TrimSpace(backendName))
	if key == "" {
		key = cfg.DefaultBackend
	}
	resolved := cfg.Backends[key]
	resolved.BaseURL = strings.TrimSpace(resolved.BaseURL)
	resolved.APIKey = strings.TrimSpace(resolved.APIKey)
	if resolved.APIKey == "" {
		if env, ok := apiKeyEnv[key]; ok {
			resolved.APIKey = strings.TrimSpace(os.Getenv(env))
		}
	}
	return resolved
}

// Target is a fully resolved backend+model pair.
type Target struct {
	Backend string
	Model   string
	BackendConfig
}

// ResolveModel turns a model reference from a job into a Target. ref may be
// an alias from models.json, a plain model name, or empty for the default.
// backendOverride, when set, wins over the alias and the default backend.
func ResolveModel(ref, backendOverride string) Target {
	cfg := modelsConfig()
	ref = strings.TrimSpace(ref)
	backendOverride = strings.ToLower(strings.TrimSpace(backendOverride))

	t := Target{Backend: cfg.DefaultBackend, Model: ref}
	var alias ModelAlias
	if a, ok := cfg.Aliases[ref]; ok && ref != "" {
		alias = a
		if b := strings.ToLower(strings.TrimSpace(a.Backend)); b != "" {
			t.Backend = b
		}
		t.Model = strings.TrimSpace(a.Model)
	}
	if backendOverride != "" {
		t.Backend = backendOverride
	}
	if t.Model == "" {
		t.Model = cfg.DefaultModel
	}

	t.BackendConfig = ResolveBackendConfig(t.Backend)
	if u := strings.TrimSpace(alias.BaseURL); u != "" {
		t.BaseURL = u
	}
	if k := strings.TrimSpace(alias.APIKey); k != "" {
		t.APIKey = k
	}
	return t
}

// ReasoningModels lists the models that take no sampling parameters.
func ReasoningModels() []string {
	return append([]string(nil), modelsConfig().ReasoningModels...)
}

func ResetModelsConfigCacheForTest() {
	modelsConfigCached = nil
	modelsConfigOnce = sync.Once{}
}

package ai

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// TextGenerator generates text from a system prompt and user prompt.
// All LLM providers (Gemini, Ollama, OpenAI-compatible) implement this interface.
type TextGenerator interface {
	GenerateText(ctx context.Context, systemPrompt, userPrompt string) (Generation, error)
}

// Generation is a completion plus the usage the provider reported.
// Token counts are nil when the provider did not return them.
type Generation struct {
	Text             string
	Model            string
	PromptTokens     *int
	CompletionTokens *int
}

const (
	DefaultModel         = "gpt-4o-mini"
	defaultOpenAIBaseURL = "https://api.openai.com/v1"
)

// Config selects a provider for NewGenerator.
type Config struct {
	Provider string // openai, gemini, ollama; empty disables the LLM
	BaseURL  string
	APIKey   string
	Model    string
	JSON     bool
	Timeout  time.Duration
}

// NewGenerator builds the configured provider. It returns (nil, nil) when no
// provider is configured or a hosted provider has no API key, so callers can
// fall back to degraded output.
func NewGenerator(cfg Config) (TextGenerator, error) {
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = DefaultModel
	}
	opts := []Option{WithTimeout(cfg.Timeout)}
	if cfg.JSON {
		opts = append(opts, WithJSONResponse())
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", "none":
		return nil, nil
	case "openai", "openai-compat":
		if strings.TrimSpace(cfg.APIKey) == "" && strings.TrimSpace(cfg.BaseURL) == "" {
			return nil, nil
		}
		baseURL := cfg.BaseURL
		if strings.TrimSpace(baseURL) == "" {
			baseURL = defaultOpenAIBaseURL
		}
		return NewOpenAICompatGenerator(baseURL, cfg.APIKey, model, opts...), nil
	case "gemini":
		if strings.TrimSpace(cfg.APIKey) == "" {
			return nil, nil
		}
		client, err := NewGeminiClient(cfg.APIKey, cfg.BaseURL)
		if err != nil {
			return nil, err
		}
		return NewGeminiGenerator(client, model, opts...), nil
	case "ollama":
		return NewOllamaGenerator(NewOllamaClient(cfg.BaseURL), model, opts...), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

type generatorOptions struct {
	json    bool
	timeout time.Duration
}

// Option tweaks a generator at construction.
type Option func(*generatorOptions)

// WithJSONResponse asks the provider to return a single JSON object.
func WithJSONResponse() Option {
	return func(o *generatorOptions) { o.json = true }
}

// WithTimeout overrides the HTTP timeout; zero keeps the default.
func WithTimeout(d time.Duration) Option {
	return func(o *generatorOptions) {
		if d > 0 {
			o.timeout = d
		}
	}
}

func buildOptions(defaultTimeout time.Duration, opts []Option) generatorOptions {
	o := generatorOptions{timeout: defaultTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

func intPtr(v int) *int { return &v }

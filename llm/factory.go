package llm

import (
	"context"
	"log/slog"

	"github.com/m4xw311/devpilot/config"
	"github.com/m4xw311/devpilot/cost"
	"github.com/m4xw311/devpilot/errors"
)

var defaultModels = map[string]string{
	"anthropic": "claude-sonnet-4-5",
	"openai":    "gpt-4o",
	"gemini":    "gemini-2.0-flash",
	"bedrock":   "anthropic.claude-3-5-sonnet-20240620-v1:0",
	"ollama":    "llama3.1:latest",
	"groq":      "llama-3.3-70b-versatile",
	"mistral":   "mistral-large-latest",
	"mock":      "mock",
}

// gollmProviders are served through gollm.
var gollmProviders = map[string]bool{
	"groq":       true,
	"mistral":    true,
	"cohere":     true,
	"deepseek":   true,
	"openrouter": true,
}

// NewFromConfig builds the adapter named by cfg.LLMClient.
func NewFromConfig(ctx context.Context, cfg *config.Config, recorder cost.Recorder, logger *slog.Logger) (LLMClient, error) {
	provider := cfg.LLMClient
	opts := Options{
		Model:        cfg.Model,
		SystemPrompt: cfg.SystemPrompt,
		Temperature:  cfg.Temperature,
		MaxTokens:    int64(cfg.MaxTokens),
		Recorder:     recorder,
		Logger:       logger,
	}
	if opts.Model == "" {
		opts.Model = defaultModels[provider]
	}

	switch provider {
	case "mock", "":
		return NewScriptedClient(opts), nil
	case "anthropic":
		return NewAnthropicLLMClient(opts)
	case "openai":
		return NewOpenAILLMClient(opts)
	case "gemini":
		return NewGeminiLLMClient(ctx, opts)
	case "bedrock":
		return NewBedrockLLMClient(ctx, opts)
	case "ollama":
		return NewOllamaLLMClient(cfg.OllamaURL, opts)
	}
	if gollmProviders[provider] {
		return NewGollmLLMClient(provider, opts)
	}
	return nil, errors.New("unknown LLM client '%s'", provider)
}

// Package provider selects and constructs the LLM backend behind the reasoning client.
package provider

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/qaflow/ai/openrouter"
	"github.com/teranos/qaflow/am"
	"github.com/teranos/qaflow/errors"
)

// Provider represents an LLM provider type
type Provider string

const (
	// ProviderLocal uses local inference (Ollama, LocalAI)
	ProviderLocal Provider = "local"
	// ProviderOpenRouter uses OpenRouter.ai API
	ProviderOpenRouter Provider = "openrouter"
	// ProviderAuto selects based on configuration
	ProviderAuto Provider = "auto"
)

// AIClient is implemented by every provider
type AIClient interface {
	Chat(ctx context.Context, req openrouter.ChatRequest) (*openrouter.ChatResponse, error)
}

// ParseProvider converts a string to a Provider
func ParseProvider(s string) (Provider, error) {
	switch s {
	case "local", "ollama", "localai":
		return ProviderLocal, nil
	case "openrouter", "or":
		return ProviderOpenRouter, nil
	case "auto", "":
		return ProviderAuto, nil
	default:
		return "", errors.Newf("unknown provider: %s (valid: local, openrouter, auto)", s)
	}
}

// DetermineProvider resolves auto selection: local inference when it is
// enabled with a base URL, OpenRouter otherwise.
func DetermineProvider(cfg *am.Config, explicit Provider) Provider {
	if explicit == ProviderLocal || explicit == ProviderOpenRouter {
		return explicit
	}
	if cfg.LocalInference.Enabled && cfg.LocalInference.BaseURL != "" {
		return ProviderLocal
	}
	return ProviderOpenRouter
}

// NewAIClient creates the client named by reasoning.provider
func NewAIClient(cfg *am.Config, logger *zap.SugaredLogger) (AIClient, Provider, error) {
	requested, err := ParseProvider(cfg.Reasoning.Provider)
	if err != nil {
		return nil, "", err
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	chosen := DetermineProvider(cfg, requested)
	switch chosen {
	case ProviderLocal:
		return NewLocalClient(cfg.LocalInference, logger), chosen, nil
	default:
		return newOpenRouterClient(cfg, logger), chosen, nil
	}
}

func newOpenRouterClient(cfg *am.Config, logger *zap.SugaredLogger) AIClient {
	temperature := cfg.OpenRouter.Temperature
	maxTokens := cfg.OpenRouter.MaxTokens
	return openrouter.NewClient(openrouter.Config{
		APIKey:      cfg.OpenRouter.APIKey,
		Model:       cfg.OpenRouter.Model,
		BaseURL:     cfg.OpenRouter.BaseURL,
		Temperature: &temperature,
		MaxTokens:   &maxTokens,
		Timeout:     time.Duration(cfg.Reasoning.TimeoutSeconds) * time.Second,
		Logger:      logger.Named("openrouter"),
	})
}

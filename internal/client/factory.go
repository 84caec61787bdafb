package client

import (
	"context"
	"strings"

	"selkie/internal/config"
	"selkie/internal/logging"
	"selkie/internal/ratelimit"
	"selkie/internal/security"
)

// ollamaPrefixes lists common open-weight model families. A model whose name
// starts with one of these is routed to Ollama when no provider is set.
var ollamaPrefixes = []string{
	"llama", "qwen", "deepseek", "codellama", "mistral", "phi", "gemma",
	"vicuna", "yi", "starcoder", "wizardcoder", "orca", "neural", "solar",
	"openchat", "zephyr", "dolphin", "nous", "tinyllama", "stablelm",
}

// tunable is the optional surface for wiring protections into a client.
type tunable interface {
	SetRateLimiter(*ratelimit.Limiter)
	SetBreaker(*CircuitBreaker)
	SetStatusCallback(StatusCallback)
}

// New builds the client selected by cfg, with the rate limiter and circuit
// breaker from cfg already attached.
func New(ctx context.Context, cfg *config.Config) (Client, error) {
	provider := resolveProvider(cfg.Model.Provider, cfg.Model.Name)
	logging.Debug("creating client", "provider", provider, "model", cfg.Model.Name)

	var (
		c   Client
		err error
	)
	switch provider {
	case "gemini":
		c, err = newGeminiFromConfig(ctx, cfg)
	default:
		c, err = newOllamaFromConfig(cfg)
	}
	if err != nil {
		return nil, err
	}

	if t, ok := c.(tunable); ok {
		t.SetRateLimiter(limiterFromConfig(cfg))
		t.SetBreaker(breakerFromConfig(cfg))
	}
	return c, nil
}

// SetStatusCallback installs cb on clients that emit progress notices. The
// base Client interface does not require support, so this is a no-op for
// implementations without one.
func SetStatusCallback(c Client, cb StatusCallback) {
	if t, ok := c.(tunable); ok {
		t.SetStatusCallback(cb)
	}
}

// resolveProvider picks an explicit provider when configured and otherwise
// detects one from the model name. Unknown names default to Ollama, which
// keeps a misspelled local model from silently hitting a paid API.
func resolveProvider(provider, model string) string {
	switch provider {
	case "ollama", "gemini":
		return provider
	}

	m := strings.ToLower(model)
	if strings.HasPrefix(m, "gemini") {
		return "gemini"
	}
	for _, prefix := range ollamaPrefixes {
		if strings.HasPrefix(m, prefix) {
			return "ollama"
		}
	}
	return "ollama"
}

func newOllamaFromConfig(cfg *config.Config) (Client, error) {
	key := security.GetOllamaKey(cfg.API.OllamaKey)
	if key.IsSet() {
		logging.Debug("loaded Ollama API key", "source", key.Source)
	}

	return NewOllamaClient(OllamaConfig{
		BaseURL:     cfg.API.OllamaBaseURL,
		APIKey:      key.Value,
		Model:       cfg.Model.Name,
		Temperature: cfg.Model.Temperature,
		MaxTokens:   cfg.Model.MaxOutputTokens,
		HTTPTimeout: cfg.API.Retry.HTTPTimeout,
		MaxRetries:  cfg.API.Retry.MaxRetries,
		RetryDelay:  cfg.API.Retry.RetryDelay,
	})
}

func newGeminiFromConfig(ctx context.Context, cfg *config.Config) (Client, error) {
	key := security.GetGeminiKey(cfg.API.GeminiKey)
	if key.IsSet() {
		logging.Debug("loaded Gemini API key", "source", key.Source)
	}

	return NewGeminiClient(ctx, GeminiConfig{
		APIKey:      key.Value,
		Model:       cfg.Model.Name,
		Temperature: cfg.Model.Temperature,
		MaxTokens:   cfg.Model.MaxOutputTokens,
		MaxRetries:  cfg.API.Retry.MaxRetries,
		RetryDelay:  cfg.API.Retry.RetryDelay,
	})
}

func limiterFromConfig(cfg *config.Config) *ratelimit.Limiter {
	if !cfg.API.RateLimit.Enabled {
		return nil
	}
	return ratelimit.NewLimiter(ratelimit.Config{
		Enabled:           true,
		RequestsPerMinute: cfg.API.RateLimit.RequestsPerMinute,
		TokensPerMinute:   cfg.API.RateLimit.TokensPerMinute,
		BurstSize:         cfg.API.RateLimit.BurstSize,
	})
}

func breakerFromConfig(cfg *config.Config) *CircuitBreaker {
	if !cfg.API.Breaker.Enabled {
		return nil
	}
	return NewCircuitBreaker(cfg.API.Breaker.Threshold, cfg.API.Breaker.ResetTimeout)
}

package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"selkie/internal/logging"
	"selkie/internal/ratelimit"

	"github.com/ollama/ollama/api"
)

// OllamaConfig holds settings for the Ollama API client.
type OllamaConfig struct {
	BaseURL     string        // default "http://localhost:11434"
	APIKey      string        // optional, for remote servers behind auth
	Model       string        // e.g. "qwen2.5-coder", "llama3.2"
	Temperature float32
	MaxTokens   int32         // max output tokens (num_predict)
	HTTPTimeout time.Duration // default 120s
	MaxRetries  int           // default 3
	RetryDelay  time.Duration // default 1s
}

// OllamaClient streams chat completions from an Ollama server.
type OllamaClient struct {
	client *api.Client
	config OllamaConfig

	mu      sync.RWMutex
	limiter *ratelimit.Limiter
	breaker *CircuitBreaker
	status  StatusCallback
}

// authTransport adds a bearer token to every request.
type authTransport struct {
	base   http.RoundTripper
	apiKey string
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	clone.Header.Set("Authorization", "Bearer "+t.apiKey)
	return t.base.RoundTrip(clone)
}

func NewOllamaClient(config OllamaConfig) (*OllamaClient, error) {
	if config.Model == "" {
		return nil, fmt.Errorf("model name is required")
	}
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434"
	}
	if config.MaxTokens == 0 {
		config.MaxTokens = 8192
	}
	if config.HTTPTimeout == 0 {
		config.HTTPTimeout = 120 * time.Second
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = 3
	}
	if config.RetryDelay == 0 {
		config.RetryDelay = time.Second
	}

	baseURL, err := url.Parse(config.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid BaseURL: %w", err)
	}

	if baseURL.Scheme == "http" {
		host := baseURL.Hostname()
		if host != "localhost" && host != "127.0.0.1" && host != "::1" {
			logging.Warn("Ollama connection uses unencrypted HTTP to remote host",
				"host", host,
				"recommendation", "use HTTPS for remote Ollama servers")
		}
	}

	httpClient := &http.Client{Timeout: config.HTTPTimeout}
	if config.APIKey != "" {
		httpClient.Transport = &authTransport{
			base:   http.DefaultTransport,
			apiKey: config.APIKey,
		}
	}

	return &OllamaClient{
		client: api.NewClient(baseURL, httpClient),
		config: config,
		status: NopStatusCallback{},
	}, nil
}

// SetRateLimiter installs a limiter consulted before each request. A nil
// limiter disables limiting.
func (c *OllamaClient) SetRateLimiter(l *ratelimit.Limiter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.limiter = l
}

// SetBreaker installs a circuit breaker. A nil breaker never trips.
func (c *OllamaClient) SetBreaker(cb *CircuitBreaker) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.breaker = cb
}

func (c *OllamaClient) SetStatusCallback(cb StatusCallback) {
	if cb == nil {
		cb = NopStatusCallback{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = cb
}

func (c *OllamaClient) deps() (*ratelimit.Limiter, *CircuitBreaker, StatusCallback) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.limiter, c.breaker, c.status
}

func (c *OllamaClient) Model() string { return c.config.Model }

// Close is a no-op; the Ollama client holds no persistent connection.
func (c *OllamaClient) Close() error { return nil }

// Stream sends the request and returns a streaming response. Attempts that
// fail before the first chunk arrives are retried with backoff; once data has
// started flowing, errors are delivered on the chunk channel instead.
func (c *OllamaClient) Stream(ctx context.Context, req Request) (*StreamingResponse, error) {
	apiReq := c.buildChatRequest(req)
	limiter, breaker, status := c.deps()

	estimated := ratelimit.EstimateTokens(req.System+req.Message) +
		ratelimit.EstimateTokensFromContents(len(req.History), 400)
	if err := limiter.AcquireWithContext(ctx, estimated); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := CalculateBackoff(c.config.RetryDelay, attempt-1, 30*time.Second)
			logging.Info("retrying Ollama request", "attempt", attempt, "delay", delay)
			status.OnRetry(attempt, c.config.MaxRetries, delay, shortenReason(lastErr))

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				limiter.ReturnTokens(1, estimated)
				return nil, ctx.Err()
			}
		}

		if err := breaker.Allow(); err != nil {
			limiter.ReturnTokens(1, estimated)
			return nil, err
		}

		resp, err := c.startStream(ctx, apiReq, limiter, status)
		if err == nil {
			breaker.RecordSuccess()
			return resp, nil
		}

		lastErr = err
		breaker.RecordFailure()

		if ctx.Err() != nil {
			limiter.ReturnTokens(1, estimated)
			return nil, ctx.Err()
		}
		if !isRetryableOllamaError(err) {
			limiter.ReturnTokens(1, estimated)
			return nil, wrapOllamaError(err, c.config.Model)
		}
		logging.Warn("Ollama request failed, will retry", "attempt", attempt, "error", err)
	}

	limiter.ReturnTokens(1, estimated)
	return nil, fmt.Errorf("max retries (%d) exceeded: %w",
		c.config.MaxRetries, wrapOllamaError(lastErr, c.config.Model))
}

// startStream begins one chat attempt. It does not return until the server
// has produced its first event, so connection failures surface here as
// errors rather than on the chunk channel.
func (c *OllamaClient) startStream(ctx context.Context, req *api.ChatRequest, limiter *ratelimit.Limiter, status StatusCallback) (*StreamingResponse, error) {
	chunks := make(chan ResponseChunk, 10)
	done := make(chan struct{})
	first := make(chan error, 1)

	go func() {
		defer close(done)
		defer close(chunks)

		started := false

		err := c.client.Chat(ctx, req, func(resp api.ChatResponse) error {
			if !started {
				started = true
				first <- nil
			}

			chunk := ResponseChunk{Text: resp.Message.Content}
			if resp.Done {
				chunk.Done = true
				chunk.InputTokens = resp.PromptEvalCount
				chunk.OutputTokens = resp.EvalCount
				limiter.RecordUsage(int64(resp.PromptEvalCount + resp.EvalCount))
			}

			select {
			case chunks <- chunk:
			case <-ctx.Done():
				return ctx.Err()
			}
			return nil
		})

		if err != nil {
			if !started {
				first <- err
				return
			}
			status.OnError(err, false)
			select {
			case chunks <- ResponseChunk{Err: wrapOllamaError(err, c.config.Model), Done: true}:
			case <-ctx.Done():
			}
		}
	}()

	select {
	case err := <-first:
		if err != nil {
			return nil, err
		}
		return &StreamingResponse{Chunks: chunks, Done: done}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *OllamaClient) buildChatRequest(req Request) *api.ChatRequest {
	messages := make([]api.Message, 0, len(req.History)+2)
	if req.System != "" {
		messages = append(messages, api.Message{Role: "system", Content: req.System})
	}
	for _, m := range req.History {
		messages = append(messages, api.Message{Role: ollamaRole(m.Role), Content: m.Text})
	}
	if req.Message != "" {
		messages = append(messages, api.Message{Role: "user", Content: req.Message})
	}

	out := &api.ChatRequest{
		Model:    c.config.Model,
		Messages: messages,
		Stream:   Ptr(true),
		Options: map[string]any{
			"num_predict": c.config.MaxTokens,
		},
	}
	if c.config.Temperature > 0 {
		out.Options["temperature"] = c.config.Temperature
	}
	return out
}

func ollamaRole(role string) string {
	if role == RoleAssistant {
		return "assistant"
	}
	return "user"
}

// ListModels returns the models installed on the Ollama server.
func (c *OllamaClient) ListModels(ctx context.Context) ([]string, error) {
	resp, err := c.client.List(ctx)
	if err != nil {
		return nil, wrapOllamaError(err, c.config.Model)
	}

	models := make([]string, 0, len(resp.Models))
	for _, m := range resp.Models {
		models = append(models, m.Name)
	}
	return models, nil
}

// Healthcheck verifies the Ollama server is reachable. The SDK has no ping
// endpoint, so listing models stands in for one.
func (c *OllamaClient) Healthcheck(ctx context.Context) error {
	if _, err := c.client.List(ctx); err != nil {
		return wrapOllamaError(err, c.config.Model)
	}
	return nil
}

// IsModelAvailable reports whether the configured model (or a tagged variant
// of it) is installed locally.
func (c *OllamaClient) IsModelAvailable(ctx context.Context, modelName string) (bool, error) {
	models, err := c.ListModels(ctx)
	if err != nil {
		return false, err
	}
	for _, m := range models {
		if m == modelName || strings.HasPrefix(m, modelName+":") {
			return true, nil
		}
	}
	return false, nil
}

// ollamaStatusCode extracts the HTTP status from an api.StatusError. The SDK
// returns the error both by value and by pointer depending on the code path,
// so both forms are matched.
func ollamaStatusCode(err error) (int, bool) {
	var pe *api.StatusError
	if errors.As(err, &pe) {
		return pe.StatusCode, true
	}
	var ve api.StatusError
	if errors.As(err, &ve) {
		return ve.StatusCode, true
	}
	return 0, false
}

func isRetryableOllamaError(err error) bool {
	if err == nil {
		return false
	}
	if code, ok := ollamaStatusCode(err); ok {
		switch code {
		case http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout:
			return true
		}
		return false
	}
	return IsRetryableError(err)
}

// IsModelNotFoundError reports whether err means the requested model is not
// installed on the server.
func IsModelNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	if code, ok := ollamaStatusCode(err); ok && code == http.StatusNotFound {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "is not installed") ||
		(strings.Contains(msg, "model") && strings.Contains(msg, "not found"))
}

// wrapOllamaError turns the common failure modes into messages that tell the
// user what to run, keeping the original error wrapped.
func wrapOllamaError(err error, model string) error {
	if err == nil {
		return nil
	}

	msg := err.Error()

	if strings.Contains(msg, "connection refused") {
		return fmt.Errorf(`Ollama server is not running.

To fix this:
  1. Start Ollama: ollama serve
  2. Or check if it's running: ollama list

Original error: %w`, err)
	}

	if strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded") {
		return fmt.Errorf(`Ollama request timed out.

Possible causes:
  - the model is loading into memory (the first request is slow)
  - the model is too large for available RAM/VRAM
  - the server is overloaded

Try again or use a smaller model.

Original error: %w`, err)
	}

	if IsModelNotFoundError(err) {
		return fmt.Errorf(`Model '%s' is not installed.

To fix this:
  1. Pull the model: ollama pull %s
  2. Or list available models: ollama list

Original error: %w`, model, model, err)
	}

	return err
}

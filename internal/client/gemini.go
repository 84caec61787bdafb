package client

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"selkie/internal/logging"
	"selkie/internal/ratelimit"
	"selkie/internal/security"

	"google.golang.org/genai"
)

const (
	streamIdleTimeout = 30 * time.Second
	streamIdleWarning = 15 * time.Second
)

// GeminiConfig holds settings for the Gemini API client.
type GeminiConfig struct {
	APIKey      string
	Model       string // e.g. "gemini-2.0-flash"
	Temperature float32
	MaxTokens   int32
	MaxRetries  int           // default 3
	RetryDelay  time.Duration // default 1s
}

// GeminiClient streams completions from the Gemini API.
type GeminiClient struct {
	client *genai.Client
	config GeminiConfig
	gen    *genai.GenerateContentConfig

	mu      sync.RWMutex
	limiter *ratelimit.Limiter
	breaker *CircuitBreaker
	status  StatusCallback
}

func NewGeminiClient(ctx context.Context, config GeminiConfig) (*GeminiClient, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("Gemini API key required.\n\nGet your free API key at: https://aistudio.google.com/apikey\n\nThen set SELKIE_GEMINI_KEY, or add it to your config file.")
	}
	if err := security.ValidateKeyFormat(config.APIKey); err != nil {
		return nil, fmt.Errorf("invalid Gemini API key: %w", err)
	}
	if config.Model == "" {
		return nil, fmt.Errorf("model name is required")
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = 3
	}
	if config.RetryDelay == 0 {
		config.RetryDelay = time.Second
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		Backend: genai.BackendGeminiAPI,
		APIKey:  config.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	gen := &genai.GenerateContentConfig{
		Temperature: Ptr(config.Temperature),
	}
	if config.MaxTokens > 0 {
		gen.MaxOutputTokens = config.MaxTokens
	}

	return &GeminiClient{
		client: client,
		config: config,
		gen:    gen,
		status: NopStatusCallback{},
	}, nil
}

func (c *GeminiClient) SetRateLimiter(l *ratelimit.Limiter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.limiter = l
}

func (c *GeminiClient) SetBreaker(cb *CircuitBreaker) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.breaker = cb
}

func (c *GeminiClient) SetStatusCallback(cb StatusCallback) {
	if cb == nil {
		cb = NopStatusCallback{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = cb
}

func (c *GeminiClient) deps() (*ratelimit.Limiter, *CircuitBreaker, StatusCallback) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.limiter, c.breaker, c.status
}

func (c *GeminiClient) Model() string { return c.config.Model }

// Close is a no-op; the genai client has no explicit close.
func (c *GeminiClient) Close() error { return nil }

// Stream sends the request and returns a streaming response. Attempts that
// fail before the first chunk arrives are retried with backoff; once data has
// started flowing, errors are delivered on the chunk channel instead.
func (c *GeminiClient) Stream(ctx context.Context, req Request) (*StreamingResponse, error) {
	contents := buildContents(req)
	limiter, breaker, status := c.deps()

	gen := *c.gen
	if req.System != "" {
		gen.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}

	estimated := ratelimit.EstimateTokensFromContents(len(contents), 500)
	if err := limiter.AcquireWithContext(ctx, estimated); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := CalculateBackoff(c.config.RetryDelay, attempt-1, 30*time.Second)
			logging.Info("retrying Gemini request", "attempt", attempt, "delay", delay)
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

		resp, err := c.startStream(ctx, contents, &gen, limiter, status)
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
		if !isRetryableGeminiError(err) {
			limiter.ReturnTokens(1, estimated)
			return nil, err
		}
		logging.Warn("Gemini request failed, will retry", "attempt", attempt, "error", err)
	}

	limiter.ReturnTokens(1, estimated)
	return nil, fmt.Errorf("max retries (%d) exceeded: %w", c.config.MaxRetries, lastErr)
}

// startStream begins one generation attempt. It waits for the first iterator
// event before returning, so connection and auth failures come back as
// errors while later failures travel on the chunk channel. The attempt
// context cancels the iterator pump whenever the consumer goroutine exits.
func (c *GeminiClient) startStream(ctx context.Context, contents []*genai.Content, gen *genai.GenerateContentConfig, limiter *ratelimit.Limiter, status StatusCallback) (*StreamingResponse, error) {
	attemptCtx, cancelAttempt := context.WithCancel(ctx)

	iter := c.client.Models.GenerateContentStream(attemptCtx, c.config.Model, contents, gen)

	chunks := make(chan ResponseChunk, 10)
	done := make(chan struct{})
	first := make(chan error, 1)

	go func() {
		defer close(done)
		defer close(chunks)
		defer cancelAttempt()

		type iterResult struct {
			resp *genai.GenerateContentResponse
			err  error
		}
		iterCh := make(chan iterResult)

		go func() {
			defer close(iterCh)
			for resp, err := range iter {
				select {
				case iterCh <- iterResult{resp, err}:
				case <-attemptCtx.Done():
					return
				}
			}
		}()

		started := false
		fail := func(err error) {
			if !started {
				started = true
				first <- err
				return
			}
			status.OnError(err, false)
			select {
			case chunks <- ResponseChunk{Err: err, Done: true}:
			case <-attemptCtx.Done():
			}
		}

		idleTimer := time.NewTimer(streamIdleTimeout)
		defer idleTimer.Stop()
		warnTimer := time.NewTimer(streamIdleWarning)
		defer warnTimer.Stop()
		var idleFor time.Duration

		for {
			select {
			case <-ctx.Done():
				fail(ctx.Err())
				return

			case <-warnTimer.C:
				idleFor += streamIdleWarning
				status.OnStreamIdle(idleFor)
				warnTimer.Reset(10 * time.Second)

			case <-idleTimer.C:
				logging.Warn("stream idle timeout exceeded", "timeout", streamIdleTimeout)
				fail(fmt.Errorf("stream idle timeout: no data received for %v", streamIdleTimeout))
				return

			case result, ok := <-iterCh:
				if idleFor > 0 {
					status.OnStreamResume()
					idleFor = 0
				}
				resetTimer(idleTimer, streamIdleTimeout)
				resetTimer(warnTimer, streamIdleWarning)

				if !ok {
					return
				}
				if result.err != nil {
					fail(result.err)
					return
				}
				if result.resp == nil {
					return
				}

				if !started {
					started = true
					first <- nil
				}

				chunk := processResponse(result.resp)
				if chunk.Done {
					limiter.RecordUsage(int64(chunk.InputTokens + chunk.OutputTokens))
				}

				select {
				case chunks <- chunk:
				case <-ctx.Done():
					return
				}
				if chunk.Done {
					return
				}
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

// buildContents converts a Request into genai contents, skipping empty
// messages. The API rejects empty content lists, so a blank request becomes
// a single space.
func buildContents(req Request) []*genai.Content {
	contents := make([]*genai.Content, 0, len(req.History)+1)
	for _, m := range req.History {
		if m.Text == "" {
			continue
		}
		role := genai.RoleUser
		if m.Role == RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Text, genai.Role(role)))
	}
	if req.Message != "" {
		contents = append(contents, genai.NewContentFromText(req.Message, genai.RoleUser))
	}
	if len(contents) == 0 {
		contents = append(contents, genai.NewContentFromText(" ", genai.RoleUser))
	}
	return contents
}

// processResponse converts one streamed response into a chunk. Thought parts
// are dropped; a finish reason marks the final chunk.
func processResponse(resp *genai.GenerateContentResponse) ResponseChunk {
	chunk := ResponseChunk{}

	if resp.UsageMetadata != nil {
		chunk.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
		chunk.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}

	if len(resp.Candidates) == 0 {
		chunk.Done = true
		return chunk
	}

	candidate := resp.Candidates[0]
	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			if part.Thought {
				continue
			}
			chunk.Text += part.Text
		}
	}
	if candidate.FinishReason != "" {
		chunk.Done = true
	}
	return chunk
}

// isRetryableGeminiError matches the status codes the API reports as text in
// error messages, then falls back to the shared classification.
func isRetryableGeminiError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, code := range []string{"429", "500", "502", "503", "504"} {
		if strings.Contains(msg, code) {
			return true
		}
	}
	return IsRetryableError(err)
}

// resetTimer safely resets a timer to a new duration.
func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

// Ptr returns a pointer to the given value.
func Ptr[T any](v T) *T {
	return &v
}

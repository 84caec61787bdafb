package ratelimit

import (
	"context"
	"sync/atomic"
)

// Limiter gates outbound API calls by request count and token volume so a
// busy session stays inside provider quotas instead of tripping 429s. A nil
// *Limiter is valid and never blocks.
type Limiter struct {
	requests *bucket
	tokens   *bucket
	enabled  atomic.Bool

	totalRequests   atomic.Int64
	blockedRequests atomic.Int64
	usedTokens      atomic.Int64
}

// Config holds limiter settings. BurstSize is the number of requests that
// may fire back to back before refill pacing kicks in; token burst is fixed
// at a tenth of the per-minute token budget.
type Config struct {
	Enabled           bool
	RequestsPerMinute int
	TokensPerMinute   int64
	BurstSize         int
}

func DefaultConfig() Config {
	return Config{
		Enabled:           true,
		RequestsPerMinute: 60,
		TokensPerMinute:   1_000_000,
		BurstSize:         10,
	}
}

func NewLimiter(cfg Config) *Limiter {
	l := &Limiter{
		requests: newBucket(float64(cfg.BurstSize), float64(cfg.RequestsPerMinute)/60.0),
		tokens:   newBucket(float64(cfg.TokensPerMinute)/10.0, float64(cfg.TokensPerMinute)/60.0),
	}
	l.enabled.Store(cfg.Enabled)
	return l
}

// AcquireWithContext blocks until a request slot and the estimated token
// capacity are available, or ctx is done. On ctx cancellation any request
// slot already taken is returned.
func (l *Limiter) AcquireWithContext(ctx context.Context, estimatedTokens int64) error {
	if l == nil || !l.enabled.Load() {
		return nil
	}

	l.totalRequests.Add(1)

	if err := l.requests.take(ctx, 1); err != nil {
		l.blockedRequests.Add(1)
		return err
	}
	if estimatedTokens > 0 {
		if err := l.tokens.take(ctx, float64(estimatedTokens)); err != nil {
			l.requests.put(1)
			l.blockedRequests.Add(1)
			return err
		}
	}
	return nil
}

// TryAcquire is the non-blocking variant of AcquireWithContext.
func (l *Limiter) TryAcquire(estimatedTokens int64) bool {
	if l == nil || !l.enabled.Load() {
		return true
	}

	l.totalRequests.Add(1)

	if !l.requests.tryTake(1) {
		l.blockedRequests.Add(1)
		return false
	}
	if estimatedTokens > 0 && !l.tokens.tryTake(float64(estimatedTokens)) {
		l.requests.put(1)
		l.blockedRequests.Add(1)
		return false
	}
	return true
}

// ReturnTokens gives capacity back after a request fails before the provider
// could have counted it. requests is the number of request slots to return.
func (l *Limiter) ReturnTokens(requests int, estimatedTokens int64) {
	if l == nil || !l.enabled.Load() {
		return
	}
	if requests > 0 {
		l.requests.put(float64(requests))
	}
	if estimatedTokens > 0 {
		l.tokens.put(float64(estimatedTokens))
	}
}

// RecordUsage notes the token count the provider actually billed.
func (l *Limiter) RecordUsage(actualTokens int64) {
	if l == nil {
		return
	}
	l.usedTokens.Add(actualTokens)
}

func (l *Limiter) SetEnabled(enabled bool) {
	if l == nil {
		return
	}
	l.enabled.Store(enabled)
}

// Reset refills both buckets and clears counters.
func (l *Limiter) Reset() {
	if l == nil {
		return
	}
	l.requests.reset()
	l.tokens.reset()
	l.totalRequests.Store(0)
	l.blockedRequests.Store(0)
	l.usedTokens.Store(0)
}

// Stats is a point-in-time snapshot of limiter activity.
type Stats struct {
	Enabled           bool
	TotalRequests     int64
	BlockedRequests   int64
	UsedTokens        int64
	AvailableRequests float64
	AvailableTokens   float64
}

func (l *Limiter) Stats() Stats {
	if l == nil {
		return Stats{}
	}
	return Stats{
		Enabled:           l.enabled.Load(),
		TotalRequests:     l.totalRequests.Load(),
		BlockedRequests:   l.blockedRequests.Load(),
		UsedTokens:        l.usedTokens.Load(),
		AvailableRequests: l.requests.available(),
		AvailableTokens:   l.tokens.available(),
	}
}

// EstimateTokens guesses the token count of text at roughly four characters
// per token. Estimates feed the limiter only; real usage comes back from the
// provider.
func EstimateTokens(text string) int64 {
	return int64(len(text) / 4)
}

// EstimateTokensFromContents estimates tokens for contents items of
// avgLength characters each.
func EstimateTokensFromContents(contents, avgLength int) int64 {
	return int64(contents) * int64(avgLength) / 4
}

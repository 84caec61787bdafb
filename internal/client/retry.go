package client

import (
	"math/rand"
	"strings"
	"time"
)

// RetryConfig holds retry settings shared by the client implementations.
type RetryConfig struct {
	MaxRetries int           // maximum retry attempts after the first try
	RetryDelay time.Duration // initial delay between retries
	MaxDelay   time.Duration // backoff cap
}

// DefaultRetryConfig returns the retry defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		RetryDelay: 1 * time.Second,
		MaxDelay:   30 * time.Second,
	}
}

// CalculateBackoff returns the exponential backoff delay for an attempt,
// with up to 25% jitter so simultaneous clients fan out.
func CalculateBackoff(baseDelay time.Duration, attempt int, maxDelay time.Duration) time.Duration {
	if baseDelay <= 0 {
		baseDelay = time.Second
	}

	delay := baseDelay * time.Duration(1<<uint(attempt))
	if delay > maxDelay || delay <= 0 {
		delay = maxDelay
	}

	jitter := time.Duration(0)
	if quarter := int64(delay / 4); quarter > 0 {
		jitter = time.Duration(rand.Int63n(quarter))
	}
	return delay + jitter
}

// shortenReason condenses an error into a phrase short enough for a one-line
// retry notice.
func shortenReason(err error) string {
	if err == nil {
		return "transient error"
	}
	reason := err.Error()
	switch {
	case strings.Contains(reason, "connection refused"):
		return "server unreachable"
	case strings.Contains(reason, "timeout"), strings.Contains(reason, "deadline exceeded"):
		return "timeout"
	case strings.Contains(reason, "429"), strings.Contains(reason, "rate limit"):
		return "rate limited"
	}
	if len(reason) > 50 {
		return reason[:47] + "..."
	}
	return reason
}

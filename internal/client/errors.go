package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// APIError is an HTTP-level failure from a provider.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d: %s", e.StatusCode, e.Message)
}

// IsRetryableAPIError reports whether the API error carries a status code
// worth retrying.
func IsRetryableAPIError(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 429, 500, 502, 503, 504:
			return true
		}
	}
	return false
}

// IsRetryableError classifies transient failures. Typed checks first;
// string matching only as a fallback for untyped errors surfaced by the
// provider SDKs.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		// The caller gave up; retrying cannot help.
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	if IsRetryableAPIError(err) {
		return true
	}

	msg := strings.ToLower(err.Error())
	untyped := []string{
		"rate limit",
		"connection refused",
		"connection reset",
		"timeout",
		"eof",
		"tls handshake",
		"no such host",
		"unavailable",
		"resource_exhausted",
	}
	for _, pattern := range untyped {
		if strings.Contains(msg, pattern) {
			return true
		}
	}

	return false
}

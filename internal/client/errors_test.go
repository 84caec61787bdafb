package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRetryableClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"nil", nil, false},
		{"deadline exceeded", context.DeadlineExceeded, true},
		{"canceled is final", context.Canceled, false},
		{"api 429", &APIError{StatusCode: 429, Message: "slow down"}, true},
		{"api 503", &APIError{StatusCode: 503, Message: "overloaded"}, true},
		{"api 400", &APIError{StatusCode: 400, Message: "bad request"}, false},
		{"api 401", &APIError{StatusCode: 401, Message: "no auth"}, false},
		{"wrapped api error", fmt.Errorf("call failed: %w", &APIError{StatusCode: 502}), true},
		{"net timeout", &net.DNSError{Err: "lookup", IsTimeout: true}, true},
		{"connection refused text", errors.New("dial tcp 127.0.0.1:11434: connect: connection refused"), true},
		{"grpc unavailable text", errors.New("rpc error: code = Unavailable desc = transport closing"), true},
		{"resource exhausted text", errors.New("RESOURCE_EXHAUSTED: quota hit"), true},
		{"invalid key", errors.New("invalid api key"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.retryable, IsRetryableError(tt.err))
		})
	}
}

func TestAPIErrorMessage(t *testing.T) {
	err := &APIError{StatusCode: 429, Message: "rate limited"}
	require.Equal(t, "API error 429: rate limited", err.Error())
}

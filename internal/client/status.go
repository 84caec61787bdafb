package client

import "time"

// StatusCallback receives progress notices from a client while a request is
// in flight: retries, rate-limit waits, and stream stalls. Implementations
// must be safe for concurrent use and must not block.
type StatusCallback interface {
	// OnRetry fires before a retry attempt. attempt is 1-based.
	OnRetry(attempt, maxAttempts int, delay time.Duration, reason string)

	// OnRateLimit fires when the client pauses for the local rate limiter.
	OnRateLimit(waitTime time.Duration)

	// OnStreamIdle fires when a stream has produced no data for a while.
	OnStreamIdle(elapsed time.Duration)

	// OnStreamResume fires when data arrives after an idle notice.
	OnStreamResume()

	// OnError fires for errors the client handles internally. recoverable
	// is false when the error will be returned to the caller.
	OnError(err error, recoverable bool)
}

// NopStatusCallback ignores every notification.
type NopStatusCallback struct{}

var _ StatusCallback = NopStatusCallback{}

func (NopStatusCallback) OnRetry(int, int, time.Duration, string) {}
func (NopStatusCallback) OnRateLimit(time.Duration)               {}
func (NopStatusCallback) OnStreamIdle(time.Duration)              {}
func (NopStatusCallback) OnStreamResume()                         {}
func (NopStatusCallback) OnError(error, bool)                     {}

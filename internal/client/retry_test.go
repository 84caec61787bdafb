package client

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCalculateBackoffGrowsAndCaps(t *testing.T) {
	base := time.Second
	max := 30 * time.Second

	prev := time.Duration(0)
	for attempt := 0; attempt < 20; attempt++ {
		delay := CalculateBackoff(base, attempt, max)

		require.Greater(t, delay, time.Duration(0), "attempt %d", attempt)
		require.LessOrEqual(t, delay, max+max/4, "attempt %d: cap plus jitter", attempt)

		if attempt < 4 {
			require.GreaterOrEqual(t, delay, prev/2, "attempt %d: roughly nondecreasing", attempt)
		}
		prev = delay
	}
}

func TestCalculateBackoffToleratesZeroBase(t *testing.T) {
	// A zero or negative base must not panic or return zero.
	for _, base := range []time.Duration{0, -time.Second} {
		delay := CalculateBackoff(base, 0, 30*time.Second)
		require.Greater(t, delay, time.Duration(0))
	}
}

func TestCalculateBackoffLargeAttemptHitsCap(t *testing.T) {
	// Shifting past 63 bits would overflow; the cap must absorb it.
	delay := CalculateBackoff(time.Second, 500, 30*time.Second)
	require.GreaterOrEqual(t, delay, 30*time.Second)
	require.LessOrEqual(t, delay, 30*time.Second+30*time.Second/4)
}

func TestShortenReason(t *testing.T) {
	require.Equal(t, "transient error", shortenReason(nil))
	require.Equal(t, "server unreachable", shortenReason(errors.New("dial tcp: connection refused")))
	require.Equal(t, "timeout", shortenReason(errors.New("context deadline exceeded")))
	require.Equal(t, "rate limited", shortenReason(errors.New("got 429 from upstream")))
	require.Equal(t, "boom", shortenReason(errors.New("boom")))

	long := shortenReason(errors.New("this error message is far too long to fit on a single status line"))
	require.Len(t, long, 50)
	require.True(t, strings.HasSuffix(long, "..."))
}

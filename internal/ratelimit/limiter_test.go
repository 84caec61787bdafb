package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTryAcquireExhaustsBurst(t *testing.T) {
	l := NewLimiter(Config{
		Enabled:           true,
		RequestsPerMinute: 1,
		TokensPerMinute:   1_000_000,
		BurstSize:         2,
	})

	require.True(t, l.TryAcquire(0))
	require.True(t, l.TryAcquire(0))
	require.False(t, l.TryAcquire(0), "third request should exceed the burst")

	stats := l.Stats()
	require.Equal(t, int64(3), stats.TotalRequests)
	require.Equal(t, int64(1), stats.BlockedRequests)
}

func TestReturnTokensRestoresCapacity(t *testing.T) {
	l := NewLimiter(Config{
		Enabled:           true,
		RequestsPerMinute: 1,
		TokensPerMinute:   1_000_000,
		BurstSize:         1,
	})

	require.True(t, l.TryAcquire(0))
	require.False(t, l.TryAcquire(0))

	l.ReturnTokens(1, 0)
	require.True(t, l.TryAcquire(0))
}

func TestTokenBudgetBlocksLargeRequests(t *testing.T) {
	// Capacity is a tenth of the per-minute budget, so 60 tokens here.
	l := NewLimiter(Config{
		Enabled:           true,
		RequestsPerMinute: 600,
		TokensPerMinute:   600,
		BurstSize:         10,
	})

	require.True(t, l.TryAcquire(60))
	require.False(t, l.TryAcquire(60), "token bucket should be drained")

	l.ReturnTokens(0, 60)
	require.True(t, l.TryAcquire(60))
}

func TestAcquireWithContextHonorsCancellation(t *testing.T) {
	l := NewLimiter(Config{
		Enabled:           true,
		RequestsPerMinute: 1,
		TokensPerMinute:   1_000_000,
		BurstSize:         1,
	})

	ctx := context.Background()
	require.NoError(t, l.AcquireWithContext(ctx, 0))

	// The bucket refills at one request per minute, so the second acquire
	// must give up via the deadline instead.
	short, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := l.AcquireWithContext(short, 0)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Less(t, time.Since(start), 5*time.Second)
}

func TestDisabledLimiterNeverBlocks(t *testing.T) {
	l := NewLimiter(Config{Enabled: false, RequestsPerMinute: 1, BurstSize: 1})

	for i := 0; i < 100; i++ {
		require.True(t, l.TryAcquire(1_000_000))
	}
	require.NoError(t, l.AcquireWithContext(context.Background(), 1_000_000))
}

func TestNilLimiterIsSafe(t *testing.T) {
	var l *Limiter

	require.True(t, l.TryAcquire(10))
	require.NoError(t, l.AcquireWithContext(context.Background(), 10))
	l.ReturnTokens(1, 10)
	l.RecordUsage(10)
	require.Equal(t, Stats{}, l.Stats())
}

func TestEstimates(t *testing.T) {
	require.Equal(t, int64(2), EstimateTokens("eightch8"))
	require.Equal(t, int64(0), EstimateTokens("abc"))
	require.Equal(t, int64(30), EstimateTokensFromContents(3, 40))
}

package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBreakerOpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker(3, time.Minute)

	require.NoError(t, cb.Allow())
	cb.RecordFailure()
	cb.RecordFailure()
	require.NoError(t, cb.Allow(), "still closed below the threshold")

	cb.RecordFailure()
	require.Equal(t, BreakerOpen, cb.State())
	require.ErrorIs(t, cb.Allow(), ErrCircuitOpen)
}

func TestBreakerProbesAfterResetTimeout(t *testing.T) {
	cb := NewCircuitBreaker(1, 20*time.Millisecond)

	cb.RecordFailure()
	require.ErrorIs(t, cb.Allow(), ErrCircuitOpen)

	time.Sleep(30 * time.Millisecond)

	require.NoError(t, cb.Allow(), "probe admitted after the reset timeout")
	require.Equal(t, BreakerHalfOpen, cb.State())

	cb.RecordSuccess()
	require.Equal(t, BreakerClosed, cb.State())
	require.NoError(t, cb.Allow())
}

func TestBreakerReopensOnFailedProbe(t *testing.T) {
	cb := NewCircuitBreaker(1, 20*time.Millisecond)

	cb.RecordFailure()
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, cb.Allow())
	require.Equal(t, BreakerHalfOpen, cb.State())

	cb.RecordFailure()
	require.Equal(t, BreakerOpen, cb.State())
	require.ErrorIs(t, cb.Allow(), ErrCircuitOpen)
}

func TestBreakerSuccessClearsFailureStreak(t *testing.T) {
	cb := NewCircuitBreaker(3, time.Minute)

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	cb.RecordFailure()

	require.Equal(t, BreakerClosed, cb.State(), "streak was broken by a success")
}

func TestNilBreakerNeverTrips(t *testing.T) {
	var cb *CircuitBreaker

	require.NoError(t, cb.Allow())
	cb.RecordFailure()
	cb.RecordSuccess()
	require.Equal(t, BreakerClosed, cb.State())
}

package ratelimit

import (
	"context"
	"sync"
	"time"
)

// bucket is a token bucket refilled continuously at rate tokens per second.
// Callers never see it directly; Limiter composes one bucket for request
// slots and one for token volume.
type bucket struct {
	mu         sync.Mutex
	level      float64
	capacity   float64
	rate       float64
	lastRefill time.Time
}

func newBucket(capacity, rate float64) *bucket {
	if capacity < 1 {
		capacity = 1
	}
	return &bucket{
		level:      capacity,
		capacity:   capacity,
		rate:       rate,
		lastRefill: time.Now(),
	}
}

func (b *bucket) refillLocked(now time.Time) {
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed > 0 {
		b.level += elapsed * b.rate
		if b.level > b.capacity {
			b.level = b.capacity
		}
	}
	b.lastRefill = now
}

// tryTake consumes n tokens if the bucket holds that many right now.
func (b *bucket) tryTake(n float64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked(time.Now())
	if b.level >= n {
		b.level -= n
		return true
	}
	return false
}

// take blocks until n tokens are available or ctx is done. A request larger
// than the bucket capacity drains the bucket fully instead of waiting for a
// level that can never be reached.
func (b *bucket) take(ctx context.Context, n float64) error {
	if n > b.capacity {
		n = b.capacity
	}
	for {
		b.mu.Lock()
		b.refillLocked(time.Now())
		if b.level >= n {
			b.level -= n
			b.mu.Unlock()
			return nil
		}
		deficit := n - b.level
		b.mu.Unlock()

		wait := 10 * time.Millisecond
		if b.rate > 0 {
			if d := time.Duration(deficit / b.rate * float64(time.Second)); d > wait {
				wait = d
			}
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// put returns tokens to the bucket, capped at capacity.
func (b *bucket) put(n float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.level += n
	if b.level > b.capacity {
		b.level = b.capacity
	}
}

func (b *bucket) available() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked(time.Now())
	return b.level
}

func (b *bucket) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.level = b.capacity
	b.lastRefill = time.Now()
}

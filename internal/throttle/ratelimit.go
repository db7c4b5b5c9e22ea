package throttle

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"
)

var (
	// ErrInvalidRate is returned when a limiter is built with a non-positive refill rate.
	ErrInvalidRate = errors.New("rate limiter: rate must be greater than zero")

	// ErrInvalidCapacity is returned when a limiter is built with fewer than one token of capacity.
	ErrInvalidCapacity = errors.New("rate limiter: capacity must be at least 1")
)

// RateLimiter is a token bucket. It starts full, refills continuously at rate
// tokens per second up to capacity, and each Acquire consumes one token.
//
// Acquirers take turns: the caller owning the turn holds it across its refill
// wait, so two callers never race for the same fractional token. Waiting
// callers queue on the turn channel and are admitted in arrival order.
type RateLimiter struct {
	rate     float64
	capacity float64

	turn chan struct{}

	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time
}

// NewRateLimiter creates a limiter refilling rate tokens per second with room
// for capacity tokens.
func NewRateLimiter(rate float64, capacity int) (*RateLimiter, error) {
	if rate <= 0 || math.IsNaN(rate) || math.IsInf(rate, 0) {
		return nil, ErrInvalidRate
	}
	if capacity < 1 {
		return nil, ErrInvalidCapacity
	}
	return &RateLimiter{
		rate:       rate,
		capacity:   float64(capacity),
		turn:       make(chan struct{}, 1),
		tokens:     float64(capacity),
		lastRefill: time.Now(),
	}, nil
}

// Rate returns the refill rate in tokens per second.
func (l *RateLimiter) Rate() float64 { return l.rate }

// Capacity returns the bucket size.
func (l *RateLimiter) Capacity() int { return int(l.capacity) }

// Acquire blocks until a token is available and consumes it. If ctx ends
// first, no token is consumed and the context error is returned.
func (l *RateLimiter) Acquire(ctx context.Context) error {
	start := time.Now()

	select {
	case l.turn <- struct{}{}:
	case <-ctx.Done():
		limiterCancelled.Inc()
		return ctx.Err()
	}
	defer func() { <-l.turn }()

	for {
		wait, ok := l.take()
		if ok {
			limiterWait.Observe(time.Since(start).Seconds())
			return nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			limiterCancelled.Inc()
			return ctx.Err()
		}
	}
}

// Tokens returns the number of tokens currently in the bucket.
func (l *RateLimiter) Tokens() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refill(time.Now())
	return l.tokens
}

// take refills the bucket and consumes a token if one is whole. Otherwise it
// reports how long until the bucket holds a whole token.
func (l *RateLimiter) take() (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.refill(time.Now())
	if l.tokens >= 1 {
		l.tokens--
		return 0, true
	}
	return time.Duration((1 - l.tokens) / l.rate * float64(time.Second)), false
}

// refill must be called with mu held.
func (l *RateLimiter) refill(now time.Time) {
	elapsed := now.Sub(l.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	l.tokens = math.Min(l.capacity, l.tokens+elapsed*l.rate)
	l.lastRefill = now
}

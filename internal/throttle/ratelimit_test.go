package throttle_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SCUT-HCC/TradeSwarm/internal/throttle"
)

func TestNewRateLimiterRejectsBadConfig(t *testing.T) {
	_, err := throttle.NewRateLimiter(0, 1)
	assert.ErrorIs(t, err, throttle.ErrInvalidRate)

	_, err = throttle.NewRateLimiter(-2, 1)
	assert.ErrorIs(t, err, throttle.ErrInvalidRate)

	_, err = throttle.NewRateLimiter(1, 0)
	assert.ErrorIs(t, err, throttle.ErrInvalidCapacity)
}

func TestRateLimiterBurstWithinCapacity(t *testing.T) {
	l, err := throttle.NewRateLimiter(1, 5)
	require.NoError(t, err)

	start := time.Now()
	for i := 0; i < 5; i++ {
		require.NoError(t, l.Acquire(context.Background()))
	}
	assert.Less(t, time.Since(start), 50*time.Millisecond, "burst of capacity must not wait")
}

func TestRateLimiterWaitsForRefillAfterBurst(t *testing.T) {
	const rate = 10.0
	start := time.Now()
	l, err := throttle.NewRateLimiter(rate, 3)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, l.Acquire(context.Background()))
	}
	require.NoError(t, l.Acquire(context.Background()))

	// The bucket was empty after the burst; a whole token takes 1/rate to
	// accumulate from the moment the limiter was created.
	assert.GreaterOrEqual(t, time.Since(start), 99*time.Millisecond)
}

func TestRateLimiterThreeItemsAtOnePerSecond(t *testing.T) {
	if testing.Short() {
		t.Skip("takes two seconds")
	}
	l, err := throttle.NewRateLimiter(1, 1)
	require.NoError(t, err)

	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, l.Acquire(context.Background()))
	}
	assert.GreaterOrEqual(t, time.Since(start), 1990*time.Millisecond)
}

func TestRateLimiterNeverExceedsCapacity(t *testing.T) {
	l, err := throttle.NewRateLimiter(1000, 3)
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	assert.LessOrEqual(t, l.Tokens(), 3.0)

	require.NoError(t, l.Acquire(context.Background()))
	assert.LessOrEqual(t, l.Tokens(), 3.0)
}

func TestRateLimiterConcurrentCallersRespectRate(t *testing.T) {
	const (
		rate     = 50.0
		capacity = 2
		callers  = 12
	)
	l, err := throttle.NewRateLimiter(rate, capacity)
	require.NoError(t, err)

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Go(func() {
			assert.NoError(t, l.Acquire(context.Background()))
		})
	}
	wg.Wait()

	// capacity tokens are free; the remaining callers need one refill each.
	minimum := time.Duration(float64(callers-capacity)/rate*float64(time.Second)) - 5*time.Millisecond
	assert.GreaterOrEqual(t, time.Since(start), minimum)
}

func TestRateLimiterAcquireCancelled(t *testing.T) {
	l, err := throttle.NewRateLimiter(0.1, 1)
	require.NoError(t, err)
	require.NoError(t, l.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err = l.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRateLimiterCancelledWaiterReleasesTurn(t *testing.T) {
	l, err := throttle.NewRateLimiter(20, 1)
	require.NoError(t, err)
	require.NoError(t, l.Acquire(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, l.Acquire(ctx))

	done := make(chan error, 1)
	go func() { done <- l.Acquire(context.Background()) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("acquire after a cancelled waiter never returned")
	}
}

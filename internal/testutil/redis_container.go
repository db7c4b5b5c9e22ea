// Package testutil starts throwaway infrastructure for integration tests.
package testutil

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// RedisTestsEnv enables tests that need a Redis container.
const RedisTestsEnv = "TRADESWARM_REDIS_TESTS"

var (
	redisOnce sync.Once
	redisAddr string
	redisErr  error
)

// RedisAddress returns the host:port of a shared Redis container, starting
// it on first use. The test is skipped unless RedisTestsEnv is set to 1.
func RedisAddress(t *testing.T) string {
	t.Helper()
	if os.Getenv(RedisTestsEnv) != "1" {
		t.Skipf("set %s=1 to run Redis integration tests", RedisTestsEnv)
	}

	redisOnce.Do(func() {
		// Give generous timeout in CI environments
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
		defer cancel()

		redisC, err := testcontainers.Run(
			ctx, "redis:7",
			testcontainers.WithExposedPorts("6379/tcp"),
			testcontainers.WithWaitStrategy(
				wait.ForListeningPort("6379/tcp"),
				wait.ForLog("Ready to accept connections"),
			),
		)
		if err != nil {
			redisErr = err
			return
		}

		endpoint, err := redisC.Endpoint(ctx, "")
		if err != nil {
			_ = redisC.Terminate(context.Background())
			redisErr = err
			return
		}
		redisAddr = endpoint
	})

	if redisErr != nil {
		t.Fatalf("start redis container: %v", redisErr)
	}
	return redisAddr
}

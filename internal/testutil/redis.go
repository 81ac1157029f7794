// Package testutil holds helpers shared by package tests.
package testutil

import (
	"context"
	"os"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// TestingTB is an interface that covers both *testing.T and *testing.B.
type TestingTB interface {
	Helper()
	Skip(args ...any)
	Skipf(format string, args ...any)
	Fatalf(format string, args ...any)
	Logf(format string, args ...any)
	Cleanup(func())
}

func envBool(key string) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	return err == nil && v
}

func requireRedis() bool { return envBool("TEST_REQUIRE_REDIS") || envBool("TEST_REQUIRE_INFRA") }

// GetTestRedisAddr returns the Redis address to test against and whether it
// answered a ping. REDIS_ADDR wins; otherwise common local and CI addresses
// are tried.
func GetTestRedisAddr(t TestingTB) (string, bool) {
	t.Helper()

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		return addr, ping(t, addr)
	}
	for _, addr := range []string{"redis:6379", "localhost:6379"} {
		if ping(t, addr) {
			return addr, true
		}
	}
	return "", false
}

func ping(t TestingTB, addr string) bool {
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer func() {
		if err := client.Close(); err != nil {
			t.Logf("warning: failed to close redis client: %v", err)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Logf("Redis not available at %s: %v", addr, err)
		return false
	}
	return true
}

// SetupTestRedis returns a client for a reachable Redis or skips the test.
// Set TEST_REQUIRE_REDIS=1 to fail instead of skipping.
func SetupTestRedis(t TestingTB) *redis.Client {
	t.Helper()

	addr, ok := GetTestRedisAddr(t)
	if !ok {
		if requireRedis() {
			t.Fatalf("Redis not available for testing")
		}
		t.Skip("Redis not available for testing")
	}
	return redis.NewClient(&redis.Options{Addr: addr})
}

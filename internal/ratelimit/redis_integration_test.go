//go:build integration

package ratelimit_test

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/serroba/shortlink/internal/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getRedisAddr() string {
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		return addr
	}

	return "localhost:6379"
}

func TestRedisBucketerIntegration(t *testing.T) {
	ctx := context.Background()

	client := redis.NewClient(&redis.Options{Addr: getRedisAddr()})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		t.Skipf("Redis not available at %s: %v", getRedisAddr(), err)
	}

	bucketer := ratelimit.NewRedisBucketer(client)

	newKey := func(name string) string {
		key := fmt.Sprintf("test:bucket:%s:%d", name, time.Now().UnixNano())
		t.Cleanup(func() { _ = client.Del(ctx, key).Err() })

		return key
	}

	t.Run("allows the full burst and then rejects", func(t *testing.T) {
		key := newKey("burst")
		limit := ratelimit.Limit{Capacity: 3, RefillRate: 0.1}

		for i := range 3 {
			decision, err := bucketer.Consume(ctx, key, 1, limit)
			require.NoError(t, err)
			assert.True(t, decision.Allowed, "request %d should be admitted", i)
		}

		decision, err := bucketer.Consume(ctx, key, 1, limit)
		require.NoError(t, err)
		assert.False(t, decision.Allowed)
		assert.Greater(t, decision.RetryAfter, time.Duration(0))
	})

	t.Run("refills over time", func(t *testing.T) {
		key := newKey("refill")
		limit := ratelimit.Limit{Capacity: 1, RefillRate: 10}

		decision, err := bucketer.Consume(ctx, key, 1, limit)
		require.NoError(t, err)
		require.True(t, decision.Allowed)

		decision, err = bucketer.Consume(ctx, key, 1, limit)
		require.NoError(t, err)
		require.False(t, decision.Allowed)

		time.Sleep(150 * time.Millisecond)

		decision, err = bucketer.Consume(ctx, key, 1, limit)
		require.NoError(t, err)
		assert.True(t, decision.Allowed)
	})

	t.Run("concurrent consumers never exceed capacity", func(t *testing.T) {
		key := newKey("concurrent")
		limit := ratelimit.Limit{Capacity: 10, RefillRate: 0.001}

		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			admitted int
		)

		for range 50 {
			wg.Add(1)

			go func() {
				defer wg.Done()

				decision, err := bucketer.Consume(ctx, key, 1, limit)
				if err == nil && decision.Allowed {
					mu.Lock()
					admitted++
					mu.Unlock()
				}
			}()
		}

		wg.Wait()

		assert.Equal(t, 10, admitted)
	})

	t.Run("bucket key carries a TTL", func(t *testing.T) {
		key := newKey("ttl")
		limit := ratelimit.Limit{Capacity: 5, RefillRate: 1}

		_, err := bucketer.Consume(ctx, key, 1, limit)
		require.NoError(t, err)

		ttl, err := client.TTL(ctx, key).Result()
		require.NoError(t, err)
		assert.Greater(t, ttl, time.Duration(0))
	})
}

package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// consumeScript refills and consumes a token bucket in one atomic step
// on the Redis side. Two concurrent requests can never both observe a
// sufficient balance for the last token.
//
// KEYS[1] bucket key
// ARGV[1] capacity, ARGV[2] refill rate (tokens/s), ARGV[3] cost,
// ARGV[4] now (seconds, fractional), ARGV[5] bucket TTL (seconds)
//
// Returns {allowed (0/1), balance after the attempt (string)}.
var consumeScript = redis.NewScript(`
local data = redis.call('HMGET', KEYS[1], 'tokens', 'ts')
local capacity = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local cost = tonumber(ARGV[3])
local now = tonumber(ARGV[4])

local tokens = tonumber(data[1])
local ts = tonumber(data[2])
if tokens == nil or ts == nil then
  tokens = capacity
  ts = now
end

local elapsed = now - ts
if elapsed > 0 then
  tokens = math.min(capacity, tokens + elapsed * rate)
end

local allowed = 0
if tokens >= cost then
  tokens = tokens - cost
  allowed = 1
end

redis.call('HSET', KEYS[1], 'tokens', tostring(tokens), 'ts', tostring(now))
redis.call('EXPIRE', KEYS[1], ARGV[5])

return {allowed, tostring(tokens)}
`)

// RedisBucketer is the shared Bucketer used when multiple service
// instances must agree on a subject's allowance. Bucket expiry doubles
// as garbage collection: an idle bucket's key simply times out.
type RedisBucketer struct {
	client *redis.Client
}

// NewRedisBucketer creates a Redis-backed token bucket store.
func NewRedisBucketer(client *redis.Client) *RedisBucketer {
	return &RedisBucketer{client: client}
}

func (r *RedisBucketer) Consume(ctx context.Context, key string, cost float64, limit Limit) (Decision, error) {
	now := float64(time.Now().UnixMicro()) / 1e6

	result, err := consumeScript.Run(ctx, r.client, []string{key},
		limit.Capacity,
		limit.RefillRate,
		cost,
		now,
		bucketTTLSeconds(limit),
	).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("consume token bucket: %w", err)
	}

	reply, ok := result.([]interface{})
	if !ok || len(reply) != 2 {
		return Decision{}, fmt.Errorf("unexpected consume reply: %v", result)
	}

	allowed, _ := reply[0].(int64)

	balance := 0.0
	if s, ok := reply[1].(string); ok {
		balance, _ = strconv.ParseFloat(s, 64)
	}

	decision := Decision{
		Allowed:   allowed == 1,
		Remaining: balance,
	}

	if !decision.Allowed {
		decision.RetryAfter = retryAfter(cost, balance, limit.RefillRate)
	}

	return decision, nil
}

// bucketTTLSeconds sizes the bucket key expiry so a bucket survives at
// least two full refill cycles before being collected.
func bucketTTLSeconds(limit Limit) int64 {
	const minTTL = 60

	if limit.RefillRate <= 0 {
		return minTTL
	}

	ttl := int64(limit.Capacity/limit.RefillRate) * 2
	if ttl < minTTL {
		return minTTL
	}

	return ttl
}

// Compile-time check.
var _ Bucketer = (*RedisBucketer)(nil)

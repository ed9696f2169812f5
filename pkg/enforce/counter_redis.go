package enforce

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// redisCheckAndIncrScript performs the compare-and-increment atomically
// server-side, so connector replicas sharing one Redis never over-admit.
// KEYS[1] = usage key, ARGV[1] = max count
var redisCheckAndIncrScript = redis.NewScript(`
local n = tonumber(redis.call("GET", KEYS[1]) or "0")
local max = tonumber(ARGV[1])
if n >= max then
    return {n, 0}
end
n = redis.call("INCR", KEYS[1])
return {n, 1}
`)

// RedisCounter is a UsageCounter backed by Redis, for deployments where
// several connector instances enforce the same rules.
type RedisCounter struct {
	client *redis.Client
	prefix string
}

// NewRedisCounter creates a counter over an existing Redis client.
func NewRedisCounter(client *redis.Client, prefix string) *RedisCounter {
	if prefix == "" {
		prefix = "usage:"
	}
	return &RedisCounter{client: client, prefix: prefix}
}

// CheckAndIncrement implements UsageCounter.
func (c *RedisCounter) CheckAndIncrement(ctx context.Context, ruleID string, max int64) (int64, bool, error) {
	res, err := redisCheckAndIncrScript.Run(ctx, c.client, []string{c.prefix + ruleID}, max).Result()
	if err != nil {
		return 0, false, fmt.Errorf("enforce: redis counter: %w", err)
	}
	vals, ok := res.([]interface{})
	if !ok || len(vals) != 2 {
		return 0, false, fmt.Errorf("enforce: unexpected redis script result %T", res)
	}
	count, _ := vals[0].(int64)
	granted, _ := vals[1].(int64)
	return count, granted == 1, nil
}

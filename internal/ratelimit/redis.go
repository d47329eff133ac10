package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Lua script for atomic fixed-window check-and-increment.
// The counter is only incremented when the call fits in the budget, so
// denied calls never push the window further out.
const windowLuaScript = `
local key = KEYS[1]
local limit = tonumber(ARGV[1])
local ttl = tonumber(ARGV[2])

local current = tonumber(redis.call("GET", key) or "0")
if current + 1 > limit then
    return {0, current}
end

local newVal = redis.call("INCR", key)
if newVal == 1 then
    redis.call("PEXPIRE", key, ttl)
end
return {1, newVal}
`

// RedisCounter is a Counter backed by Redis and shared by every instance.
type RedisCounter struct {
	client *redis.Client
	script *redis.Script
	now    func() time.Time
}

// NewRedisCounter creates a counter with the pre-compiled window script.
func NewRedisCounter(client *redis.Client) *RedisCounter {
	return &RedisCounter{
		client: client,
		script: redis.NewScript(windowLuaScript),
		now:    time.Now,
	}
}

// WithClock overrides the time source (tests).
func (c *RedisCounter) WithClock(now func() time.Time) *RedisCounter {
	c.now = now
	return c
}

// Allow implements Counter.
func (c *RedisCounter) Allow(ctx context.Context, key string, limit int, window time.Duration) (Decision, error) {
	now := c.now()
	start := windowStart(now, window)
	bucket := key + ":" + strconv.FormatInt(start.Unix(), 10)
	// keep the key a little past the window end to absorb clock skew
	ttl := window + time.Second

	res, err := c.script.Run(ctx, c.client, []string{bucket}, limit, ttl.Milliseconds()).Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit check failed: %w", err)
	}
	if len(res) != 2 {
		return Decision{}, fmt.Errorf("rate limit check: unexpected reply %v", res)
	}
	allowed, _ := res[0].(int64)
	count, _ := res[1].(int64)

	d := Decision{Allowed: allowed == 1, Count: int(count), Limit: limit}
	if !d.Allowed {
		d.RetryAfter = start.Add(window).Sub(now)
	}
	return d, nil
}

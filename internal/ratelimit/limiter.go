// Package ratelimit guards the enqueue endpoint with a token bucket shared
// across API replicas through Redis.
package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter allows a sustained per-minute enqueue rate per scope with a burst
// ceiling. Bucket state lives in Redis so every replica sees one bucket.
type Limiter struct {
	client        *redis.Client
	burst         int
	ratePerMinute float64
	ttl           time.Duration
}

// NewLimiter constructs a limiter. burst caps the bucket; ratePerMinute is
// the sustained refill rate.
func NewLimiter(client *redis.Client, ratePerMinute float64, burst int, ttl time.Duration) *Limiter {
	if burst <= 0 {
		burst = int(ratePerMinute)
	}
	if burst <= 0 {
		burst = 1
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Limiter{
		client:        client,
		burst:         burst,
		ratePerMinute: ratePerMinute,
		ttl:           ttl,
	}
}

// Allow consumes one token for the scope if available. Returns the allowed
// flag and the tokens remaining.
func (l *Limiter) Allow(ctx context.Context, scope string) (bool, float64, error) {
	now := time.Now().UnixMilli()
	res, err := refillScript.Run(ctx, l.client, []string{"ratelimit:" + scope},
		l.burst, l.ratePerMinute, now, l.ttl.Milliseconds()).Result()
	if err != nil {
		return false, 0, err
	}
	arr, ok := res.([]interface{})
	if !ok || len(arr) < 2 {
		return false, 0, err
	}
	allowed := arr[0].(int64) == 1
	var remaining float64
	switch v := arr[1].(type) {
	case int64:
		remaining = float64(v)
	case float64:
		remaining = v
	}
	return allowed, remaining, nil
}

var refillScript = redis.NewScript(`
local key = KEYS[1]
local burst = tonumber(ARGV[1])
local rate = tonumber(ARGV[2]) -- tokens per minute
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local data = redis.call('HMGET', key, 'remaining', 'refilled_ms')
local remaining = tonumber(data[1])
local refilled = tonumber(data[2])
if remaining == nil then remaining = burst end
if refilled == nil then refilled = now end

local delta = math.max(0, now - refilled)
remaining = math.min(burst, remaining + delta / 60000 * rate)

local allowed = 0
if remaining >= 1 then
  allowed = 1
  remaining = remaining - 1
end

redis.call('HMSET', key, 'remaining', remaining, 'refilled_ms', now)
if ttl > 0 then redis.call('PEXPIRE', key, ttl) end
return {allowed, remaining}
`)

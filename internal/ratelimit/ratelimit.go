// Package ratelimit implements the per-resource ticket bucket: a
// distributed token bucket keyed by (resource, identity), backed by a Redis
// Lua script via redis/go-redis/v9's EVAL so the check-and-decrement is
// atomic across every event API pod. In-process limiting for the
// per-socket subscribe bucket uses golang.org/x/time/rate instead, in
// internal/connection.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// script implements a fixed-window token bucket: each key tracks a token
// count and a window-start timestamp; a call consuming `cost` tokens fails
// without side effects if the bucket doesn't have enough left in the
// current window.
const script = `
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill_window_ms = tonumber(ARGV[2])
local cost = tonumber(ARGV[3])
local now_ms = tonumber(ARGV[4])

local data = redis.call("HMGET", key, "tokens", "window_start")
local tokens = tonumber(data[1])
local window_start = tonumber(data[2])

if tokens == nil or (now_ms - window_start) >= refill_window_ms then
	tokens = capacity
	window_start = now_ms
end

local allowed = 0
if tokens >= cost then
	tokens = tokens - cost
	allowed = 1
end

redis.call("HMSET", key, "tokens", tokens, "window_start", window_start)
redis.call("PEXPIRE", key, refill_window_ms * 2)

local reset_ms = refill_window_ms - (now_ms - window_start)
return { allowed, tokens, reset_ms }
`

// Result carries the client-visible rate-limit header values:
// limit / remaining / reset / used.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	Reset     time.Duration
	Used      int
}

// Limiter enforces per-resource ticket buckets via Redis.
type Limiter struct {
	rdb    *redis.Client
	script *redis.Script
}

// NewLimiter builds a Limiter over an existing Redis client.
func NewLimiter(rdb *redis.Client) *Limiter {
	return &Limiter{rdb: rdb, script: redis.NewScript(script)}
}

// Allow consumes `cost` tokens (default 1) from the bucket for
// (resource, identity), capacity tokens per window.
func (l *Limiter) Allow(ctx context.Context, resource, identity string, capacity, cost int, window time.Duration) (Result, error) {
	if cost <= 0 {
		cost = 1
	}
	key := fmt.Sprintf("ticket:%s:%s", resource, identity)
	now := time.Now().UnixMilli()

	raw, err := l.script.Run(ctx, l.rdb, []string{key}, capacity, window.Milliseconds(), cost, now).Result()
	if err != nil {
		return Result{}, fmt.Errorf("ratelimit: script: %w", err)
	}
	return parseScriptResult(raw, capacity)
}

// parseScriptResult converts the script's {allowed, tokens, reset_ms} table
// into a Result. Split out from Allow so the decoding logic can be tested
// without a Redis server.
func parseScriptResult(raw interface{}, capacity int) (Result, error) {
	vals, ok := raw.([]interface{})
	if !ok || len(vals) != 3 {
		return Result{}, fmt.Errorf("ratelimit: unexpected script result shape")
	}
	allowed, ok1 := vals[0].(int64)
	remaining, ok2 := vals[1].(int64)
	resetMS, ok3 := vals[2].(int64)
	if !ok1 || !ok2 || !ok3 {
		return Result{}, fmt.Errorf("ratelimit: unexpected script result types")
	}

	return Result{
		Allowed:   allowed == 1,
		Limit:     capacity,
		Remaining: int(remaining),
		Reset:     time.Duration(resetMS) * time.Millisecond,
		Used:      capacity - int(remaining),
	}, nil
}

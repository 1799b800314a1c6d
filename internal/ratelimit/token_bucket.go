// Package ratelimit meters API callers with token buckets: a Redis-backed
// one shared by all replicas, and an in-process one for single instances.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultKeyPrefix = "pixelpass:ratelimit"

type Decision struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
}

// bucketParams derives the refill rate and idle expiry from a capacity that
// refills completely over window.
func bucketParams(capacity int, window time.Duration) (refillPerMS float64, ttl time.Duration, err error) {
	if capacity <= 0 {
		return 0, 0, fmt.Errorf("capacity must be positive")
	}
	if window <= 0 {
		return 0, 0, fmt.Errorf("window must be positive")
	}
	windowMS := max(window.Milliseconds(), 1)
	return float64(capacity) / float64(windowMS), 2 * window, nil
}

// clampCost keeps a request satisfiable: at least one token, at most a full
// bucket.
func clampCost(cost int, capacity int64) int64 {
	return min(max(int64(cost), 1), capacity)
}

// take is the bucket arithmetic, mirrored by the Lua script below.
func take(tokens float64, lastMS, nowMS int64, capacity int64, refillPerMS float64, cost int64) (float64, Decision) {
	elapsed := max(nowMS-lastMS, 0)
	tokens = min(float64(capacity), tokens+float64(elapsed)*refillPerMS)
	if tokens >= float64(cost) {
		tokens -= float64(cost)
		return tokens, Decision{Allowed: true, Remaining: int64(math.Floor(tokens))}
	}
	retryMS := math.Ceil((float64(cost) - tokens) / refillPerMS)
	return tokens, Decision{
		Remaining:  int64(math.Floor(tokens)),
		RetryAfter: time.Duration(retryMS) * time.Millisecond,
	}
}

type RedisTokenBucket struct {
	client      redis.UniversalClient
	capacity    int64
	refillPerMS float64
	ttl         time.Duration
	keyPrefix   string
	now         func() time.Time
	script      *redis.Script
}

func NewRedisTokenBucket(client redis.UniversalClient, capacity int, window time.Duration, keyPrefix string) (*RedisTokenBucket, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	refillPerMS, ttl, err := bucketParams(capacity, window)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(keyPrefix) == "" {
		keyPrefix = DefaultKeyPrefix
	}

	return &RedisTokenBucket{
		client:      client,
		capacity:    int64(capacity),
		refillPerMS: refillPerMS,
		ttl:         ttl,
		keyPrefix:   keyPrefix,
		now:         time.Now,
		script: redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill_per_ms = tonumber(ARGV[2])
local now_ms = tonumber(ARGV[3])
local requested = tonumber(ARGV[4])
local ttl_ms = tonumber(ARGV[5])

local data = redis.call("HMGET", key, "tokens", "timestamp")
local tokens = tonumber(data[1])
local timestamp = tonumber(data[2])

if tokens == nil then
  tokens = capacity
end
if timestamp == nil then
  timestamp = now_ms
end

local elapsed = math.max(0, now_ms - timestamp)
tokens = math.min(capacity, tokens + (elapsed * refill_per_ms))

local allowed = 0
local retry_after_ms = 0
if tokens >= requested then
  tokens = tokens - requested
  allowed = 1
else
  retry_after_ms = math.ceil((requested - tokens) / refill_per_ms)
end

redis.call("HMSET", key, "tokens", tokens, "timestamp", now_ms)
redis.call("PEXPIRE", key, ttl_ms)

return {allowed, math.floor(tokens), retry_after_ms}
`),
	}, nil
}

// AllowN takes cost tokens at once. A job with several render steps costs one
// token per step. Costs above capacity are clamped to it.
func (l *RedisTokenBucket) AllowN(ctx context.Context, subject string, cost int) (Decision, error) {
	key := fmt.Sprintf("%s:%s", l.keyPrefix, normalizeSubject(subject))
	now := l.now().UTC().UnixMilli()
	raw, err := l.script.Run(
		ctx,
		l.client,
		[]string{key},
		l.capacity,
		l.refillPerMS,
		now,
		clampCost(cost, l.capacity),
		l.ttl.Milliseconds(),
	).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("run token bucket script: %w", err)
	}

	values, ok := raw.([]any)
	if !ok || len(values) != 3 {
		return Decision{}, fmt.Errorf("invalid token bucket response")
	}

	allowed, err := toInt64(values[0])
	if err != nil {
		return Decision{}, fmt.Errorf("parse allow value: %w", err)
	}
	remaining, err := toInt64(values[1])
	if err != nil {
		return Decision{}, fmt.Errorf("parse remaining value: %w", err)
	}
	retryAfterMS, err := toInt64(values[2])
	if err != nil {
		return Decision{}, fmt.Errorf("parse retry-after value: %w", err)
	}

	return Decision{
		Allowed:    allowed == 1,
		Remaining:  remaining,
		RetryAfter: time.Duration(retryAfterMS) * time.Millisecond,
	}, nil
}

func normalizeSubject(subject string) string {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "anonymous"
	}
	return subject
}

func toInt64(in any) (int64, error) {
	switch v := in.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case float64:
		return int64(v), nil
	case string:
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, err
		}
		return parsed, nil
	default:
		return 0, fmt.Errorf("unsupported type %T", in)
	}
}

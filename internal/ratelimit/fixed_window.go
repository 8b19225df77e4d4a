// Package ratelimit bounds how fast a caller may submit documents. Each
// submission costs one inference-heavy background job, so the API gates the
// submit route behind a per-subject fixed window kept in redis.
package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

type Decision struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
}

type RedisFixedWindow struct {
	client    redis.UniversalClient
	capacity  int64
	window    time.Duration
	keyPrefix string
	script    *redis.Script
}

func NewRedisFixedWindow(client redis.UniversalClient, capacity int, window time.Duration, keyPrefix string) (*RedisFixedWindow, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if capacity <= 0 {
		return nil, fmt.Errorf("capacity must be positive")
	}
	if window <= 0 {
		return nil, fmt.Errorf("window must be positive")
	}
	if strings.TrimSpace(keyPrefix) == "" {
		keyPrefix = "docflow:ratelimit"
	}

	return &RedisFixedWindow{
		client:    client,
		capacity:  int64(capacity),
		window:    window,
		keyPrefix: keyPrefix,
		script: redis.NewScript(`
local key = KEYS[1]
local window_ms = tonumber(ARGV[1])

local count = redis.call("INCR", key)
if count == 1 then
  redis.call("PEXPIRE", key, window_ms)
end
local ttl = redis.call("PTTL", key)
if ttl < 0 then
  ttl = window_ms
end

return {count, ttl}
`),
	}, nil
}

func (l *RedisFixedWindow) Allow(ctx context.Context, subject string) (Decision, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		subject = "anonymous"
	}

	key := fmt.Sprintf("%s:%s", l.keyPrefix, subject)
	raw, err := l.script.Run(ctx, l.client, []string{key}, l.window.Milliseconds()).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("run fixed window script: %w", err)
	}
	if len(raw) != 2 {
		return Decision{}, fmt.Errorf("invalid fixed window response")
	}

	count, ttlMS := raw[0], raw[1]
	remaining := l.capacity - count
	if remaining < 0 {
		remaining = 0
	}

	decision := Decision{
		Allowed:   count <= l.capacity,
		Remaining: remaining,
	}
	if !decision.Allowed {
		decision.RetryAfter = time.Duration(ttlMS) * time.Millisecond
	}
	return decision, nil
}

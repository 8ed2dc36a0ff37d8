package middleware

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var fixedWindowScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return current
`)

// RedisRateLimiter is a fixed-window limiter shared by every instance.
type RedisRateLimiter struct {
	client  redis.UniversalClient
	prefix  string
	window  time.Duration
	maxReqs int
}

// NewRedisRateLimiter creates a limiter allowing maxReqs per window under prefix.
func NewRedisRateLimiter(client redis.UniversalClient, prefix string, window time.Duration, maxReqs int) *RedisRateLimiter {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = "mobilemoney:rate_limit"
	}
	return &RedisRateLimiter{client: client, prefix: prefix, window: window, maxReqs: maxReqs}
}

func (l *RedisRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	windowMs := l.window.Milliseconds()
	if windowMs < 1000 {
		windowMs = 1000
	}
	count, err := fixedWindowScript.Run(ctx, l.client, []string{l.prefix + ":" + key}, windowMs).Int64()
	if err != nil {
		return false, fmt.Errorf("redis rate limit: %w", err)
	}
	return count <= int64(l.maxReqs), nil
}

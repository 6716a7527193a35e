package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

var slidingWindowScript = redis.NewScript(`
redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
local count = redis.call("ZCARD", KEYS[1])
if count >= tonumber(ARGV[3]) then
  return 0
end
redis.call("ZADD", KEYS[1], ARGV[2], ARGV[2] .. "-" .. ARGV[4])
redis.call("PEXPIRE", KEYS[1], ARGV[5])
return 1
`)

// RedisSlidingWindowLimiter keeps per-key event timestamps in a Redis sorted
// set so the window is shared across replicas.
type RedisSlidingWindowLimiter struct {
	limit  int
	window time.Duration

	redisClient *redis.Client
	redisPrefix string
	seq         atomic.Int64
}

// NewRedisSlidingWindowLimiter creates a Redis-backed distributed limiter.
func NewRedisSlidingWindowLimiter(addr, password, prefix string, limit int, window time.Duration) (*RedisSlidingWindowLimiter, error) {
	if limit <= 0 || window <= 0 {
		return nil, errors.New("rate limiter requires positive limit and window")
	}
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, errors.New("rate limiter redis addr is required")
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "codelite:ratelimit"
	}
	return &RedisSlidingWindowLimiter{
		limit:  limit,
		window: window,
		redisClient: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
		}),
		redisPrefix: prefix,
	}, nil
}

// Limit returns the configured per-window capacity.
func (l *RedisSlidingWindowLimiter) Limit() int {
	return l.limit
}

// Allow returns true when the key is within quota.
// On Redis failures, it fails closed and returns false.
func (l *RedisSlidingWindowLimiter) Allow(key string) bool {
	if l == nil {
		return false
	}
	key = normalizeKey(key)
	nowMs := time.Now().UTC().UnixMilli()
	windowMs := l.window.Milliseconds()
	redisKey := fmt.Sprintf("%s:%s", l.redisPrefix, key)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := slidingWindowScript.Run(ctx, l.redisClient, []string{redisKey},
		nowMs-windowMs, nowMs, l.limit, l.seq.Add(1), windowMs).Int64()
	if err != nil {
		return false
	}
	return res == 1
}

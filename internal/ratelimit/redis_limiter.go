package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/drawline/internal/clock"
)

const keyAttempts = "ratelimit:%s:%s"

// Members are scored by attempt time in milliseconds. Trim, add, then count,
// all inside one script so the count includes this attempt.
const slidingWindowScript = `
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local member = ARGV[3]

redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", now - window)
redis.call("ZADD", KEYS[1], now, member)
local count = redis.call("ZCARD", KEYS[1])
redis.call("PEXPIRE", KEYS[1], window)

return count
`

type RedisLimiter struct {
	client *redis.Client
	script *redis.Script
	clock  clock.Clock
}

func NewRedisLimiter(client *redis.Client, clk clock.Clock) *RedisLimiter {
	if client == nil {
		return nil
	}
	return &RedisLimiter{
		client: client,
		script: redis.NewScript(slidingWindowScript),
		clock:  clk,
	}
}

func (l *RedisLimiter) CheckAndRecord(ctx context.Context, identifier, action string, window time.Duration, maxCount int) (bool, error) {
	if l == nil || l.client == nil {
		return false, errors.New("rate limiter not configured")
	}
	identifier, action, err := validate(identifier, action, window, maxCount)
	if err != nil {
		return false, err
	}

	now := l.clock.Now().UnixMilli()
	key := fmt.Sprintf(keyAttempts, action, identifier)
	count, err := l.script.Run(ctx, l.client, []string{key}, now, window.Milliseconds(), uuid.NewString()).Int64()
	if err != nil {
		return false, err
	}
	return count <= int64(maxCount), nil
}

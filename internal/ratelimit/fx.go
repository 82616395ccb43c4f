package ratelimit

import (
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/drawline/internal/clock"
	"go.uber.org/fx"
)

var Module = fx.Module("rate.limit",
	fx.Provide(NewRedisClient),
	fx.Provide(NewDBLimiter),
	fx.Provide(provideLimiter),
	fx.Provide(NewGuard),
)

// The database limiter stays provided for the retention purge either way.
func provideLimiter(client *redis.Client, dbLimiter *DBLimiter, clk clock.Clock) Limiter {
	if limiter := NewRedisLimiter(client, clk); limiter != nil {
		return limiter
	}
	return dbLimiter
}

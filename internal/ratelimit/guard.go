package ratelimit

import (
	"context"
	"errors"

	"github.com/smallbiznis/drawline/internal/config"
	obsmetrics "github.com/smallbiznis/drawline/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Guard applies the policy rule configured for an action.
type Guard struct {
	limiter Limiter
	policy  *config.PolicyHolder
	metrics *obsmetrics.Metrics
	log     *zap.Logger
}

type GuardParams struct {
	fx.In

	Limiter Limiter
	Policy  *config.PolicyHolder
	Metrics *obsmetrics.Metrics `optional:"true"`
	Log     *zap.Logger
}

func NewGuard(p GuardParams) *Guard {
	return &Guard{
		limiter: p.Limiter,
		policy:  p.Policy,
		metrics: p.Metrics,
		log:     p.Log.Named("ratelimit.guard"),
	}
}

// Allow returns ErrRateLimited when the identifier exhausted the action's
// window. Actions without a configured rule are always allowed.
func (g *Guard) Allow(ctx context.Context, action, identifier string) error {
	rule, ok := g.policy.Get().RateLimit(action)
	if !ok {
		return nil
	}
	allowed, err := g.limiter.CheckAndRecord(ctx, identifier, action, rule.Window, rule.MaxCount)
	if err != nil {
		if errors.Is(err, ErrInvalidInput) {
			return err
		}
		g.log.Error("rate limit check failed", zap.String("action", action), zap.Error(err))
		return err
	}
	g.metrics.RecordRateLimit(ctx, action, allowed)
	if !allowed {
		g.log.Info("rate limited", zap.String("action", action))
		return ErrRateLimited
	}
	return nil
}

// Check runs an explicit window and count, bypassing policy.
func (g *Guard) Check(ctx context.Context, identifier, action string, rule config.RateLimitRule) (bool, error) {
	allowed, err := g.limiter.CheckAndRecord(ctx, identifier, action, rule.Window, rule.MaxCount)
	if err != nil {
		return false, err
	}
	g.metrics.RecordRateLimit(ctx, action, allowed)
	return allowed, nil
}

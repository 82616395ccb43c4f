package main

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/drawline/internal/allocation"
	"github.com/smallbiznis/drawline/internal/audit"
	"github.com/smallbiznis/drawline/internal/clock"
	"github.com/smallbiznis/drawline/internal/config"
	"github.com/smallbiznis/drawline/internal/events"
	"github.com/smallbiznis/drawline/internal/ledger"
	"github.com/smallbiznis/drawline/internal/observability"
	"github.com/smallbiznis/drawline/internal/observability/push"
	"github.com/smallbiznis/drawline/internal/raffle"
	"github.com/smallbiznis/drawline/internal/ratelimit"
	"github.com/smallbiznis/drawline/internal/scheduler"
	"github.com/smallbiznis/drawline/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		push.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,

		// Domain services required by scheduler jobs
		audit.Module,
		ratelimit.Module,
		events.Module,
		ledger.Module,
		allocation.Module,
		raffle.Module,

		// No server module!
		fx.Provide(scheduler.ProvideConfig),
		fx.Provide(scheduler.New),
		fx.Invoke(StartScheduler),
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}

// StartScheduler runs regardless of SCHEDULER_ENABLED; deploying this
// binary is the opt-in.
func StartScheduler(lc fx.Lifecycle, s *scheduler.Scheduler) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go s.RunForever(ctx)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}

package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/drawline/internal/allocation"
	"github.com/smallbiznis/drawline/internal/audit"
	"github.com/smallbiznis/drawline/internal/authorization"
	"github.com/smallbiznis/drawline/internal/clock"
	"github.com/smallbiznis/drawline/internal/config"
	"github.com/smallbiznis/drawline/internal/draw"
	"github.com/smallbiznis/drawline/internal/events"
	"github.com/smallbiznis/drawline/internal/ledger"
	"github.com/smallbiznis/drawline/internal/observability"
	"github.com/smallbiznis/drawline/internal/payment"
	"github.com/smallbiznis/drawline/internal/payout"
	"github.com/smallbiznis/drawline/internal/raffle"
	"github.com/smallbiznis/drawline/internal/ratelimit"
	"github.com/smallbiznis/drawline/internal/server"
	"github.com/smallbiznis/drawline/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,

		audit.Module,
		authorization.Module,
		ratelimit.Module,

		events.Module,
		ledger.Module,
		allocation.Module,
		payment.Module,
		draw.Module,
		payout.Module,
		raffle.Module,

		// No scheduler: apps/scheduler owns the timers.
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}

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
	"github.com/smallbiznis/drawline/internal/migration"
	"github.com/smallbiznis/drawline/internal/observability"
	"github.com/smallbiznis/drawline/internal/observability/push"
	"github.com/smallbiznis/drawline/internal/payment"
	"github.com/smallbiznis/drawline/internal/payout"
	"github.com/smallbiznis/drawline/internal/raffle"
	"github.com/smallbiznis/drawline/internal/ratelimit"
	"github.com/smallbiznis/drawline/internal/scheduler"
	"github.com/smallbiznis/drawline/internal/server"
	"github.com/smallbiznis/drawline/pkg/db"
	"go.uber.org/fx"
)

// Single-binary deployment: HTTP API plus the in-process scheduler when
// SCHEDULER_ENABLED is set.
func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		push.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		// Guards
		audit.Module,
		authorization.Module,
		ratelimit.Module,

		// Functional Domains
		events.Module,
		ledger.Module,
		allocation.Module,
		payment.Module,
		draw.Module,
		payout.Module,
		raffle.Module,

		scheduler.Module,
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}

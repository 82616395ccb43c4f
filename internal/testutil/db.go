// Package testutil opens an in-memory sqlite database carrying the same
// tables as the postgres migrations.
package testutil

import (
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var dbSeq atomic.Int64

var schema = []string{
	`CREATE TABLE raffles (
		id INTEGER PRIMARY KEY,
		organizer_id TEXT NOT NULL,
		title TEXT NOT NULL,
		slug TEXT NOT NULL,
		currency TEXT NOT NULL,
		ticket_price INTEGER NOT NULL,
		total_tickets INTEGER NOT NULL,
		goal_amount INTEGER NOT NULL,
		raised_amount INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		draw_reference TEXT,
		allow_manual_draw BOOLEAN NOT NULL DEFAULT false,
		winner_ticket_id INTEGER,
		last_paid_at DATETIME,
		activated_at DATETIME,
		resolved_at DATETIME,
		delivery_confirmed_at DATETIME,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE transactions (
		id INTEGER PRIMARY KEY,
		raffle_id INTEGER NOT NULL,
		owner_id TEXT NOT NULL,
		provider TEXT NOT NULL,
		provider_payment_id TEXT NOT NULL,
		ticket_numbers TEXT NOT NULL,
		amount INTEGER NOT NULL,
		provider_fee INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		received_at DATETIME,
		updated_at DATETIME NOT NULL,
		UNIQUE (provider, provider_payment_id)
	)`,
	`CREATE TABLE tickets (
		id INTEGER PRIMARY KEY,
		raffle_id INTEGER NOT NULL,
		transaction_id INTEGER NOT NULL,
		number INTEGER NOT NULL,
		owner_id TEXT NOT NULL,
		status TEXT NOT NULL,
		reserved_at DATETIME NOT NULL,
		expires_at DATETIME NOT NULL,
		paid_at DATETIME,
		canceled_at DATETIME
	)`,
	`CREATE UNIQUE INDEX ux_tickets_raffle_number_held ON tickets (raffle_id, number) WHERE status IN ('reserved', 'paid')`,
	`CREATE TABLE raffle_draws (
		id INTEGER PRIMARY KEY,
		raffle_id INTEGER NOT NULL UNIQUE,
		external_digits TEXT NOT NULL,
		rule_version TEXT NOT NULL,
		target_number INTEGER NOT NULL,
		winner_ticket_id INTEGER NOT NULL,
		winner_number INTEGER NOT NULL,
		manual_override BOOLEAN NOT NULL DEFAULT false,
		resolved_by TEXT,
		resolved_at DATETIME NOT NULL
	)`,
	`CREATE TABLE payouts (
		id INTEGER PRIMARY KEY,
		raffle_id INTEGER NOT NULL UNIQUE,
		currency TEXT NOT NULL,
		gross_amount INTEGER NOT NULL,
		commission_bps INTEGER NOT NULL,
		commission_amount INTEGER NOT NULL,
		provider_fee_total INTEGER NOT NULL,
		net_amount INTEGER NOT NULL,
		settled_at DATETIME NOT NULL
	)`,
	`CREATE TABLE payment_events (
		id INTEGER PRIMARY KEY,
		provider TEXT NOT NULL,
		provider_event_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		provider_payment_id TEXT,
		payload TEXT NOT NULL,
		received_at DATETIME NOT NULL,
		processed_at DATETIME,
		UNIQUE (provider, provider_event_id)
	)`,
	`CREATE TABLE rate_limit_attempts (
		id INTEGER PRIMARY KEY,
		identifier TEXT NOT NULL,
		action TEXT NOT NULL,
		attempted_at DATETIME NOT NULL
	)`,
	`CREATE TABLE audit_logs (
		id INTEGER PRIMARY KEY,
		raffle_id INTEGER,
		actor_type TEXT NOT NULL,
		actor_id TEXT,
		action TEXT NOT NULL,
		target_type TEXT NOT NULL,
		target_id TEXT,
		metadata TEXT,
		ip_address TEXT,
		user_agent TEXT,
		created_at DATETIME NOT NULL
	)`,
	`CREATE TABLE raffle_events (
		id INTEGER PRIMARY KEY,
		raffle_id INTEGER,
		event_type TEXT NOT NULL,
		payload TEXT NOT NULL,
		dedupe_key TEXT NOT NULL UNIQUE,
		published BOOLEAN NOT NULL DEFAULT false,
		published_at DATETIME,
		created_at DATETIME NOT NULL
	)`,
	`CREATE TABLE ledger_accounts (
		id INTEGER PRIMARY KEY,
		code TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		created_at DATETIME NOT NULL
	)`,
	`CREATE TABLE ledger_entries (
		id INTEGER PRIMARY KEY,
		raffle_id INTEGER NOT NULL,
		source_type TEXT NOT NULL,
		source_id INTEGER NOT NULL,
		currency TEXT NOT NULL,
		occurred_at DATETIME NOT NULL,
		created_at DATETIME NOT NULL,
		UNIQUE (source_type, source_id)
	)`,
	`CREATE TABLE ledger_entry_lines (
		id INTEGER PRIMARY KEY,
		ledger_entry_id INTEGER NOT NULL,
		account_id INTEGER NOT NULL,
		direction TEXT NOT NULL,
		currency TEXT NOT NULL,
		amount INTEGER NOT NULL,
		created_at DATETIME NOT NULL
	)`,
}

// NewDB returns a fresh database private to the calling test.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, dbSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	stripLocking := func(d *gorm.DB) {
		sql := d.Statement.SQL.String()
		if !strings.Contains(sql, "FOR UPDATE") {
			return
		}
		sql = strings.ReplaceAll(sql, "FOR UPDATE SKIP LOCKED", "")
		sql = strings.ReplaceAll(sql, "FOR UPDATE", "")
		d.Statement.SQL.Reset()
		d.Statement.SQL.WriteString(sql)
	}
	if err := db.Callback().Query().Before("gorm:query").Register("sqlite_strip_locking", stripLocking); err != nil {
		t.Fatalf("register query callback: %v", err)
	}
	if err := db.Callback().Row().Before("gorm:row").Register("sqlite_strip_locking_row", stripLocking); err != nil {
		t.Fatalf("register row callback: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range schema {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}
	return db
}

// NewNode returns a snowflake node for tests.
func NewNode(t testing.TB) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	return node
}

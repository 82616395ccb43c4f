package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/drawline/internal/audit/domain"
	"github.com/smallbiznis/drawline/internal/audit/repository"
	"github.com/smallbiznis/drawline/internal/auditcontext"
	"github.com/smallbiznis/drawline/internal/clock"
	"github.com/smallbiznis/drawline/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
)

func newTestService(t *testing.T, repo auditdomain.Repository, log *zap.Logger) (auditdomain.Service, *gorm.DB, *clock.FakeClock) {
	t.Helper()
	db := testutil.NewDB(t)
	clk := clock.NewFakeClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	if log == nil {
		log = zap.NewNop()
	}
	svc := NewService(Params{
		DB:    db,
		Log:   log,
		GenID: testutil.NewNode(t),
		Repo:  repo,
		Clock: clk,
	})
	return svc, db, clk
}

func TestRecordAttachesRaffleAndRequestContext(t *testing.T) {
	svc, _, _ := newTestService(t, repository.Provide(), nil)
	raffleID := snowflake.ID(77)

	ctx := auditcontext.WithRequestID(context.Background(), "req-1")
	ctx = auditcontext.WithIPAddress(ctx, "10.0.0.1")
	err := svc.Record(ctx, "user-9", "ticket.reserved", map[string]any{
		"raffle_id": raffleID,
		"quantity":  2,
	})
	require.NoError(t, err)

	logs, err := svc.List(context.Background(), raffleID, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	entry := logs[0]
	assert.Equal(t, "ticket.reserved", entry.Action)
	assert.Equal(t, "user", entry.ActorType)
	require.NotNil(t, entry.ActorID)
	assert.Equal(t, "user-9", *entry.ActorID)
	assert.Equal(t, "raffle", entry.TargetType)
	assert.Equal(t, "req-1", entry.Metadata["request_id"])
	require.NotNil(t, entry.IPAddress)
	assert.Equal(t, "10.0.0.1", *entry.IPAddress)
}

func TestRecordWithoutActorFallsBackToSystem(t *testing.T) {
	svc, db, _ := newTestService(t, repository.Provide(), nil)

	require.NoError(t, svc.Record(context.Background(), "", "raffle.auto_canceled", map[string]any{"raffle_id": "5"}))

	var actorType string
	require.NoError(t, db.Raw(`SELECT actor_type FROM audit_logs LIMIT 1`).Scan(&actorType).Error)
	assert.Equal(t, "system", actorType)
}

func TestRecordRejectsEmptyAction(t *testing.T) {
	svc, _, _ := newTestService(t, repository.Provide(), nil)
	err := svc.Record(context.Background(), "u", "  ", nil)
	assert.ErrorIs(t, err, auditdomain.ErrInvalidAction)
}

type failingRepo struct {
	auditdomain.Repository
}

func (failingRepo) Insert(context.Context, *gorm.DB, *auditdomain.AuditLog) error {
	return errors.New("disk full")
}

func TestRecordFailureGoesToFallbackChannel(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	svc, _, _ := newTestService(t, failingRepo{Repository: repository.Provide()}, zap.New(core))

	err := svc.Record(context.Background(), "user-1", "raffle.created", map[string]any{"raffle_id": "12"})
	require.Error(t, err)

	entries := logs.FilterLoggerName("audit.fallback").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "audit write failed", entries[0].Message)
	assert.Equal(t, "raffle.created", entries[0].ContextMap()["action"])
}

func TestPurgeDeletesOnlyExpiredRows(t *testing.T) {
	svc, db, clk := newTestService(t, repository.Provide(), nil)
	ctx := context.Background()

	require.NoError(t, svc.Record(ctx, "u", "old.action", nil))
	clk.Advance(48 * time.Hour)
	require.NoError(t, svc.Record(ctx, "u", "new.action", nil))

	deleted, err := svc.Purge(ctx, clk.Now().Add(-24*time.Hour), 100)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	var remaining []string
	require.NoError(t, db.Raw(`SELECT action FROM audit_logs`).Scan(&remaining).Error)
	assert.Equal(t, []string{"new.action"}, remaining)
}

package service_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/drawline/internal/clock"
	"github.com/smallbiznis/drawline/internal/config"
	"github.com/smallbiznis/drawline/internal/events"
	ledgerdomain "github.com/smallbiznis/drawline/internal/ledger/domain"
	"github.com/smallbiznis/drawline/internal/ledger/journal"
	"github.com/smallbiznis/drawline/internal/ledger/repository"
	"github.com/smallbiznis/drawline/internal/ledger/settlement"
	"github.com/smallbiznis/drawline/internal/ledger/store"
	raffledomain "github.com/smallbiznis/drawline/internal/raffle/domain"
	raffleservice "github.com/smallbiznis/drawline/internal/raffle/service"
	"github.com/smallbiznis/drawline/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var now = time.Date(2025, 9, 1, 8, 0, 0, 0, time.UTC)

func newService(t *testing.T) (raffledomain.Service, *gorm.DB) {
	t.Helper()
	db := testutil.NewDB(t)
	node := testutil.NewNode(t)
	clk := clock.NewFakeClock(now)
	repo := repository.Provide()
	outbox := events.NewOutbox(node, clk)

	svc := raffleservice.NewService(raffleservice.Params{
		Store:    store.NewForTest(db, repo, 3),
		Log:      zap.NewNop(),
		GenID:    node,
		Clock:    clk,
		Policy:   config.NewStaticPolicyHolder(config.DefaultPolicyConfig()),
		Canceler: settlement.NewCanceler(repo, journal.New(node, clk), outbox),
	})
	return svc, db
}

func status(t *testing.T, db *gorm.DB, id snowflake.ID) string {
	t.Helper()
	var s string
	require.NoError(t, db.Raw(`SELECT status FROM raffles WHERE id = ?`, id).Scan(&s).Error)
	return s
}

func ptr(t time.Time) *time.Time { return &t }

func TestCreateValidatesInput(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	valid := raffledomain.CreateRequest{OrganizerID: "org-1", Title: "Bike", Currency: "usd", TicketPrice: 500, TotalTickets: 100, GoalAmount: 10_000}

	cases := []struct {
		name   string
		mutate func(*raffledomain.CreateRequest)
		want   error
	}{
		{"organizer", func(r *raffledomain.CreateRequest) { r.OrganizerID = " " }, raffledomain.ErrInvalidOrganizer},
		{"title", func(r *raffledomain.CreateRequest) { r.Title = "" }, raffledomain.ErrInvalidTitle},
		{"currency", func(r *raffledomain.CreateRequest) { r.Currency = "dollars" }, raffledomain.ErrInvalidCurrency},
		{"price", func(r *raffledomain.CreateRequest) { r.TicketPrice = 0 }, raffledomain.ErrInvalidTicketPrice},
		{"tickets", func(r *raffledomain.CreateRequest) { r.TotalTickets = 0 }, raffledomain.ErrInvalidTotalTickets},
		{"goal", func(r *raffledomain.CreateRequest) { r.GoalAmount = -1 }, raffledomain.ErrInvalidGoalAmount},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := valid
			tc.mutate(&req)
			_, err := svc.Create(ctx, req)
			assert.ErrorIs(t, err, tc.want)
		})
	}

	raffle, err := svc.Create(ctx, valid)
	require.NoError(t, err)
	assert.Equal(t, ledgerdomain.RaffleStatusDraft, raffle.Status)
	assert.Equal(t, "USD", raffle.Currency)
	assert.True(t, strings.HasPrefix(raffle.Slug, "bike-"))

	got, err := svc.Get(ctx, raffle.ID)
	require.NoError(t, err)
	assert.Equal(t, raffle.Title, got.Title)
}

func TestLifecycleFollowsAllowedEdges(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	raffle, err := svc.Create(ctx, raffledomain.CreateRequest{OrganizerID: "org-1", Title: "Console", Currency: "EUR", TicketPrice: 200, TotalTickets: 50})
	require.NoError(t, err)
	req := raffledomain.TransitionRequest{RaffleID: raffle.ID, ActorID: "mod-1"}

	_, err = svc.Activate(ctx, req)
	assert.ErrorIs(t, err, raffledomain.ErrInvalidTransition)

	updated, err := svc.Submit(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, ledgerdomain.RaffleStatusUnderReview, updated.Status)

	updated, err = svc.Approve(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, ledgerdomain.RaffleStatusApproved, updated.Status)

	updated, err = svc.Activate(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, ledgerdomain.RaffleStatusActive, updated.Status)
	require.NotNil(t, updated.ActivatedAt)

	_, err = svc.ConfirmDelivery(ctx, req)
	assert.ErrorIs(t, err, raffledomain.ErrInvalidTransition)

	_, err = svc.Transition(ctx, raffledomain.TransitionRequest{RaffleID: raffle.ID, Action: "close"})
	assert.ErrorIs(t, err, raffledomain.ErrInvalidAction)

	_, err = svc.Submit(ctx, raffledomain.TransitionRequest{RaffleID: 42})
	assert.ErrorIs(t, err, ledgerdomain.ErrRaffleNotFound)
}

func TestCancelActiveRaffleRefundsPayments(t *testing.T) {
	svc, db := newService(t)
	const id = snowflake.ID(5001)
	testutil.InsertRaffle(t, db, testutil.RaffleFixture{ID: id, RaisedAmount: 300, ActivatedAt: ptr(now.Add(-time.Hour))})
	testutil.InsertTransaction(t, db, testutil.TransactionFixture{ID: 1, RaffleID: id, Amount: 300})
	testutil.InsertTransaction(t, db, testutil.TransactionFixture{ID: 2, RaffleID: id, Amount: 100, Status: "pending"})

	updated, err := svc.Cancel(context.Background(), raffledomain.TransitionRequest{RaffleID: id, ActorID: "org-1", Reason: "prize unavailable"})
	require.NoError(t, err)
	assert.Equal(t, ledgerdomain.RaffleStatusCanceled, updated.Status)

	assert.Equal(t, int64(1), testutil.Count(t, db, `SELECT COUNT(*) FROM transactions WHERE status = 'refunded'`))
	assert.Equal(t, int64(1), testutil.Count(t, db, `SELECT COUNT(*) FROM transactions WHERE status = 'canceled'`))
	assert.Equal(t, int64(1), testutil.Count(t, db, `SELECT COUNT(*) FROM ledger_entries WHERE source_type = 'refund'`))
	assert.Equal(t, int64(1), testutil.Count(t, db, `SELECT COUNT(*) FROM raffle_events WHERE event_type = ?`, events.EventRaffleCanceled))
}

func TestRejectActiveRaffleUnwindsPayments(t *testing.T) {
	svc, db := newService(t)
	const id = snowflake.ID(5002)
	testutil.InsertRaffle(t, db, testutil.RaffleFixture{ID: id, RaisedAmount: 100, ActivatedAt: ptr(now.Add(-time.Hour))})
	testutil.InsertTransaction(t, db, testutil.TransactionFixture{ID: 1, RaffleID: id, Amount: 100})

	updated, err := svc.Reject(context.Background(), raffledomain.TransitionRequest{RaffleID: id, ActorID: "op-1"})
	require.NoError(t, err)
	assert.Equal(t, ledgerdomain.RaffleStatusRejected, updated.Status)
	assert.Equal(t, int64(1), testutil.Count(t, db, `SELECT COUNT(*) FROM transactions WHERE status = 'refunded'`))
}

func TestAutoCancelStale(t *testing.T) {
	svc, db := newService(t)
	testutil.InsertRaffle(t, db, testutil.RaffleFixture{ID: 1, ActivatedAt: ptr(now.Add(-31 * 24 * time.Hour))})
	testutil.InsertRaffle(t, db, testutil.RaffleFixture{ID: 2, ActivatedAt: ptr(now.Add(-60 * 24 * time.Hour)), LastPaidAt: ptr(now.Add(-24 * time.Hour))})
	testutil.InsertRaffle(t, db, testutil.RaffleFixture{ID: 3, ActivatedAt: ptr(now.Add(-2 * time.Hour))})
	testutil.InsertRaffle(t, db, testutil.RaffleFixture{ID: 4, Status: "closed", ActivatedAt: ptr(now.Add(-90 * 24 * time.Hour))})

	n, err := svc.AutoCancelStale(context.Background(), now, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, "canceled", status(t, db, 1))
	assert.Equal(t, "active", status(t, db, 2))
	assert.Equal(t, "active", status(t, db, 3))
	assert.Equal(t, "closed", status(t, db, 4))

	n, err = svc.AutoCancelStale(context.Background(), now, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestAutoConfirmDelivery(t *testing.T) {
	svc, db := newService(t)
	testutil.InsertRaffle(t, db, testutil.RaffleFixture{ID: 1, Status: "closed", ResolvedAt: ptr(now.Add(-8 * 24 * time.Hour))})
	testutil.InsertRaffle(t, db, testutil.RaffleFixture{ID: 2, Status: "closed", ResolvedAt: ptr(now.Add(-6 * 24 * time.Hour))})

	n, err := svc.AutoConfirmDelivery(context.Background(), now, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, "delivered", status(t, db, 1))
	assert.Equal(t, "closed", status(t, db, 2))

	assert.Equal(t, int64(1), testutil.Count(t, db, `SELECT COUNT(*) FROM raffles WHERE id = 1 AND delivery_confirmed_at IS NOT NULL`))
}

func TestCreateLeavesManualDrawOff(t *testing.T) {
	svc, _ := newService(t)
	raffle, err := svc.Create(context.Background(), raffledomain.CreateRequest{OrganizerID: "org-1", Title: "Watch", Currency: "USD", TicketPrice: 100, TotalTickets: 10, GoalAmount: 1000})
	require.NoError(t, err)
	assert.False(t, raffle.AllowManualDraw)
}

func TestSetManualDraw(t *testing.T) {
	svc, db := newService(t)
	ctx := context.Background()
	const id = snowflake.ID(5101)
	testutil.InsertRaffle(t, db, testutil.RaffleFixture{ID: id, GoalAmount: 1000})

	updated, err := svc.SetManualDraw(ctx, raffledomain.ManualDrawRequest{RaffleID: id, Allowed: true, ActorID: "op-1"})
	require.NoError(t, err)
	assert.True(t, updated.AllowManualDraw)

	updated, err = svc.SetManualDraw(ctx, raffledomain.ManualDrawRequest{RaffleID: id, Allowed: true, ActorID: "op-1"})
	require.NoError(t, err)
	assert.True(t, updated.AllowManualDraw)

	const closed = snowflake.ID(5102)
	testutil.InsertRaffle(t, db, testutil.RaffleFixture{ID: closed, Status: "closed", ResolvedAt: ptr(now.Add(-time.Hour))})
	_, err = svc.SetManualDraw(ctx, raffledomain.ManualDrawRequest{RaffleID: closed, Allowed: true, ActorID: "op-1"})
	assert.ErrorIs(t, err, raffledomain.ErrManualDrawLocked)

	var allowed bool
	require.NoError(t, db.Raw(`SELECT allow_manual_draw FROM raffles WHERE id = ?`, closed).Scan(&allowed).Error)
	assert.False(t, allowed)

	_, err = svc.SetManualDraw(ctx, raffledomain.ManualDrawRequest{RaffleID: 9999, Allowed: true})
	assert.ErrorIs(t, err, ledgerdomain.ErrRaffleNotFound)
}

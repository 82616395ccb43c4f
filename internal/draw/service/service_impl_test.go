package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	allocationdomain "github.com/smallbiznis/drawline/internal/allocation/domain"
	allocationservice "github.com/smallbiznis/drawline/internal/allocation/service"
	"github.com/smallbiznis/drawline/internal/clock"
	"github.com/smallbiznis/drawline/internal/config"
	drawdomain "github.com/smallbiznis/drawline/internal/draw/domain"
	drawservice "github.com/smallbiznis/drawline/internal/draw/service"
	"github.com/smallbiznis/drawline/internal/events"
	ledgerdomain "github.com/smallbiznis/drawline/internal/ledger/domain"
	"github.com/smallbiznis/drawline/internal/ledger/journal"
	"github.com/smallbiznis/drawline/internal/ledger/repository"
	"github.com/smallbiznis/drawline/internal/ledger/settlement"
	"github.com/smallbiznis/drawline/internal/ledger/store"
	paymentdomain "github.com/smallbiznis/drawline/internal/payment/domain"
	paymentservice "github.com/smallbiznis/drawline/internal/payment/service"
	"github.com/smallbiznis/drawline/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const raffleID = snowflake.ID(3001)

type harness struct {
	db         *gorm.DB
	clock      *clock.FakeClock
	allocation allocationdomain.Service
	payments   paymentdomain.Service
	draws      drawdomain.Service
}

func newHarness(t *testing.T, fixture testutil.RaffleFixture) *harness {
	t.Helper()
	db := testutil.NewDB(t)
	node := testutil.NewNode(t)
	clk := clock.NewFakeClock(time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC))
	fixture.ID = raffleID
	testutil.InsertRaffle(t, db, fixture)

	repo := repository.Provide()
	st := store.NewForTest(db, repo, 3)
	policy := config.NewStaticPolicyHolder(config.DefaultPolicyConfig())
	outbox := events.NewOutbox(node, clk)
	j := journal.New(node, clk)

	return &harness{
		db:    db,
		clock: clk,
		allocation: allocationservice.NewService(allocationservice.Params{
			Store: st, Log: zap.NewNop(), GenID: node, Clock: clk, Policy: policy, Outbox: outbox,
		}),
		payments: paymentservice.NewService(paymentservice.Params{
			Store: st, Log: zap.NewNop(), Clock: clk, Policy: policy, Journal: j, Outbox: outbox,
		}),
		draws: drawservice.NewService(drawservice.Params{
			Store:    st,
			Log:      zap.NewNop(),
			GenID:    node,
			Clock:    clk,
			Canceler: settlement.NewCanceler(repo, j, outbox),
			Outbox:   outbox,
		}),
	}
}

// buy reserves qty tickets and confirms the payment.
func (h *harness) buy(t *testing.T, ref string, qty int) *allocationdomain.ReserveResult {
	t.Helper()
	ctx := context.Background()
	res, err := h.allocation.Reserve(ctx, allocationdomain.ReserveRequest{
		RaffleID:          raffleID,
		OwnerID:           "buyer-" + ref,
		Quantity:          qty,
		ProviderPaymentID: ref,
	})
	require.NoError(t, err)
	require.NoError(t, h.payments.ApplyConfirmation(ctx, paymentdomain.Confirmation{
		Provider: "stripe", ProviderPaymentID: ref, Outcome: paymentdomain.OutcomePaid,
	}))
	h.clock.Advance(time.Second)
	return res
}

func (h *harness) raffleStatus(t *testing.T) string {
	t.Helper()
	var status string
	require.NoError(t, h.db.Raw(`SELECT status FROM raffles WHERE id = ?`, raffleID).Scan(&status).Error)
	return status
}

func TestResolveDrawWrapsAroundToSmallestTicket(t *testing.T) {
	h := newHarness(t, testutil.RaffleFixture{TotalTickets: 10, TicketPrice: 100, GoalAmount: 1000})
	h.buy(t, "pi_all", 10)

	res, err := h.draws.ResolveDraw(context.Background(), drawdomain.ResolveRequest{
		RaffleID:       raffleID,
		ExternalDigits: "12-34-57",
		ResolvedBy:     "op-1",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(57), res.TargetNumber)
	assert.Equal(t, int64(1), res.WinnerNumber)
	assert.Equal(t, "suffix-concat/v1", res.RuleVersion)
	assert.False(t, res.AlreadyResolved)

	assert.Equal(t, "closed", h.raffleStatus(t))
	var stored struct {
		WinnerTicketID int64
		DrawReference  string
	}
	require.NoError(t, h.db.Raw(`SELECT winner_ticket_id, draw_reference FROM raffles WHERE id = ?`, raffleID).Scan(&stored).Error)
	assert.Equal(t, int64(res.WinnerTicketID), stored.WinnerTicketID)
	assert.Equal(t, "12-34-57", stored.DrawReference)
	assert.Equal(t, int64(1), testutil.Count(t, h.db, `SELECT COUNT(*) FROM raffle_events WHERE event_type = ?`, events.EventDrawResolved))
}

func TestResolveDrawUsesFullWidthOfPowerOfTenPool(t *testing.T) {
	h := newHarness(t, testutil.RaffleFixture{TotalTickets: 100, TicketPrice: 100})
	h.buy(t, "pi_all", 100)

	// Three digits for a pool of 100, so the draw can land on ticket 100.
	res, err := h.draws.ResolveDraw(context.Background(), drawdomain.ResolveRequest{RaffleID: raffleID, ExternalDigits: "1-0-0"})
	require.NoError(t, err)
	assert.Equal(t, int64(100), res.TargetNumber)
	assert.Equal(t, int64(100), res.WinnerNumber)
}

func TestResolveDrawPicksNearestHigherPaidNumber(t *testing.T) {
	h := newHarness(t, testutil.RaffleFixture{TotalTickets: 10, TicketPrice: 100})
	h.buy(t, "pi_a", 3) // 1..3
	_, err := h.allocation.Reserve(context.Background(), allocationdomain.ReserveRequest{
		RaffleID: raffleID, OwnerID: "buyer-unpaid", Quantity: 3, ProviderPaymentID: "pi_unpaid",
	}) // 4..6 stay reserved
	require.NoError(t, err)
	h.buy(t, "pi_b", 4) // 7..10

	res, err := h.draws.ResolveDraw(context.Background(), drawdomain.ResolveRequest{RaffleID: raffleID, ExternalDigits: "5"})
	require.NoError(t, err)
	assert.Equal(t, int64(5), res.TargetNumber)
	assert.Equal(t, int64(7), res.WinnerNumber)
}

func TestResolveDrawIsIdempotent(t *testing.T) {
	h := newHarness(t, testutil.RaffleFixture{TotalTickets: 100, TicketPrice: 100})
	h.buy(t, "pi_1", 5)
	ctx := context.Background()

	first, err := h.draws.ResolveDraw(ctx, drawdomain.ResolveRequest{RaffleID: raffleID, ExternalDigits: "03"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), first.WinnerNumber)

	second, err := h.draws.ResolveDraw(ctx, drawdomain.ResolveRequest{RaffleID: raffleID, ExternalDigits: "99"})
	require.NoError(t, err)
	assert.True(t, second.AlreadyResolved)
	assert.Equal(t, first.WinnerTicketID, second.WinnerTicketID)
	assert.Equal(t, int64(3), second.TargetNumber)
	assert.Equal(t, int64(1), testutil.Count(t, h.db, `SELECT COUNT(*) FROM raffle_draws`))

	got, err := h.draws.Get(ctx, raffleID)
	require.NoError(t, err)
	assert.Equal(t, first.WinnerTicketID, got.WinnerTicketID)
}

func TestResolveDrawRequiresFundingGoal(t *testing.T) {
	h := newHarness(t, testutil.RaffleFixture{TotalTickets: 10, TicketPrice: 100, GoalAmount: 1000})
	h.buy(t, "pi_1", 2)
	ctx := context.Background()

	_, err := h.draws.ResolveDraw(ctx, drawdomain.ResolveRequest{RaffleID: raffleID, ExternalDigits: "4"})
	assert.ErrorIs(t, err, drawdomain.ErrInsufficientFunding)
	assert.Equal(t, "active", h.raffleStatus(t))

	res, err := h.draws.ResolveDraw(ctx, drawdomain.ResolveRequest{RaffleID: raffleID, ExternalDigits: "4", ManualOverride: true, ResolvedBy: "op-1"})
	require.NoError(t, err)
	assert.True(t, res.ManualOverride)
	assert.Equal(t, int64(1), res.WinnerNumber)
}

func TestResolveDrawHonorsRaffleManualDrawFlag(t *testing.T) {
	h := newHarness(t, testutil.RaffleFixture{TotalTickets: 10, TicketPrice: 100, GoalAmount: 1000, AllowManualDraw: true})
	h.buy(t, "pi_1", 1)

	res, err := h.draws.ResolveDraw(context.Background(), drawdomain.ResolveRequest{RaffleID: raffleID, ExternalDigits: "9"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.WinnerNumber)
}

func TestResolveDrawWithoutPaidTicketsCancelsRaffle(t *testing.T) {
	h := newHarness(t, testutil.RaffleFixture{TotalTickets: 10, TicketPrice: 100})
	_, err := h.allocation.Reserve(context.Background(), allocationdomain.ReserveRequest{
		RaffleID: raffleID, OwnerID: "buyer-1", Quantity: 2, ProviderPaymentID: "pi_pending",
	})
	require.NoError(t, err)

	_, err = h.draws.ResolveDraw(context.Background(), drawdomain.ResolveRequest{RaffleID: raffleID, ExternalDigits: "1"})
	assert.ErrorIs(t, err, drawdomain.ErrNoPaidTickets)

	assert.Equal(t, "canceled", h.raffleStatus(t))
	assert.Equal(t, int64(0), testutil.Count(t, h.db, `SELECT COUNT(*) FROM raffle_draws`))
	assert.Equal(t, int64(0), testutil.Count(t, h.db, `SELECT COUNT(*) FROM tickets WHERE status = 'reserved'`))
	assert.Equal(t, int64(1), testutil.Count(t, h.db, `SELECT COUNT(*) FROM transactions WHERE status = 'canceled'`))
}

func TestResolveDrawRejectsBadInput(t *testing.T) {
	h := newHarness(t, testutil.RaffleFixture{TotalTickets: 10, TicketPrice: 100})
	h.buy(t, "pi_1", 1)
	ctx := context.Background()

	_, err := h.draws.ResolveDraw(ctx, drawdomain.ResolveRequest{RaffleID: raffleID, ExternalDigits: "n/a"})
	assert.ErrorIs(t, err, drawdomain.ErrInvalidDigits)

	_, err = h.draws.ResolveDraw(ctx, drawdomain.ResolveRequest{RaffleID: 999, ExternalDigits: "1"})
	assert.ErrorIs(t, err, ledgerdomain.ErrRaffleNotFound)

	_, err = h.draws.Get(ctx, raffleID)
	assert.ErrorIs(t, err, drawdomain.ErrDrawNotFound)
}

func TestResolveDrawRequiresActiveRaffle(t *testing.T) {
	h := newHarness(t, testutil.RaffleFixture{TotalTickets: 10, Status: "approved"})
	_, err := h.draws.ResolveDraw(context.Background(), drawdomain.ResolveRequest{RaffleID: raffleID, ExternalDigits: "1"})
	assert.ErrorIs(t, err, ledgerdomain.ErrRaffleNotActive)
}

package service_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	allocationdomain "github.com/smallbiznis/drawline/internal/allocation/domain"
	allocationservice "github.com/smallbiznis/drawline/internal/allocation/service"
	"github.com/smallbiznis/drawline/internal/clock"
	"github.com/smallbiznis/drawline/internal/config"
	"github.com/smallbiznis/drawline/internal/events"
	"github.com/smallbiznis/drawline/internal/ledger/journal"
	"github.com/smallbiznis/drawline/internal/ledger/repository"
	"github.com/smallbiznis/drawline/internal/ledger/store"
	"github.com/smallbiznis/drawline/internal/payment/adapters"
	"github.com/smallbiznis/drawline/internal/payment/adapters/stripe"
	paymentdomain "github.com/smallbiznis/drawline/internal/payment/domain"
	paymentrepository "github.com/smallbiznis/drawline/internal/payment/repository"
	paymentservice "github.com/smallbiznis/drawline/internal/payment/service"
	"github.com/smallbiznis/drawline/internal/payment/webhook"
	"github.com/smallbiznis/drawline/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const raffleID = snowflake.ID(2001)

type harness struct {
	db         *gorm.DB
	clock      *clock.FakeClock
	allocation allocationdomain.Service
	payments   paymentdomain.Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db := testutil.NewDB(t)
	node := testutil.NewNode(t)
	clk := clock.NewFakeClock(time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC))
	testutil.InsertRaffle(t, db, testutil.RaffleFixture{ID: raffleID, TotalTickets: 10, TicketPrice: 10_000, GoalAmount: 50_000})

	st := store.NewForTest(db, repository.Provide(), 3)
	policy := config.NewStaticPolicyHolder(config.DefaultPolicyConfig())
	outbox := events.NewOutbox(node, clk)

	return &harness{
		db:    db,
		clock: clk,
		allocation: allocationservice.NewService(allocationservice.Params{
			Store:  st,
			Log:    zap.NewNop(),
			GenID:  node,
			Clock:  clk,
			Policy: policy,
			Outbox: outbox,
		}),
		payments: paymentservice.NewService(paymentservice.Params{
			Store:   st,
			Log:     zap.NewNop(),
			Clock:   clk,
			Policy:  policy,
			Journal: journal.New(node, clk),
			Outbox:  outbox,
		}),
	}
}

func (h *harness) reserve(t *testing.T, ref string, qty int) *allocationdomain.ReserveResult {
	t.Helper()
	res, err := h.allocation.Reserve(context.Background(), allocationdomain.ReserveRequest{
		RaffleID:          raffleID,
		OwnerID:           "buyer-" + ref,
		Quantity:          qty,
		ProviderPaymentID: ref,
	})
	require.NoError(t, err)
	return res
}

type snapshot struct {
	Raised       int64
	PaidTickets  int64
	Reserved     int64
	Canceled     int64
	PaidTxns     int64
	Entries      int64
	Lines        int64
	Events       int64
	TotalTxnRows int64
}

func (h *harness) snapshot(t *testing.T) snapshot {
	t.Helper()
	var raised int64
	require.NoError(t, h.db.Raw(`SELECT raised_amount FROM raffles WHERE id = ?`, raffleID).Scan(&raised).Error)
	return snapshot{
		Raised:       raised,
		PaidTickets:  testutil.Count(t, h.db, `SELECT COUNT(*) FROM tickets WHERE status = 'paid'`),
		Reserved:     testutil.Count(t, h.db, `SELECT COUNT(*) FROM tickets WHERE status = 'reserved'`),
		Canceled:     testutil.Count(t, h.db, `SELECT COUNT(*) FROM tickets WHERE status = 'canceled'`),
		PaidTxns:     testutil.Count(t, h.db, `SELECT COUNT(*) FROM transactions WHERE status = 'paid'`),
		Entries:      testutil.Count(t, h.db, `SELECT COUNT(*) FROM ledger_entries`),
		Lines:        testutil.Count(t, h.db, `SELECT COUNT(*) FROM ledger_entry_lines`),
		Events:       testutil.Count(t, h.db, `SELECT COUNT(*) FROM raffle_events`),
		TotalTxnRows: testutil.Count(t, h.db, `SELECT COUNT(*) FROM transactions`),
	}
}

func TestApplyConfirmationPaidIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.reserve(t, "pi_1", 2)

	confirmation := paymentdomain.Confirmation{Provider: "stripe", ProviderPaymentID: "pi_1", Outcome: paymentdomain.OutcomePaid}
	require.NoError(t, h.payments.ApplyConfirmation(ctx, confirmation))
	first := h.snapshot(t)

	assert.Equal(t, int64(20_000), first.Raised)
	assert.Equal(t, int64(2), first.PaidTickets)
	assert.Equal(t, int64(1), first.PaidTxns)
	assert.Equal(t, int64(1), first.Entries)
	assert.Equal(t, int64(4), first.Lines)

	h.clock.Advance(time.Minute)
	require.NoError(t, h.payments.ApplyConfirmation(ctx, confirmation))
	assert.Equal(t, first, h.snapshot(t))

	var fee int64
	require.NoError(t, h.db.Raw(`SELECT provider_fee FROM transactions WHERE provider_payment_id = 'pi_1'`).Scan(&fee).Error)
	// 30 fixed + 2.9% of 20000.
	assert.Equal(t, int64(610), fee)
}

func TestApplyConfirmationUsesReportedFee(t *testing.T) {
	h := newHarness(t)
	h.reserve(t, "pi_fee", 1)

	fee := int64(99)
	require.NoError(t, h.payments.ApplyConfirmation(context.Background(), paymentdomain.Confirmation{
		Provider:          "stripe",
		ProviderPaymentID: "pi_fee",
		Outcome:           paymentdomain.OutcomePaid,
		ProviderFee:       &fee,
	}))

	var stored int64
	require.NoError(t, h.db.Raw(`SELECT provider_fee FROM transactions WHERE provider_payment_id = 'pi_fee'`).Scan(&stored).Error)
	assert.Equal(t, int64(99), stored)
}

func TestApplyConfirmationFailedReleasesTickets(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.reserve(t, "pi_fail", 3)

	require.NoError(t, h.payments.ApplyConfirmation(ctx, paymentdomain.Confirmation{
		Provider: "stripe", ProviderPaymentID: "pi_fail", Outcome: paymentdomain.OutcomeFailed,
	}))
	snap := h.snapshot(t)
	assert.Equal(t, int64(3), snap.Canceled)
	assert.Zero(t, snap.Reserved)
	assert.Zero(t, snap.Raised)

	// A later paid delivery for the same payment is a terminal no-op.
	require.NoError(t, h.payments.ApplyConfirmation(ctx, paymentdomain.Confirmation{
		Provider: "stripe", ProviderPaymentID: "pi_fail", Outcome: paymentdomain.OutcomePaid,
	}))
	assert.Equal(t, snap, h.snapshot(t))

	again, err := h.allocation.Reserve(ctx, allocationdomain.ReserveRequest{RaffleID: raffleID, OwnerID: "other", Quantity: 1})
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, again.TicketNumbers)
}

func stripeHeaders(secret string, payload []byte) http.Header {
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(fmt.Sprintf("%d.%s", ts, payload)))
	headers := http.Header{}
	headers.Set("Stripe-Signature", fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil))))
	return headers
}

func TestDeclinedCardThenSuccessKeepsTickets(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.reserve(t, "pi_retry", 2)

	const secret = "whsec_test"
	hooks := webhook.NewService(webhook.Params{
		DB:         h.db,
		Log:        zap.NewNop(),
		GenID:      testutil.NewNode(t),
		Clock:      h.clock,
		PaymentSvc: h.payments,
		Repo:       paymentrepository.Provide(),
		Adapters:   adapters.NewRegistry(stripe.NewFactory()),
		Cfg:        config.Config{Payments: config.PaymentsConfig{StripeWebhookSecret: secret}},
	})

	declined := []byte(`{"id":"evt_declined","type":"charge.failed","data":{"object":{"id":"ch_1","payment_intent":"pi_retry","amount":20000,"currency":"usd"}}}`)
	require.NoError(t, hooks.IngestWebhook(ctx, "stripe", declined, stripeHeaders(secret, declined)))
	attemptFailed := []byte(`{"id":"evt_pf","type":"payment_intent.payment_failed","data":{"object":{"id":"pi_retry","amount":20000,"currency":"usd"}}}`)
	require.NoError(t, hooks.IngestWebhook(ctx, "stripe", attemptFailed, stripeHeaders(secret, attemptFailed)))

	snap := h.snapshot(t)
	assert.Equal(t, int64(2), snap.Reserved)
	assert.Zero(t, snap.Canceled)

	succeeded := []byte(`{"id":"evt_ok","type":"payment_intent.succeeded","data":{"object":{"id":"pi_retry","amount":20000,"amount_received":20000,"currency":"usd"}}}`)
	require.NoError(t, hooks.IngestWebhook(ctx, "stripe", succeeded, stripeHeaders(secret, succeeded)))

	snap = h.snapshot(t)
	assert.Equal(t, int64(2), snap.PaidTickets)
	assert.Equal(t, int64(20_000), snap.Raised)
	assert.Zero(t, snap.Canceled)
}

func TestApplyConfirmationUnknownPaymentMutatesNothing(t *testing.T) {
	h := newHarness(t)
	h.reserve(t, "pi_known", 1)
	before := h.snapshot(t)

	err := h.payments.ApplyConfirmation(context.Background(), paymentdomain.Confirmation{
		Provider: "stripe", ProviderPaymentID: "pi_missing", Outcome: paymentdomain.OutcomePaid,
	})
	require.ErrorIs(t, err, paymentdomain.ErrUnknownPayment)
	assert.Equal(t, before, h.snapshot(t))
}

func TestApplyConfirmationValidatesInput(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	err := h.payments.ApplyConfirmation(ctx, paymentdomain.Confirmation{ProviderPaymentID: "x", Outcome: paymentdomain.OutcomePaid})
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidProvider)

	err = h.payments.ApplyConfirmation(ctx, paymentdomain.Confirmation{Provider: "stripe", ProviderPaymentID: "x", Outcome: "refunded"})
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidOutcome)

	neg := int64(-1)
	err = h.payments.ApplyConfirmation(ctx, paymentdomain.Confirmation{Provider: "stripe", ProviderPaymentID: "x", Outcome: paymentdomain.OutcomePaid, ProviderFee: &neg})
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidFee)
}

func TestLatePaymentOnClosedRaffleStillSettles(t *testing.T) {
	h := newHarness(t)
	h.reserve(t, "pi_late", 1)
	require.NoError(t, h.db.Exec(`UPDATE raffles SET status = 'closed' WHERE id = ?`, raffleID).Error)

	require.NoError(t, h.payments.ApplyConfirmation(context.Background(), paymentdomain.Confirmation{
		Provider: "stripe", ProviderPaymentID: "pi_late", Outcome: paymentdomain.OutcomePaid,
	}))
	snap := h.snapshot(t)
	assert.Equal(t, int64(10_000), snap.Raised)
	assert.Equal(t, int64(1), snap.PaidTxns)
}

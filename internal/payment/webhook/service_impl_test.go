package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/smallbiznis/drawline/internal/clock"
	"github.com/smallbiznis/drawline/internal/config"
	"github.com/smallbiznis/drawline/internal/payment/adapters"
	"github.com/smallbiznis/drawline/internal/payment/adapters/stripe"
	paymentdomain "github.com/smallbiznis/drawline/internal/payment/domain"
	"github.com/smallbiznis/drawline/internal/payment/repository"
	"github.com/smallbiznis/drawline/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const secret = "whsec_test"

type recordingPayments struct {
	mu    sync.Mutex
	calls []paymentdomain.Confirmation
	err   error
}

func (r *recordingPayments) ApplyConfirmation(_ context.Context, c paymentdomain.Confirmation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, c)
	return r.err
}

func newWebhook(t *testing.T, payments paymentdomain.Service) (paymentdomain.WebhookService, *gorm.DB) {
	t.Helper()
	db := testutil.NewDB(t)
	svc := NewService(Params{
		DB:         db,
		Log:        zap.NewNop(),
		GenID:      testutil.NewNode(t),
		Clock:      clock.NewFakeClock(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)),
		PaymentSvc: payments,
		Repo:       repository.Provide(),
		Adapters:   adapters.NewRegistry(stripe.NewFactory()),
		Cfg:        config.Config{Payments: config.PaymentsConfig{StripeWebhookSecret: secret}},
	})
	return svc, db
}

func signed(payload []byte) http.Header {
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(fmt.Sprintf("%d.%s", ts, payload)))
	headers := http.Header{}
	headers.Set("Stripe-Signature", fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil))))
	return headers
}

const succeeded = `{"id":"evt_1","type":"payment_intent.succeeded","created":1748736000,
	"data":{"object":{"id":"pi_1","amount":500,"amount_received":500,"currency":"usd"}}}`

func TestIngestWebhookAppliesOnceAndDedupes(t *testing.T) {
	payments := &recordingPayments{}
	svc, db := newWebhook(t, payments)
	ctx := context.Background()
	payload := []byte(succeeded)

	require.NoError(t, svc.IngestWebhook(ctx, "Stripe", payload, signed(payload)))
	require.Len(t, payments.calls, 1)
	assert.Equal(t, paymentdomain.Confirmation{Provider: "stripe", ProviderPaymentID: "pi_1", Outcome: paymentdomain.OutcomePaid}, payments.calls[0])

	err := svc.IngestWebhook(ctx, "stripe", payload, signed(payload))
	assert.ErrorIs(t, err, paymentdomain.ErrEventAlreadyProcessed)
	assert.Len(t, payments.calls, 1)
	assert.Equal(t, int64(1), testutil.Count(t, db, `SELECT COUNT(*) FROM payment_events WHERE processed_at IS NOT NULL`))
}

func TestIngestWebhookRetriesUnprocessedEvent(t *testing.T) {
	payments := &recordingPayments{err: fmt.Errorf("db down")}
	svc, _ := newWebhook(t, payments)
	ctx := context.Background()
	payload := []byte(succeeded)

	require.Error(t, svc.IngestWebhook(ctx, "stripe", payload, signed(payload)))

	payments.err = nil
	require.NoError(t, svc.IngestWebhook(ctx, "stripe", payload, signed(payload)))
	assert.Len(t, payments.calls, 2)
}

func TestIngestWebhookUnknownPaymentIsAcknowledged(t *testing.T) {
	payments := &recordingPayments{err: paymentdomain.ErrUnknownPayment}
	svc, db := newWebhook(t, payments)
	payload := []byte(succeeded)

	require.NoError(t, svc.IngestWebhook(context.Background(), "stripe", payload, signed(payload)))
	assert.Equal(t, int64(1), testutil.Count(t, db, `SELECT COUNT(*) FROM payment_events WHERE processed_at IS NOT NULL`))
}

func TestIngestWebhookRejectsBadInput(t *testing.T) {
	payments := &recordingPayments{}
	svc, db := newWebhook(t, payments)
	ctx := context.Background()
	payload := []byte(succeeded)

	bad := http.Header{}
	bad.Set("Stripe-Signature", "t=1,v1=deadbeef")
	assert.ErrorIs(t, svc.IngestWebhook(ctx, "stripe", payload, bad), paymentdomain.ErrInvalidSignature)
	assert.ErrorIs(t, svc.IngestWebhook(ctx, "adyen", payload, signed(payload)), paymentdomain.ErrProviderNotFound)
	assert.ErrorIs(t, svc.IngestWebhook(ctx, "stripe", []byte("{"), signed([]byte("{"))), paymentdomain.ErrInvalidPayload)

	ignored := []byte(`{"id":"evt_2","type":"customer.created","data":{"object":{}}}`)
	assert.NoError(t, svc.IngestWebhook(ctx, "stripe", ignored, signed(ignored)))

	assert.Empty(t, payments.calls)
	assert.Zero(t, testutil.Count(t, db, `SELECT COUNT(*) FROM payment_events`))
}

func TestIngestWebhookOnlyForwardsFinalOutcomes(t *testing.T) {
	payments := &recordingPayments{}
	svc, _ := newWebhook(t, payments)
	ctx := context.Background()

	declined := []byte(`{"id":"evt_d","type":"charge.failed","data":{"object":{"id":"ch_1","payment_intent":"pi_1","amount":500,"currency":"usd"}}}`)
	require.NoError(t, svc.IngestWebhook(ctx, "stripe", declined, signed(declined)))
	assert.Empty(t, payments.calls)

	payload := []byte(succeeded)
	require.NoError(t, svc.IngestWebhook(ctx, "stripe", payload, signed(payload)))

	canceled := []byte(`{"id":"evt_c","type":"payment_intent.canceled","data":{"object":{"id":"pi_2","amount":500,"currency":"usd"}}}`)
	require.NoError(t, svc.IngestWebhook(ctx, "stripe", canceled, signed(canceled)))

	require.Len(t, payments.calls, 2)
	assert.Equal(t, paymentdomain.Confirmation{Provider: "stripe", ProviderPaymentID: "pi_1", Outcome: paymentdomain.OutcomePaid}, payments.calls[0])
	assert.Equal(t, paymentdomain.Confirmation{Provider: "stripe", ProviderPaymentID: "pi_2", Outcome: paymentdomain.OutcomeFailed}, payments.calls[1])
}

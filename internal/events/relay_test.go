package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Shopify/sarama"
	"github.com/Shopify/sarama/mocks"
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/drawline/internal/clock"
	"github.com/smallbiznis/drawline/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type recordingSink struct {
	sent    []Record
	failOn  string
	sendErr error
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Send(_ context.Context, rec Record) error {
	if rec.DedupeKey == s.failOn {
		return s.sendErr
	}
	s.sent = append(s.sent, rec)
	return nil
}

func (s *recordingSink) Close() error { return nil }

func setupOutbox(t *testing.T) (*gorm.DB, *Outbox, *clock.FakeClock) {
	t.Helper()
	db := testutil.NewDB(t)
	clk := clock.NewFakeClock(time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC))
	return db, NewOutbox(testutil.NewNode(t), clk), clk
}

func publish(t *testing.T, db *gorm.DB, outbox *Outbox, clk *clock.FakeClock, key string) {
	t.Helper()
	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		return outbox.PublishTx(context.Background(), tx, Event{
			RaffleID:  snowflake.ID(9),
			Type:      EventTicketReserved,
			Payload:   map[string]any{"key": key},
			DedupeKey: key,
		})
	}))
	clk.Advance(time.Second)
}

func TestPublishTxDedupes(t *testing.T) {
	db, outbox, clk := setupOutbox(t)
	publish(t, db, outbox, clk, "reserve:1")
	publish(t, db, outbox, clk, "reserve:1")

	var count int64
	require.NoError(t, db.Raw(`SELECT COUNT(*) FROM raffle_events`).Scan(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestPublishTxRollsBackWithCaller(t *testing.T) {
	db, outbox, _ := setupOutbox(t)
	boom := errors.New("boom")
	err := db.Transaction(func(tx *gorm.DB) error {
		if err := outbox.PublishTx(context.Background(), tx, Event{Type: EventDrawResolved, DedupeKey: "draw:1"}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	var count int64
	require.NoError(t, db.Raw(`SELECT COUNT(*) FROM raffle_events`).Scan(&count).Error)
	assert.Zero(t, count)
}

func TestPublishTxRequiresTypeAndKey(t *testing.T) {
	db, outbox, _ := setupOutbox(t)
	err := outbox.PublishTx(context.Background(), db, Event{Type: EventDrawResolved})
	assert.ErrorIs(t, err, ErrInvalidEvent)
}

func TestRelayBatchDeliversInOrderAndStopsAtFailure(t *testing.T) {
	db, outbox, clk := setupOutbox(t)
	for _, key := range []string{"a", "b", "c"} {
		publish(t, db, outbox, clk, key)
	}

	sink := &recordingSink{failOn: "b", sendErr: errors.New("broker down")}
	relay := NewRelay(RelayParams{DB: db, Sink: sink, Log: zap.NewNop(), Clock: clk})

	sent, err := relay.RelayBatch(context.Background(), 10)
	require.Error(t, err)
	assert.Equal(t, 1, sent)
	require.Len(t, sink.sent, 1)
	assert.Equal(t, "a", sink.sent[0].DedupeKey)

	sink.failOn = ""
	sent, err = relay.RelayBatch(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 2, sent)
	assert.Equal(t, "b", sink.sent[1].DedupeKey)
	assert.Equal(t, "c", sink.sent[2].DedupeKey)

	sent, err = relay.RelayBatch(context.Background(), 10)
	require.NoError(t, err)
	assert.Zero(t, sent)
}

func TestKafkaSinkKeysByRaffle(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		if string(val) != `{"n":1}` {
			return errors.New("unexpected payload " + string(val))
		}
		return nil
	})
	sink := NewKafkaSinkWithProducer("raffle-events", producer)

	raffleID := snowflake.ID(42)
	err := sink.Send(context.Background(), Record{
		ID:        snowflake.ID(1),
		RaffleID:  &raffleID,
		EventType: EventPaymentConfirmed,
		Payload:   []byte(`{"n":1}`),
		DedupeKey: "payment:1",
	})
	require.NoError(t, err)
	require.NoError(t, sink.Close())
}

var _ sarama.SyncProducer = (*mocks.SyncProducer)(nil)

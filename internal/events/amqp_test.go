package events

import (
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAMQPSinkValidatesURL(t *testing.T) {
	_, err := NewAMQPSink("", "")
	require.Error(t, err)

	_, err = NewAMQPSink("http://broker.invalid", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to dial RabbitMQ")
}

func TestAMQPPublishingCarriesRoutingMetadata(t *testing.T) {
	raffleID := snowflake.ID(42)
	created := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	rec := Record{
		ID:        snowflake.ID(7),
		RaffleID:  &raffleID,
		EventType: EventDrawResolved,
		Payload:   []byte(`{"winner_number":12}`),
		DedupeKey: "draw.resolved:42",
		CreatedAt: created,
	}

	msg := amqpPublishing(rec)
	assert.Equal(t, "application/json", msg.ContentType)
	assert.Equal(t, amqp.Persistent, msg.DeliveryMode)
	assert.Equal(t, "draw.resolved:42", msg.MessageId)
	assert.Equal(t, EventDrawResolved, msg.Type)
	assert.Equal(t, created, msg.Timestamp)
	assert.JSONEq(t, `{"winner_number":12}`, string(msg.Body))
	assert.Equal(t, "7", msg.Headers["event_id"])
	assert.Equal(t, "42", msg.Headers["raffle_id"])

	rec.RaffleID = nil
	_, ok := amqpPublishing(rec).Headers["raffle_id"]
	assert.False(t, ok)
}

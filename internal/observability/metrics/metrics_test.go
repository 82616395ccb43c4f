package metrics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestFilterAttributesDropsHighCardinalityLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("raffle_id", "123"),
		attribute.String("owner_id", "456"),
		attribute.String("provider", "stripe"),
		attribute.String("outcome", "paid"),
	)
	require.Len(t, attrs, 2)
	keys := []attribute.Key{attrs[0].Key, attrs[1].Key}
	assert.Contains(t, keys, attribute.Key("provider"))
	assert.Contains(t, keys, attribute.Key("outcome"))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordReservation(context.Background(), "ok", 2)
		m.RecordConfirmation(context.Background(), "stripe", "paid")
		m.RecordRateLimit(context.Background(), "login", false)
	})
}

func TestNoopMetricsRecord(t *testing.T) {
	m := NewNoop()
	require.NotNil(t, m)
	assert.NotPanics(t, func() {
		m.RecordDraw(context.Background(), "resolved")
		m.RecordTicketsReleased(context.Background(), "ttl", 3)
	})
}

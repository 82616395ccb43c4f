package events

import (
	"context"

	"github.com/smallbiznis/drawline/internal/clock"
	obsmetrics "github.com/smallbiznis/drawline/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Relay moves committed outbox rows to the sink in creation order. Delivery
// is at-least-once: a crash between Send and the published flag resends.
type Relay struct {
	db      *gorm.DB
	sink    Sink
	log     *zap.Logger
	clock   clock.Clock
	metrics *obsmetrics.Metrics
}

type RelayParams struct {
	fx.In

	DB      *gorm.DB
	Sink    Sink
	Log     *zap.Logger
	Clock   clock.Clock
	Metrics *obsmetrics.Metrics `optional:"true"`
}

func NewRelay(p RelayParams) *Relay {
	return &Relay{
		db:      p.DB,
		sink:    p.Sink,
		log:     p.Log.Named("events.relay"),
		clock:   p.Clock,
		metrics: p.Metrics,
	}
}

// RelayBatch stops at the first failed send so later events never overtake
// an earlier one. Rows sent before the failure stay marked published.
func (r *Relay) RelayBatch(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}

	sent := 0
	var sendErr error
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var records []Record
		if err := tx.WithContext(ctx).Raw(
			`SELECT id, raffle_id, event_type, payload, dedupe_key, published, published_at, created_at
			 FROM raffle_events
			 WHERE published = ?
			 ORDER BY created_at ASC, id ASC
			 LIMIT ?
			 FOR UPDATE SKIP LOCKED`,
			false,
			limit,
		).Scan(&records).Error; err != nil {
			return err
		}

		for _, rec := range records {
			if err := r.sink.Send(ctx, rec); err != nil {
				r.log.Warn("event relay failed",
					zap.String("event_id", rec.ID.String()),
					zap.String("event_type", rec.EventType),
					zap.String("sink", r.sink.Name()),
					zap.Error(err),
				)
				sendErr = err
				return nil
			}
			now := r.clock.Now()
			if err := tx.WithContext(ctx).Exec(
				`UPDATE raffle_events SET published = ?, published_at = ? WHERE id = ?`,
				true,
				now,
				rec.ID,
			).Error; err != nil {
				return err
			}
			sent++
			r.metrics.RecordEventRelayed(ctx, rec.EventType, r.sink.Name())
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return sent, sendErr
}

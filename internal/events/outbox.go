package events

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/drawline/internal/clock"
	"gorm.io/gorm"
)

var ErrInvalidEvent = errors.New("invalid_event")

// Outbox writes events in the caller's transaction so they commit or roll
// back together with the state change that produced them.
type Outbox struct {
	genID *snowflake.Node
	clock clock.Clock
}

func NewOutbox(genID *snowflake.Node, clk clock.Clock) *Outbox {
	return &Outbox{genID: genID, clock: clk}
}

// PublishTx is a no-op for a dedupe key that was already written.
func (o *Outbox) PublishTx(ctx context.Context, tx *gorm.DB, ev Event) error {
	if o == nil {
		return nil
	}
	ev.Type = strings.TrimSpace(ev.Type)
	ev.DedupeKey = strings.TrimSpace(ev.DedupeKey)
	if ev.Type == "" || ev.DedupeKey == "" {
		return ErrInvalidEvent
	}

	payload := ev.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	var raffleID *snowflake.ID
	if ev.RaffleID != 0 {
		id := ev.RaffleID
		raffleID = &id
	}
	return tx.WithContext(ctx).Exec(
		`INSERT INTO raffle_events (id, raffle_id, event_type, payload, dedupe_key, published, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (dedupe_key) DO NOTHING`,
		o.genID.Generate(),
		raffleID,
		ev.Type,
		string(body),
		ev.DedupeKey,
		false,
		o.clock.Now(),
	).Error
}

package events

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

const (
	EventTicketReserved   = "ticket.reserved"
	EventPaymentConfirmed = "payment.confirmed"
	EventPaymentFailed    = "payment.failed"
	EventDrawResolved     = "draw.resolved"
	EventRaffleCanceled   = "raffle.canceled"
	EventPayoutFinalized  = "payout.finalized"
)

// Event is what domain services hand to the outbox.
type Event struct {
	RaffleID  snowflake.ID
	Type      string
	Payload   map[string]any
	DedupeKey string
}

// Record is a persisted outbox row.
type Record struct {
	ID          snowflake.ID   `json:"id" gorm:"primaryKey"`
	RaffleID    *snowflake.ID  `json:"raffle_id,omitempty"`
	EventType   string         `json:"event_type"`
	Payload     datatypes.JSON `json:"payload"`
	DedupeKey   string         `json:"dedupe_key"`
	Published   bool           `json:"published"`
	PublishedAt *time.Time     `json:"published_at,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

func (Record) TableName() string { return "raffle_events" }

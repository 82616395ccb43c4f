package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// EventRecord is one received provider event, kept for dedupe.
type EventRecord struct {
	ID                snowflake.ID   `json:"id" gorm:"primaryKey"`
	Provider          string         `json:"provider" gorm:"type:text;not null"`
	ProviderEventID   string         `json:"provider_event_id" gorm:"type:text;not null"`
	EventType         string         `json:"event_type" gorm:"type:text;not null"`
	ProviderPaymentID *string        `json:"provider_payment_id,omitempty"`
	Payload           datatypes.JSON `json:"payload" gorm:"type:jsonb;not null"`
	ReceivedAt        time.Time      `json:"received_at" gorm:"not null"`
	ProcessedAt       *time.Time     `json:"processed_at"`
}

func (EventRecord) TableName() string { return "payment_events" }

type Outcome string

const (
	OutcomePaid   Outcome = "paid"
	OutcomeFailed Outcome = "failed"
)

func (o Outcome) Valid() bool {
	return o == OutcomePaid || o == OutcomeFailed
}

// Confirmation is the provider-neutral payment result applied to a
// pending transaction.
type Confirmation struct {
	Provider          string  `json:"provider"`
	ProviderPaymentID string  `json:"provider_payment_id"`
	Outcome           Outcome `json:"outcome"`
	// ProviderFee overrides the policy fee schedule when the provider
	// reports the actual fee.
	ProviderFee *int64 `json:"provider_fee,omitempty"`
}

// PaymentEvent is the canonical event parsed by adapters.
type PaymentEvent struct {
	Provider          string
	ProviderEventID   string
	ProviderPaymentID string
	Type              string
	Outcome           Outcome
	Amount            int64
	Currency          string
	ProviderFee       *int64
	OccurredAt        time.Time
	RawPayload        []byte
}

func (e PaymentEvent) Confirmation() Confirmation {
	return Confirmation{
		Provider:          e.Provider,
		ProviderPaymentID: e.ProviderPaymentID,
		Outcome:           e.Outcome,
		ProviderFee:       e.ProviderFee,
	}
}

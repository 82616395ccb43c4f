package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

type Service interface {
	Reserve(ctx context.Context, req ReserveRequest) (*ReserveResult, error)
	// ReleaseExpired cancels pending reservations whose TTL elapsed at or
	// before now and reports how many tickets returned to the free pool.
	ReleaseExpired(ctx context.Context, now time.Time, limit int) (int, error)
}

type ReserveRequest struct {
	RaffleID          snowflake.ID
	OwnerID           string
	Quantity          int
	Provider          string
	ProviderPaymentID string
}

type ReserveResult struct {
	TransactionID     snowflake.ID `json:"transaction_id"`
	RaffleID          snowflake.ID `json:"raffle_id"`
	TicketNumbers     []int64      `json:"ticket_numbers"`
	Amount            int64        `json:"amount"`
	Currency          string       `json:"currency"`
	Provider          string       `json:"provider"`
	ProviderPaymentID string       `json:"provider_payment_id"`
	ExpiresAt         time.Time    `json:"expires_at"`
}

var (
	ErrInvalidQuantity           = errors.New("invalid_quantity")
	ErrInvalidOwner              = errors.New("invalid_owner")
	ErrCapacityExceeded          = errors.New("capacity_exceeded")
	ErrDuplicatePaymentReference = errors.New("duplicate_payment_reference")
)

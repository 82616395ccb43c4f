package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

type Service interface {
	// ResolveDraw selects the winner once. Later calls return the stored
	// winner with AlreadyResolved set and write nothing.
	ResolveDraw(ctx context.Context, req ResolveRequest) (*Result, error)
	Get(ctx context.Context, raffleID snowflake.ID) (*Result, error)
}

type ResolveRequest struct {
	RaffleID       snowflake.ID
	ExternalDigits string
	// DrawReference identifies the published lottery result. Defaults to
	// the digits themselves.
	DrawReference  string
	ManualOverride bool
	ResolvedBy     string
}

type Result struct {
	RaffleID        snowflake.ID `json:"raffle_id"`
	WinnerTicketID  snowflake.ID `json:"winner_ticket_id"`
	WinnerNumber    int64        `json:"winner_number"`
	TargetNumber    int64        `json:"target_number"`
	ExternalDigits  string       `json:"external_digits"`
	RuleVersion     string       `json:"rule_version"`
	ManualOverride  bool         `json:"manual_override"`
	ResolvedAt      time.Time    `json:"resolved_at"`
	AlreadyResolved bool         `json:"already_resolved"`
}

var (
	ErrInsufficientFunding = errors.New("insufficient_funding")
	ErrNoPaidTickets       = errors.New("no_paid_tickets")
	ErrInvalidDigits       = errors.New("invalid_digits")
	ErrDrawNotFound        = errors.New("draw_not_found")
)

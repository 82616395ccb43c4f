package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/smallbiznis/drawline/internal/ledger/domain"
)

type Service interface {
	// FinalizePayout settles a delivered raffle exactly once.
	FinalizePayout(ctx context.Context, raffleID snowflake.ID) (*ledgerdomain.Payout, error)
	Get(ctx context.Context, raffleID snowflake.ID) (*ledgerdomain.Payout, error)
	// Statement renders the settled payout as a PDF document.
	Statement(ctx context.Context, raffleID snowflake.ID) ([]byte, error)
}

var (
	ErrNotDelivered        = errors.New("raffle_not_delivered")
	ErrPayoutAlreadyExists = errors.New("payout_already_exists")
	ErrPayoutNotFound      = errors.New("payout_not_found")
)

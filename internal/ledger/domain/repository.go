package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Repository is the raw-SQL access layer. Lookups return (nil, nil) when
// no row matches. Every write method expects to run inside the caller's
// transaction.
type Repository interface {
	InsertRaffle(ctx context.Context, db *gorm.DB, raffle *Raffle) error
	GetRaffle(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Raffle, error)
	LockRaffle(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Raffle, error)
	TransitionRaffle(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to RaffleStatus, at time.Time) (bool, error)
	SetRaffleManualDraw(ctx context.Context, db *gorm.DB, id snowflake.ID, allowed bool, at time.Time) error
	AddRaisedAmount(ctx context.Context, db *gorm.DB, id snowflake.ID, amount int64, paidAt time.Time) error
	MarkRaffleResolved(ctx context.Context, db *gorm.DB, id snowflake.ID, winnerTicketID snowflake.ID, drawReference string, at time.Time) (bool, error)
	ClaimStaleActiveRaffles(ctx context.Context, db *gorm.DB, cutoff time.Time, limit int) ([]snowflake.ID, error)
	ClaimClosedRaffles(ctx context.Context, db *gorm.DB, resolvedBefore time.Time, limit int) ([]snowflake.ID, error)

	HeldTicketNumbers(ctx context.Context, db *gorm.DB, raffleID snowflake.ID) ([]int64, error)
	InsertTickets(ctx context.Context, db *gorm.DB, tickets []Ticket) error
	ListTicketsByTransaction(ctx context.Context, db *gorm.DB, transactionID snowflake.ID) ([]Ticket, error)
	SetTicketsStatusByTransaction(ctx context.Context, db *gorm.DB, transactionID snowflake.ID, from, to TicketStatus, at time.Time) (int64, error)
	CancelHeldTickets(ctx context.Context, db *gorm.DB, raffleID snowflake.ID, at time.Time) (int64, error)
	ListPaidTickets(ctx context.Context, db *gorm.DB, raffleID snowflake.ID) ([]PaidTicket, error)

	InsertTransaction(ctx context.Context, db *gorm.DB, txn *Transaction) error
	FindTransaction(ctx context.Context, db *gorm.DB, provider, providerPaymentID string) (*Transaction, error)
	LockTransaction(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Transaction, error)
	MarkTransactionPaid(ctx context.Context, db *gorm.DB, id snowflake.ID, providerFee int64, at time.Time) (bool, error)
	SetTransactionStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to TransactionStatus, at time.Time) (bool, error)
	ClaimExpiredPendingTransactions(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]Transaction, error)
	ListTransactionsByStatus(ctx context.Context, db *gorm.DB, raffleID snowflake.ID, status TransactionStatus) ([]Transaction, error)
	SumProviderFees(ctx context.Context, db *gorm.DB, raffleID snowflake.ID) (int64, error)

	InsertDraw(ctx context.Context, db *gorm.DB, draw *Draw) (bool, error)
	GetDraw(ctx context.Context, db *gorm.DB, raffleID snowflake.ID) (*Draw, error)

	InsertPayout(ctx context.Context, db *gorm.DB, payout *Payout) (bool, error)
	GetPayout(ctx context.Context, db *gorm.DB, raffleID snowflake.ID) (*Payout, error)
}

package testutil

import (
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// RaffleFixture seeds one raffles row. Zero values get usable defaults.
type RaffleFixture struct {
	ID              snowflake.ID
	OrganizerID     string
	Status          string
	Currency        string
	TicketPrice     int64
	TotalTickets    int64
	GoalAmount      int64
	RaisedAmount    int64
	AllowManualDraw bool
	ActivatedAt     *time.Time
	LastPaidAt      *time.Time
	ResolvedAt      *time.Time
	CreatedAt       time.Time
}

func InsertRaffle(t testing.TB, db *gorm.DB, f RaffleFixture) {
	t.Helper()
	if f.OrganizerID == "" {
		f.OrganizerID = "org-1"
	}
	if f.Status == "" {
		f.Status = "active"
	}
	if f.Currency == "" {
		f.Currency = "USD"
	}
	if f.TicketPrice == 0 {
		f.TicketPrice = 100
	}
	if f.TotalTickets == 0 {
		f.TotalTickets = 10
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	err := db.Exec(
		`INSERT INTO raffles (
			id, organizer_id, title, slug, currency, ticket_price, total_tickets, goal_amount,
			raised_amount, status, allow_manual_draw, last_paid_at, activated_at, resolved_at,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID,
		f.OrganizerID,
		"Raffle "+f.ID.String(),
		"raffle-"+f.ID.String(),
		f.Currency,
		f.TicketPrice,
		f.TotalTickets,
		f.GoalAmount,
		f.RaisedAmount,
		f.Status,
		f.AllowManualDraw,
		f.LastPaidAt,
		f.ActivatedAt,
		f.ResolvedAt,
		f.CreatedAt,
		f.CreatedAt,
	).Error
	if err != nil {
		t.Fatalf("insert raffle: %v", err)
	}
}

// Count returns COUNT(*) for a query.
func Count(t testing.TB, db *gorm.DB, query string, args ...any) int64 {
	t.Helper()
	var n int64
	if err := db.Raw(query, args...).Scan(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

// TransactionFixture seeds one transactions row without tickets.
type TransactionFixture struct {
	ID                snowflake.ID
	RaffleID          snowflake.ID
	OwnerID           string
	Provider          string
	ProviderPaymentID string
	Amount            int64
	ProviderFee       int64
	Status            string
	CreatedAt         time.Time
}

func InsertTransaction(t testing.TB, db *gorm.DB, f TransactionFixture) {
	t.Helper()
	if f.OwnerID == "" {
		f.OwnerID = "buyer-1"
	}
	if f.Provider == "" {
		f.Provider = "stripe"
	}
	if f.ProviderPaymentID == "" {
		f.ProviderPaymentID = "pi_" + f.ID.String()
	}
	if f.Status == "" {
		f.Status = "paid"
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)
	}
	var receivedAt *time.Time
	if f.Status == "paid" || f.Status == "refunded" {
		receivedAt = &f.CreatedAt
	}
	err := db.Exec(
		`INSERT INTO transactions (
			id, raffle_id, owner_id, provider, provider_payment_id, ticket_numbers, amount,
			provider_fee, status, created_at, received_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID,
		f.RaffleID,
		f.OwnerID,
		f.Provider,
		f.ProviderPaymentID,
		"[]",
		f.Amount,
		f.ProviderFee,
		f.Status,
		f.CreatedAt,
		receivedAt,
		f.CreatedAt,
	).Error
	if err != nil {
		t.Fatalf("insert transaction: %v", err)
	}
}

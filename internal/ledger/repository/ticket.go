package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/drawline/internal/ledger/domain"
	"gorm.io/gorm"
)

func (r *repo) HeldTicketNumbers(ctx context.Context, db *gorm.DB, raffleID snowflake.ID) ([]int64, error) {
	var numbers []int64
	err := db.WithContext(ctx).Raw(
		`SELECT number FROM tickets WHERE raffle_id = ? AND status IN (?, ?)`,
		raffleID,
		domain.TicketStatusReserved,
		domain.TicketStatusPaid,
	).Scan(&numbers).Error
	return numbers, err
}

func (r *repo) InsertTickets(ctx context.Context, db *gorm.DB, tickets []domain.Ticket) error {
	for _, t := range tickets {
		if err := db.WithContext(ctx).Exec(
			`INSERT INTO tickets (
				id, raffle_id, transaction_id, number, owner_id, status, reserved_at, expires_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			t.ID,
			t.RaffleID,
			t.TransactionID,
			t.Number,
			t.OwnerID,
			t.Status,
			t.ReservedAt,
			t.ExpiresAt,
		).Error; err != nil {
			return err
		}
	}
	return nil
}

func (r *repo) ListTicketsByTransaction(ctx context.Context, db *gorm.DB, transactionID snowflake.ID) ([]domain.Ticket, error) {
	var tickets []domain.Ticket
	err := db.WithContext(ctx).Raw(
		`SELECT id, raffle_id, transaction_id, number, owner_id, status, reserved_at, expires_at, paid_at, canceled_at
		 FROM tickets WHERE transaction_id = ? ORDER BY number`,
		transactionID,
	).Scan(&tickets).Error
	return tickets, err
}

func (r *repo) SetTicketsStatusByTransaction(ctx context.Context, db *gorm.DB, transactionID snowflake.ID, from, to domain.TicketStatus, at time.Time) (int64, error) {
	column := "canceled_at"
	if to == domain.TicketStatusPaid {
		column = "paid_at"
	}
	result := db.WithContext(ctx).Exec(
		`UPDATE tickets SET status = ?, `+column+` = ? WHERE transaction_id = ? AND status = ?`,
		to,
		at,
		transactionID,
		from,
	)
	return result.RowsAffected, result.Error
}

// CancelHeldTickets releases every reserved or paid ticket of a raffle.
func (r *repo) CancelHeldTickets(ctx context.Context, db *gorm.DB, raffleID snowflake.ID, at time.Time) (int64, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE tickets SET status = ?, canceled_at = ? WHERE raffle_id = ? AND status IN (?, ?)`,
		domain.TicketStatusCanceled,
		at,
		raffleID,
		domain.TicketStatusReserved,
		domain.TicketStatusPaid,
	)
	return result.RowsAffected, result.Error
}

// ListPaidTickets orders by number, then payment receipt, then ticket id.
func (r *repo) ListPaidTickets(ctx context.Context, db *gorm.DB, raffleID snowflake.ID) ([]domain.PaidTicket, error) {
	var tickets []domain.PaidTicket
	err := db.WithContext(ctx).Raw(
		`SELECT k.id AS ticket_id, k.number, k.transaction_id, k.owner_id, t.received_at
		 FROM tickets k
		 JOIN transactions t ON t.id = k.transaction_id
		 WHERE k.raffle_id = ? AND k.status = ? AND t.status = ?
		 ORDER BY k.number ASC, t.received_at ASC, k.id ASC`,
		raffleID,
		domain.TicketStatusPaid,
		domain.TransactionStatusPaid,
	).Scan(&tickets).Error
	return tickets, err
}

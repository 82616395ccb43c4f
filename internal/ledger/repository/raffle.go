package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/drawline/internal/ledger/domain"
	"gorm.io/gorm"
)

const raffleColumns = `id, organizer_id, title, slug, currency, ticket_price, total_tickets,
	goal_amount, raised_amount, status, draw_reference, allow_manual_draw, winner_ticket_id,
	last_paid_at, activated_at, resolved_at, delivery_confirmed_at, created_at, updated_at`

func (r *repo) InsertRaffle(ctx context.Context, db *gorm.DB, raffle *domain.Raffle) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO raffles (`+raffleColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		raffle.ID,
		raffle.OrganizerID,
		raffle.Title,
		raffle.Slug,
		raffle.Currency,
		raffle.TicketPrice,
		raffle.TotalTickets,
		raffle.GoalAmount,
		raffle.RaisedAmount,
		raffle.Status,
		raffle.DrawReference,
		raffle.AllowManualDraw,
		raffle.WinnerTicketID,
		raffle.LastPaidAt,
		raffle.ActivatedAt,
		raffle.ResolvedAt,
		raffle.DeliveryConfirmedAt,
		raffle.CreatedAt,
		raffle.UpdatedAt,
	).Error
}

func (r *repo) GetRaffle(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Raffle, error) {
	return r.selectRaffle(ctx, db, `SELECT `+raffleColumns+` FROM raffles WHERE id = ?`, id)
}

func (r *repo) LockRaffle(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Raffle, error) {
	return r.selectRaffle(ctx, db, `SELECT `+raffleColumns+` FROM raffles WHERE id = ? FOR UPDATE`, id)
}

func (r *repo) selectRaffle(ctx context.Context, db *gorm.DB, query string, id snowflake.ID) (*domain.Raffle, error) {
	var raffle domain.Raffle
	result := db.WithContext(ctx).Raw(query, id).Scan(&raffle)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return &raffle, nil
}

func (r *repo) SetRaffleManualDraw(ctx context.Context, db *gorm.DB, id snowflake.ID, allowed bool, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE raffles SET allow_manual_draw = ?, updated_at = ? WHERE id = ?`,
		allowed, at, id,
	).Error
}

// TransitionRaffle only moves a raffle that is still in from.
func (r *repo) TransitionRaffle(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to domain.RaffleStatus, at time.Time) (bool, error) {
	query := `UPDATE raffles SET status = ?, updated_at = ?`
	args := []any{to, at}
	switch to {
	case domain.RaffleStatusActive:
		query += `, activated_at = ?`
		args = append(args, at)
	case domain.RaffleStatusDelivered:
		query += `, delivery_confirmed_at = ?`
		args = append(args, at)
	}
	query += ` WHERE id = ? AND status = ?`
	args = append(args, id, from)

	result := db.WithContext(ctx).Exec(query, args...)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) AddRaisedAmount(ctx context.Context, db *gorm.DB, id snowflake.ID, amount int64, paidAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE raffles
		 SET raised_amount = raised_amount + ?, last_paid_at = ?, updated_at = ?
		 WHERE id = ?`,
		amount,
		paidAt,
		paidAt,
		id,
	).Error
}

func (r *repo) MarkRaffleResolved(ctx context.Context, db *gorm.DB, id snowflake.ID, winnerTicketID snowflake.ID, drawReference string, at time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE raffles
		 SET status = ?, winner_ticket_id = ?, draw_reference = ?, resolved_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		domain.RaffleStatusClosed,
		winnerTicketID,
		drawReference,
		at,
		at,
		id,
		domain.RaffleStatusActive,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// ClaimStaleActiveRaffles returns active raffles whose last payment, or
// activation when nothing was paid, is at or before cutoff.
func (r *repo) ClaimStaleActiveRaffles(ctx context.Context, db *gorm.DB, cutoff time.Time, limit int) ([]snowflake.ID, error) {
	var ids []snowflake.ID
	err := db.WithContext(ctx).Raw(
		`SELECT id FROM raffles
		 WHERE status = ? AND COALESCE(last_paid_at, activated_at) <= ?
		 ORDER BY id
		 LIMIT ?
		 FOR UPDATE SKIP LOCKED`,
		domain.RaffleStatusActive,
		cutoff,
		limit,
	).Scan(&ids).Error
	return ids, err
}

func (r *repo) ClaimClosedRaffles(ctx context.Context, db *gorm.DB, resolvedBefore time.Time, limit int) ([]snowflake.ID, error) {
	var ids []snowflake.ID
	err := db.WithContext(ctx).Raw(
		`SELECT id FROM raffles
		 WHERE status = ? AND resolved_at <= ?
		 ORDER BY resolved_at, id
		 LIMIT ?
		 FOR UPDATE SKIP LOCKED`,
		domain.RaffleStatusClosed,
		resolvedBefore,
		limit,
	).Scan(&ids).Error
	return ids, err
}

package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/drawline/internal/ledger/domain"
	"gorm.io/gorm"
)

const transactionColumns = `id, raffle_id, owner_id, provider, provider_payment_id, ticket_numbers,
	amount, provider_fee, status, created_at, received_at, updated_at`

func (r *repo) InsertTransaction(ctx context.Context, db *gorm.DB, txn *domain.Transaction) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO transactions (`+transactionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		txn.ID,
		txn.RaffleID,
		txn.OwnerID,
		txn.Provider,
		txn.ProviderPaymentID,
		string(txn.TicketNumbers),
		txn.Amount,
		txn.ProviderFee,
		txn.Status,
		txn.CreatedAt,
		txn.ReceivedAt,
		txn.UpdatedAt,
	).Error
}

func (r *repo) FindTransaction(ctx context.Context, db *gorm.DB, provider, providerPaymentID string) (*domain.Transaction, error) {
	return r.selectTransaction(ctx, db,
		`SELECT `+transactionColumns+` FROM transactions WHERE provider = ? AND provider_payment_id = ?`,
		provider, providerPaymentID,
	)
}

func (r *repo) LockTransaction(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Transaction, error) {
	return r.selectTransaction(ctx, db,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = ? FOR UPDATE`,
		id,
	)
}

func (r *repo) selectTransaction(ctx context.Context, db *gorm.DB, query string, args ...any) (*domain.Transaction, error) {
	var txn domain.Transaction
	result := db.WithContext(ctx).Raw(query, args...).Scan(&txn)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return &txn, nil
}

func (r *repo) MarkTransactionPaid(ctx context.Context, db *gorm.DB, id snowflake.ID, providerFee int64, at time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE transactions
		 SET status = ?, provider_fee = ?, received_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		domain.TransactionStatusPaid,
		providerFee,
		at,
		at,
		id,
		domain.TransactionStatusPending,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) SetTransactionStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to domain.TransactionStatus, at time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE transactions SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		to,
		at,
		id,
		from,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// ClaimExpiredPendingTransactions finds pending transactions whose reserved
// tickets expired at or before now. Rows locked by a concurrent sweep or
// confirmation are skipped.
func (r *repo) ClaimExpiredPendingTransactions(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]domain.Transaction, error) {
	var txns []domain.Transaction
	err := db.WithContext(ctx).Raw(
		`SELECT `+transactionColumns+` FROM transactions
		 WHERE status = ?
		   AND EXISTS (
			SELECT 1 FROM tickets
			WHERE tickets.transaction_id = transactions.id
			  AND tickets.status = ?
			  AND tickets.expires_at <= ?
		   )
		 ORDER BY created_at, id
		 LIMIT ?
		 FOR UPDATE SKIP LOCKED`,
		domain.TransactionStatusPending,
		domain.TicketStatusReserved,
		now,
		limit,
	).Scan(&txns).Error
	return txns, err
}

func (r *repo) ListTransactionsByStatus(ctx context.Context, db *gorm.DB, raffleID snowflake.ID, status domain.TransactionStatus) ([]domain.Transaction, error) {
	var txns []domain.Transaction
	err := db.WithContext(ctx).Raw(
		`SELECT `+transactionColumns+` FROM transactions WHERE raffle_id = ? AND status = ? ORDER BY created_at, id`,
		raffleID,
		status,
	).Scan(&txns).Error
	return txns, err
}

func (r *repo) SumProviderFees(ctx context.Context, db *gorm.DB, raffleID snowflake.ID) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(provider_fee), 0) FROM transactions WHERE raffle_id = ? AND status = ?`,
		raffleID,
		domain.TransactionStatusPaid,
	).Scan(&total).Error
	return total, err
}

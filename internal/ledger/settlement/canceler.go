package settlement

import (
	"context"
	"time"

	"github.com/smallbiznis/drawline/internal/events"
	"github.com/smallbiznis/drawline/internal/ledger/domain"
	"github.com/smallbiznis/drawline/internal/ledger/journal"
	"gorm.io/gorm"
)

// Summary reports what a cancellation unwound.
type Summary struct {
	CanceledTransactions int   `json:"canceled_transactions"`
	RefundedTransactions int   `json:"refunded_transactions"`
	RefundedAmount       int64 `json:"refunded_amount"`
	ReleasedTickets      int64 `json:"released_tickets"`
}

// Canceler unwinds a raffle inside the caller's raffle lock: pending
// payments are canceled, settled ones refunded, and every held ticket is
// released.
type Canceler struct {
	repo    domain.Repository
	journal *journal.Journal
	outbox  *events.Outbox
}

func NewCanceler(repo domain.Repository, j *journal.Journal, outbox *events.Outbox) *Canceler {
	return &Canceler{repo: repo, journal: j, outbox: outbox}
}

// CancelTx moves the raffle from its current status to canceled. The caller
// validates that the edge is allowed.
func (c *Canceler) CancelTx(ctx context.Context, tx *gorm.DB, raffle *domain.Raffle, reason string, at time.Time) (Summary, error) {
	return c.UnwindTx(ctx, tx, raffle, domain.RaffleStatusCanceled, reason, at)
}

// UnwindTx is CancelTx for any terminal status, e.g. rejecting a raffle
// that already took payments.
func (c *Canceler) UnwindTx(ctx context.Context, tx *gorm.DB, raffle *domain.Raffle, to domain.RaffleStatus, reason string, at time.Time) (Summary, error) {
	var summary Summary

	moved, err := c.repo.TransitionRaffle(ctx, tx, raffle.ID, raffle.Status, to, at)
	if err != nil {
		return summary, err
	}
	if !moved {
		return summary, domain.ErrConcurrencyConflict
	}

	pending, err := c.repo.ListTransactionsByStatus(ctx, tx, raffle.ID, domain.TransactionStatusPending)
	if err != nil {
		return summary, err
	}
	for _, txn := range pending {
		ok, err := c.repo.SetTransactionStatus(ctx, tx, txn.ID, domain.TransactionStatusPending, domain.TransactionStatusCanceled, at)
		if err != nil {
			return summary, err
		}
		if ok {
			summary.CanceledTransactions++
		}
	}

	paid, err := c.repo.ListTransactionsByStatus(ctx, tx, raffle.ID, domain.TransactionStatusPaid)
	if err != nil {
		return summary, err
	}
	for _, txn := range paid {
		ok, err := c.repo.SetTransactionStatus(ctx, tx, txn.ID, domain.TransactionStatusPaid, domain.TransactionStatusRefunded, at)
		if err != nil {
			return summary, err
		}
		if !ok {
			continue
		}
		if _, err := c.journal.PostEntry(ctx, tx, journal.RefundEntry(txn, raffle.Currency, at)); err != nil {
			return summary, err
		}
		summary.RefundedTransactions++
		summary.RefundedAmount += txn.Amount
	}

	released, err := c.repo.CancelHeldTickets(ctx, tx, raffle.ID, at)
	if err != nil {
		return summary, err
	}
	summary.ReleasedTickets = released

	err = c.outbox.PublishTx(ctx, tx, events.Event{
		RaffleID:  raffle.ID,
		Type:      events.EventRaffleCanceled,
		DedupeKey: "raffle.canceled:" + raffle.ID.String(),
		Payload: map[string]any{
			"raffle_id":             raffle.ID.String(),
			"previous_status":       string(raffle.Status),
			"status":                string(to),
			"reason":                reason,
			"canceled_transactions": summary.CanceledTransactions,
			"refunded_transactions": summary.RefundedTransactions,
			"refunded_amount":       summary.RefundedAmount,
		},
	})
	if err != nil {
		return summary, err
	}
	raffle.Status = to
	return summary, nil
}

package journal

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/drawline/internal/clock"
	"github.com/smallbiznis/drawline/internal/ledger/domain"
	"gorm.io/gorm"
)

var accountNames = map[domain.LedgerAccountCode]string{
	domain.AccountCodeCash:               "Cash",
	domain.AccountCodeRaffleEscrow:       "Raffle Escrow",
	domain.AccountCodePaymentFeeExpense:  "Payment Fee Expense",
	domain.AccountCodeCommissionRevenue:  "Commission Revenue",
	domain.AccountCodeProviderFeeRecover: "Provider Fee Recovery",
	domain.AccountCodeOrganizerPayable:   "Organizer Payable",
	domain.AccountCodeAdjustment:         "Adjustment",
}

// Entry is a balanced set of postings tied to one source document.
type Entry struct {
	RaffleID   snowflake.ID
	SourceType domain.LedgerSourceType
	SourceID   snowflake.ID
	Currency   string
	OccurredAt time.Time
	Lines      []domain.LedgerEntryLine
}

// Journal posts double-entry records inside the caller's transaction.
type Journal struct {
	genID *snowflake.Node
	clock clock.Clock
}

func New(genID *snowflake.Node, clk clock.Clock) *Journal {
	return &Journal{genID: genID, clock: clk}
}

// PostEntry writes the entry once per source. A repeated post for the same
// source is a no-op and reports false.
func (j *Journal) PostEntry(ctx context.Context, tx *gorm.DB, entry Entry) (bool, error) {
	if entry.SourceID == 0 || strings.TrimSpace(string(entry.SourceType)) == "" {
		return false, domain.ErrInvalidSource
	}
	lines := make([]domain.LedgerEntryLine, 0, len(entry.Lines))
	for _, line := range entry.Lines {
		if line.Amount == 0 {
			continue
		}
		lines = append(lines, line)
	}
	if err := domain.ValidateBalanced(lines); err != nil {
		return false, err
	}

	now := j.clock.Now()
	entryID := j.genID.Generate()
	result := tx.WithContext(ctx).Exec(
		`INSERT INTO ledger_entries (id, raffle_id, source_type, source_id, currency, occurred_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (source_type, source_id) DO NOTHING`,
		entryID,
		entry.RaffleID,
		entry.SourceType,
		entry.SourceID,
		entry.Currency,
		entry.OccurredAt,
		now,
	)
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected == 0 {
		return false, nil
	}

	for _, line := range lines {
		accountID, err := j.ensureAccount(ctx, tx, line.Account)
		if err != nil {
			return false, err
		}
		currency := line.Currency
		if currency == "" {
			currency = entry.Currency
		}
		if err := tx.WithContext(ctx).Exec(
			`INSERT INTO ledger_entry_lines (id, ledger_entry_id, account_id, direction, currency, amount, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			j.genID.Generate(),
			entryID,
			accountID,
			line.Direction,
			currency,
			line.Amount,
			now,
		).Error; err != nil {
			return false, err
		}
	}
	return true, nil
}

func (j *Journal) ensureAccount(ctx context.Context, tx *gorm.DB, code domain.LedgerAccountCode) (snowflake.ID, error) {
	name, ok := accountNames[code]
	if !ok {
		return 0, domain.ErrInvalidAccount
	}
	if err := tx.WithContext(ctx).Exec(
		`INSERT INTO ledger_accounts (id, code, name, created_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (code) DO NOTHING`,
		j.genID.Generate(),
		code,
		name,
		j.clock.Now(),
	).Error; err != nil {
		return 0, err
	}
	var id snowflake.ID
	if err := tx.WithContext(ctx).Raw(
		`SELECT id FROM ledger_accounts WHERE code = ?`,
		code,
	).Scan(&id).Error; err != nil {
		return 0, err
	}
	if id == 0 {
		return 0, domain.ErrInvalidAccount
	}
	return id, nil
}

func line(account domain.LedgerAccountCode, direction domain.LedgerEntryDirection, amount int64) domain.LedgerEntryLine {
	return domain.LedgerEntryLine{Account: account, Direction: direction, Amount: amount}
}

// PaymentEntry moves a confirmed payment into raffle escrow and books the
// provider fee.
func PaymentEntry(txn domain.Transaction, currency string, occurredAt time.Time) Entry {
	return Entry{
		RaffleID:   txn.RaffleID,
		SourceType: domain.SourceTypePayment,
		SourceID:   txn.ID,
		Currency:   currency,
		OccurredAt: occurredAt,
		Lines: []domain.LedgerEntryLine{
			line(domain.AccountCodeCash, domain.LedgerEntryDirectionDebit, txn.Amount),
			line(domain.AccountCodeRaffleEscrow, domain.LedgerEntryDirectionCredit, txn.Amount),
			line(domain.AccountCodePaymentFeeExpense, domain.LedgerEntryDirectionDebit, txn.ProviderFee),
			line(domain.AccountCodeCash, domain.LedgerEntryDirectionCredit, txn.ProviderFee),
		},
	}
}

// PayoutEntry releases escrow. When the net was floored at zero the
// shortfall is debited to adjustment so the entry still balances.
func PayoutEntry(payout domain.Payout) Entry {
	lines := []domain.LedgerEntryLine{
		line(domain.AccountCodeRaffleEscrow, domain.LedgerEntryDirectionDebit, payout.GrossAmount),
		line(domain.AccountCodeCommissionRevenue, domain.LedgerEntryDirectionCredit, payout.CommissionAmount),
		line(domain.AccountCodeProviderFeeRecover, domain.LedgerEntryDirectionCredit, payout.ProviderFeeTotal),
		line(domain.AccountCodeOrganizerPayable, domain.LedgerEntryDirectionCredit, payout.NetAmount),
	}
	credits := payout.CommissionAmount + payout.ProviderFeeTotal + payout.NetAmount
	if shortfall := credits - payout.GrossAmount; shortfall > 0 {
		lines = append(lines, line(domain.AccountCodeAdjustment, domain.LedgerEntryDirectionDebit, shortfall))
	}
	return Entry{
		RaffleID:   payout.RaffleID,
		SourceType: domain.SourceTypePayout,
		SourceID:   payout.ID,
		Currency:   payout.Currency,
		OccurredAt: payout.SettledAt,
		Lines:      lines,
	}
}

// RefundEntry reverses the escrow credit of a refunded payment.
func RefundEntry(txn domain.Transaction, currency string, occurredAt time.Time) Entry {
	return Entry{
		RaffleID:   txn.RaffleID,
		SourceType: domain.SourceTypeRefund,
		SourceID:   txn.ID,
		Currency:   currency,
		OccurredAt: occurredAt,
		Lines: []domain.LedgerEntryLine{
			line(domain.AccountCodeRaffleEscrow, domain.LedgerEntryDirectionDebit, txn.Amount),
			line(domain.AccountCodeCash, domain.LedgerEntryDirectionCredit, txn.Amount),
		},
	}
}

package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type LedgerEntryDirection string

const (
	LedgerEntryDirectionDebit  LedgerEntryDirection = "debit"
	LedgerEntryDirectionCredit LedgerEntryDirection = "credit"
)

type LedgerSourceType string

const (
	SourceTypePayment LedgerSourceType = "payment"
	SourceTypeRefund  LedgerSourceType = "refund"
	SourceTypePayout  LedgerSourceType = "payout"
)

type LedgerAccountCode string

const (
	AccountCodeCash               LedgerAccountCode = "cash"
	AccountCodeRaffleEscrow       LedgerAccountCode = "raffle_escrow"
	AccountCodePaymentFeeExpense  LedgerAccountCode = "payment_fee_expense"
	AccountCodeCommissionRevenue  LedgerAccountCode = "commission_revenue"
	AccountCodeProviderFeeRecover LedgerAccountCode = "provider_fee_recovery"
	AccountCodeOrganizerPayable   LedgerAccountCode = "organizer_payable"
	AccountCodeAdjustment         LedgerAccountCode = "adjustment"
)

type LedgerAccount struct {
	ID        snowflake.ID      `gorm:"primaryKey"`
	Code      LedgerAccountCode `gorm:"type:text;not null;uniqueIndex"`
	Name      string            `gorm:"type:text;not null"`
	CreatedAt time.Time         `gorm:"not null"`
}

func (LedgerAccount) TableName() string { return "ledger_accounts" }

type LedgerEntry struct {
	ID         snowflake.ID     `gorm:"primaryKey"`
	RaffleID   snowflake.ID     `gorm:"not null;index"`
	SourceType LedgerSourceType `gorm:"type:text;not null"`
	SourceID   snowflake.ID     `gorm:"not null"`
	Currency   string           `gorm:"type:text;not null"`
	OccurredAt time.Time        `gorm:"not null"`
	CreatedAt  time.Time        `gorm:"not null"`
}

func (LedgerEntry) TableName() string { return "ledger_entries" }

// LedgerEntryLine is one double-entry posting. Account is resolved to
// AccountID when the entry is written.
type LedgerEntryLine struct {
	ID            snowflake.ID         `gorm:"primaryKey"`
	LedgerEntryID snowflake.ID         `gorm:"not null;index"`
	AccountID     snowflake.ID         `gorm:"not null;index"`
	Account       LedgerAccountCode    `gorm:"-"`
	Direction     LedgerEntryDirection `gorm:"type:text;not null"`
	Currency      string               `gorm:"type:text;not null"`
	Amount        int64                `gorm:"not null"`
	CreatedAt     time.Time            `gorm:"not null"`
}

func (LedgerEntryLine) TableName() string { return "ledger_entry_lines" }

// ValidateBalanced requires total debits to equal total credits.
func ValidateBalanced(lines []LedgerEntryLine) error {
	if len(lines) < 2 {
		return ErrInvalidEntryLines
	}
	var debit, credit int64
	for _, line := range lines {
		if line.Amount < 0 {
			return ErrInvalidLineAmount
		}
		switch line.Direction {
		case LedgerEntryDirectionDebit:
			debit += line.Amount
		case LedgerEntryDirectionCredit:
			credit += line.Amount
		default:
			return ErrInvalidLineDirection
		}
	}
	if debit != credit {
		return ErrUnbalancedEntry
	}
	return nil
}

package journal

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/drawline/internal/clock"
	"github.com/smallbiznis/drawline/internal/ledger/domain"
	"github.com/smallbiznis/drawline/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type balanceRow struct {
	Code      string
	Direction string
	Total     int64
}

func balances(t *testing.T, db *gorm.DB) map[string]int64 {
	t.Helper()
	var rows []balanceRow
	require.NoError(t, db.Raw(
		`SELECT a.code AS code, l.direction AS direction, SUM(l.amount) AS total
		 FROM ledger_entry_lines l JOIN ledger_accounts a ON a.id = l.account_id
		 GROUP BY a.code, l.direction`,
	).Scan(&rows).Error)
	out := map[string]int64{}
	for _, row := range rows {
		out[row.Code+":"+row.Direction] = row.Total
	}
	return out
}

func TestPostPaymentEntryIsBalancedAndOncePerSource(t *testing.T) {
	db := testutil.NewDB(t)
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	j := New(testutil.NewNode(t), clock.NewFakeClock(now))

	txn := domain.Transaction{ID: snowflake.ID(42), RaffleID: snowflake.ID(7), Amount: 10_000, ProviderFee: 320}
	ctx := context.Background()

	posted, err := j.PostEntry(ctx, db, PaymentEntry(txn, "USD", now))
	require.NoError(t, err)
	assert.True(t, posted)

	posted, err = j.PostEntry(ctx, db, PaymentEntry(txn, "USD", now))
	require.NoError(t, err)
	assert.False(t, posted)

	got := balances(t, db)
	assert.Equal(t, int64(10_000), got["cash:debit"])
	assert.Equal(t, int64(320), got["cash:credit"])
	assert.Equal(t, int64(10_000), got["raffle_escrow:credit"])
	assert.Equal(t, int64(320), got["payment_fee_expense:debit"])
}

func TestPaymentEntrySkipsZeroFeeLines(t *testing.T) {
	entry := PaymentEntry(domain.Transaction{ID: 1, Amount: 500}, "USD", time.Now())
	db := testutil.NewDB(t)
	j := New(testutil.NewNode(t), clock.NewFakeClock(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)))

	_, err := j.PostEntry(context.Background(), db, entry)
	require.NoError(t, err)

	var lines int64
	require.NoError(t, db.Raw(`SELECT COUNT(*) FROM ledger_entry_lines`).Scan(&lines).Error)
	assert.Equal(t, int64(2), lines)
}

func TestPayoutEntryBalancesWhenNetFloored(t *testing.T) {
	payout := domain.Payout{
		ID:               snowflake.ID(5),
		RaffleID:         snowflake.ID(7),
		Currency:         "USD",
		GrossAmount:      100,
		CommissionAmount: 5,
		ProviderFeeTotal: 130,
		NetAmount:        0,
	}
	entry := PayoutEntry(payout)
	require.NoError(t, domain.ValidateBalanced(entry.Lines))

	var adjustment int64
	for _, l := range entry.Lines {
		if l.Account == domain.AccountCodeAdjustment {
			adjustment = l.Amount
		}
	}
	assert.Equal(t, int64(35), adjustment)
}

func TestPostEntryRejectsUnbalancedLines(t *testing.T) {
	db := testutil.NewDB(t)
	j := New(testutil.NewNode(t), clock.NewFakeClock(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)))

	_, err := j.PostEntry(context.Background(), db, Entry{
		RaffleID:   1,
		SourceType: domain.SourceTypePayment,
		SourceID:   2,
		Currency:   "USD",
		Lines: []domain.LedgerEntryLine{
			{Account: domain.AccountCodeCash, Direction: domain.LedgerEntryDirectionDebit, Amount: 10},
			{Account: domain.AccountCodeRaffleEscrow, Direction: domain.LedgerEntryDirectionCredit, Amount: 9},
		},
	})
	assert.ErrorIs(t, err, domain.ErrUnbalancedEntry)

	_, err = j.PostEntry(context.Background(), db, Entry{SourceType: domain.SourceTypePayment})
	assert.ErrorIs(t, err, domain.ErrInvalidSource)
}

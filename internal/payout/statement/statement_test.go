package statement

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMoney(t *testing.T) {
	assert.Equal(t, "12.05 USD", Money(1205, "usd"))
	assert.Equal(t, "0.00 EUR", Money(0, "EUR"))
	assert.Equal(t, "-3.10 USD", Money(-310, "USD"))
	assert.Equal(t, "4.50%", percent(450))
}

func TestRenderProducesPDF(t *testing.T) {
	doc, err := Render(Data{
		RaffleID:         "1",
		Title:            "Spring raffle",
		OrganizerID:      "org-1",
		PayoutID:         "2",
		Currency:         "USD",
		TicketPrice:      500,
		TotalTickets:     100,
		GrossAmount:      50_000,
		CommissionBps:    500,
		CommissionAmount: 2_500,
		ProviderFeeTotal: 1_750,
		NetAmount:        45_750,
		SettledAt:        time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(doc, []byte("%PDF")))
}

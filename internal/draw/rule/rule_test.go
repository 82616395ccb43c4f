package rule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompose(t *testing.T) {
	cases := []struct {
		name     string
		external string
		total    int64
		want     int64
	}{
		{name: "suffix of concatenated groups", external: "12-34-57", total: 10, want: 57},
		{name: "left pads short input", external: "7", total: 100, want: 7},
		{name: "power of ten pool keeps its full width", external: "4 8 15 16", total: 1000, want: 1516},
		{name: "power of ten pool can target its last ticket", external: "1-0-0", total: 100, want: 100},
		{name: "ignores letters", external: "draw#A9b1", total: 99, want: 91},
		{name: "single digit pool", external: "2025", total: 9, want: 5},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Compose(tc.external, tc.total)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	_, err := Compose("no digits here", 10)
	assert.ErrorIs(t, err, ErrNoDigits)
}

func TestWidth(t *testing.T) {
	assert.Equal(t, 1, Width(0))
	assert.Equal(t, 1, Width(9))
	assert.Equal(t, 2, Width(10))
	assert.Equal(t, 3, Width(100))
	assert.Equal(t, 4, Width(1000))
}

func TestSelectExactMatch(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	got, ok := Select([]Candidate{
		{TicketID: 1, Number: 3, ReceivedAt: base},
		{TicketID: 2, Number: 7, ReceivedAt: base},
		{TicketID: 3, Number: 9, ReceivedAt: base},
	}, 7)
	require.True(t, ok)
	assert.Equal(t, int64(7), got.Number)
}

func TestSelectNearestAscending(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	got, ok := Select([]Candidate{
		{TicketID: 1, Number: 9, ReceivedAt: base},
		{TicketID: 2, Number: 3, ReceivedAt: base},
		{TicketID: 3, Number: 12, ReceivedAt: base},
	}, 4)
	require.True(t, ok)
	assert.Equal(t, int64(9), got.Number)
}

func TestSelectWrapsToSmallest(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	candidates := make([]Candidate, 0, 10)
	for n := int64(10); n >= 1; n-- {
		candidates = append(candidates, Candidate{TicketID: 100 + 0, Number: n, ReceivedAt: base.Add(time.Duration(n) * time.Minute)})
	}
	got, ok := Select(candidates, 57)
	require.True(t, ok)
	assert.Equal(t, int64(1), got.Number)
}

func TestSelectTieBreaksOnEarliestPayment(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	got, ok := Select([]Candidate{
		{TicketID: 5, Number: 2, ReceivedAt: base.Add(time.Hour)},
		{TicketID: 6, Number: 2, ReceivedAt: base},
	}, 2)
	require.True(t, ok)
	assert.Equal(t, int64(6), int64(got.TicketID))
}

func TestSelectIsDeterministicUnderInputOrder(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	a := []Candidate{
		{TicketID: 1, Number: 4, ReceivedAt: base},
		{TicketID: 2, Number: 8, ReceivedAt: base},
		{TicketID: 3, Number: 6, ReceivedAt: base},
	}
	b := []Candidate{a[2], a[0], a[1]}
	first, _ := Select(a, 5)
	second, _ := Select(b, 5)
	assert.Equal(t, first, second)
	assert.Equal(t, int64(6), first.Number)
}

func TestSelectEmpty(t *testing.T) {
	_, ok := Select(nil, 1)
	assert.False(t, ok)
}

package rule

import (
	"sort"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Candidate is a paid ticket eligible to win.
type Candidate struct {
	TicketID   snowflake.ID
	Number     int64
	ReceivedAt time.Time
}

// Select returns the winner for target: an exact number match, otherwise
// the smallest number above target, wrapping to the smallest number
// overall. Equal numbers break on the earliest payment, then ticket id.
func Select(candidates []Candidate, target int64) (Candidate, bool) {
	if len(candidates) == 0 {
		return Candidate{}, false
	}
	ordered := append([]Candidate(nil), candidates...)
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if a.Number != b.Number {
			return a.Number < b.Number
		}
		if !a.ReceivedAt.Equal(b.ReceivedAt) {
			return a.ReceivedAt.Before(b.ReceivedAt)
		}
		return a.TicketID < b.TicketID
	})

	idx := sort.Search(len(ordered), func(i int) bool { return ordered[i].Number >= target })
	if idx == len(ordered) {
		return ordered[0], true
	}
	return ordered[idx], true
}

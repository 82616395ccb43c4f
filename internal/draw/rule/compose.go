// Package rule holds the versioned pure functions that turn a published
// lottery result into a winning ticket.
package rule

import (
	"errors"
	"strconv"
	"strings"
)

// VersionSuffixConcat is persisted with every resolution that used Compose.
const VersionSuffixConcat = "suffix-concat/v1"

var ErrNoDigits = errors.New("no_digits")

// Compose strips every non-digit from external, keeps the trailing
// width(totalTickets) digits, left-pads with zeros when shorter and parses
// the result as a decimal number.
//
//	Compose("12-34-57", 10)    == 57
//	Compose("7", 100)          == 7    ("007")
//	Compose("1-0-0", 100)      == 100
//	Compose("4 8 15 16", 1000) == 1516
func Compose(external string, totalTickets int64) (int64, error) {
	var digits strings.Builder
	for _, r := range external {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	if digits.Len() == 0 {
		return 0, ErrNoDigits
	}

	width := Width(totalTickets)
	raw := digits.String()
	if len(raw) > width {
		raw = raw[len(raw)-width:]
	}
	if len(raw) < width {
		raw = strings.Repeat("0", width-len(raw)) + raw
	}
	return strconv.ParseInt(raw, 10, 64)
}

// Width is the decimal digit count of totalTickets, at least 1.
func Width(totalTickets int64) int {
	if totalTickets < 1 {
		return 1
	}
	return len(strconv.FormatInt(totalTickets, 10))
}

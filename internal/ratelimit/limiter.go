package ratelimit

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	ErrRateLimited  = errors.New("rate_limited")
	ErrInvalidInput = errors.New("invalid_rate_limit_input")
)

// Limiter is a sliding-window attempt counter. Every call is recorded,
// including denied ones, and the call is allowed iff the number of attempts
// in (now-window, now] including this one is at most maxCount.
type Limiter interface {
	CheckAndRecord(ctx context.Context, identifier, action string, window time.Duration, maxCount int) (bool, error)
}

func validate(identifier, action string, window time.Duration, maxCount int) (string, string, error) {
	identifier = strings.TrimSpace(identifier)
	action = strings.TrimSpace(action)
	if identifier == "" || action == "" || window <= 0 || maxCount <= 0 {
		return "", "", ErrInvalidInput
	}
	return identifier, action, nil
}

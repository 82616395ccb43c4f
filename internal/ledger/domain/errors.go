package domain

import "errors"

var (
	ErrRaffleNotFound  = errors.New("raffle_not_found")
	ErrRaffleNotActive = errors.New("raffle_not_active")

	// ErrConcurrencyConflict is internal: the store retries the unit of work.
	ErrConcurrencyConflict = errors.New("concurrency_conflict")
	// ErrRetryable is surfaced once conflict retries are exhausted.
	ErrRetryable = errors.New("retryable")

	ErrInvalidEntryLines    = errors.New("invalid_entry_lines")
	ErrInvalidLineAmount    = errors.New("invalid_line_amount")
	ErrInvalidLineDirection = errors.New("invalid_line_direction")
	ErrInvalidAccount       = errors.New("invalid_account")
	ErrInvalidSource        = errors.New("invalid_source")
	ErrUnbalancedEntry      = errors.New("unbalanced_entry")
)

package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

type Service interface {
	// Record writes a user-attributed entry. Callers log a returned error and
	// keep their own result.
	Record(ctx context.Context, actorID string, action string, fields map[string]any) error
	AuditLog(ctx context.Context, raffleID *snowflake.ID, actorType string, actorID *string, action string, targetType string, targetID *string, metadata map[string]any) error
	List(ctx context.Context, raffleID snowflake.ID, limit int) ([]AuditLog, error)
	Purge(ctx context.Context, olderThan time.Time, limit int) (int64, error)
}

var (
	ErrInvalidRaffle = errors.New("invalid_raffle")
	ErrInvalidAction = errors.New("invalid_action")
)

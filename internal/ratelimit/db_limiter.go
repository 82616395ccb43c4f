package ratelimit

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/drawline/internal/clock"
	"gorm.io/gorm"
)

// DBLimiter keeps attempts in rate_limit_attempts. Inserting before counting
// means concurrent callers can only under-admit.
type DBLimiter struct {
	db    *gorm.DB
	genID *snowflake.Node
	clock clock.Clock
}

func NewDBLimiter(db *gorm.DB, genID *snowflake.Node, clk clock.Clock) *DBLimiter {
	return &DBLimiter{db: db, genID: genID, clock: clk}
}

func (l *DBLimiter) CheckAndRecord(ctx context.Context, identifier, action string, window time.Duration, maxCount int) (bool, error) {
	identifier, action, err := validate(identifier, action, window, maxCount)
	if err != nil {
		return false, err
	}

	now := l.clock.Now()
	if err := l.db.WithContext(ctx).Exec(
		`INSERT INTO rate_limit_attempts (id, identifier, action, attempted_at) VALUES (?, ?, ?, ?)`,
		l.genID.Generate(),
		identifier,
		action,
		now,
	).Error; err != nil {
		return false, err
	}

	var count int64
	if err := l.db.WithContext(ctx).Raw(
		`SELECT COUNT(*) FROM rate_limit_attempts
		 WHERE identifier = ? AND action = ? AND attempted_at > ? AND attempted_at <= ?`,
		identifier,
		action,
		now.Add(-window),
		now,
	).Scan(&count).Error; err != nil {
		return false, err
	}
	return count <= int64(maxCount), nil
}

// Purge deletes attempts older than cutoff, at most limit rows per call.
func (l *DBLimiter) Purge(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	if limit <= 0 {
		limit = 1000
	}
	result := l.db.WithContext(ctx).Exec(
		`DELETE FROM rate_limit_attempts WHERE id IN (
			SELECT id FROM rate_limit_attempts WHERE attempted_at < ? ORDER BY attempted_at LIMIT ?
		)`,
		cutoff.UTC(),
		limit,
	)
	return result.RowsAffected, result.Error
}

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/cenkalti/backoff/v5"
	"github.com/smallbiznis/drawline/internal/config"
	"github.com/smallbiznis/drawline/internal/ledger/domain"
	pkgdb "github.com/smallbiznis/drawline/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultMaxRetries = 5

type Params struct {
	fx.In

	DB   *gorm.DB
	Log  *zap.Logger
	Repo domain.Repository
	Cfg  config.Config `optional:"true"`
}

// Store runs units of work against the ledger tables. Serialization and
// lock conflicts are retried with exponential backoff.
type Store struct {
	db         *gorm.DB
	log        *zap.Logger
	repo       domain.Repository
	maxRetries uint
	newBackOff func() backoff.BackOff
}

func New(p Params) *Store {
	retries := p.Cfg.DBMaxRetries
	if retries <= 0 {
		retries = defaultMaxRetries
	}
	return &Store{
		db:         p.DB,
		log:        p.Log.Named("ledger.store"),
		repo:       p.Repo,
		maxRetries: uint(retries),
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 20 * time.Millisecond
			b.MaxInterval = 500 * time.Millisecond
			return b
		},
	}
}

// NewForTest builds a Store with a constant zero backoff.
func NewForTest(db *gorm.DB, repo domain.Repository, maxRetries uint) *Store {
	return &Store{
		db:         db,
		log:        zap.NewNop(),
		repo:       repo,
		maxRetries: maxRetries,
		newBackOff: func() backoff.BackOff { return &backoff.ZeroBackOff{} },
	}
}

func (s *Store) DB() *gorm.DB { return s.db }

func (s *Store) Repo() domain.Repository { return s.repo }

// InTx runs fn in a transaction. fn may run more than once.
func (s *Store) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		err := s.db.WithContext(ctx).Transaction(fn)
		if err == nil {
			return struct{}{}, nil
		}
		if isRetryable(err) {
			s.log.Debug("retrying unit of work", zap.Int("attempt", attempt), zap.Error(err))
			return struct{}{}, err
		}
		return struct{}{}, backoff.Permanent(err)
	},
		backoff.WithBackOff(s.newBackOff()),
		backoff.WithMaxTries(s.maxRetries),
	)
	if err != nil && isRetryable(err) {
		s.log.Warn("unit of work exhausted retries", zap.Int("attempts", attempt), zap.Error(err))
		return fmt.Errorf("%w: %v", domain.ErrRetryable, err)
	}
	return err
}

// WithRaffleLock locks the raffle row for the duration of fn. Reservations,
// confirmations, draws and cancellations of one raffle serialize here.
func (s *Store) WithRaffleLock(ctx context.Context, raffleID snowflake.ID, fn func(tx *gorm.DB, raffle *domain.Raffle) error) error {
	return s.InTx(ctx, func(tx *gorm.DB) error {
		raffle, err := s.repo.LockRaffle(ctx, tx, raffleID)
		if err != nil {
			return err
		}
		if raffle == nil {
			return domain.ErrRaffleNotFound
		}
		return fn(tx, raffle)
	})
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, domain.ErrRetryable) {
		return false
	}
	return errors.Is(err, domain.ErrConcurrencyConflict) || pkgdb.IsConflictErr(err)
}

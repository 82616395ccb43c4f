package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/drawline/internal/ledger/domain"
	"github.com/smallbiznis/drawline/internal/ledger/repository"
	"github.com/smallbiznis/drawline/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func insertRaffle(t *testing.T, s *Store, id snowflake.ID) {
	t.Helper()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.Repo().InsertRaffle(context.Background(), s.DB(), &domain.Raffle{
		ID:           id,
		OrganizerID:  "org-1",
		Title:        "Bike",
		Slug:         "bike",
		Currency:     "USD",
		TicketPrice:  100,
		TotalTickets: 10,
		GoalAmount:   1000,
		Status:       domain.RaffleStatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}))
}

func TestInTxRetriesConflictsThenSucceeds(t *testing.T) {
	s := NewForTest(testutil.NewDB(t), repository.Provide(), 3)

	calls := 0
	err := s.InTx(context.Background(), func(tx *gorm.DB) error {
		calls++
		if calls < 3 {
			return domain.ErrConcurrencyConflict
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestInTxSurfacesRetryableWhenExhausted(t *testing.T) {
	s := NewForTest(testutil.NewDB(t), repository.Provide(), 2)

	calls := 0
	err := s.InTx(context.Background(), func(tx *gorm.DB) error {
		calls++
		return domain.ErrConcurrencyConflict
	})
	require.ErrorIs(t, err, domain.ErrRetryable)
	assert.Equal(t, 2, calls)
}

func TestInTxDoesNotRetryDomainErrors(t *testing.T) {
	s := NewForTest(testutil.NewDB(t), repository.Provide(), 5)
	boom := errors.New("boom")

	calls := 0
	err := s.InTx(context.Background(), func(tx *gorm.DB) error {
		calls++
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestWithRaffleLockUnknownRaffle(t *testing.T) {
	s := NewForTest(testutil.NewDB(t), repository.Provide(), 1)
	err := s.WithRaffleLock(context.Background(), snowflake.ID(99), func(tx *gorm.DB, raffle *domain.Raffle) error {
		t.Fatal("callback must not run")
		return nil
	})
	assert.ErrorIs(t, err, domain.ErrRaffleNotFound)
}

func TestWithRaffleLockRollsBackOnError(t *testing.T) {
	s := NewForTest(testutil.NewDB(t), repository.Provide(), 1)
	insertRaffle(t, s, snowflake.ID(1))
	boom := errors.New("boom")

	err := s.WithRaffleLock(context.Background(), snowflake.ID(1), func(tx *gorm.DB, raffle *domain.Raffle) error {
		assert.Equal(t, domain.RaffleStatusActive, raffle.Status)
		if err := s.Repo().AddRaisedAmount(context.Background(), tx, raffle.ID, 500, time.Now().UTC()); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	raffle, err := s.Repo().GetRaffle(context.Background(), s.DB(), snowflake.ID(1))
	require.NoError(t, err)
	assert.Equal(t, int64(0), raffle.RaisedAmount)
}

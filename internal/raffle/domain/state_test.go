package domain

import (
	"testing"

	ledgerdomain "github.com/smallbiznis/drawline/internal/ledger/domain"
	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(ledgerdomain.RaffleStatusDraft, ledgerdomain.RaffleStatusUnderReview))
	assert.True(t, CanTransition(ledgerdomain.RaffleStatusActive, ledgerdomain.RaffleStatusRejected))
	assert.True(t, CanTransition(ledgerdomain.RaffleStatusClosed, ledgerdomain.RaffleStatusDelivered))

	assert.False(t, CanTransition(ledgerdomain.RaffleStatusDraft, ledgerdomain.RaffleStatusActive), "no skipping")
	assert.False(t, CanTransition(ledgerdomain.RaffleStatusActive, ledgerdomain.RaffleStatusClosed), "draw only")
	assert.False(t, CanTransition(ledgerdomain.RaffleStatusActive, ledgerdomain.RaffleStatusDelivered))
	assert.False(t, CanTransition(ledgerdomain.RaffleStatusClosed, ledgerdomain.RaffleStatusCanceled))
	assert.False(t, CanTransition(ledgerdomain.RaffleStatusDelivered, ledgerdomain.RaffleStatusCanceled))
	assert.False(t, CanTransition(ledgerdomain.RaffleStatusCanceled, ledgerdomain.RaffleStatusActive))
}

func TestActionTarget(t *testing.T) {
	to, ok := ActionConfirmDelivery.Target()
	assert.True(t, ok)
	assert.Equal(t, ledgerdomain.RaffleStatusDelivered, to)

	_, ok = Action("close").Target()
	assert.False(t, ok)
}

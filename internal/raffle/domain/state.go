package domain

import ledgerdomain "github.com/smallbiznis/drawline/internal/ledger/domain"

// edges lists the manual transitions. active→closed is reserved for the
// draw engine and is absent here.
var edges = map[ledgerdomain.RaffleStatus][]ledgerdomain.RaffleStatus{
	ledgerdomain.RaffleStatusDraft: {
		ledgerdomain.RaffleStatusUnderReview,
		ledgerdomain.RaffleStatusCanceled,
	},
	ledgerdomain.RaffleStatusUnderReview: {
		ledgerdomain.RaffleStatusApproved,
		ledgerdomain.RaffleStatusRejected,
	},
	ledgerdomain.RaffleStatusApproved: {
		ledgerdomain.RaffleStatusActive,
		ledgerdomain.RaffleStatusCanceled,
	},
	ledgerdomain.RaffleStatusActive: {
		ledgerdomain.RaffleStatusCanceled,
		ledgerdomain.RaffleStatusRejected,
	},
	ledgerdomain.RaffleStatusClosed: {
		ledgerdomain.RaffleStatusDelivered,
	},
}

func CanTransition(from, to ledgerdomain.RaffleStatus) bool {
	for _, next := range edges[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Action names a manual transition requested through the API.
type Action string

const (
	ActionSubmit          Action = "submit"
	ActionApprove         Action = "approve"
	ActionReject          Action = "reject"
	ActionActivate        Action = "activate"
	ActionCancel          Action = "cancel"
	ActionConfirmDelivery Action = "confirm_delivery"
)

// Target returns the status an action moves a raffle to.
func (a Action) Target() (ledgerdomain.RaffleStatus, bool) {
	switch a {
	case ActionSubmit:
		return ledgerdomain.RaffleStatusUnderReview, true
	case ActionApprove:
		return ledgerdomain.RaffleStatusApproved, true
	case ActionReject:
		return ledgerdomain.RaffleStatusRejected, true
	case ActionActivate:
		return ledgerdomain.RaffleStatusActive, true
	case ActionCancel:
		return ledgerdomain.RaffleStatusCanceled, true
	case ActionConfirmDelivery:
		return ledgerdomain.RaffleStatusDelivered, true
	default:
		return "", false
	}
}

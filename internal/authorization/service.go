package authorization

import "context"

// Actor is the authenticated caller as asserted by the identity collaborator.
type Actor struct {
	ID   string
	Role string
}

const (
	RoleOrganizer   = "organizer"
	RoleModerator   = "moderator"
	RoleOperator    = "operator"
	RoleParticipant = "participant"
	RoleSystem      = "system"
)

// SystemActor is used by scheduler jobs.
var SystemActor = Actor{ID: "system", Role: RoleSystem}

// DomainNew scopes checks for raffles that do not exist yet.
const DomainNew = "new"

type Service interface {
	// Authorize checks actor against the role policy inside the raffle's domain.
	// Organizers are only granted their role on raffles they own.
	Authorize(ctx context.Context, actor Actor, raffleID string, object string, action string) error
}

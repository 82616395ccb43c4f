package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/smallbiznis/drawline/internal/ledger/domain"
)

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*ledgerdomain.Raffle, error)
	Get(ctx context.Context, id snowflake.ID) (*ledgerdomain.Raffle, error)

	Submit(ctx context.Context, req TransitionRequest) (*ledgerdomain.Raffle, error)
	Approve(ctx context.Context, req TransitionRequest) (*ledgerdomain.Raffle, error)
	Reject(ctx context.Context, req TransitionRequest) (*ledgerdomain.Raffle, error)
	Activate(ctx context.Context, req TransitionRequest) (*ledgerdomain.Raffle, error)
	Cancel(ctx context.Context, req TransitionRequest) (*ledgerdomain.Raffle, error)
	ConfirmDelivery(ctx context.Context, req TransitionRequest) (*ledgerdomain.Raffle, error)
	// Transition dispatches to the operation named by req.Action.
	Transition(ctx context.Context, req TransitionRequest) (*ledgerdomain.Raffle, error)
	// SetManualDraw toggles the per-raffle funding override. Only raffles
	// that have not been drawn or ended can change it.
	SetManualDraw(ctx context.Context, req ManualDrawRequest) (*ledgerdomain.Raffle, error)

	// AutoCancelStale cancels active raffles that saw no payment for the
	// configured period.
	AutoCancelStale(ctx context.Context, now time.Time, limit int) (int, error)
	// AutoConfirmDelivery marks closed raffles delivered once the grace
	// period after the draw elapsed.
	AutoConfirmDelivery(ctx context.Context, now time.Time, limit int) (int, error)
}

// CreateRequest never carries the manual draw override; operators set it
// afterwards through SetManualDraw.
type CreateRequest struct {
	OrganizerID  string `json:"-"`
	Title        string `json:"title"`
	Currency     string `json:"currency"`
	TicketPrice  int64  `json:"ticket_price"`
	TotalTickets int64  `json:"total_tickets"`
	GoalAmount   int64  `json:"goal_amount"`
}

type ManualDrawRequest struct {
	RaffleID snowflake.ID
	Allowed  bool
	ActorID  string
	Reason   string
}

type TransitionRequest struct {
	RaffleID snowflake.ID
	Action   Action
	ActorID  string
	Reason   string
}

var (
	ErrInvalidOrganizer    = errors.New("invalid_organizer")
	ErrInvalidTitle        = errors.New("invalid_title")
	ErrInvalidCurrency     = errors.New("invalid_currency")
	ErrInvalidTicketPrice  = errors.New("invalid_ticket_price")
	ErrInvalidTotalTickets = errors.New("invalid_total_tickets")
	ErrInvalidGoalAmount   = errors.New("invalid_goal_amount")
	ErrInvalidAction       = errors.New("invalid_action")
	ErrInvalidTransition   = errors.New("invalid_transition")
	ErrManualDrawLocked    = errors.New("manual_draw_locked")
)

// MaxTotalTickets bounds the free-number index built per reservation.
const MaxTotalTickets = 1_000_000

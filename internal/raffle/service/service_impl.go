package service

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	auditdomain "github.com/smallbiznis/drawline/internal/audit/domain"
	"github.com/smallbiznis/drawline/internal/clock"
	"github.com/smallbiznis/drawline/internal/config"
	ledgerdomain "github.com/smallbiznis/drawline/internal/ledger/domain"
	"github.com/smallbiznis/drawline/internal/ledger/settlement"
	"github.com/smallbiznis/drawline/internal/ledger/store"
	obsmetrics "github.com/smallbiznis/drawline/internal/observability/metrics"
	raffledomain "github.com/smallbiznis/drawline/internal/raffle/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)

type Params struct {
	fx.In

	Store    *store.Store
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Policy   *config.PolicyHolder
	Canceler *settlement.Canceler
	AuditSvc auditdomain.Service `optional:"true"`
	Metrics  *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	store    *store.Store
	repo     ledgerdomain.Repository
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	policy   *config.PolicyHolder
	canceler *settlement.Canceler
	auditSvc auditdomain.Service
	metrics  *obsmetrics.Metrics
}

func NewService(p Params) raffledomain.Service {
	return &Service{
		store:    p.Store,
		repo:     p.Store.Repo(),
		log:      p.Log.Named("raffle.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		policy:   p.Policy,
		canceler: p.Canceler,
		auditSvc: p.AuditSvc,
		metrics:  p.Metrics,
	}
}

func (s *Service) Create(ctx context.Context, req raffledomain.CreateRequest) (*ledgerdomain.Raffle, error) {
	organizerID := strings.TrimSpace(req.OrganizerID)
	if organizerID == "" {
		return nil, raffledomain.ErrInvalidOrganizer
	}
	title := strings.TrimSpace(req.Title)
	if title == "" || len(title) > 200 {
		return nil, raffledomain.ErrInvalidTitle
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if !currencyPattern.MatchString(currency) {
		return nil, raffledomain.ErrInvalidCurrency
	}
	if req.TicketPrice <= 0 {
		return nil, raffledomain.ErrInvalidTicketPrice
	}
	if req.TotalTickets <= 0 || req.TotalTickets > raffledomain.MaxTotalTickets {
		return nil, raffledomain.ErrInvalidTotalTickets
	}
	if req.GoalAmount < 0 {
		return nil, raffledomain.ErrInvalidGoalAmount
	}

	now := s.clock.Now()
	id := s.genID.Generate()
	raffle := &ledgerdomain.Raffle{
		ID:           id,
		OrganizerID:  organizerID,
		Title:        title,
		Slug:         makeSlug(title, id),
		Currency:     currency,
		TicketPrice:  req.TicketPrice,
		TotalTickets: req.TotalTickets,
		GoalAmount:   req.GoalAmount,
		Status:       ledgerdomain.RaffleStatusDraft,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.InTx(ctx, func(tx *gorm.DB) error {
		return s.repo.InsertRaffle(ctx, tx, raffle)
	}); err != nil {
		return nil, err
	}

	s.audit(ctx, raffle.ID, organizerID, "raffle.created", map[string]any{
		"title":         raffle.Title,
		"currency":      raffle.Currency,
		"ticket_price":  raffle.TicketPrice,
		"total_tickets": raffle.TotalTickets,
		"goal_amount":   raffle.GoalAmount,
	})
	return raffle, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*ledgerdomain.Raffle, error) {
	raffle, err := s.repo.GetRaffle(ctx, s.store.DB(), id)
	if err != nil {
		return nil, err
	}
	if raffle == nil {
		return nil, ledgerdomain.ErrRaffleNotFound
	}
	return raffle, nil
}

func (s *Service) Submit(ctx context.Context, req raffledomain.TransitionRequest) (*ledgerdomain.Raffle, error) {
	req.Action = raffledomain.ActionSubmit
	return s.Transition(ctx, req)
}

func (s *Service) Approve(ctx context.Context, req raffledomain.TransitionRequest) (*ledgerdomain.Raffle, error) {
	req.Action = raffledomain.ActionApprove
	return s.Transition(ctx, req)
}

func (s *Service) Reject(ctx context.Context, req raffledomain.TransitionRequest) (*ledgerdomain.Raffle, error) {
	req.Action = raffledomain.ActionReject
	return s.Transition(ctx, req)
}

func (s *Service) Activate(ctx context.Context, req raffledomain.TransitionRequest) (*ledgerdomain.Raffle, error) {
	req.Action = raffledomain.ActionActivate
	return s.Transition(ctx, req)
}

func (s *Service) Cancel(ctx context.Context, req raffledomain.TransitionRequest) (*ledgerdomain.Raffle, error) {
	req.Action = raffledomain.ActionCancel
	return s.Transition(ctx, req)
}

func (s *Service) ConfirmDelivery(ctx context.Context, req raffledomain.TransitionRequest) (*ledgerdomain.Raffle, error) {
	req.Action = raffledomain.ActionConfirmDelivery
	return s.Transition(ctx, req)
}

func (s *Service) Transition(ctx context.Context, req raffledomain.TransitionRequest) (*ledgerdomain.Raffle, error) {
	to, ok := req.Action.Target()
	if !ok {
		return nil, raffledomain.ErrInvalidAction
	}
	if req.RaffleID == 0 {
		return nil, ledgerdomain.ErrRaffleNotFound
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = string(req.Action)
	}

	var (
		from    ledgerdomain.RaffleStatus
		unwound *settlement.Summary
		updated *ledgerdomain.Raffle
	)
	err := s.store.WithRaffleLock(ctx, req.RaffleID, func(tx *gorm.DB, raffle *ledgerdomain.Raffle) error {
		unwound, updated = nil, nil
		from = raffle.Status
		if !raffledomain.CanTransition(from, to) {
			return raffledomain.ErrInvalidTransition
		}

		now := s.clock.Now()
		if to == ledgerdomain.RaffleStatusCanceled || (to == ledgerdomain.RaffleStatusRejected && from == ledgerdomain.RaffleStatusActive) {
			summary, err := s.canceler.UnwindTx(ctx, tx, raffle, to, reason, now)
			if err != nil {
				return err
			}
			unwound = &summary
		} else {
			moved, err := s.repo.TransitionRaffle(ctx, tx, raffle.ID, from, to, now)
			if err != nil {
				return err
			}
			if !moved {
				return ledgerdomain.ErrConcurrencyConflict
			}
		}

		fresh, err := s.repo.GetRaffle(ctx, tx, raffle.ID)
		if err != nil {
			return err
		}
		updated = fresh
		return nil
	})
	if err != nil {
		return nil, err
	}

	metadata := map[string]any{
		"from":   string(from),
		"to":     string(to),
		"reason": reason,
	}
	if unwound != nil {
		metadata["canceled_transactions"] = unwound.CanceledTransactions
		metadata["refunded_transactions"] = unwound.RefundedTransactions
		metadata["refunded_amount"] = unwound.RefundedAmount
		s.metrics.RecordTicketsReleased(ctx, string(req.Action), int(unwound.ReleasedTickets))
	}
	s.log.Info("raffle transitioned",
		zap.String("raffle_id", req.RaffleID.String()),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)
	s.audit(ctx, req.RaffleID, req.ActorID, "raffle."+string(req.Action), metadata)
	return updated, nil
}

func (s *Service) SetManualDraw(ctx context.Context, req raffledomain.ManualDrawRequest) (*ledgerdomain.Raffle, error) {
	if req.RaffleID == 0 {
		return nil, ledgerdomain.ErrRaffleNotFound
	}

	var (
		previous bool
		updated  *ledgerdomain.Raffle
	)
	err := s.store.WithRaffleLock(ctx, req.RaffleID, func(tx *gorm.DB, raffle *ledgerdomain.Raffle) error {
		updated = nil
		previous = raffle.AllowManualDraw
		switch raffle.Status {
		case ledgerdomain.RaffleStatusClosed,
			ledgerdomain.RaffleStatusDelivered,
			ledgerdomain.RaffleStatusCanceled,
			ledgerdomain.RaffleStatusRejected:
			return raffledomain.ErrManualDrawLocked
		}
		if raffle.AllowManualDraw != req.Allowed {
			if err := s.repo.SetRaffleManualDraw(ctx, tx, raffle.ID, req.Allowed, s.clock.Now()); err != nil {
				return err
			}
		}
		fresh, err := s.repo.GetRaffle(ctx, tx, raffle.ID)
		if err != nil {
			return err
		}
		updated = fresh
		return nil
	})
	if err != nil {
		return nil, err
	}

	if previous != req.Allowed {
		s.audit(ctx, req.RaffleID, req.ActorID, "raffle.manual_draw_updated", map[string]any{
			"from":   previous,
			"to":     req.Allowed,
			"reason": strings.TrimSpace(req.Reason),
		})
	}
	return updated, nil
}

func (s *Service) AutoCancelStale(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	cutoff := now.Add(-s.policy.Get().AutoCancelAfter)

	var ids []snowflake.ID
	if err := s.store.InTx(ctx, func(tx *gorm.DB) error {
		var err error
		ids, err = s.repo.ClaimStaleActiveRaffles(ctx, tx, cutoff, limit)
		return err
	}); err != nil {
		return 0, err
	}

	canceled := 0
	var errs []error
	for _, id := range ids {
		var summary *settlement.Summary
		err := s.store.WithRaffleLock(ctx, id, func(tx *gorm.DB, raffle *ledgerdomain.Raffle) error {
			summary = nil
			if raffle.Status != ledgerdomain.RaffleStatusActive || !isStale(raffle, cutoff) {
				return nil
			}
			result, err := s.canceler.CancelTx(ctx, tx, raffle, "stale", now)
			if err != nil {
				return err
			}
			summary = &result
			return nil
		})
		if err != nil {
			s.log.Warn("failed to auto-cancel stale raffle", zap.String("raffle_id", id.String()), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		if summary == nil {
			continue
		}
		canceled++
		s.metrics.RecordTicketsReleased(ctx, "stale", int(summary.ReleasedTickets))
		s.audit(ctx, id, "", "raffle.auto_canceled", map[string]any{
			"reason":                "stale",
			"canceled_transactions": summary.CanceledTransactions,
			"refunded_transactions": summary.RefundedTransactions,
			"refunded_amount":       summary.RefundedAmount,
		})
	}

	if canceled > 0 {
		s.log.Info("auto-canceled stale raffles", zap.Int("count", canceled))
	}
	return canceled, errors.Join(errs...)
}

func (s *Service) AutoConfirmDelivery(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	cutoff := now.Add(-s.policy.Get().DeliveryGrace)

	var ids []snowflake.ID
	if err := s.store.InTx(ctx, func(tx *gorm.DB) error {
		var err error
		ids, err = s.repo.ClaimClosedRaffles(ctx, tx, cutoff, limit)
		return err
	}); err != nil {
		return 0, err
	}

	confirmed := 0
	var errs []error
	for _, id := range ids {
		var moved bool
		err := s.store.WithRaffleLock(ctx, id, func(tx *gorm.DB, raffle *ledgerdomain.Raffle) error {
			moved = false
			if raffle.Status != ledgerdomain.RaffleStatusClosed || raffle.ResolvedAt == nil || raffle.ResolvedAt.After(cutoff) {
				return nil
			}
			var err error
			moved, err = s.repo.TransitionRaffle(ctx, tx, raffle.ID, ledgerdomain.RaffleStatusClosed, ledgerdomain.RaffleStatusDelivered, now)
			return err
		})
		if err != nil {
			s.log.Warn("failed to confirm delivery", zap.String("raffle_id", id.String()), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		if !moved {
			continue
		}
		confirmed++
		s.audit(ctx, id, "", "raffle.delivery_auto_confirmed", map[string]any{"grace": s.policy.Get().DeliveryGrace.String()})
	}

	if confirmed > 0 {
		s.log.Info("auto-confirmed deliveries", zap.Int("count", confirmed))
	}
	return confirmed, errors.Join(errs...)
}

func (s *Service) audit(ctx context.Context, raffleID snowflake.ID, actorID string, action string, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	actorType := string(auditdomain.ActorTypeSystem)
	var actor *string
	if actorID = strings.TrimSpace(actorID); actorID != "" && actorID != "system" {
		actorType = string(auditdomain.ActorTypeUser)
		actor = &actorID
	}
	target := raffleID.String()
	if err := s.auditSvc.AuditLog(ctx, &raffleID, actorType, actor, action, "raffle", &target, metadata); err != nil {
		s.log.Warn("failed to write audit log", zap.String("action", action), zap.Error(err))
	}
}

func isStale(raffle *ledgerdomain.Raffle, cutoff time.Time) bool {
	last := raffle.LastPaidAt
	if last == nil {
		last = raffle.ActivatedAt
	}
	return last != nil && !last.After(cutoff)
}

func makeSlug(title string, id snowflake.ID) string {
	base := slug.Make(title)
	if len(base) > 80 {
		base = strings.Trim(base[:80], "-")
	}
	if base == "" {
		return id.Base36()
	}
	return base + "-" + id.Base36()
}

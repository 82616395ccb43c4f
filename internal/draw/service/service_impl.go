package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/drawline/internal/audit/domain"
	"github.com/smallbiznis/drawline/internal/clock"
	drawdomain "github.com/smallbiznis/drawline/internal/draw/domain"
	"github.com/smallbiznis/drawline/internal/draw/rule"
	"github.com/smallbiznis/drawline/internal/events"
	ledgerdomain "github.com/smallbiznis/drawline/internal/ledger/domain"
	"github.com/smallbiznis/drawline/internal/ledger/settlement"
	"github.com/smallbiznis/drawline/internal/ledger/store"
	obsmetrics "github.com/smallbiznis/drawline/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	Store    *store.Store
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Canceler *settlement.Canceler
	Outbox   *events.Outbox
	AuditSvc auditdomain.Service `optional:"true"`
	Metrics  *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	store    *store.Store
	repo     ledgerdomain.Repository
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	canceler *settlement.Canceler
	outbox   *events.Outbox
	auditSvc auditdomain.Service
	metrics  *obsmetrics.Metrics
}

func NewService(p Params) drawdomain.Service {
	return &Service{
		store:    p.Store,
		repo:     p.Store.Repo(),
		log:      p.Log.Named("draw.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		canceler: p.Canceler,
		outbox:   p.Outbox,
		auditSvc: p.AuditSvc,
		metrics:  p.Metrics,
	}
}

func (s *Service) ResolveDraw(ctx context.Context, req drawdomain.ResolveRequest) (*drawdomain.Result, error) {
	if req.RaffleID == 0 {
		return nil, ledgerdomain.ErrRaffleNotFound
	}
	req.ExternalDigits = strings.TrimSpace(req.ExternalDigits)
	req.DrawReference = strings.TrimSpace(req.DrawReference)
	req.ResolvedBy = strings.TrimSpace(req.ResolvedBy)
	if req.DrawReference == "" {
		req.DrawReference = req.ExternalDigits
	}

	var (
		result   *drawdomain.Result
		canceled *settlement.Summary
	)
	err := s.store.WithRaffleLock(ctx, req.RaffleID, func(tx *gorm.DB, raffle *ledgerdomain.Raffle) error {
		result, canceled = nil, nil

		existing, err := s.repo.GetDraw(ctx, tx, raffle.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			result = toResult(existing)
			result.AlreadyResolved = true
			return nil
		}

		if raffle.Status != ledgerdomain.RaffleStatusActive {
			return ledgerdomain.ErrRaffleNotActive
		}
		if raffle.RaisedAmount < raffle.GoalAmount && !req.ManualOverride && !raffle.AllowManualDraw {
			return drawdomain.ErrInsufficientFunding
		}

		target, err := rule.Compose(req.ExternalDigits, raffle.TotalTickets)
		if err != nil {
			return drawdomain.ErrInvalidDigits
		}

		now := s.clock.Now()
		paid, err := s.repo.ListPaidTickets(ctx, tx, raffle.ID)
		if err != nil {
			return err
		}
		winner, ok := rule.Select(candidates(paid), target)
		if !ok {
			summary, err := s.canceler.CancelTx(ctx, tx, raffle, "no_paid_tickets", now)
			if err != nil {
				return err
			}
			canceled = &summary
			return nil
		}

		draw := &ledgerdomain.Draw{
			ID:             s.genID.Generate(),
			RaffleID:       raffle.ID,
			ExternalDigits: req.ExternalDigits,
			RuleVersion:    rule.VersionSuffixConcat,
			TargetNumber:   target,
			WinnerTicketID: winner.TicketID,
			WinnerNumber:   winner.Number,
			ManualOverride: req.ManualOverride,
			ResolvedAt:     now,
		}
		if req.ResolvedBy != "" {
			by := req.ResolvedBy
			draw.ResolvedBy = &by
		}
		inserted, err := s.repo.InsertDraw(ctx, tx, draw)
		if err != nil {
			return err
		}
		if !inserted {
			return ledgerdomain.ErrConcurrencyConflict
		}
		moved, err := s.repo.MarkRaffleResolved(ctx, tx, raffle.ID, winner.TicketID, req.DrawReference, now)
		if err != nil {
			return err
		}
		if !moved {
			return ledgerdomain.ErrConcurrencyConflict
		}

		if err := s.outbox.PublishTx(ctx, tx, events.Event{
			RaffleID:  raffle.ID,
			Type:      events.EventDrawResolved,
			DedupeKey: "draw.resolved:" + raffle.ID.String(),
			Payload: map[string]any{
				"raffle_id":        raffle.ID.String(),
				"winner_ticket_id": winner.TicketID.String(),
				"winner_number":    winner.Number,
				"target_number":    target,
				"external_digits":  req.ExternalDigits,
				"draw_reference":   req.DrawReference,
				"rule_version":     rule.VersionSuffixConcat,
				"manual_override":  req.ManualOverride,
			},
		}); err != nil {
			return err
		}

		result = toResult(draw)
		return nil
	})
	if err != nil {
		s.metrics.RecordDraw(ctx, outcomeFor(err))
		return nil, err
	}

	if canceled != nil {
		s.log.Info("raffle canceled at draw time: no paid tickets",
			zap.String("raffle_id", req.RaffleID.String()),
			zap.Int("canceled_transactions", canceled.CanceledTransactions),
		)
		s.metrics.RecordDraw(ctx, "no_paid_tickets")
		s.audit(ctx, req.RaffleID, req.ResolvedBy, "raffle.canceled", map[string]any{
			"reason":                "no_paid_tickets",
			"canceled_transactions": canceled.CanceledTransactions,
			"released_tickets":      canceled.ReleasedTickets,
		})
		return nil, drawdomain.ErrNoPaidTickets
	}

	if result.AlreadyResolved {
		s.metrics.RecordDraw(ctx, "already_resolved")
		return result, nil
	}

	s.metrics.RecordDraw(ctx, "resolved")
	s.log.Info("draw resolved",
		zap.String("raffle_id", result.RaffleID.String()),
		zap.Int64("target_number", result.TargetNumber),
		zap.Int64("winner_number", result.WinnerNumber),
		zap.Bool("manual_override", result.ManualOverride),
	)
	s.audit(ctx, result.RaffleID, req.ResolvedBy, "raffle.draw_resolved", map[string]any{
		"external_digits":  result.ExternalDigits,
		"draw_reference":   req.DrawReference,
		"target_number":    result.TargetNumber,
		"winner_ticket_id": result.WinnerTicketID.String(),
		"winner_number":    result.WinnerNumber,
		"rule_version":     result.RuleVersion,
		"manual_override":  result.ManualOverride,
	})
	return result, nil
}

func (s *Service) Get(ctx context.Context, raffleID snowflake.ID) (*drawdomain.Result, error) {
	draw, err := s.repo.GetDraw(ctx, s.store.DB(), raffleID)
	if err != nil {
		return nil, err
	}
	if draw == nil {
		return nil, drawdomain.ErrDrawNotFound
	}
	return toResult(draw), nil
}

func (s *Service) audit(ctx context.Context, raffleID snowflake.ID, resolvedBy string, action string, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	actorType := string(auditdomain.ActorTypeSystem)
	var actorID *string
	if resolvedBy != "" && resolvedBy != "system" {
		actorType = string(auditdomain.ActorTypeUser)
		actorID = &resolvedBy
	}
	target := raffleID.String()
	if err := s.auditSvc.AuditLog(ctx, &raffleID, actorType, actorID, action, "raffle", &target, metadata); err != nil {
		s.log.Warn("failed to write audit log", zap.String("action", action), zap.Error(err))
	}
}

func candidates(paid []ledgerdomain.PaidTicket) []rule.Candidate {
	out := make([]rule.Candidate, 0, len(paid))
	for _, p := range paid {
		var received time.Time
		if p.ReceivedAt != nil {
			received = *p.ReceivedAt
		}
		out = append(out, rule.Candidate{TicketID: p.TicketID, Number: p.Number, ReceivedAt: received})
	}
	return out
}

func toResult(d *ledgerdomain.Draw) *drawdomain.Result {
	return &drawdomain.Result{
		RaffleID:       d.RaffleID,
		WinnerTicketID: d.WinnerTicketID,
		WinnerNumber:   d.WinnerNumber,
		TargetNumber:   d.TargetNumber,
		ExternalDigits: d.ExternalDigits,
		RuleVersion:    d.RuleVersion,
		ManualOverride: d.ManualOverride,
		ResolvedAt:     d.ResolvedAt,
	}
}

func outcomeFor(err error) string {
	switch {
	case errors.Is(err, drawdomain.ErrInsufficientFunding):
		return "insufficient_funding"
	case errors.Is(err, drawdomain.ErrInvalidDigits):
		return "invalid_digits"
	case errors.Is(err, ledgerdomain.ErrRaffleNotActive):
		return "not_active"
	default:
		return "error"
	}
}

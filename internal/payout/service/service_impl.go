package service

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/drawline/internal/audit/domain"
	"github.com/smallbiznis/drawline/internal/clock"
	"github.com/smallbiznis/drawline/internal/config"
	"github.com/smallbiznis/drawline/internal/events"
	ledgerdomain "github.com/smallbiznis/drawline/internal/ledger/domain"
	"github.com/smallbiznis/drawline/internal/ledger/journal"
	"github.com/smallbiznis/drawline/internal/ledger/store"
	obsmetrics "github.com/smallbiznis/drawline/internal/observability/metrics"
	payoutdomain "github.com/smallbiznis/drawline/internal/payout/domain"
	"github.com/smallbiznis/drawline/internal/payout/statement"
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
	Policy   *config.PolicyHolder
	Journal  *journal.Journal
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
	policy   *config.PolicyHolder
	journal  *journal.Journal
	outbox   *events.Outbox
	auditSvc auditdomain.Service
	metrics  *obsmetrics.Metrics
}

func NewService(p Params) payoutdomain.Service {
	return &Service{
		store:    p.Store,
		repo:     p.Store.Repo(),
		log:      p.Log.Named("payout.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		policy:   p.Policy,
		journal:  p.Journal,
		outbox:   p.Outbox,
		auditSvc: p.AuditSvc,
		metrics:  p.Metrics,
	}
}

func (s *Service) FinalizePayout(ctx context.Context, raffleID snowflake.ID) (*ledgerdomain.Payout, error) {
	if raffleID == 0 {
		return nil, ledgerdomain.ErrRaffleNotFound
	}

	var payout *ledgerdomain.Payout
	err := s.store.WithRaffleLock(ctx, raffleID, func(tx *gorm.DB, raffle *ledgerdomain.Raffle) error {
		payout = nil
		existing, err := s.repo.GetPayout(ctx, tx, raffle.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			return payoutdomain.ErrPayoutAlreadyExists
		}
		if raffle.Status != ledgerdomain.RaffleStatusDelivered {
			return payoutdomain.ErrNotDelivered
		}

		fees, err := s.repo.SumProviderFees(ctx, tx, raffle.ID)
		if err != nil {
			return err
		}
		b := calculate(s.policy.Get(), raffle.RaisedAmount, fees)
		candidate := &ledgerdomain.Payout{
			ID:               s.genID.Generate(),
			RaffleID:         raffle.ID,
			Currency:         raffle.Currency,
			GrossAmount:      b.gross,
			CommissionBps:    b.commissionBps,
			CommissionAmount: b.commission,
			ProviderFeeTotal: b.providerFees,
			NetAmount:        b.net,
			SettledAt:        s.clock.Now(),
		}
		inserted, err := s.repo.InsertPayout(ctx, tx, candidate)
		if err != nil {
			return err
		}
		if !inserted {
			return payoutdomain.ErrPayoutAlreadyExists
		}
		if _, err := s.journal.PostEntry(ctx, tx, journal.PayoutEntry(*candidate)); err != nil {
			return err
		}
		if err := s.outbox.PublishTx(ctx, tx, events.Event{
			RaffleID:  raffle.ID,
			Type:      events.EventPayoutFinalized,
			DedupeKey: "payout.finalized:" + raffle.ID.String(),
			Payload: map[string]any{
				"raffle_id":          raffle.ID.String(),
				"payout_id":          candidate.ID.String(),
				"organizer_id":       raffle.OrganizerID,
				"currency":           candidate.Currency,
				"gross_amount":       candidate.GrossAmount,
				"commission_bps":     candidate.CommissionBps,
				"commission_amount":  candidate.CommissionAmount,
				"provider_fee_total": candidate.ProviderFeeTotal,
				"net_amount":         candidate.NetAmount,
			},
		}); err != nil {
			return err
		}
		payout = candidate
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordPayout(ctx)
	s.log.Info("payout finalized",
		zap.String("raffle_id", payout.RaffleID.String()),
		zap.String("payout_id", payout.ID.String()),
		zap.Int64("gross_amount", payout.GrossAmount),
		zap.Int64("net_amount", payout.NetAmount),
	)
	if s.auditSvc != nil {
		target := payout.ID.String()
		if err := s.auditSvc.AuditLog(ctx, &payout.RaffleID, string(auditdomain.ActorTypeSystem), nil, "payout.finalized", "payout", &target, map[string]any{
			"gross_amount":       payout.GrossAmount,
			"commission_bps":     payout.CommissionBps,
			"commission_amount":  payout.CommissionAmount,
			"provider_fee_total": payout.ProviderFeeTotal,
			"net_amount":         payout.NetAmount,
		}); err != nil {
			s.log.Warn("failed to write audit log", zap.String("action", "payout.finalized"), zap.Error(err))
		}
	}
	return payout, nil
}

func (s *Service) Get(ctx context.Context, raffleID snowflake.ID) (*ledgerdomain.Payout, error) {
	payout, err := s.repo.GetPayout(ctx, s.store.DB(), raffleID)
	if err != nil {
		return nil, err
	}
	if payout == nil {
		return nil, payoutdomain.ErrPayoutNotFound
	}
	return payout, nil
}

func (s *Service) Statement(ctx context.Context, raffleID snowflake.ID) ([]byte, error) {
	payout, err := s.Get(ctx, raffleID)
	if err != nil {
		return nil, err
	}
	raffle, err := s.repo.GetRaffle(ctx, s.store.DB(), raffleID)
	if err != nil {
		return nil, err
	}
	if raffle == nil {
		return nil, ledgerdomain.ErrRaffleNotFound
	}

	doc, err := statement.Render(statement.Data{
		RaffleID:         raffle.ID.String(),
		Title:            raffle.Title,
		OrganizerID:      raffle.OrganizerID,
		PayoutID:         payout.ID.String(),
		Currency:         payout.Currency,
		TicketPrice:      raffle.TicketPrice,
		TotalTickets:     raffle.TotalTickets,
		GrossAmount:      payout.GrossAmount,
		CommissionBps:    payout.CommissionBps,
		CommissionAmount: payout.CommissionAmount,
		ProviderFeeTotal: payout.ProviderFeeTotal,
		NetAmount:        payout.NetAmount,
		SettledAt:        payout.SettledAt,
	})
	if err != nil {
		s.log.Error("failed to render payout statement", zap.String("raffle_id", raffleID.String()), zap.Error(err))
		return nil, errors.Join(statement.ErrRender, err)
	}
	return doc, nil
}

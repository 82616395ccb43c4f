package service

import (
	"context"
	"strings"
	"time"

	auditdomain "github.com/smallbiznis/drawline/internal/audit/domain"
	"github.com/smallbiznis/drawline/internal/clock"
	"github.com/smallbiznis/drawline/internal/config"
	"github.com/smallbiznis/drawline/internal/events"
	ledgerdomain "github.com/smallbiznis/drawline/internal/ledger/domain"
	"github.com/smallbiznis/drawline/internal/ledger/journal"
	"github.com/smallbiznis/drawline/internal/ledger/store"
	obsmetrics "github.com/smallbiznis/drawline/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/drawline/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	Store      *store.Store
	Log        *zap.Logger
	Clock      clock.Clock
	Policy     *config.PolicyHolder
	Journal    *journal.Journal
	Outbox     *events.Outbox
	AuditSvc   auditdomain.Service `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	store      *store.Store
	repo       ledgerdomain.Repository
	log        *zap.Logger
	clock      clock.Clock
	policy     *config.PolicyHolder
	journal    *journal.Journal
	outbox     *events.Outbox
	auditSvc   auditdomain.Service
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) paymentdomain.Service {
	return &Service{
		store:      p.Store,
		repo:       p.Store.Repo(),
		log:        p.Log.Named("payment.service"),
		clock:      p.Clock,
		policy:     p.Policy,
		journal:    p.Journal,
		outbox:     p.Outbox,
		auditSvc:   p.AuditSvc,
		obsMetrics: p.ObsMetrics,
	}
}

type applied struct {
	txn      ledgerdomain.Transaction
	tickets  int64
	terminal bool
}

func (s *Service) ApplyConfirmation(ctx context.Context, c paymentdomain.Confirmation) error {
	c.Provider = strings.ToLower(strings.TrimSpace(c.Provider))
	if c.Provider == "" {
		return paymentdomain.ErrInvalidProvider
	}
	c.ProviderPaymentID = strings.TrimSpace(c.ProviderPaymentID)
	if c.ProviderPaymentID == "" {
		return paymentdomain.ErrInvalidPaymentID
	}
	if !c.Outcome.Valid() {
		return paymentdomain.ErrInvalidOutcome
	}
	if c.ProviderFee != nil && *c.ProviderFee < 0 {
		return paymentdomain.ErrInvalidFee
	}

	found, err := s.repo.FindTransaction(ctx, s.store.DB(), c.Provider, c.ProviderPaymentID)
	if err != nil {
		return err
	}
	if found == nil {
		s.log.Warn("confirmation for unknown payment",
			zap.String("provider", c.Provider),
			zap.String("provider_payment_id", c.ProviderPaymentID),
			zap.String("outcome", string(c.Outcome)),
		)
		s.obsMetrics.RecordConfirmation(ctx, c.Provider, "unknown_payment")
		return paymentdomain.ErrUnknownPayment
	}

	var result applied
	err = s.store.WithRaffleLock(ctx, found.RaffleID, func(tx *gorm.DB, raffle *ledgerdomain.Raffle) error {
		result = applied{}
		txn, err := s.repo.LockTransaction(ctx, tx, found.ID)
		if err != nil {
			return err
		}
		if txn == nil {
			return paymentdomain.ErrUnknownPayment
		}
		if txn.Status.IsTerminal() {
			result = applied{txn: *txn, terminal: true}
			return nil
		}

		now := s.clock.Now()
		switch c.Outcome {
		case paymentdomain.OutcomePaid:
			return s.applyPaid(ctx, tx, raffle, txn, c, now, &result)
		default:
			return s.applyFailed(ctx, tx, txn, now, &result)
		}
	})
	if err != nil {
		return err
	}

	if result.terminal {
		s.log.Debug("confirmation for terminal transaction",
			zap.String("transaction_id", result.txn.ID.String()),
			zap.String("status", string(result.txn.Status)),
		)
		s.obsMetrics.RecordConfirmation(ctx, c.Provider, "already_terminal")
		return nil
	}

	s.obsMetrics.RecordConfirmation(ctx, c.Provider, string(c.Outcome))
	if c.Outcome == paymentdomain.OutcomeFailed {
		s.obsMetrics.RecordTicketsReleased(ctx, "payment_failed", int(result.tickets))
	}
	s.audit(ctx, result.txn, "payment."+string(c.Outcome), map[string]any{
		"provider":            c.Provider,
		"provider_payment_id": c.ProviderPaymentID,
		"amount":              result.txn.Amount,
		"provider_fee":        result.txn.ProviderFee,
		"tickets":             result.tickets,
	})
	return nil
}

func (s *Service) applyPaid(ctx context.Context, tx *gorm.DB, raffle *ledgerdomain.Raffle, txn *ledgerdomain.Transaction, c paymentdomain.Confirmation, now time.Time, result *applied) error {
	fee := s.policy.Get().ProviderFeeFor(txn.Provider, txn.Amount)
	if c.ProviderFee != nil {
		fee = *c.ProviderFee
	}

	ok, err := s.repo.MarkTransactionPaid(ctx, tx, txn.ID, fee, now)
	if err != nil {
		return err
	}
	if !ok {
		return ledgerdomain.ErrConcurrencyConflict
	}
	txn.Status = ledgerdomain.TransactionStatusPaid
	txn.ProviderFee = fee
	txn.ReceivedAt = &now

	paid, err := s.repo.SetTicketsStatusByTransaction(ctx, tx, txn.ID, ledgerdomain.TicketStatusReserved, ledgerdomain.TicketStatusPaid, now)
	if err != nil {
		return err
	}
	if err := s.repo.AddRaisedAmount(ctx, tx, raffle.ID, txn.Amount, now); err != nil {
		return err
	}
	if raffle.Status != ledgerdomain.RaffleStatusActive {
		// Late payments still settle; the stored winner is never recomputed.
		s.log.Warn("payment confirmed for inactive raffle",
			zap.String("raffle_id", raffle.ID.String()),
			zap.String("status", string(raffle.Status)),
			zap.String("transaction_id", txn.ID.String()),
		)
	}

	if _, err := s.journal.PostEntry(ctx, tx, journal.PaymentEntry(*txn, raffle.Currency, now)); err != nil {
		return err
	}
	if err := s.outbox.PublishTx(ctx, tx, events.Event{
		RaffleID:  raffle.ID,
		Type:      events.EventPaymentConfirmed,
		DedupeKey: "payment.confirmed:" + txn.ID.String(),
		Payload: map[string]any{
			"raffle_id":           raffle.ID.String(),
			"transaction_id":      txn.ID.String(),
			"owner_id":            txn.OwnerID,
			"provider":            txn.Provider,
			"provider_payment_id": txn.ProviderPaymentID,
			"amount":              txn.Amount,
			"ticket_numbers":      txn.TicketNumbers,
		},
	}); err != nil {
		return err
	}

	*result = applied{txn: *txn, tickets: paid}
	return nil
}

func (s *Service) applyFailed(ctx context.Context, tx *gorm.DB, txn *ledgerdomain.Transaction, now time.Time, result *applied) error {
	ok, err := s.repo.SetTransactionStatus(ctx, tx, txn.ID, ledgerdomain.TransactionStatusPending, ledgerdomain.TransactionStatusFailed, now)
	if err != nil {
		return err
	}
	if !ok {
		return ledgerdomain.ErrConcurrencyConflict
	}
	txn.Status = ledgerdomain.TransactionStatusFailed

	released, err := s.repo.SetTicketsStatusByTransaction(ctx, tx, txn.ID, ledgerdomain.TicketStatusReserved, ledgerdomain.TicketStatusCanceled, now)
	if err != nil {
		return err
	}
	if err := s.outbox.PublishTx(ctx, tx, events.Event{
		RaffleID:  txn.RaffleID,
		Type:      events.EventPaymentFailed,
		DedupeKey: "payment.failed:" + txn.ID.String(),
		Payload: map[string]any{
			"raffle_id":           txn.RaffleID.String(),
			"transaction_id":      txn.ID.String(),
			"owner_id":            txn.OwnerID,
			"provider":            txn.Provider,
			"provider_payment_id": txn.ProviderPaymentID,
		},
	}); err != nil {
		return err
	}

	*result = applied{txn: *txn, tickets: released}
	return nil
}

func (s *Service) audit(ctx context.Context, txn ledgerdomain.Transaction, action string, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	raffleID := txn.RaffleID
	target := txn.ID.String()
	metadata["raffle_id"] = raffleID.String()
	if err := s.auditSvc.AuditLog(ctx, &raffleID, string(auditdomain.ActorTypeSystem), nil, action, "transaction", &target, metadata); err != nil {
		s.log.Warn("failed to write audit log", zap.String("action", action), zap.Error(err))
	}
}


package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	allocationdomain "github.com/smallbiznis/drawline/internal/allocation/domain"
	auditdomain "github.com/smallbiznis/drawline/internal/audit/domain"
	"github.com/smallbiznis/drawline/internal/clock"
	"github.com/smallbiznis/drawline/internal/config"
	"github.com/smallbiznis/drawline/internal/events"
	ledgerdomain "github.com/smallbiznis/drawline/internal/ledger/domain"
	"github.com/smallbiznis/drawline/internal/ledger/store"
	"github.com/smallbiznis/drawline/internal/observability/metrics"
	pkgdb "github.com/smallbiznis/drawline/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const defaultProvider = "stripe"

type Params struct {
	fx.In

	Store    *store.Store
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Policy   *config.PolicyHolder
	Outbox   *events.Outbox
	Cfg      config.Config       `optional:"true"`
	AuditSvc auditdomain.Service `optional:"true"`
	Metrics  *metrics.Metrics    `optional:"true"`
}

type Service struct {
	store           *store.Store
	repo            ledgerdomain.Repository
	log             *zap.Logger
	genID           *snowflake.Node
	clock           clock.Clock
	policy          *config.PolicyHolder
	outbox          *events.Outbox
	auditSvc        auditdomain.Service
	metrics         *metrics.Metrics
	defaultProvider string
}

func NewService(p Params) allocationdomain.Service {
	provider := strings.ToLower(strings.TrimSpace(p.Cfg.Payments.DefaultProvider))
	if provider == "" {
		provider = defaultProvider
	}
	return &Service{
		store:           p.Store,
		repo:            p.Store.Repo(),
		log:             p.Log.Named("allocation.service"),
		genID:           p.GenID,
		clock:           p.Clock,
		policy:          p.Policy,
		outbox:          p.Outbox,
		auditSvc:        p.AuditSvc,
		metrics:         p.Metrics,
		defaultProvider: provider,
	}
}

func (s *Service) Reserve(ctx context.Context, req allocationdomain.ReserveRequest) (*allocationdomain.ReserveResult, error) {
	if req.Quantity < 1 {
		return nil, allocationdomain.ErrInvalidQuantity
	}
	req.OwnerID = strings.TrimSpace(req.OwnerID)
	if req.OwnerID == "" {
		return nil, allocationdomain.ErrInvalidOwner
	}
	if req.RaffleID == 0 {
		return nil, ledgerdomain.ErrRaffleNotFound
	}
	provider := strings.ToLower(strings.TrimSpace(req.Provider))
	if provider == "" {
		provider = s.defaultProvider
	}
	paymentRef := strings.TrimSpace(req.ProviderPaymentID)
	if paymentRef == "" {
		paymentRef = "pay_" + ulid.Make().String()
	}
	ttl := s.policy.Get().ReservationTTL

	var result *allocationdomain.ReserveResult
	attempts := 0
	err := s.store.WithRaffleLock(ctx, req.RaffleID, func(tx *gorm.DB, raffle *ledgerdomain.Raffle) error {
		attempts++
		if attempts > 1 {
			s.metrics.RecordReservationRetry(ctx)
		}
		if raffle.Status != ledgerdomain.RaffleStatusActive {
			return ledgerdomain.ErrRaffleNotActive
		}

		existing, err := s.repo.FindTransaction(ctx, tx, provider, paymentRef)
		if err != nil {
			return err
		}
		if existing != nil {
			return allocationdomain.ErrDuplicatePaymentReference
		}

		held, err := s.repo.HeldTicketNumbers(ctx, tx, raffle.ID)
		if err != nil {
			return err
		}
		numbers, ok := newFreePool(raffle.TotalTickets, held).lowest(req.Quantity)
		if !ok {
			return allocationdomain.ErrCapacityExceeded
		}

		now := s.clock.Now()
		expiresAt := now.Add(ttl)
		encoded, err := json.Marshal(numbers)
		if err != nil {
			return err
		}
		txn := &ledgerdomain.Transaction{
			ID:                s.genID.Generate(),
			RaffleID:          raffle.ID,
			OwnerID:           req.OwnerID,
			Provider:          provider,
			ProviderPaymentID: paymentRef,
			TicketNumbers:     datatypes.JSON(encoded),
			Amount:            int64(len(numbers)) * raffle.TicketPrice,
			Status:            ledgerdomain.TransactionStatusPending,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		if err := s.repo.InsertTransaction(ctx, tx, txn); err != nil {
			return mapConflict(err)
		}

		tickets := make([]ledgerdomain.Ticket, 0, len(numbers))
		for _, n := range numbers {
			tickets = append(tickets, ledgerdomain.Ticket{
				ID:            s.genID.Generate(),
				RaffleID:      raffle.ID,
				TransactionID: txn.ID,
				Number:        n,
				OwnerID:       req.OwnerID,
				Status:        ledgerdomain.TicketStatusReserved,
				ReservedAt:    now,
				ExpiresAt:     expiresAt,
			})
		}
		if err := s.repo.InsertTickets(ctx, tx, tickets); err != nil {
			return mapConflict(err)
		}

		if err := s.outbox.PublishTx(ctx, tx, events.Event{
			RaffleID:  raffle.ID,
			Type:      events.EventTicketReserved,
			DedupeKey: "ticket.reserved:" + txn.ID.String(),
			Payload: map[string]any{
				"raffle_id":      raffle.ID.String(),
				"transaction_id": txn.ID.String(),
				"owner_id":       req.OwnerID,
				"ticket_numbers": numbers,
				"amount":         txn.Amount,
				"expires_at":     expiresAt,
			},
		}); err != nil {
			return err
		}

		result = &allocationdomain.ReserveResult{
			TransactionID:     txn.ID,
			RaffleID:          raffle.ID,
			TicketNumbers:     numbers,
			Amount:            txn.Amount,
			Currency:          raffle.Currency,
			Provider:          provider,
			ProviderPaymentID: paymentRef,
			ExpiresAt:         expiresAt,
		}
		return nil
	})
	if err != nil {
		s.metrics.RecordReservation(ctx, outcomeFor(err), 0)
		return nil, err
	}

	s.metrics.RecordReservation(ctx, "reserved", len(result.TicketNumbers))
	if s.auditSvc != nil {
		if auditErr := s.auditSvc.Record(ctx, req.OwnerID, "ticket.reserved", map[string]any{
			"raffle_id":      result.RaffleID,
			"transaction_id": result.TransactionID.String(),
			"ticket_numbers": result.TicketNumbers,
			"quantity":       len(result.TicketNumbers),
		}); auditErr != nil {
			s.log.Warn("failed to audit reservation", zap.Error(auditErr))
		}
	}
	return result, nil
}

func (s *Service) ReleaseExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}

	var candidates []ledgerdomain.Transaction
	if err := s.store.InTx(ctx, func(tx *gorm.DB) error {
		var err error
		candidates, err = s.repo.ClaimExpiredPendingTransactions(ctx, tx, now, limit)
		return err
	}); err != nil {
		return 0, err
	}
	if len(candidates) == 0 {
		return 0, nil
	}

	byRaffle := make(map[snowflake.ID][]snowflake.ID)
	order := make([]snowflake.ID, 0)
	for _, txn := range candidates {
		if _, ok := byRaffle[txn.RaffleID]; !ok {
			order = append(order, txn.RaffleID)
		}
		byRaffle[txn.RaffleID] = append(byRaffle[txn.RaffleID], txn.ID)
	}

	released := 0
	var errs []error
	for _, raffleID := range order {
		var count int
		err := s.store.WithRaffleLock(ctx, raffleID, func(tx *gorm.DB, raffle *ledgerdomain.Raffle) error {
			count = 0
			for _, txnID := range byRaffle[raffleID] {
				n, err := s.releaseTransaction(ctx, tx, txnID, now)
				if err != nil {
					return err
				}
				count += n
			}
			return nil
		})
		if err != nil {
			s.log.Warn("failed to release expired reservations", zap.String("raffle_id", raffleID.String()), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		released += count
		if count > 0 {
			s.auditSystem(ctx, raffleID, "ticket.reservation_expired", map[string]any{"released": count})
		}
	}

	s.metrics.RecordTicketsReleased(ctx, "ttl", released)
	if released > 0 {
		s.log.Info("released expired reservations", zap.Int("tickets", released))
	}
	return released, errors.Join(errs...)
}

// releaseTransaction re-checks the transaction under lock, since a
// confirmation may have landed between the claim and the raffle lock.
func (s *Service) releaseTransaction(ctx context.Context, tx *gorm.DB, txnID snowflake.ID, now time.Time) (int, error) {
	txn, err := s.repo.LockTransaction(ctx, tx, txnID)
	if err != nil {
		return 0, err
	}
	if txn == nil || txn.Status != ledgerdomain.TransactionStatusPending {
		return 0, nil
	}
	tickets, err := s.repo.ListTicketsByTransaction(ctx, tx, txnID)
	if err != nil {
		return 0, err
	}
	for _, t := range tickets {
		if t.Status == ledgerdomain.TicketStatusReserved && t.ExpiresAt.After(now) {
			return 0, nil
		}
	}

	ok, err := s.repo.SetTransactionStatus(ctx, tx, txnID, ledgerdomain.TransactionStatusPending, ledgerdomain.TransactionStatusCanceled, now)
	if err != nil || !ok {
		return 0, err
	}
	n, err := s.repo.SetTicketsStatusByTransaction(ctx, tx, txnID, ledgerdomain.TicketStatusReserved, ledgerdomain.TicketStatusCanceled, now)
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (s *Service) auditSystem(ctx context.Context, raffleID snowflake.ID, action string, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	target := raffleID.String()
	if err := s.auditSvc.AuditLog(ctx, &raffleID, string(auditdomain.ActorTypeSystem), nil, action, "raffle", &target, metadata); err != nil {
		s.log.Warn("failed to write audit log", zap.String("action", action), zap.Error(err))
	}
}

// mapConflict turns a held-number collision into a retryable conflict.
func mapConflict(err error) error {
	if pkgdb.IsConflictErr(err) {
		return ledgerdomain.ErrConcurrencyConflict
	}
	return err
}

func outcomeFor(err error) string {
	switch {
	case errors.Is(err, allocationdomain.ErrCapacityExceeded):
		return "capacity_exceeded"
	case errors.Is(err, ledgerdomain.ErrRaffleNotActive):
		return "raffle_not_active"
	case errors.Is(err, ledgerdomain.ErrRetryable):
		return "retryable"
	default:
		return "error"
	}
}

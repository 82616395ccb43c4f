package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/drawline/internal/clock"
	"github.com/smallbiznis/drawline/internal/config"
	"github.com/smallbiznis/drawline/internal/payment/adapters"
	paymentdomain "github.com/smallbiznis/drawline/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	PaymentSvc paymentdomain.Service
	Repo       paymentdomain.Repository
	Adapters   *adapters.Registry
	Cfg        config.Config
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	paymentSvc paymentdomain.Service
	repo       paymentdomain.Repository
	adapters   *adapters.Registry
	configs    map[string]map[string]any
}

func NewService(p Params) paymentdomain.WebhookService {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("payment.webhook"),
		genID:      p.GenID,
		clock:      p.Clock,
		paymentSvc: p.PaymentSvc,
		repo:       p.Repo,
		adapters:   p.Adapters,
		configs:    providerConfigs(p.Cfg.Payments),
	}
}

func providerConfigs(cfg config.PaymentsConfig) map[string]map[string]any {
	configs := map[string]map[string]any{}
	if secret := strings.TrimSpace(cfg.StripeWebhookSecret); secret != "" {
		configs["stripe"] = map[string]any{"webhook_secret": secret}
	}
	return configs
}

func (s *Service) IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) error {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return paymentdomain.ErrInvalidProvider
	}
	if s.adapters == nil || !s.adapters.ProviderExists(provider) {
		return paymentdomain.ErrProviderNotFound
	}
	if !json.Valid(payload) {
		return paymentdomain.ErrInvalidPayload
	}
	cfg, ok := s.configs[provider]
	if !ok {
		return paymentdomain.ErrProviderNotFound
	}

	adapter, err := s.adapters.NewAdapter(provider, paymentdomain.AdapterConfig{Provider: provider, Config: cfg})
	if err != nil {
		return err
	}
	if err := adapter.Verify(ctx, payload, headers); err != nil {
		return err
	}

	event, err := adapter.Parse(ctx, payload)
	if err != nil {
		if errors.Is(err, paymentdomain.ErrEventIgnored) {
			return nil
		}
		return err
	}
	event.Provider = provider

	stored, err := s.recordEvent(ctx, event, payload)
	if err != nil {
		return err
	}
	if stored.ProcessedAt != nil {
		return paymentdomain.ErrEventAlreadyProcessed
	}

	if err := s.paymentSvc.ApplyConfirmation(ctx, event.Confirmation()); err != nil {
		if !errors.Is(err, paymentdomain.ErrUnknownPayment) {
			return err
		}
		// Unknown payments are not retried by the provider.
		s.log.Warn("webhook for unknown payment",
			zap.String("provider", provider),
			zap.String("provider_event_id", event.ProviderEventID),
			zap.String("provider_payment_id", event.ProviderPaymentID),
		)
	}

	return s.repo.MarkProcessed(ctx, s.db, stored.ID, s.clock.Now())
}

// recordEvent returns the stored row for the provider event, inserting it
// on first delivery.
func (s *Service) recordEvent(ctx context.Context, event *paymentdomain.PaymentEvent, payload []byte) (*paymentdomain.EventRecord, error) {
	paymentID := event.ProviderPaymentID
	record := paymentdomain.EventRecord{
		ID:                s.genID.Generate(),
		Provider:          event.Provider,
		ProviderEventID:   strings.TrimSpace(event.ProviderEventID),
		EventType:         event.Type,
		ProviderPaymentID: &paymentID,
		Payload:           datatypes.JSON(payload),
		ReceivedAt:        s.clock.Now(),
	}
	if record.ProviderEventID == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	inserted, err := s.repo.InsertEvent(ctx, s.db, &record)
	if err != nil {
		return nil, err
	}
	if inserted {
		return &record, nil
	}

	stored, err := s.repo.FindEvent(ctx, s.db, record.Provider, record.ProviderEventID)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, paymentdomain.ErrInvalidEvent
	}
	return stored, nil
}

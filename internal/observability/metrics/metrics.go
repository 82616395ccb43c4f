package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes engine-level instruments.
type Metrics struct {
	reservations     metric.Int64Counter
	ticketsReserved  metric.Int64Counter
	reserveRetries   metric.Int64Counter
	confirmations    metric.Int64Counter
	draws            metric.Int64Counter
	payouts          metric.Int64Counter
	ticketsReleased  metric.Int64Counter
	rateLimitAllowed metric.Int64Counter
	rateLimitDenied  metric.Int64Counter
	eventsRelayed    metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				log.Info("shutting down meter provider")
				return provider.Shutdown(ctx)
			},
		})
	}

	log.Info("metrics initialized",
		zap.String("endpoint", cfg.ExporterEndpoint),
		zap.String("protocol", cfg.ExporterProtocol),
	)

	return provider, nil
}

// New configures the domain instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "drawline"
	}
	meter := provider.Meter(name)

	m := &Metrics{}
	counters := []struct {
		dst  *metric.Int64Counter
		name string
	}{
		{&m.reservations, "drawline_reservations_total"},
		{&m.ticketsReserved, "drawline_tickets_reserved_total"},
		{&m.reserveRetries, "drawline_reservation_retries_total"},
		{&m.confirmations, "drawline_payment_confirmations_total"},
		{&m.draws, "drawline_draws_total"},
		{&m.payouts, "drawline_payouts_total"},
		{&m.ticketsReleased, "drawline_tickets_released_total"},
		{&m.rateLimitAllowed, "drawline_rate_limit_allowed_total"},
		{&m.rateLimitDenied, "drawline_rate_limit_denied_total"},
		{&m.eventsRelayed, "drawline_events_relayed_total"},
	}
	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name)
		if err != nil {
			return nil, err
		}
		*c.dst = counter
	}
	return m, nil
}

// NewNoop returns instruments bound to a no-op provider.
func NewNoop() *Metrics {
	m, _ := New(Config{}, noop.NewMeterProvider())
	return m
}

// RecordReservation counts a Reserve call by outcome.
func (m *Metrics) RecordReservation(ctx context.Context, outcome string, tickets int) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("outcome", outcome))
	m.reservations.Add(ctx, 1, metric.WithAttributes(attrs...))
	if tickets > 0 {
		m.ticketsReserved.Add(ctx, int64(tickets))
	}
}

func (m *Metrics) RecordReservationRetry(ctx context.Context) {
	if m == nil {
		return
	}
	m.reserveRetries.Add(ctx, 1)
}

// RecordConfirmation counts applied and no-op confirmations.
func (m *Metrics) RecordConfirmation(ctx context.Context, provider, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("provider", strings.TrimSpace(provider)),
		attribute.String("outcome", outcome),
	)
	m.confirmations.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordDraw(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.draws.Add(ctx, 1, metric.WithAttributes(FilterAttributes(attribute.String("outcome", outcome))...))
}

func (m *Metrics) RecordPayout(ctx context.Context) {
	if m == nil {
		return
	}
	m.payouts.Add(ctx, 1)
}

func (m *Metrics) RecordTicketsReleased(ctx context.Context, reason string, count int) {
	if m == nil || count <= 0 {
		return
	}
	attrs := FilterAttributes(attribute.String("reason", reason))
	m.ticketsReleased.Add(ctx, int64(count), metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordRateLimit(ctx context.Context, action string, allowed bool) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("action", strings.TrimSpace(action)))
	if allowed {
		m.rateLimitAllowed.Add(ctx, 1, metric.WithAttributes(attrs...))
		return
	}
	m.rateLimitDenied.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordEventRelayed(ctx context.Context, eventType, sink string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("event_type", eventType),
		attribute.String("sink", sink),
	)
	m.eventsRelayed.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

// raffle and owner ids are deliberately absent.
var allowedLabelKeys = map[attribute.Key]struct{}{
	"outcome":     {},
	"provider":    {},
	"event_type":  {},
	"reason":      {},
	"action":      {},
	"sink":        {},
	"status_code": {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}

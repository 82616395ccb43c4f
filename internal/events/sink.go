package events

import (
	"context"
	"fmt"
	"strings"

	"github.com/smallbiznis/drawline/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Sink delivers one outbox record to the outside world.
type Sink interface {
	Name() string
	Send(ctx context.Context, rec Record) error
	Close() error
}

type LogSink struct {
	log *zap.Logger
}

func NewLogSink(log *zap.Logger) *LogSink {
	return &LogSink{log: log.Named("events.log_sink")}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Send(_ context.Context, rec Record) error {
	s.log.Info("event",
		zap.String("event_type", rec.EventType),
		zap.String("event_id", rec.ID.String()),
		zap.String("dedupe_key", rec.DedupeKey),
		zap.ByteString("payload", rec.Payload),
	)
	return nil
}

func (s *LogSink) Close() error { return nil }

// NewSink picks the configured sink and closes it on shutdown.
func NewSink(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) (Sink, error) {
	var (
		sink Sink
		err  error
	)
	switch strings.ToLower(strings.TrimSpace(cfg.Events.Sink)) {
	case "", "log":
		sink = NewLogSink(log)
	case "kafka":
		sink, err = NewKafkaSink(cfg.AppName, cfg.Events.KafkaBrokers, cfg.Events.KafkaTopic)
	case "amqp", "rabbitmq":
		sink, err = NewAMQPSink(cfg.Events.AMQPURL, cfg.Events.AMQPExchange)
	default:
		return nil, fmt.Errorf("unknown events sink %q", cfg.Events.Sink)
	}
	if err != nil {
		return nil, err
	}

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(context.Context) error {
				return sink.Close()
			},
		})
	}
	log.Info("events sink configured", zap.String("sink", sink.Name()))
	return sink, nil
}

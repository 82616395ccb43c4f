package events

import (
	"context"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

type AMQPSink struct {
	exchange string
	conn     *amqp.Connection
	channel  *amqp.Channel
}

func NewAMQPSink(url, exchange string) (*AMQPSink, error) {
	if url == "" {
		return nil, errors.New("amqp url is required")
	}
	if exchange == "" {
		exchange = "drawline.events"
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to dial RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(
		exchange,
		amqp.ExchangeTopic,
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to enable confirms: %w", err)
	}
	return &AMQPSink{exchange: exchange, conn: conn, channel: ch}, nil
}

func (s *AMQPSink) Name() string { return "amqp" }

// Send routes by event type and waits for the broker confirm.
func (s *AMQPSink) Send(ctx context.Context, rec Record) error {
	confirmation, err := s.channel.PublishWithDeferredConfirmWithContext(ctx,
		s.exchange,
		rec.EventType,
		true,  // mandatory
		false, // immediate
		amqpPublishing(rec),
	)
	if err != nil {
		return fmt.Errorf("failed to publish: %w", err)
	}
	acked, err := confirmation.WaitContext(ctx)
	if err != nil {
		return err
	}
	if !acked {
		return errors.New("broker nacked event")
	}
	return nil
}

// MessageId carries the dedupe key so consumers can drop redeliveries.
func amqpPublishing(rec Record) amqp.Publishing {
	headers := amqp.Table{"event_id": rec.ID.String()}
	if rec.RaffleID != nil {
		headers["raffle_id"] = rec.RaffleID.String()
	}
	return amqp.Publishing{
		Headers:      headers,
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    rec.DedupeKey,
		Timestamp:    rec.CreatedAt,
		Type:         rec.EventType,
		Body:         rec.Payload,
	}
}

func (s *AMQPSink) Close() error {
	if s.channel != nil {
		_ = s.channel.Close()
	}
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

package events

import (
	"context"
	"errors"
	"fmt"

	"github.com/Shopify/sarama"
)

type KafkaSink struct {
	topic    string
	producer sarama.SyncProducer
}

func NewKafkaSink(clientID string, brokers []string, topic string) (*KafkaSink, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	if topic == "" {
		return nil, errors.New("kafka topic is required")
	}
	cfg := sarama.NewConfig()
	cfg.ClientID = clientID
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Idempotent = true
	cfg.Net.MaxOpenRequests = 1

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("sarama.NewSyncProducer: %w", err)
	}
	return NewKafkaSinkWithProducer(topic, producer), nil
}

func NewKafkaSinkWithProducer(topic string, producer sarama.SyncProducer) *KafkaSink {
	return &KafkaSink{topic: topic, producer: producer}
}

func (s *KafkaSink) Name() string { return "kafka" }

// Messages are keyed by raffle so a raffle's events stay on one partition.
func (s *KafkaSink) Send(_ context.Context, rec Record) error {
	key := rec.ID.String()
	if rec.RaffleID != nil {
		key = rec.RaffleID.String()
	}
	msg := &sarama.ProducerMessage{
		Topic: s.topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(rec.Payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_type"), Value: []byte(rec.EventType)},
			{Key: []byte("event_id"), Value: []byte(rec.ID.String())},
			{Key: []byte("dedupe_key"), Value: []byte(rec.DedupeKey)},
		},
	}
	if _, _, err := s.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("producer.SendMessage: %w", err)
	}
	return nil
}

func (s *KafkaSink) Close() error {
	return s.producer.Close()
}

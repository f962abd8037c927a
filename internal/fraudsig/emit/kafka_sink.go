package emit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/IBM/sarama"

	"github.com/chenzhangda16/fraudsig/internal/fraudsig/model"
	"github.com/chenzhangda16/fraudsig/internal/fraudsig/retry"
)

// KafkaSink produces candidates keyed by account id, so one account's
// candidates share a partition and keep their order.
type KafkaSink struct {
	topic string
	p     sarama.SyncProducer
}

func NewKafkaSink(brokers []string, topic string, cfg *sarama.Config) (*KafkaSink, error) {
	if topic == "" {
		return nil, errors.New("emit: kafka topic is empty")
	}
	if cfg == nil {
		cfg = sarama.NewConfig()
		cfg.Producer.RequiredAcks = sarama.WaitForAll
		cfg.Producer.Idempotent = true
		cfg.Net.MaxOpenRequests = 1
		cfg.Producer.Retry.Max = 3
	}
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true

	p, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("emit: kafka producer: %w", err)
	}
	return &KafkaSink{topic: topic, p: p}, nil
}

func (s *KafkaSink) Publish(ctx context.Context, c model.FraudCandidate) error {
	// SyncProducer takes no ctx; checking it here at least stops retries after shutdown
	if err := ctx.Err(); err != nil {
		return err
	}
	msg, err := s.message(c)
	if err != nil {
		return retry.Permanent(err)
	}
	if _, _, err := s.p.SendMessage(msg); err != nil {
		if errors.Is(err, sarama.ErrMessageSizeTooLarge) || errors.Is(err, sarama.ErrInvalidMessage) {
			return retry.Permanent(err)
		}
		return fmt.Errorf("emit: kafka send: %w", err)
	}
	return nil
}

func (s *KafkaSink) message(c model.FraudCandidate) (*sarama.ProducerMessage, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	return &sarama.ProducerMessage{
		Topic: s.topic,
		Key:   sarama.StringEncoder(c.AccountID),
		Value: sarama.ByteEncoder(b),
		Headers: []sarama.RecordHeader{
			{Key: []byte("candidate_id"), Value: []byte(c.CandidateID)},
		},
	}, nil
}

func (s *KafkaSink) Close() error {
	if s.p != nil {
		return s.p.Close()
	}
	return nil
}

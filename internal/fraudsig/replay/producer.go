// Package replay feeds recorded transactions back into the input topic.
package replay

import (
	"context"
	"errors"
	"time"

	"github.com/IBM/sarama"
)

// Publisher sends one keyed payload.
type Publisher interface {
	Send(ctx context.Context, key string, value []byte) error
}

type Producer struct {
	topic string
	sp    sarama.SyncProducer
}

func NewProducer(brokers []string, topic string) (*Producer, error) {
	if topic == "" {
		return nil, errors.New("replay: topic empty")
	}
	if len(brokers) == 0 {
		return nil, errors.New("replay: no brokers")
	}

	cfg := sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 10
	cfg.Producer.Retry.Backoff = 200 * time.Millisecond
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.Idempotent = true
	cfg.Net.MaxOpenRequests = 1
	cfg.Version = sarama.V2_1_0_0

	sp, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, err
	}
	return &Producer{topic: topic, sp: sp}, nil
}

// Close is safe to call more than once.
func (p *Producer) Close() error {
	if p.sp == nil {
		return nil
	}
	sp := p.sp
	p.sp = nil
	return sp.Close()
}

// Send waits for the broker ack. The message timestamp is the send time,
// which is what the processor's arrival time policy reads.
func (p *Producer) Send(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, _, err := p.sp.SendMessage(&sarama.ProducerMessage{
		Topic:     p.topic,
		Key:       sarama.StringEncoder(key),
		Value:     sarama.ByteEncoder(value),
		Timestamp: time.Now(),
	})
	return err
}

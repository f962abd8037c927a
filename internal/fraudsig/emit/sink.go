// Package emit publishes fraud candidates, optionally decorated with the
// account's contact block, to a downstream sink.
package emit

import (
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/chenzhangda16/fraudsig/internal/fraudsig/model"
)

// Sink receives each candidate once per successful publish. Sinks must be
// safe for concurrent use; the emitter publishes from one goroutine per shard.
type Sink interface {
	Publish(ctx context.Context, c model.FraudCandidate) error
	Close() error
}

// WriterSink writes one JSON object per line.
type WriterSink struct {
	mu  sync.Mutex
	enc *json.Encoder
	c   io.Closer
}

// NewWriterSink wraps w; w is closed on Close when it is an io.Closer.
func NewWriterSink(w io.Writer) *WriterSink {
	s := &WriterSink{enc: json.NewEncoder(w)}
	if c, ok := w.(io.Closer); ok {
		s.c = c
	}
	return s
}

func (s *WriterSink) Publish(ctx context.Context, c model.FraudCandidate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.Encode(c)
}

func (s *WriterSink) Close() error {
	if s.c != nil {
		return s.c.Close()
	}
	return nil
}

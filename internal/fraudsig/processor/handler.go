package processor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/chenzhangda16/fraudsig/internal/fraudsig/ingest"
	"github.com/chenzhangda16/fraudsig/internal/fraudsig/model"
	"github.com/chenzhangda16/fraudsig/internal/fraudsig/normalize"
	"github.com/chenzhangda16/fraudsig/internal/fraudsig/stats"
)

// Dispatcher is the handler's view of the lane router.
type Dispatcher interface {
	Dispatch(ctx context.Context, tx model.Transaction) error
}

// Offsets answers the two questions warm start needs from the cluster.
type Offsets interface {
	// OffsetAt returns the first offset with timestamp >= ms, or
	// sarama.OffsetNewest when none exists.
	OffsetAt(topic string, partition int32, ms int64) (int64, error)
	// Committed returns the group's next offset, or a negative value when
	// nothing was committed.
	Committed(topic string, partition int32) (int64, error)
}

// Handler feeds one consumer group session into the dispatcher.
//
// Offsets are marked once an event is handed to its lane, not when its
// candidates are published. On a fresh claim the handler rewinds by the
// retention horizon so that buffers rebuilt after a restart see the same
// history they held before; the engine and the emitted-pair ledger absorb
// the replayed overlap.
type Handler struct {
	Topic   string
	Norm    *normalize.Normalizer
	Disp    Dispatcher
	Spool   ingest.Spool // optional dead letter
	Offsets Offsets      // nil disables warm start
	Rewind  time.Duration
	Stats   *stats.Counters
	Logger  *zap.Logger

	now    func() time.Time
	mu     sync.Mutex
	owned  map[int32]bool
	active atomic.Int32
}

var _ sarama.ConsumerGroupHandler = (*Handler)(nil)

func (h *Handler) clock() time.Time {
	if h.now != nil {
		return h.now()
	}
	return time.Now()
}

// Active reports whether a session currently holds claims.
func (h *Handler) Active() bool { return h.active.Load() > 0 }

func (h *Handler) Setup(sess sarama.ConsumerGroupSession) error {
	h.active.Add(1)
	parts := sess.Claims()[h.Topic]
	h.Logger.Info("session setup",
		zap.String("topic", h.Topic),
		zap.Int32s("partitions", parts),
		zap.Int32("generation", sess.GenerationID()))

	if h.Offsets == nil || h.Rewind <= 0 {
		return nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.owned == nil {
		h.owned = make(map[int32]bool)
	}
	targetMs := h.clock().Add(-h.Rewind).UnixMilli()
	for _, p := range parts {
		// the lane buffers already hold this partition's recent history
		if h.owned[p] {
			continue
		}
		h.owned[p] = true
		h.rewind(sess, p, targetMs)
	}
	return nil
}

func (h *Handler) rewind(sess sarama.ConsumerGroupSession, p int32, targetMs int64) {
	t0 := time.Now()
	off, err := h.Offsets.OffsetAt(h.Topic, p, targetMs)
	if err != nil {
		h.Logger.Warn("warm start: offset lookup failed", zap.Int32("partition", p), zap.Error(err))
		return
	}
	if off < 0 {
		return
	}
	committed, err := h.Offsets.Committed(h.Topic, p)
	if err != nil {
		h.Logger.Warn("warm start: committed offset lookup failed", zap.Int32("partition", p), zap.Error(err))
		return
	}
	// never skip ahead of what the group has not consumed yet
	if committed >= 0 && off >= committed {
		return
	}
	h.Logger.Info("warm start: rewinding",
		zap.Int32("partition", p),
		zap.Int64("from", committed),
		zap.Int64("to", off),
		zap.Int64("target_ms", targetMs),
		zap.Duration("cost", time.Since(t0)))
	sess.ResetOffset(h.Topic, p, off, "")
}

func (h *Handler) Cleanup(sarama.ConsumerGroupSession) error {
	h.active.Add(-1)
	return nil
}

func (h *Handler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := sess.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := h.handle(ctx, msg); err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return nil
				}
				return err
			}
			sess.MarkMessage(msg, "")
		}
	}
}

func (h *Handler) handle(ctx context.Context, msg *sarama.ConsumerMessage) error {
	h.Stats.Consumed.Add(1)

	tx, err := h.Norm.Normalize(msg.Value, msg.Timestamp)
	if err != nil {
		h.Stats.Malformed.Add(1)
		h.Logger.Warn("malformed event; dropped",
			zap.Int32("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
			zap.Error(err))
		h.deadLetter(msg, err)
		return nil
	}
	return h.Disp.Dispatch(ctx, tx)
}

func (h *Handler) deadLetter(msg *sarama.ConsumerMessage, cause error) {
	if h.Spool == nil {
		return
	}
	raw := make([]byte, len(msg.Value))
	copy(raw, msg.Value)
	err := h.Spool.Append(ingest.Record{
		Partition: msg.Partition,
		Offset:    msg.Offset,
		ArrivalMs: msg.Timestamp.UnixMilli(),
		Reason:    cause.Error(),
		Raw:       raw,
	})
	if err != nil {
		h.Logger.Error("dead letter append failed",
			zap.Int32("partition", msg.Partition), zap.Int64("offset", msg.Offset), zap.Error(err))
		return
	}
	h.Stats.DeadLettered.Add(1)
}

// kafkaOffsets reads offsets through the consumer's own client.
type kafkaOffsets struct {
	client sarama.Client
	group  string
}

func (k kafkaOffsets) OffsetAt(topic string, p int32, ms int64) (int64, error) {
	return k.client.GetOffset(topic, p, ms)
}

func (k kafkaOffsets) Committed(topic string, p int32) (int64, error) {
	om, err := sarama.NewOffsetManagerFromClient(k.group, k.client)
	if err != nil {
		return 0, err
	}
	defer om.Close()
	pom, err := om.ManagePartition(topic, p)
	if err != nil {
		return 0, err
	}
	defer pom.AsyncClose()
	next, _ := pom.NextOffset()
	return next, nil
}

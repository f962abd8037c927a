// Package worker runs one join engine per dispatcher lane.
package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/chenzhangda16/fraudsig/internal/fraudsig/join"
	"github.com/chenzhangda16/fraudsig/internal/fraudsig/model"
	"github.com/chenzhangda16/fraudsig/internal/fraudsig/stats"
	"github.com/chenzhangda16/fraudsig/internal/fraudsig/window"
)

// Enqueuer accepts candidates for a shard's emit queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, shard int, c model.FraudCandidate) error
}

type Config struct {
	Join join.Config
	// IdleKey drops the bucket of an account idle this long behind the
	// lane's newest event; zero keeps every bucket.
	IdleKey    time.Duration
	SweepEvery time.Duration
}

// Worker owns its engine; nothing in it is shared with other lanes.
type Worker struct {
	ID int

	eng *join.Engine
	out Enqueuer
	cfg Config
	st  *stats.Counters
	log *zap.Logger
}

func New(id int, cfg Config, out Enqueuer, st *stats.Counters, lg *zap.Logger) (*Worker, error) {
	eng, err := join.New(cfg.Join)
	if err != nil {
		return nil, err
	}
	if cfg.SweepEvery <= 0 {
		cfg.SweepEvery = time.Minute
	}
	if st == nil {
		st = stats.New()
	}
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Worker{
		ID:  id,
		eng: eng,
		out: out,
		cfg: cfg,
		st:  st,
		log: lg.With(zap.String("component", "worker"), zap.Int("lane", id)),
	}, nil
}

func (w *Worker) Engine() *join.Engine { return w.eng }

// Run processes in until it is closed or ctx is done. An event in progress
// is always finished and its candidates handed to the emitter, which drains
// them after ctx is cancelled.
func (w *Worker) Run(ctx context.Context, in <-chan model.Transaction) error {
	handoff := context.WithoutCancel(ctx)

	t := time.NewTicker(w.cfg.SweepEvery)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("worker stopping", zap.Int("keys", w.eng.Buffer().Keys()), zap.Int("buffered", w.eng.Buffer().Size()))
			return nil
		case <-t.C:
			if w.cfg.IdleKey > 0 {
				if n := w.eng.Buffer().Sweep(w.cfg.IdleKey); n > 0 {
					w.log.Debug("swept idle keys", zap.Int("keys", n))
				}
			}
		case tx, ok := <-in:
			if !ok {
				return nil
			}
			if err := w.Handle(handoff, tx); err != nil {
				return err
			}
		}
	}
}

// Handle runs one transaction through the engine. Only a failed handoff to
// the emitter is returned; every per-event outcome is counted and logged.
func (w *Worker) Handle(ctx context.Context, tx model.Transaction) error {
	stats.ObserveMax(&w.st.LastEventTimeMs, tx.EventTime)

	res, err := w.eng.Process(tx)
	switch {
	case errors.Is(err, window.ErrTooLate):
		w.st.TooLate.Add(1)
		wm, _ := w.eng.Buffer().Watermark(tx.AccountID)
		w.log.Debug("too late; dropped",
			zap.String("account_id", tx.AccountID),
			zap.String("transaction_id", tx.TransactionID),
			zap.Int64("event_time", tx.EventTime),
			zap.Int64("watermark", wm))
		return nil
	case errors.Is(err, join.ErrDuplicate):
		w.st.Duplicates.Add(1)
		return nil
	case err != nil:
		w.log.Warn("process failed", zap.String("transaction_id", tx.TransactionID), zap.Error(err))
		return nil
	}

	if n := len(res.Overflowed); n > 0 {
		w.st.Overflowed.Add(int64(n))
		w.log.Warn("buffer overflow; oldest evicted",
			zap.String("account_id", tx.AccountID),
			zap.Int("dropped", n),
			zap.String("oldest_dropped", res.Overflowed[0].TransactionID))
	}
	w.st.Evicted.Add(int64(res.Evicted))
	for _, n := range res.Filtered {
		w.st.Filtered.Add(int64(n))
	}

	for _, c := range res.Candidates {
		w.st.Candidates.Add(1)
		if err := w.out.Enqueue(ctx, w.ID, c); err != nil {
			return err
		}
	}
	return nil
}

package emit

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/chenzhangda16/fraudsig/internal/fraudsig/ledger"
	"github.com/chenzhangda16/fraudsig/internal/fraudsig/lookup"
	"github.com/chenzhangda16/fraudsig/internal/fraudsig/model"
	"github.com/chenzhangda16/fraudsig/internal/fraudsig/retry"
	"github.com/chenzhangda16/fraudsig/internal/fraudsig/stats"
	"github.com/chenzhangda16/fraudsig/pkg/hash"
)

var ErrClosed = errors.New("emitter closed")

type Options struct {
	Sink Sink

	// Lookup is optional; nil publishes every candidate without contact.
	Lookup        lookup.Lookup
	LookupTimeout time.Duration

	// Ledger is optional; nil disables replay suppression.
	Ledger     ledger.Ledger
	EvictEvery time.Duration

	Retry      retry.Policy
	Shards     int
	QueueDepth int
	Stats      *stats.Counters
	Logger     *zap.Logger
}

// Emitter owns one FIFO queue and one goroutine per shard. A slow lookup or
// publish only stalls its own shard, and a shard's candidates leave in the
// order they were enqueued.
type Emitter struct {
	opt    Options
	queues []chan model.FraudCandidate
	log    *zap.Logger
	st     *stats.Counters
	now    func() time.Time

	closeOnce sync.Once
}

func New(opt Options) (*Emitter, error) {
	if opt.Sink == nil {
		return nil, errors.New("emit: sink is required")
	}
	if opt.Shards <= 0 {
		opt.Shards = 1
	}
	if opt.QueueDepth < 0 {
		opt.QueueDepth = 0
	}
	if opt.LookupTimeout <= 0 {
		opt.LookupTimeout = 200 * time.Millisecond
	}
	if opt.EvictEvery <= 0 {
		opt.EvictEvery = time.Minute
	}
	if opt.Logger == nil {
		opt.Logger = zap.NewNop()
	}
	if opt.Stats == nil {
		opt.Stats = stats.New()
	}
	e := &Emitter{
		opt:    opt,
		queues: make([]chan model.FraudCandidate, opt.Shards),
		log:    opt.Logger.With(zap.String("component", "emitter")),
		st:     opt.Stats,
		now:    time.Now,
	}
	for i := range e.queues {
		e.queues[i] = make(chan model.FraudCandidate, opt.QueueDepth)
	}
	return e, nil
}

// Enqueue hands c to shard's queue, blocking while the queue is full.
func (e *Emitter) Enqueue(ctx context.Context, shard int, c model.FraudCandidate) error {
	select {
	case e.queues[shard%len(e.queues)] <- c:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CloseQueues signals that no more candidates will be enqueued. Run returns
// once every queue is drained.
func (e *Emitter) CloseQueues() {
	e.closeOnce.Do(func() {
		for _, q := range e.queues {
			close(q)
		}
	})
}

// Run drives every shard until its queue is closed and drained. Cancelling
// ctx does not abort queued candidates; publishes already queued still get
// their retry budget.
func (e *Emitter) Run(ctx context.Context) error {
	pubCtx := context.WithoutCancel(ctx)

	var wg sync.WaitGroup
	for _, q := range e.queues {
		wg.Add(1)
		go func(q <-chan model.FraudCandidate) {
			defer wg.Done()
			for c := range q {
				e.Emit(pubCtx, c)
			}
		}(q)
	}

	stop := make(chan struct{})
	if e.opt.Ledger != nil {
		go e.evictLoop(stop)
	}
	wg.Wait()
	close(stop)
	return nil
}

func (e *Emitter) evictLoop(stop <-chan struct{}) {
	t := time.NewTicker(e.opt.EvictEvery)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case now := <-t.C:
			if err := e.opt.Ledger.Evict(now.UnixMilli()); err != nil {
				e.log.Warn("ledger evict failed", zap.Error(err))
			}
		}
	}
}

// Emit decorates and publishes one candidate. It never returns an error:
// failures are logged and counted.
func (e *Emitter) Emit(ctx context.Context, c model.FraudCandidate) {
	nowMs := e.now().UnixMilli()

	var key hash.Hash32
	if e.opt.Ledger != nil {
		key = ledger.Key(c)
		seen, err := e.opt.Ledger.Seen(key, nowMs)
		if err != nil {
			e.log.Warn("ledger read failed; publishing anyway", zap.Error(err))
		} else if seen {
			e.st.Suppressed.Add(1)
			return
		}
	}

	if e.opt.Lookup != nil {
		c = e.decorate(ctx, c)
	}

	attempts := 0
	err := retry.Do(ctx, e.opt.Retry, func(ctx context.Context) error {
		attempts++
		return e.opt.Sink.Publish(ctx, c)
	})
	if err != nil {
		e.st.PublishFailed.Add(1)
		e.log.Error("publish failed",
			zap.String("candidate_id", c.CandidateID),
			zap.String("account_id", c.AccountID),
			zap.String("first", c.FirstTransactionID),
			zap.String("second", c.SecondTransactionID),
			zap.Int("attempts", attempts),
			zap.Error(err),
		)
		return
	}
	e.st.Published.Add(1)
	stats.ObserveMax(&e.st.LastPublishedAtMs, e.now().UnixMilli())

	if e.opt.Ledger != nil {
		if err := e.opt.Ledger.Mark(key, nowMs); err != nil {
			e.log.Warn("ledger write failed", zap.String("candidate_id", c.CandidateID), zap.Error(err))
		}
	}
}

// decorate attaches the account contact. Misses, timeouts and errors all
// leave the contact empty.
func (e *Emitter) decorate(ctx context.Context, c model.FraudCandidate) model.FraudCandidate {
	lctx, cancel := context.WithTimeout(ctx, e.opt.LookupTimeout)
	defer cancel()

	acct, ok, err := e.opt.Lookup.Get(lctx, c.AccountID)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		e.st.LookupTimeouts.Add(1)
		e.log.Warn("account lookup timed out", zap.String("account_id", c.AccountID),
			zap.Duration("timeout", e.opt.LookupTimeout))
		return c
	case err != nil:
		e.st.LookupErrors.Add(1)
		e.log.Warn("account lookup failed", zap.String("account_id", c.AccountID), zap.Error(err))
		return c
	case !ok:
		e.st.LookupMisses.Add(1)
		e.log.Debug("account not found", zap.String("account_id", c.AccountID))
		return c
	}
	return c.WithContact(acct.Contact())
}

// Package processor wires the consumer, the lanes, and the emitter into one
// supervised process.
package processor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/chenzhangda16/fraudsig/internal/fraudsig/config"
	"github.com/chenzhangda16/fraudsig/internal/fraudsig/dispatcher"
	"github.com/chenzhangda16/fraudsig/internal/fraudsig/emit"
	"github.com/chenzhangda16/fraudsig/internal/fraudsig/httpapi"
	"github.com/chenzhangda16/fraudsig/internal/fraudsig/ingest"
	"github.com/chenzhangda16/fraudsig/internal/fraudsig/ledger"
	"github.com/chenzhangda16/fraudsig/internal/fraudsig/lookup"
	"github.com/chenzhangda16/fraudsig/internal/fraudsig/normalize"
	"github.com/chenzhangda16/fraudsig/internal/fraudsig/retry"
	"github.com/chenzhangda16/fraudsig/internal/fraudsig/stats"
	"github.com/chenzhangda16/fraudsig/internal/fraudsig/worker"
)

type Processor struct {
	cfg config.Config
	log *zap.Logger
	st  *stats.Counters

	client  sarama.Client
	group   sarama.ConsumerGroup
	handler *Handler

	disp    *dispatcher.Dispatcher
	workers []*worker.Worker
	em      *emit.Emitter

	sink   emit.Sink
	lookup lookup.Lookup
	ledger ledger.Ledger
	spool  ingest.Spool

	closers []func() error
}

func New(ctx context.Context, cfg config.Config, lg *zap.Logger) (p *Processor, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	policy, err := normalize.ParseTimePolicy(cfg.TimePolicy)
	if err != nil {
		return nil, err
	}

	p = &Processor{cfg: cfg, log: lg.With(zap.String("component", "processor")), st: stats.New()}
	// error returns nil p, so keep a handle for cleanup
	partial := p
	defer func() {
		if err != nil {
			_ = partial.Close()
		}
	}()

	if p.sink, err = buildSink(ctx, cfg, lg); err != nil {
		return nil, err
	}
	p.closers = append(p.closers, p.sink.Close)

	if p.lookup, err = buildLookup(ctx, cfg, lg); err != nil {
		return nil, err
	}
	if p.lookup != nil {
		p.closers = append(p.closers, p.lookup.Close)
	}

	if p.ledger, err = buildLedger(cfg, lg); err != nil {
		return nil, err
	}
	p.closers = append(p.closers, p.ledger.Close)

	if p.spool, err = buildSpool(cfg); err != nil {
		return nil, err
	}
	if p.spool != nil {
		p.closers = append(p.closers, p.spool.Close)
	}

	p.em, err = emit.New(emit.Options{
		Sink:          p.sink,
		Lookup:        p.lookup,
		LookupTimeout: cfg.LookupTimeout,
		Ledger:        p.ledger,
		Retry: retry.Policy{
			MaxAttempts: cfg.PublishAttempts,
			BaseDelay:   cfg.PublishBaseDelay,
			MaxDelay:    cfg.PublishMaxDelay,
			Jitter:      cfg.PublishBaseDelay / 2,
			OnRetry: func(attempt int, wait time.Duration, err error) {
				lg.Warn("publish retry", zap.Int("attempt", attempt), zap.Duration("wait", wait), zap.Error(err))
			},
		},
		Shards:     cfg.Shards,
		QueueDepth: cfg.EmitDepth,
		Stats:      p.st,
		Logger:     lg,
	})
	if err != nil {
		return nil, err
	}

	p.disp = dispatcher.New(cfg.Shards, cfg.LaneDepth)
	for i := 0; i < cfg.Shards; i++ {
		w, err := worker.New(i, worker.Config{Join: joinConfig(cfg), IdleKey: cfg.IdleKeyTTL}, p.em, p.st, lg)
		if err != nil {
			return nil, err
		}
		p.workers = append(p.workers, w)
	}

	scfg := sarama.NewConfig()
	scfg.Version = sarama.V2_1_0_0
	scfg.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRange()}
	scfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	if cfg.InitialOffset == "oldest" {
		scfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	}
	scfg.Consumer.Return.Errors = true

	if p.client, err = sarama.NewClient(cfg.Brokers, scfg); err != nil {
		return nil, fmt.Errorf("processor: kafka client: %w", err)
	}
	p.closers = append(p.closers, p.client.Close)
	if p.group, err = sarama.NewConsumerGroupFromClient(cfg.Group, p.client); err != nil {
		return nil, fmt.Errorf("processor: consumer group: %w", err)
	}
	p.closers = append(p.closers, p.group.Close)

	p.handler = &Handler{
		Topic:  cfg.InputTopic,
		Norm:   normalize.New(policy),
		Disp:   p.disp,
		Spool:  p.spool,
		Stats:  p.st,
		Logger: lg.With(zap.String("component", "consumer")),
	}
	if cfg.WarmStart {
		p.handler.Offsets = kafkaOffsets{client: p.client, group: cfg.Group}
		p.handler.Rewind = cfg.EffectiveRetention()
	}
	return p, nil
}

func (p *Processor) Stats() *stats.Counters { return p.st }

// Run blocks until ctx is cancelled or a component fails. Shutdown order:
// the consumer stops, lanes close, workers finish their current event, the
// emitter drains its queues.
func (p *Processor) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer p.disp.Close()
		return p.consume(gctx)
	})
	g.Go(func() error {
		errs := p.group.Errors()
		for {
			select {
			case <-gctx.Done():
				return nil
			case err, ok := <-errs:
				if !ok {
					return nil
				}
				p.log.Warn("consumer group error", zap.Error(err))
			}
		}
	})

	var workers sync.WaitGroup
	for i, w := range p.workers {
		workers.Add(1)
		g.Go(func() error {
			defer workers.Done()
			return w.Run(gctx, p.disp.Out(i))
		})
	}
	g.Go(func() error {
		workers.Wait()
		p.em.CloseQueues()
		return nil
	})
	g.Go(func() error { return p.em.Run(gctx) })

	if p.cfg.HTTPAddr != "" {
		srv := &http.Server{
			Addr: p.cfg.HTTPAddr,
			Handler: httpapi.NewRouter(httpapi.Deps{
				Stats:     p.st,
				Ready:     p.ready,
				LaneDepth: p.disp.Depth,
				Logger:    p.log,
			}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			p.log.Info("http listening", zap.String("addr", p.cfg.HTTPAddr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	p.log.Info("stopped", zap.Any("stats", p.st.Snapshot()))
	return err
}

// consume re-joins the group after every rebalance until ctx ends.
func (p *Processor) consume(ctx context.Context) error {
	topics := []string{p.cfg.InputTopic}
	for {
		if err := p.group.Consume(ctx, topics, p.handler); err != nil {
			// a closed group never consumes again; failing cancels the rest of Run
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return fmt.Errorf("processor: consume: %w", err)
			}
			p.log.Warn("consume failed; retrying", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(300 * time.Millisecond):
			}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (p *Processor) ready() error {
	if !p.handler.Active() {
		return errors.New("no active consumer session")
	}
	return nil
}

// Close releases everything in reverse order of acquisition.
func (p *Processor) Close() error {
	var errs []error
	for i := len(p.closers) - 1; i >= 0; i-- {
		if err := p.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	p.closers = nil
	return errors.Join(errs...)
}

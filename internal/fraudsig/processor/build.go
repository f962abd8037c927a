package processor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/chenzhangda16/fraudsig/internal/fraudsig/config"
	"github.com/chenzhangda16/fraudsig/internal/fraudsig/emit"
	"github.com/chenzhangda16/fraudsig/internal/fraudsig/ingest"
	"github.com/chenzhangda16/fraudsig/internal/fraudsig/join"
	"github.com/chenzhangda16/fraudsig/internal/fraudsig/ledger"
	"github.com/chenzhangda16/fraudsig/internal/fraudsig/lookup"
)

const connectTimeout = 10 * time.Second

func buildSink(ctx context.Context, cfg config.Config, lg *zap.Logger) (emit.Sink, error) {
	switch cfg.Sink {
	case "kafka":
		s, err := emit.NewKafkaSink(cfg.Brokers, cfg.OutputTopic, nil)
		if err != nil {
			return nil, err
		}
		lg.Info("sink ready", zap.String("kind", "kafka"), zap.String("topic", cfg.OutputTopic))
		return s, nil
	case "es":
		cctx, cancel := context.WithTimeout(ctx, connectTimeout)
		defer cancel()
		s, err := emit.NewESSink(cctx, cfg.ESAddresses, cfg.ESUsername, cfg.ESPassword, cfg.ESIndex)
		if err != nil {
			return nil, err
		}
		lg.Info("sink ready", zap.String("kind", "es"), zap.String("index", cfg.ESIndex))
		return s, nil
	case "stdout":
		return emit.NewWriterSink(os.Stdout), nil
	}
	return nil, fmt.Errorf("processor: unknown sink %q", cfg.Sink)
}

// buildLookup returns nil for "none".
func buildLookup(ctx context.Context, cfg config.Config, lg *zap.Logger) (lookup.Lookup, error) {
	cctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	switch cfg.Lookup {
	case "none":
		return nil, nil
	case "file":
		s, err := lookup.LoadFile(cfg.LookupFile)
		if err != nil {
			return nil, err
		}
		lg.Info("lookup ready", zap.String("kind", "file"), zap.Int("accounts", s.Len()))
		return s, nil
	case "postgres":
		p, err := lookup.OpenPostgres(cctx, cfg.PGDSN, cfg.PGTable)
		if err != nil {
			return nil, err
		}
		lg.Info("lookup ready", zap.String("kind", "postgres"), zap.String("table", cfg.PGTable))
		return p, nil
	case "redis":
		r, err := lookup.OpenRedis(cctx, cfg.RedisURL, cfg.RedisPrefix)
		if err != nil {
			return nil, err
		}
		lg.Info("lookup ready", zap.String("kind", "redis"), zap.String("prefix", cfg.RedisPrefix))
		return r, nil
	}
	return nil, fmt.Errorf("processor: unknown lookup %q", cfg.Lookup)
}

// buildLedger always keeps a hot tier; a ledger dir adds the durable tier.
func buildLedger(cfg config.Config, lg *zap.Logger) (ledger.Ledger, error) {
	hot := ledger.NewHot(cfg.LedgerTTL, 1<<14)
	if cfg.LedgerDir == "" {
		return hot, nil
	}
	if err := os.MkdirAll(cfg.LedgerDir, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(cfg.LedgerDir, "emitted.db")
	rocks, err := ledger.OpenRocks(path, cfg.LedgerTTL, time.Minute)
	if err != nil {
		return nil, err
	}
	lg.Info("ledger ready", zap.String("path", path), zap.Duration("ttl", cfg.LedgerTTL))
	return ledger.NewTiered(hot, rocks), nil
}

func buildSpool(cfg config.Config) (ingest.Spool, error) {
	if cfg.DeadLetter == "" {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.DeadLetter), 0o755); err != nil {
		return nil, err
	}
	return ingest.NewFileSpool(cfg.DeadLetter)
}

func joinConfig(cfg config.Config) join.Config {
	filters := join.DefaultFilters()
	if cfg.MinSpeedKmh > 0 {
		filters = append(filters, join.MinSpeed(cfg.MinSpeedKmh))
	}
	return join.Config{
		Window:    cfg.Window,
		Retention: cfg.EffectiveRetention(),
		MaxPerKey: cfg.MaxPerKey,
		Filters:   filters,
	}
}

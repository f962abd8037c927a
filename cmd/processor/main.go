package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/chenzhangda16/fraudsig/internal/fraudsig/config"
	"github.com/chenzhangda16/fraudsig/internal/fraudsig/processor"
	"github.com/chenzhangda16/fraudsig/pkg/obs"
)

func main() {
	// registered so Parse accepts it; read early because the file seeds the other defaults
	flag.String("env-file", ".env", "optional dotenv file; real environment wins")
	cfg, err := config.Load(envFileFromArgs(os.Args[1:], ".env"))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	var (
		brokers   = flag.String("brokers", strings.Join(cfg.Brokers, ","), "kafka brokers csv")
		topic     = flag.String("topic", cfg.InputTopic, "input transaction topic")
		group     = flag.String("group", cfg.Group, "kafka consumer group")
		window    = flag.Duration("window", cfg.Window, "pairing window W")
		retention = flag.Duration("retention", cfg.Retention, "buffer retention R (>= window; 0 means window)")
		maxPerKey = flag.Int("max-per-key", cfg.MaxPerKey, "hard cap of buffered transactions per account")
		shards    = flag.Int("shards", cfg.Shards, "number of key-sharded lanes")
		sink      = flag.String("sink", cfg.Sink, "candidate sink: kafka|es|stdout")
		outTopic  = flag.String("out-topic", cfg.OutputTopic, "candidate topic for the kafka sink")
		lookupK   = flag.String("lookup", cfg.Lookup, "account lookup: none|file|postgres|redis")
		httpAddr  = flag.String("http", cfg.HTTPAddr, "stats/health listen address; empty disables")
		warm      = flag.Bool("warm-start", cfg.WarmStart, "rewind offsets by R on first claim")
	)
	flag.Parse()

	cfg.Brokers = config.SplitCSV(*brokers)
	cfg.InputTopic, cfg.Group = *topic, *group
	cfg.Window, cfg.Retention, cfg.MaxPerKey = *window, *retention, *maxPerKey
	cfg.Shards = *shards
	cfg.Sink, cfg.OutputTopic = *sink, *outTopic
	cfg.Lookup = *lookupK
	cfg.HTTPAddr = *httpAddr
	cfg.WarmStart = *warm

	lg, err := obs.Init(obs.Options{Service: "fraudsig-processor", Env: cfg.Env, Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = lg.Sync() }()

	if err := run(cfg, lg); err != nil {
		lg.Error("processor exited", zap.Error(err))
		_ = lg.Sync()
		os.Exit(1)
	}
}

func run(cfg config.Config, lg *zap.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	lg.Info("starting",
		zap.Strings("brokers", cfg.Brokers),
		zap.String("topic", cfg.InputTopic),
		zap.Duration("window", cfg.Window),
		zap.Duration("retention", cfg.EffectiveRetention()),
		zap.Int("max_per_key", cfg.MaxPerKey),
		zap.Int("shards", cfg.Shards),
		zap.String("sink", cfg.Sink),
		zap.String("lookup", cfg.Lookup))

	p, err := processor.New(ctx, cfg, lg)
	if err != nil {
		return err
	}
	start := time.Now()
	err = p.Run(ctx)
	if cerr := p.Close(); cerr != nil {
		lg.Warn("close", zap.Error(cerr))
	}
	lg.Info("shutdown complete", zap.Duration("uptime", time.Since(start)))
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func envFileFromArgs(args []string, def string) string {
	for i, a := range args {
		if a == "-env-file" || a == "--env-file" {
			if i+1 < len(args) {
				return args[i+1]
			}
			continue
		}
		for _, prefix := range []string{"-env-file=", "--env-file="} {
			if v, ok := strings.CutPrefix(a, prefix); ok {
				return v
			}
		}
	}
	return def
}

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/chenzhangda16/fraudsig/internal/fraudsig/config"
	"github.com/chenzhangda16/fraudsig/internal/fraudsig/normalize"
	"github.com/chenzhangda16/fraudsig/internal/fraudsig/replay"
	"github.com/chenzhangda16/fraudsig/pkg/obs"
)

func main() {
	var (
		brokers  = flag.String("brokers", "127.0.0.1:9092", "kafka brokers csv")
		topic    = flag.String("topic", "transactions", "input transaction topic")
		in       = flag.String("in", "-", "JSON-lines transaction file; - reads stdin")
		rate     = flag.Int("rate", 0, "events per second; 0 is unlimited")
		validate = flag.String("validate", "", "drop lines the normalizer rejects under this time policy (payload|arrival); empty sends as-is")
		env      = flag.String("env", "development", "log environment")
	)
	flag.Parse()

	lg, err := obs.Init(obs.Options{Service: "fraudsig-replay", Env: *env})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = lg.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var r io.Reader = os.Stdin
	if *in != "-" {
		f, err := os.Open(*in)
		if err != nil {
			lg.Fatal("open input", zap.Error(err))
		}
		defer f.Close()
		r = f
	}

	opt := replay.Options{
		Rate: *rate,
		OnSkip: func(line int, err error) {
			lg.Warn("skipped line", zap.Int("line", line), zap.Error(err))
		},
	}
	if *validate != "" {
		policy, err := normalize.ParseTimePolicy(*validate)
		if err != nil {
			lg.Fatal("validate", zap.Error(err))
		}
		opt.Validate = normalize.New(policy)
	}

	p, err := replay.NewProducer(config.SplitCSV(*brokers), *topic)
	if err != nil {
		lg.Fatal("producer", zap.Error(err))
	}
	defer p.Close()

	res, err := replay.Replay(ctx, r, p, opt)
	lg.Info("replay done", zap.Int("sent", res.Sent), zap.Int("skipped", res.Skipped), zap.String("topic", *topic))
	if err != nil && ctx.Err() == nil {
		lg.Error("replay failed", zap.Error(err))
		_ = p.Close()
		_ = lg.Sync()
		os.Exit(1)
	}
}

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/IBM/sarama"

	"github.com/chenzhangda16/fraudsig/internal/fraudsig/config"
	"github.com/chenzhangda16/fraudsig/internal/fraudsig/model"
)

type printer struct {
	w   io.Writer
	raw bool
}

func (printer) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (printer) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (p printer) ConsumeClaim(s sarama.ConsumerGroupSession, c sarama.ConsumerGroupClaim) error {
	for msg := range c.Messages() {
		if p.raw {
			fmt.Fprintf(p.w, "%s\n", msg.Value)
		} else {
			fmt.Fprintln(p.w, describe(msg.Value))
		}
		s.MarkMessage(msg, "")
	}
	return nil
}

// describe renders one candidate as a single human-readable line.
func describe(value []byte) string {
	var c model.FraudCandidate
	if err := json.Unmarshal(value, &c); err != nil {
		return fmt.Sprintf("undecodable candidate (%v): %s", err, value)
	}
	line := fmt.Sprintf("%s account=%s %s@%s -> %s@%s %.1fkm in %s (%.0f km/h)",
		c.CandidateID,
		c.AccountID,
		c.FirstTransactionID, time.UnixMilli(c.FirstEventTime).UTC().Format(time.RFC3339),
		c.SecondTransactionID, time.UnixMilli(c.SecondEventTime).UTC().Format(time.RFC3339),
		c.DistanceKm,
		time.Duration(c.TimeDeltaMs)*time.Millisecond,
		c.ImpliedSpeedKmh,
	)
	if c.AccountContact != nil {
		line += fmt.Sprintf(" contact=%q", c.AccountContact.Name)
	}
	return line
}

func main() {
	var (
		brokers = flag.String("brokers", "127.0.0.1:9092", "kafka brokers csv")
		topic   = flag.String("topic", "fraud-candidates", "candidate topic")
		groupID = flag.String("group", "fraudsig-tail", "consumer group")
		oldest  = flag.Bool("oldest", false, "start from the oldest offset when the group has none")
		raw     = flag.Bool("raw", false, "print raw JSON")
	)
	flag.Parse()

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_1_0_0
	cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	if *oldest {
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	}

	group, err := sarama.NewConsumerGroup(config.SplitCSV(*brokers), *groupID, cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer group.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	h := printer{w: os.Stdout, raw: *raw}
	for ctx.Err() == nil {
		if err := group.Consume(ctx, []string{*topic}, h); err != nil && ctx.Err() == nil {
			fmt.Fprintln(os.Stderr, "consume:", err)
			time.Sleep(time.Second)
		}
	}
}

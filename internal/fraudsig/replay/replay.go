package replay

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/chenzhangda16/fraudsig/internal/fraudsig/normalize"
)

type Options struct {
	// Validate drops lines this normalizer rejects; nil sends everything
	// that has an account_id.
	Validate *normalize.Normalizer
	// Rate caps events per second; zero sends as fast as the broker acks.
	Rate int
	// OnSkip is called for each dropped line.
	OnSkip func(line int, err error)
}

type Result struct {
	Sent    int
	Skipped int
}

// Replay sends each non-blank line of r keyed by its account_id.
func Replay(ctx context.Context, r io.Reader, pub Publisher, opt Options) (Result, error) {
	var res Result

	var tick <-chan time.Time
	if opt.Rate > 0 {
		t := time.NewTicker(interval(opt.Rate))
		defer t.Stop()
		tick = t.C
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4<<20)
	line := 0
	for sc.Scan() {
		line++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		key, err := accountKey(raw, opt.Validate)
		if err != nil {
			res.Skipped++
			if opt.OnSkip != nil {
				opt.OnSkip(line, err)
			}
			continue
		}
		if tick != nil {
			select {
			case <-ctx.Done():
				return res, ctx.Err()
			case <-tick:
			}
		}
		// the scanner reuses its buffer
		val := append([]byte(nil), raw...)
		if err := pub.Send(ctx, key, val); err != nil {
			return res, fmt.Errorf("replay: line %d: %w", line, err)
		}
		res.Sent++
	}
	return res, sc.Err()
}

func accountKey(raw []byte, n *normalize.Normalizer) (string, error) {
	if n != nil {
		tx, err := n.Normalize(raw, time.Now())
		if err != nil {
			return "", err
		}
		return tx.AccountID, nil
	}
	var head struct {
		AccountID string `json:"account_id"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return "", err
	}
	if head.AccountID == "" {
		return "", fmt.Errorf("missing account_id")
	}
	return head.AccountID, nil
}

// interval is the tick spacing for rate events per second, never below 1ns.
func interval(rate int) time.Duration {
	return max(time.Second/time.Duration(rate), time.Nanosecond)
}

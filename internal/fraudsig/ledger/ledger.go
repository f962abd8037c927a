// Package ledger remembers which candidate pairs were already published so a
// replay after restart does not publish them again.
package ledger

import (
	"github.com/chenzhangda16/fraudsig/internal/fraudsig/model"
	"github.com/chenzhangda16/fraudsig/pkg/hash"
)

// Ledger is safe for concurrent use. Times are wall-clock milliseconds.
type Ledger interface {
	Seen(key hash.Hash32, nowMs int64) (bool, error)
	Mark(key hash.Hash32, nowMs int64) error
	Evict(nowMs int64) error
	Close() error
}

// Key identifies the ordered pair of c.
func Key(c model.FraudCandidate) hash.Hash32 {
	return hash.Strings("pair", c.AccountID, c.FirstTransactionID, c.SecondTransactionID)
}

// Tiered answers from hot first and falls through to long.
// Marks go to both.
type Tiered struct {
	hot  Ledger
	long Ledger
}

func NewTiered(hot, long Ledger) *Tiered { return &Tiered{hot: hot, long: long} }

func (t *Tiered) Seen(key hash.Hash32, nowMs int64) (bool, error) {
	if seen, err := t.hot.Seen(key, nowMs); err != nil || seen {
		return seen, err
	}
	seen, err := t.long.Seen(key, nowMs)
	if err != nil || !seen {
		return seen, err
	}
	// warm the hot tier so the next check skips the disk
	return true, t.hot.Mark(key, nowMs)
}

func (t *Tiered) Mark(key hash.Hash32, nowMs int64) error {
	if err := t.hot.Mark(key, nowMs); err != nil {
		return err
	}
	return t.long.Mark(key, nowMs)
}

func (t *Tiered) Evict(nowMs int64) error {
	if err := t.hot.Evict(nowMs); err != nil {
		return err
	}
	return t.long.Evict(nowMs)
}

func (t *Tiered) Close() error {
	herr := t.hot.Close()
	if err := t.long.Close(); err != nil {
		return err
	}
	return herr
}

package window

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/chenzhangda16/fraudsig/internal/fraudsig/model"
)

var ErrTooLate = errors.New("event older than retention horizon")

// Config bounds the buffer. Retention is R; MaxPerKey is the hard cap applied
// when eviction falls behind (e.g. a stalled watermark).
type Config struct {
	Retention time.Duration
	MaxPerKey int
}

// Buffer keeps, per account, the transactions within [watermark-R, watermark]
// ordered by event time. Each key tracks its own watermark (max event time seen).
//
// Not safe for concurrent use: a Buffer belongs to the single worker that owns
// its partition.
type Buffer struct {
	retentionMs int64
	maxPerKey   int

	buckets map[string]*bucket
	// watermarks of swept keys; a swept key keeps rejecting too-late events
	swept map[string]int64

	// max watermark across all keys, only used to age out idle buckets
	maxWatermark int64
}

type bucket struct {
	txs  []model.Transaction // txs[head:] is live, sorted by EventTime
	head int

	watermark int64
}

func New(cfg Config) (*Buffer, error) {
	if cfg.Retention <= 0 {
		return nil, fmt.Errorf("window: retention must be > 0, got %s", cfg.Retention)
	}
	if cfg.MaxPerKey <= 0 {
		return nil, fmt.Errorf("window: max per key must be > 0, got %d", cfg.MaxPerKey)
	}
	return &Buffer{
		retentionMs: cfg.Retention.Milliseconds(),
		maxPerKey:   cfg.MaxPerKey,
		buckets:     make(map[string]*bucket, 1<<10),
		swept:       make(map[string]int64),
	}, nil
}

func (b *Buffer) RetentionMs() int64 { return b.retentionMs }

// Watermark returns the key's watermark and whether the key is known.
// Swept keys are still known.
func (b *Buffer) Watermark(key string) (int64, bool) {
	if bk := b.buckets[key]; bk != nil {
		return bk.watermark, true
	}
	wm, ok := b.swept[key]
	return wm, ok
}

// TooLate reports whether tx would be rejected by Insert.
func (b *Buffer) TooLate(tx model.Transaction) bool {
	wm, ok := b.Watermark(tx.AccountID)
	return ok && tx.EventTime < wm-b.retentionMs
}

// Insert places tx in its key's bucket, keeping event-time order (ties keep
// arrival order). When the bucket exceeds MaxPerKey the oldest entries are
// evicted and returned so the caller can surface the overflow.
func (b *Buffer) Insert(tx model.Transaction) (overflowed []model.Transaction, err error) {
	if b.TooLate(tx) {
		return nil, ErrTooLate
	}
	bk := b.buckets[tx.AccountID]
	if bk == nil {
		bk = &bucket{watermark: tx.EventTime}
		if wm, ok := b.swept[tx.AccountID]; ok {
			bk.watermark = max(wm, tx.EventTime)
			delete(b.swept, tx.AccountID)
		}
		b.buckets[tx.AccountID] = bk
	}

	live := bk.txs[bk.head:]
	i := sort.Search(len(live), func(i int) bool { return live[i].EventTime > tx.EventTime })
	pos := bk.head + i

	bk.txs = append(bk.txs, model.Transaction{})
	copy(bk.txs[pos+1:], bk.txs[pos:])
	bk.txs[pos] = tx

	if tx.EventTime > bk.watermark {
		bk.watermark = tx.EventTime
	}
	if bk.watermark > b.maxWatermark {
		b.maxWatermark = bk.watermark
	}

	for bk.len() > b.maxPerKey {
		overflowed = append(overflowed, bk.txs[bk.head])
		bk.popFront()
	}
	bk.maybeCompact()
	return overflowed, nil
}

// Evict removes every entry of key with EventTime < watermark-R.
func (b *Buffer) Evict(key string, watermark int64) int {
	bk := b.buckets[key]
	if bk == nil {
		return 0
	}
	cut := watermark - b.retentionMs
	n := 0
	for bk.len() > 0 && bk.txs[bk.head].EventTime < cut {
		bk.popFront()
		n++
	}
	bk.maybeCompact()
	return n
}

// ScanWindow returns the key's entries with EventTime in
// [center-before, center+after]. Entries older than watermark-R are never
// returned, even if Evict has not run yet.
func (b *Buffer) ScanWindow(key string, center, before, after int64) []model.Transaction {
	bk := b.buckets[key]
	if bk == nil || bk.len() == 0 {
		return nil
	}
	lo := center - before
	if floor := bk.watermark - b.retentionMs; lo < floor {
		lo = floor
	}
	hi := center + after
	if hi < lo {
		return nil
	}

	live := bk.txs[bk.head:]
	i := sort.Search(len(live), func(i int) bool { return live[i].EventTime >= lo })
	var out []model.Transaction
	for ; i < len(live) && live[i].EventTime <= hi; i++ {
		out = append(out, live[i])
	}
	return out
}

// Sweep drops buckets, entries included, whose watermark trails the
// buffer-wide max watermark by more than idle. It returns the number of keys
// dropped. Only the watermark of a dropped key is kept, so its too-late
// bound survives; a later event for it starts a fresh bucket at that
// watermark.
func (b *Buffer) Sweep(idle time.Duration) int {
	cut := b.maxWatermark - idle.Milliseconds()
	n := 0
	for k, bk := range b.buckets {
		if bk.watermark < cut {
			b.swept[k] = bk.watermark
			delete(b.buckets, k)
			n++
		}
	}
	return n
}

// Swept returns the number of swept keys whose watermark is retained.
func (b *Buffer) Swept() int { return len(b.swept) }

// Len returns the number of live entries for key.
func (b *Buffer) Len(key string) int {
	bk := b.buckets[key]
	if bk == nil {
		return 0
	}
	return bk.len()
}

// Size returns the live entry count across all keys.
func (b *Buffer) Size() int {
	n := 0
	for _, bk := range b.buckets {
		n += bk.len()
	}
	return n
}

// Keys returns the number of keys holding a bucket, including empty ones.
func (b *Buffer) Keys() int { return len(b.buckets) }

func (bk *bucket) len() int { return len(bk.txs) - bk.head }

func (bk *bucket) popFront() {
	bk.txs[bk.head] = model.Transaction{}
	bk.head++
}

func (bk *bucket) maybeCompact() {
	if bk.head == 0 {
		return
	}
	if bk.head == len(bk.txs) {
		bk.txs = bk.txs[:0]
		bk.head = 0
		return
	}
	if bk.head < 64 || bk.head*2 < len(bk.txs) {
		return
	}
	n := copy(bk.txs, bk.txs[bk.head:])
	clear(bk.txs[n:])
	bk.txs = bk.txs[:n]
	bk.head = 0
}

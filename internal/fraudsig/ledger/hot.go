package ledger

import (
	"sync"
	"time"

	"github.com/chenzhangda16/fraudsig/pkg/hash"
)

// Hot is an in-memory TTL ledger.
type Hot struct {
	ttlMs int64

	mu   sync.Mutex
	m    map[hash.Hash32]int64 // key -> expireMs
	q    []hotItem             // insertion order
	head int                   // pop index
}

type hotItem struct {
	key      hash.Hash32
	expireMs int64
}

func NewHot(ttl time.Duration, capHint int) *Hot {
	if capHint < 0 {
		capHint = 0
	}
	ttlMs := ttl.Milliseconds()
	if ttlMs <= 0 {
		ttlMs = 1
	}
	return &Hot{
		ttlMs: ttlMs,
		m:     make(map[hash.Hash32]int64, capHint),
		q:     make([]hotItem, 0, capHint),
	}
}

func (d *Hot) Seen(key hash.Hash32, nowMs int64) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	exp, ok := d.m[key]
	return ok && exp >= nowMs, nil
}

func (d *Hot) Mark(key hash.Hash32, nowMs int64) error {
	exp := nowMs + d.ttlMs
	d.mu.Lock()
	d.m[key] = exp
	d.q = append(d.q, hotItem{key: key, expireMs: exp})
	d.mu.Unlock()
	return nil
}

func (d *Hot) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.m)
}

// Evict removes expired keys to bound memory.
func (d *Hot) Evict(nowMs int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for d.head < len(d.q) {
		it := d.q[d.head]
		if it.expireMs >= nowMs {
			break
		}
		// a re-mark leaves an older queue item behind; keep the newer expiry
		if exp, ok := d.m[it.key]; ok && exp == it.expireMs {
			delete(d.m, it.key)
		}
		d.head++
	}

	if d.head > 4096 && d.head*2 > len(d.q) {
		newQ := make([]hotItem, 0, len(d.q)-d.head)
		newQ = append(newQ, d.q[d.head:]...)
		d.q = newQ
		d.head = 0
	}
	return nil
}

func (d *Hot) Close() error { return nil }

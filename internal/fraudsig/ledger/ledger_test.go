package ledger

import (
	"testing"
	"time"

	"github.com/chenzhangda16/fraudsig/internal/fraudsig/model"
	"github.com/chenzhangda16/fraudsig/pkg/hash"
)

func TestKeyIsOrdered(t *testing.T) {
	ab := model.FraudCandidate{AccountID: "a", FirstTransactionID: "1", SecondTransactionID: "2"}
	ba := model.FraudCandidate{AccountID: "a", FirstTransactionID: "2", SecondTransactionID: "1"}
	if Key(ab) == Key(ba) {
		t.Fatal("reversed pair collided")
	}
	if Key(ab) != Key(ab) {
		t.Fatal("not deterministic")
	}
}

func TestHotTTL(t *testing.T) {
	h := NewHot(time.Second, 0)
	k := hash.Strings("k")
	if seen, _ := h.Seen(k, 0); seen {
		t.Fatal("fresh key seen")
	}
	_ = h.Mark(k, 1000)
	if seen, _ := h.Seen(k, 2000); !seen {
		t.Fatal("expiry is inclusive")
	}
	if seen, _ := h.Seen(k, 2001); seen {
		t.Fatal("expired key seen")
	}
}

func TestHotEvictKeepsRemarked(t *testing.T) {
	h := NewHot(time.Second, 0)
	a, b := hash.Strings("a"), hash.Strings("b")
	_ = h.Mark(a, 0)
	_ = h.Mark(b, 0)
	_ = h.Mark(a, 5000)

	_ = h.Evict(1001)
	if h.Len() != 1 {
		t.Fatalf("len=%d want=1", h.Len())
	}
	if seen, _ := h.Seen(a, 1001); !seen {
		t.Fatal("re-marked key evicted")
	}
	_ = h.Evict(6001)
	if h.Len() != 0 {
		t.Fatalf("len=%d want=0", h.Len())
	}
}

func TestHotCompaction(t *testing.T) {
	h := NewHot(time.Millisecond, 0)
	for i := 0; i < 10000; i++ {
		_ = h.Mark(hash.Strings("k", time.Duration(i).String()), int64(i))
	}
	_ = h.Evict(20000)
	if h.head != 0 || len(h.q) != 0 {
		t.Fatalf("queue not compacted: head=%d len=%d", h.head, len(h.q))
	}
}

type fakeLedger struct {
	seen  map[hash.Hash32]bool
	marks int
}

func (f *fakeLedger) Seen(k hash.Hash32, _ int64) (bool, error) { return f.seen[k], nil }
func (f *fakeLedger) Mark(k hash.Hash32, _ int64) error {
	f.seen[k] = true
	f.marks++
	return nil
}
func (f *fakeLedger) Evict(int64) error { return nil }
func (f *fakeLedger) Close() error      { return nil }

func TestTieredWarmsHot(t *testing.T) {
	k := hash.Strings("restart")
	long := &fakeLedger{seen: map[hash.Hash32]bool{k: true}}
	hot := NewHot(time.Minute, 0)
	led := NewTiered(hot, long)

	seen, err := led.Seen(k, 0)
	if err != nil || !seen {
		t.Fatalf("seen=%v err=%v", seen, err)
	}
	if s, _ := hot.Seen(k, 0); !s {
		t.Fatal("hot tier not warmed")
	}

	other := hash.Strings("new")
	if s, _ := led.Seen(other, 0); s {
		t.Fatal("unknown key seen")
	}
	_ = led.Mark(other, 0)
	if long.marks != 1 || hot.Len() != 2 {
		t.Fatalf("marks=%d hot=%d", long.marks, hot.Len())
	}
}

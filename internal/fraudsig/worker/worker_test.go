package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/chenzhangda16/fraudsig/internal/fraudsig/join"
	"github.com/chenzhangda16/fraudsig/internal/fraudsig/model"
	"github.com/chenzhangda16/fraudsig/internal/fraudsig/stats"
)

const t0 = int64(1531476000000)

type fakeOut struct {
	mu     sync.Mutex
	shards []int
	got    []model.FraudCandidate
	err    error
}

func (f *fakeOut) Enqueue(_ context.Context, shard int, c model.FraudCandidate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.shards = append(f.shards, shard)
	f.got = append(f.got, c)
	return nil
}

func (f *fakeOut) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.got)
}

func mk(id string, ts int64, lat, lon float64) model.Transaction {
	return model.Transaction{
		AccountID:     "ac_01",
		TransactionID: id,
		EventTime:     ts,
		Amount:        decimal.NewFromInt(5),
		Location:      model.Location{Lat: lat, Lon: lon},
	}
}

func newWorker(t *testing.T, cfg Config, out Enqueuer) (*Worker, *stats.Counters) {
	t.Helper()
	if cfg.Join.Window == 0 {
		cfg.Join.Window = 10 * time.Minute
	}
	st := stats.New()
	w, err := New(3, cfg, out, st, nil)
	if err != nil {
		t.Fatalf("New err=%v", err)
	}
	return w, st
}

func TestNewRejectsBadJoinConfig(t *testing.T) {
	if _, err := New(0, Config{}, &fakeOut{}, nil, nil); err == nil {
		t.Fatal("zero window: want error")
	}
}

func TestHandleEnqueuesToOwnShard(t *testing.T) {
	out := &fakeOut{}
	w, st := newWorker(t, Config{}, out)
	ctx := context.Background()

	for _, tx := range []model.Transaction{mk("a", t0, 0, 0), mk("b", t0+60_000, 0, 1)} {
		if err := w.Handle(ctx, tx); err != nil {
			t.Fatalf("Handle(%s) err=%v", tx.TransactionID, err)
		}
	}
	if out.len() != 1 || out.shards[0] != 3 {
		t.Fatalf("got=%+v shards=%v", out.got, out.shards)
	}
	if c := out.got[0]; c.FirstTransactionID != "a" || c.SecondTransactionID != "b" {
		t.Fatalf("pair=%s->%s", c.FirstTransactionID, c.SecondTransactionID)
	}
	s := st.Snapshot()
	if s.Candidates != 1 || s.LastEventTimeMs != t0+60_000 {
		t.Fatalf("snapshot=%+v", s)
	}
}

func TestHandleCountsDropsWithoutError(t *testing.T) {
	out := &fakeOut{}
	w, st := newWorker(t, Config{Join: join.Config{MaxPerKey: 1}}, out)
	ctx := context.Background()

	steps := []model.Transaction{
		mk("a", t0+20*60_000, 0, 0),
		mk("a", t0+20*60_000, 0, 0), // redelivery
		mk("old", t0, 0, 1),         // behind watermark - R
		mk("same", t0+21*60_000, 0, 0),
	}
	for _, tx := range steps {
		if err := w.Handle(ctx, tx); err != nil {
			t.Fatalf("Handle(%s) err=%v", tx.TransactionID, err)
		}
	}
	s := st.Snapshot()
	if s.Duplicates != 1 || s.TooLate != 1 {
		t.Fatalf("duplicates=%d tooLate=%d", s.Duplicates, s.TooLate)
	}
	if s.Overflowed != 1 {
		t.Fatalf("overflowed=%d", s.Overflowed)
	}
	if out.len() != 0 {
		t.Fatalf("unexpected candidates %+v", out.got)
	}
}

func TestHandleReturnsEnqueueError(t *testing.T) {
	boom := errors.New("queue closed")
	w, _ := newWorker(t, Config{}, &fakeOut{err: boom})
	ctx := context.Background()

	_ = w.Handle(ctx, mk("a", t0, 0, 0))
	if err := w.Handle(ctx, mk("b", t0+1000, 1, 1)); !errors.Is(err, boom) {
		t.Fatalf("err=%v, want %v", err, boom)
	}
}

func TestRunStopsWhenInputCloses(t *testing.T) {
	out := &fakeOut{}
	w, _ := newWorker(t, Config{}, out)

	in := make(chan model.Transaction, 2)
	in <- mk("a", t0, 0, 0)
	in <- mk("b", t0+1000, 1, 1)
	close(in)

	if err := w.Run(context.Background(), in); err != nil {
		t.Fatalf("Run err=%v", err)
	}
	if out.len() != 1 {
		t.Fatalf("candidates=%d, want 1", out.len())
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	w, _ := newWorker(t, Config{}, &fakeOut{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx, make(chan model.Transaction)) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run err=%v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRunSweepsIdleKeys(t *testing.T) {
	w, _ := newWorker(t, Config{IdleKey: time.Millisecond, SweepEvery: 5 * time.Millisecond}, &fakeOut{})
	ctx := context.Background()

	// ac_01 trails the lane's newest event by an hour.
	_ = w.Handle(ctx, mk("a", t0, 0, 0))
	other := mk("z", t0+time.Hour.Milliseconds(), 0, 0)
	other.AccountID = "ac_02"
	_ = w.Handle(ctx, other)

	runCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	if err := w.Run(runCtx, make(chan model.Transaction)); err != nil {
		t.Fatalf("Run err=%v", err)
	}
	if k := w.Engine().Buffer().Keys(); k != 1 {
		t.Fatalf("keys=%d, want 1 after sweep", k)
	}
	if n := w.Engine().Buffer().Len("ac_01"); n != 0 {
		t.Fatalf("idle account still buffered: len=%d", n)
	}
	if late := mk("old", t0-time.Hour.Milliseconds(), 1, 1); !w.Engine().Buffer().TooLate(late) {
		t.Fatal("swept account forgot its watermark")
	}
}

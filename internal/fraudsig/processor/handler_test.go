package processor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/chenzhangda16/fraudsig/internal/fraudsig/ingest"
	"github.com/chenzhangda16/fraudsig/internal/fraudsig/model"
	"github.com/chenzhangda16/fraudsig/internal/fraudsig/normalize"
	"github.com/chenzhangda16/fraudsig/internal/fraudsig/stats"
)

type fakeSession struct {
	ctx    context.Context
	claims map[string][]int32

	mu     sync.Mutex
	marked []int64
	resets map[int32]int64
}

func (s *fakeSession) Claims() map[string][]int32              { return s.claims }
func (s *fakeSession) MemberID() string                        { return "m-1" }
func (s *fakeSession) GenerationID() int32                     { return 1 }
func (s *fakeSession) MarkOffset(string, int32, int64, string) {}
func (s *fakeSession) Commit()                                 {}
func (s *fakeSession) Context() context.Context                { return s.ctx }

func (s *fakeSession) ResetOffset(_ string, p int32, off int64, _ string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resets == nil {
		s.resets = map[int32]int64{}
	}
	s.resets[p] = off
}

func (s *fakeSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marked = append(s.marked, msg.Offset)
}

type fakeClaim struct {
	msgs chan *sarama.ConsumerMessage
}

func (c *fakeClaim) Topic() string                            { return "tx" }
func (c *fakeClaim) Partition() int32                         { return 0 }
func (c *fakeClaim) InitialOffset() int64                     { return 0 }
func (c *fakeClaim) HighWaterMarkOffset() int64               { return int64(len(c.msgs)) }
func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.msgs }

type recordDisp struct{ got []model.Transaction }

func (d *recordDisp) Dispatch(_ context.Context, tx model.Transaction) error {
	d.got = append(d.got, tx)
	return nil
}

type memSpool struct{ recs []ingest.Record }

func (s *memSpool) Append(r ingest.Record) error { s.recs = append(s.recs, r); return nil }
func (s *memSpool) Close() error                 { return nil }

type fakeOffsets struct {
	at, committed int64
	calls         int
}

func (f *fakeOffsets) OffsetAt(string, int32, int64) (int64, error) {
	f.calls++
	return f.at, nil
}
func (f *fakeOffsets) Committed(string, int32) (int64, error) { return f.committed, nil }

func newHandler(disp Dispatcher, sp ingest.Spool, off Offsets) *Handler {
	h := &Handler{
		Topic:   "tx",
		Norm:    normalize.New(normalize.PayloadTime),
		Disp:    disp,
		Spool:   sp,
		Stats:   stats.New(),
		Logger:  zap.NewNop(),
		Offsets: off,
		Rewind:  10 * time.Minute,
	}
	return h
}

func TestConsumeClaimDispatchesAndDeadLetters(t *testing.T) {
	disp := &recordDisp{}
	sp := &memSpool{}
	h := newHandler(disp, sp, nil)

	claim := &fakeClaim{msgs: make(chan *sarama.ConsumerMessage, 3)}
	arrival := time.Date(2018, 7, 13, 10, 0, 5, 0, time.UTC)
	claim.msgs <- &sarama.ConsumerMessage{Offset: 10, Timestamp: arrival, Value: []byte(
		`{"account_id":"ac_03","transaction_id":"04","location":{"lat":37.55,"lon":-121.98},"amount":40,"timestamp":"2018-07-13T10:00:00Z"}`)}
	claim.msgs <- &sarama.ConsumerMessage{Offset: 11, Partition: 0, Timestamp: arrival, Value: []byte(`{"account_id":"ac_03"}`)}
	claim.msgs <- &sarama.ConsumerMessage{Offset: 12, Timestamp: arrival, Value: []byte(`not json`)}
	close(claim.msgs)

	sess := &fakeSession{ctx: context.Background()}
	if err := h.ConsumeClaim(sess, claim); err != nil {
		t.Fatal(err)
	}
	if len(disp.got) != 1 || disp.got[0].TransactionID != "04" {
		t.Fatalf("dispatched=%+v", disp.got)
	}
	if len(sess.marked) != 3 {
		t.Fatalf("marked=%v, malformed events must be marked too", sess.marked)
	}
	if len(sp.recs) != 2 || sp.recs[0].Offset != 11 || sp.recs[0].ArrivalMs != arrival.UnixMilli() {
		t.Fatalf("spooled=%+v", sp.recs)
	}
	s := h.Stats.Snapshot()
	if s.Consumed != 3 || s.Malformed != 2 || s.DeadLettered != 2 {
		t.Fatalf("stats=%+v", s)
	}
}

func TestConsumeClaimStopsOnSessionEnd(t *testing.T) {
	h := newHandler(&recordDisp{}, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	claim := &fakeClaim{msgs: make(chan *sarama.ConsumerMessage)}
	if err := h.ConsumeClaim(&fakeSession{ctx: ctx}, claim); err != nil {
		t.Fatal(err)
	}
}

func TestSetupRewindsOnlyBackwardAndOnce(t *testing.T) {
	cases := []struct {
		name      string
		committed int64
		want      int64 // -1: no reset
	}{
		{"lagging commit is rewound", 150, 100},
		{"nothing committed", sarama.OffsetNewest, 100},
		{"commit behind target kept", 80, -1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			off := &fakeOffsets{at: 100, committed: tc.committed}
			h := newHandler(&recordDisp{}, nil, off)
			sess := &fakeSession{ctx: context.Background(), claims: map[string][]int32{"tx": {0}}}
			if err := h.Setup(sess); err != nil {
				t.Fatal(err)
			}
			got, ok := sess.resets[0]
			if tc.want < 0 {
				if ok {
					t.Fatalf("unexpected reset to %d", got)
				}
				return
			}
			if !ok || got != tc.want {
				t.Fatalf("reset=%d ok=%v want=%d", got, ok, tc.want)
			}
		})
	}
}

func TestSetupSkipsPartitionsAlreadyOwned(t *testing.T) {
	off := &fakeOffsets{at: 100, committed: 150}
	h := newHandler(&recordDisp{}, nil, off)
	sess := &fakeSession{ctx: context.Background(), claims: map[string][]int32{"tx": {0, 1}}}
	_ = h.Setup(sess)
	_ = h.Cleanup(sess)

	sess2 := &fakeSession{ctx: context.Background(), claims: map[string][]int32{"tx": {1, 2}}}
	_ = h.Setup(sess2)
	if _, ok := sess2.resets[1]; ok {
		t.Fatal("partition 1 rewound twice")
	}
	if _, ok := sess2.resets[2]; !ok {
		t.Fatal("newly claimed partition 2 not rewound")
	}
	if off.calls != 3 {
		t.Fatalf("offset lookups=%d want=3", off.calls)
	}
	if !h.Active() {
		t.Fatal("session should be active")
	}
}

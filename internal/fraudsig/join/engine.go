package join

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/chenzhangda16/fraudsig/internal/fraudsig/enrich"
	"github.com/chenzhangda16/fraudsig/internal/fraudsig/model"
	"github.com/chenzhangda16/fraudsig/internal/fraudsig/window"
)

var ErrDuplicate = errors.New("transaction already buffered")

type Config struct {
	// Window is W, the forward bound. The backward bound is fixed at zero.
	Window time.Duration
	// Retention is R; must be >= Window. Zero means Window.
	Retention time.Duration
	MaxPerKey int

	// Filters default to DefaultFilters when nil.
	Filters []Filter
}

// Result describes one Process call.
type Result struct {
	Candidates []model.FraudCandidate
	// Overflowed holds entries dropped by the per-key hard cap.
	Overflowed []model.Transaction
	Evicted    int
	// Filtered counts rejected pairs by filter name.
	Filtered map[string]int
}

// Engine is the windowed self-join over one partition's buffer.
//
// Every unordered pair {a, b} within W is examined exactly once: when the
// later-arriving member is inserted it is matched backward (earlier event
// times) and forward (later event times, already buffered because they
// arrived first). Pairs are always reported as (earlier, later), so arrival
// order never produces a reversed or duplicate candidate.
type Engine struct {
	windowMs int64
	buf      *window.Buffer
	filters  []Filter
	now      func() time.Time
}

func New(cfg Config) (*Engine, error) {
	if cfg.Window <= 0 {
		return nil, fmt.Errorf("join: window must be > 0, got %s", cfg.Window)
	}
	if cfg.Retention == 0 {
		cfg.Retention = cfg.Window
	}
	if cfg.Retention < cfg.Window {
		return nil, fmt.Errorf("join: retention %s must be >= window %s", cfg.Retention, cfg.Window)
	}
	if cfg.MaxPerKey <= 0 {
		cfg.MaxPerKey = 1024
	}
	buf, err := window.New(window.Config{Retention: cfg.Retention, MaxPerKey: cfg.MaxPerKey})
	if err != nil {
		return nil, err
	}
	filters := cfg.Filters
	if filters == nil {
		filters = DefaultFilters()
	}
	return &Engine{
		windowMs: cfg.Window.Milliseconds(),
		buf:      buf,
		filters:  filters,
		now:      time.Now,
	}, nil
}

func (e *Engine) Buffer() *window.Buffer { return e.buf }

// Process inserts t and returns the candidates it completes.
// Too-late events return window.ErrTooLate and re-delivered events return
// ErrDuplicate; neither touches the buffer.
func (e *Engine) Process(t model.Transaction) (Result, error) {
	var res Result
	if e.buf.TooLate(t) {
		return res, window.ErrTooLate
	}
	if e.buffered(t) {
		return res, ErrDuplicate
	}

	overflowed, err := e.buf.Insert(t)
	if err != nil {
		return res, err
	}
	res.Overflowed = overflowed

	if !contains(overflowed, t) {
		key := t.AccountID
		// backward: v.EventTime in [t-W, t], reported as (v, t)
		for _, v := range e.buf.ScanWindow(key, t.EventTime, e.windowMs, 0) {
			e.consider(&res, v, t)
		}
		// forward: u.EventTime in (t, t+W], reported as (t, u)
		for _, u := range e.buf.ScanWindow(key, t.EventTime, 0, e.windowMs) {
			if u.EventTime == t.EventTime {
				continue
			}
			e.consider(&res, t, u)
		}
	}

	if wm, ok := e.buf.Watermark(t.AccountID); ok {
		res.Evicted = e.buf.Evict(t.AccountID, wm)
	}

	sort.SliceStable(res.Candidates, func(i, j int) bool {
		a, b := res.Candidates[i], res.Candidates[j]
		if a.SecondEventTime != b.SecondEventTime {
			return a.SecondEventTime < b.SecondEventTime
		}
		return a.FirstEventTime < b.FirstEventTime
	})
	return res, nil
}

func (e *Engine) consider(res *Result, first, second model.Transaction) {
	for _, f := range e.filters {
		if f.Reject(first, second) {
			if res.Filtered == nil {
				res.Filtered = make(map[string]int, len(e.filters))
			}
			res.Filtered[f.Name]++
			return
		}
	}
	c, err := enrich.Enrich(first, second)
	if err != nil {
		// unreachable with DefaultFilters in place
		if res.Filtered == nil {
			res.Filtered = make(map[string]int, 1)
		}
		res.Filtered[FilterInvariant]++
		return
	}
	c.DetectedAt = e.now().UnixMilli()
	res.Candidates = append(res.Candidates, c)
}

// buffered reports whether an event with t's id and event time is already held.
func (e *Engine) buffered(t model.Transaction) bool {
	for _, v := range e.buf.ScanWindow(t.AccountID, t.EventTime, 0, 0) {
		if v.TransactionID == t.TransactionID {
			return true
		}
	}
	return false
}

func contains(txs []model.Transaction, t model.Transaction) bool {
	for _, x := range txs {
		if x.TransactionID == t.TransactionID && x.EventTime == t.EventTime {
			return true
		}
	}
	return false
}

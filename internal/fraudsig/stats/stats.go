// Package stats holds process-wide counters read by the HTTP stats endpoint.
package stats

import (
	"sync/atomic"
	"time"
)

type Counters struct {
	Consumed          atomic.Int64
	Malformed         atomic.Int64
	TooLate           atomic.Int64
	Duplicates        atomic.Int64
	Overflowed        atomic.Int64
	Evicted           atomic.Int64
	Filtered          atomic.Int64
	Candidates        atomic.Int64
	Published         atomic.Int64
	PublishFailed     atomic.Int64
	Suppressed        atomic.Int64
	LookupMisses      atomic.Int64
	LookupTimeouts    atomic.Int64
	LookupErrors      atomic.Int64
	DeadLettered      atomic.Int64
	LastEventTimeMs   atomic.Int64
	LastPublishedAtMs atomic.Int64

	started time.Time
}

func New() *Counters { return &Counters{started: time.Now()} }

// Snapshot is a point-in-time copy, encoded by /stats.
type Snapshot struct {
	UptimeSec         int64 `json:"uptime_sec"`
	Consumed          int64 `json:"consumed"`
	Malformed         int64 `json:"malformed"`
	TooLate           int64 `json:"too_late"`
	Duplicates        int64 `json:"duplicates"`
	Overflowed        int64 `json:"overflowed"`
	Evicted           int64 `json:"evicted"`
	Filtered          int64 `json:"filtered"`
	Candidates        int64 `json:"candidates"`
	Published         int64 `json:"published"`
	PublishFailed     int64 `json:"publish_failed"`
	Suppressed        int64 `json:"suppressed"`
	LookupMisses      int64 `json:"lookup_misses"`
	LookupTimeouts    int64 `json:"lookup_timeouts"`
	LookupErrors      int64 `json:"lookup_errors"`
	DeadLettered      int64 `json:"dead_lettered"`
	LastEventTimeMs   int64 `json:"last_event_time_ms"`
	LastPublishedAtMs int64 `json:"last_published_at_ms"`
}

func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		UptimeSec:         int64(time.Since(c.started).Seconds()),
		Consumed:          c.Consumed.Load(),
		Malformed:         c.Malformed.Load(),
		TooLate:           c.TooLate.Load(),
		Duplicates:        c.Duplicates.Load(),
		Overflowed:        c.Overflowed.Load(),
		Evicted:           c.Evicted.Load(),
		Filtered:          c.Filtered.Load(),
		Candidates:        c.Candidates.Load(),
		Published:         c.Published.Load(),
		PublishFailed:     c.PublishFailed.Load(),
		Suppressed:        c.Suppressed.Load(),
		LookupMisses:      c.LookupMisses.Load(),
		LookupTimeouts:    c.LookupTimeouts.Load(),
		LookupErrors:      c.LookupErrors.Load(),
		DeadLettered:      c.DeadLettered.Load(),
		LastEventTimeMs:   c.LastEventTimeMs.Load(),
		LastPublishedAtMs: c.LastPublishedAtMs.Load(),
	}
}

// ObserveMax raises v to x if x is larger.
func ObserveMax(v *atomic.Int64, x int64) {
	for {
		cur := v.Load()
		if x <= cur || v.CompareAndSwap(cur, x) {
			return
		}
	}
}

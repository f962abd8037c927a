// Package dispatcher routes transactions to a fixed set of lanes by account
// id, so each account is always handled by the same worker.
package dispatcher

import (
	"context"
	"errors"
	"hash"
	"sync"

	"github.com/spaolacci/murmur3"

	"github.com/chenzhangda16/fraudsig/internal/fraudsig/model"
)

var ErrClosed = errors.New("dispatcher closed")

type Dispatcher struct {
	lanes      []chan model.Transaction
	hasherPool sync.Pool

	mu     sync.RWMutex
	closed bool
}

// New creates n lanes with the given channel depth. A full lane blocks
// Dispatch, which is the consumer's backpressure.
func New(n, depth int) *Dispatcher {
	if n <= 0 {
		n = 1
	}
	if depth < 0 {
		depth = 0
	}
	d := &Dispatcher{lanes: make([]chan model.Transaction, n)}
	for i := range d.lanes {
		d.lanes[i] = make(chan model.Transaction, depth)
	}
	d.hasherPool = sync.Pool{
		New: func() any { return murmur3.New32() },
	}
	return d
}

func (d *Dispatcher) N() int { return len(d.lanes) }

// Lane returns the lane index owning key.
func (d *Dispatcher) Lane(key string) int {
	h := d.hasherPool.Get().(hash.Hash32)
	h.Reset()
	_, _ = h.Write([]byte(key))
	sum := h.Sum32()
	d.hasherPool.Put(h)
	return int(sum % uint32(len(d.lanes)))
}

// Out returns the receive side of lane i.
func (d *Dispatcher) Out(i int) <-chan model.Transaction { return d.lanes[i] }

// Dispatch blocks until tx is queued on its lane or ctx is done.
func (d *Dispatcher) Dispatch(ctx context.Context, tx model.Transaction) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}
	select {
	case d.lanes[d.Lane(tx.AccountID)] <- tx:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close closes every lane. Workers drain what is queued and exit unless
// their context ends first.
// Dispatch callers must have returned or be cancelled first.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	for _, ch := range d.lanes {
		close(ch)
	}
}

// Depth reports queued items per lane.
func (d *Dispatcher) Depth() []int {
	out := make([]int, len(d.lanes))
	for i, ch := range d.lanes {
		out[i] = len(ch)
	}
	return out
}

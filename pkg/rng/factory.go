package rng

import (
	"hash/fnv"
	"math/rand"
	"sync"
	"time"
)

type Mode int

const (
	Deterministic Mode = iota
	Real
)

// Factory hands out named random streams derived from one base seed, so a
// run is reproducible per stream name regardless of call interleaving.
type Factory struct {
	baseSeed int64
	mode     Mode

	mu      sync.Mutex
	streams map[string]*rand.Rand
}

func New(mode Mode, seed int64) *Factory {
	if mode == Real {
		seed = time.Now().UnixNano()
	}
	return &Factory{
		baseSeed: seed,
		mode:     mode,
		streams:  make(map[string]*rand.Rand),
	}
}

func (f *Factory) Seed() int64 { return f.baseSeed }

// R returns the stream for name, creating it on first use.
// A *rand.Rand is not goroutine-safe; keep one stream per goroutine.
func (f *Factory) R(name string) *rand.Rand {
	f.mu.Lock()
	defer f.mu.Unlock()

	if r, ok := f.streams[name]; ok {
		return r
	}
	r := rand.New(rand.NewSource(deriveSeed(f.baseSeed, name)))
	f.streams[name] = r
	return r
}

// Perm returns a permutation of [0, n) drawn from the named stream.
func (f *Factory) Perm(name string, n int) []int {
	return f.R(name).Perm(n)
}

func deriveSeed(base int64, name string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	return int64(h.Sum64()) ^ base
}

package hash

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
)

type Hash32 [32]byte

func (h Hash32) String() string { return hex.EncodeToString(h[:]) }

// Builder builds a canonical byte sequence then hashes it to Hash32 (sha256).
//
// Encoding rules:
//   - Fixed-width integers: big-endian
//   - Bytes/string: u32(len) big-endian + bytes
//
// Length prefixes keep ("ab","c") and ("a","bc") apart, so the result is
// safe as an idempotency key in RocksDB or as a dedup key in memory.
type Builder struct {
	b []byte
}

func NewBuilder() *Builder { return &Builder{b: make([]byte, 0, 128)} }

func (d *Builder) Reset() { d.b = d.b[:0] }

func (d *Builder) Bytes() []byte { return append([]byte(nil), d.b...) }

func (d *Builder) PutU64(v uint64) *Builder {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	d.b = append(d.b, buf[:]...)
	return d
}

func (d *Builder) PutI64(v int64) *Builder { return d.PutU64(uint64(v)) }

// PutBytes appends: u32(len) + bytes
func (d *Builder) PutBytes(p []byte) *Builder {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(len(p)))
	d.b = append(d.b, buf[:]...)
	d.b = append(d.b, p...)
	return d
}

func (d *Builder) PutString(s string) *Builder { return d.PutBytes([]byte(s)) }

func (d *Builder) Sum32() Hash32 {
	return sha256.Sum256(d.b)
}

// Strings hashes the length-prefixed concatenation of ss.
func Strings(ss ...string) Hash32 {
	b := NewBuilder()
	for _, s := range ss {
		b.PutString(s)
	}
	return b.Sum32()
}

package ledger

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tecbot/gorocksdb"

	"github.com/chenzhangda16/fraudsig/pkg/hash"
)

var (
	mainPrefix = []byte("pl:")
	idxPrefix  = []byte("plx:")
	metaClean  = []byte("meta:pl_last_clean_bucket")
)

// Rocks is a durable TTL ledger. Every mark writes a main key holding its
// expiry and an index key under the expiry's time bucket, so eviction walks
// whole buckets instead of the full key space.
type Rocks struct {
	db *gorocksdb.DB
	ro *gorocksdb.ReadOptions
	wo *gorocksdb.WriteOptions

	ttlMs    int64
	bucketMs int64

	mu                sync.Mutex
	lastCleanedBucket int64
}

func OpenRocks(path string, ttl, bucket time.Duration) (*Rocks, error) {
	if bucket <= 0 {
		return nil, errors.New("ledger: bucket must be > 0")
	}
	if ttl <= 0 {
		return nil, errors.New("ledger: ttl must be > 0")
	}
	opts := gorocksdb.NewDefaultOptions()
	opts.SetCreateIfMissing(true)
	opts.IncreaseParallelism(2)

	db, err := gorocksdb.OpenDb(opts, path)
	if err != nil {
		return nil, fmt.Errorf("ledger: open %s: %w", path, err)
	}

	d := &Rocks{
		db:       db,
		ro:       gorocksdb.NewDefaultReadOptions(),
		wo:       gorocksdb.NewDefaultWriteOptions(),
		ttlMs:    ttl.Milliseconds(),
		bucketMs: bucket.Milliseconds(),
	}
	if err := d.loadLastCleanedBucket(); err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

func (d *Rocks) Close() error {
	if d.ro != nil {
		d.ro.Destroy()
	}
	if d.wo != nil {
		d.wo.Destroy()
	}
	if d.db != nil {
		d.db.Close()
	}
	return nil
}

func (d *Rocks) Seen(key hash.Hash32, nowMs int64) (bool, error) {
	val, err := d.db.Get(d.ro, makeMainKey(key))
	if err != nil {
		return false, err
	}
	defer val.Free()
	if !val.Exists() {
		return false, nil
	}
	return decodeI64(val.Data()) >= nowMs, nil
}

func (d *Rocks) Mark(key hash.Hash32, nowMs int64) error {
	exp := nowMs + d.ttlMs

	wb := gorocksdb.NewWriteBatch()
	defer wb.Destroy()
	wb.Put(makeMainKey(key), encodeI64(exp))
	wb.Put(makeIdxKey(exp/d.bucketMs, key), encodeI64(exp))
	return d.db.Write(d.wo, wb)
}

// Evict cleans every bucket strictly older than the bucket of nowMs.
func (d *Rocks) Evict(nowMs int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	target := nowMs/d.bucketMs - 1
	if target <= d.lastCleanedBucket {
		return nil
	}
	if err := d.cleanThrough(target); err != nil {
		return err
	}
	d.lastCleanedBucket = target
	return d.saveLastCleanedBucket()
}

// cleanThrough deletes index entries in buckets (lastCleanedBucket, target]
// and their main keys when the main key still carries the same expiry.
func (d *Rocks) cleanThrough(target int64) error {
	from := d.lastCleanedBucket + 1
	if from < 0 {
		from = 0
	}
	stop := makeIdxPrefix(target + 1)

	it := d.db.NewIterator(d.ro)
	defer it.Close()

	wb := gorocksdb.NewWriteBatch()
	defer wb.Destroy()

	for it.Seek(makeIdxPrefix(from)); it.Valid(); it.Next() {
		k := it.Key()
		kd := k.Data()
		if !bytes.HasPrefix(kd, idxPrefix) || bytes.Compare(kd, stop) >= 0 {
			k.Free()
			break
		}
		v := it.Value()
		expIdx := decodeI64(v.Data())
		v.Free()

		wb.Delete(kd)
		if h, ok := parseIdxKey(kd); ok {
			mainKey := makeMainKey(h)
			mv, err := d.db.Get(d.ro, mainKey)
			if err != nil {
				k.Free()
				return err
			}
			// a newer mark moved the key to a later bucket
			if mv.Exists() && decodeI64(mv.Data()) == expIdx {
				wb.Delete(mainKey)
			}
			mv.Free()
		}
		k.Free()

		if wb.Count() >= 5000 {
			if err := d.db.Write(d.wo, wb); err != nil {
				return err
			}
			wb.Clear()
		}
	}
	if err := it.Err(); err != nil {
		return err
	}
	if wb.Count() > 0 {
		return d.db.Write(d.wo, wb)
	}
	return nil
}

func (d *Rocks) loadLastCleanedBucket() error {
	val, err := d.db.Get(d.ro, metaClean)
	if err != nil {
		return err
	}
	defer val.Free()
	if !val.Exists() {
		d.lastCleanedBucket = -1
		return nil
	}
	d.lastCleanedBucket = decodeI64(val.Data())
	return nil
}

func (d *Rocks) saveLastCleanedBucket() error {
	return d.db.Put(d.wo, metaClean, encodeI64(d.lastCleanedBucket))
}

func makeMainKey(h hash.Hash32) []byte {
	k := make([]byte, 0, len(mainPrefix)+32)
	k = append(k, mainPrefix...)
	return append(k, h[:]...)
}

func makeIdxPrefix(bucket int64) []byte {
	// "plx:" + bucket(8) + ":"
	k := make([]byte, 0, len(idxPrefix)+8+1)
	k = append(k, idxPrefix...)
	var b8 [8]byte
	binary.BigEndian.PutUint64(b8[:], uint64(bucket))
	k = append(k, b8[:]...)
	return append(k, ':')
}

func makeIdxKey(bucket int64, h hash.Hash32) []byte {
	return append(makeIdxPrefix(bucket), h[:]...)
}

func parseIdxKey(k []byte) (hash.Hash32, bool) {
	var h hash.Hash32
	if len(k) != len(idxPrefix)+8+1+32 {
		return h, false
	}
	copy(h[:], k[len(k)-32:])
	return h, true
}

func encodeI64(x int64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(x))
	return b[:]
}

func decodeI64(b []byte) int64 {
	if len(b) < 8 {
		return 0
	}
	return int64(binary.BigEndian.Uint64(b[:8]))
}

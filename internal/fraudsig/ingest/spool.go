// Package ingest keeps a dead-letter copy of raw payloads the normalizer
// rejected, so they can be inspected or replayed after a fix.
package ingest

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

type Spool interface {
	Append(r Record) error
	Close() error
}

type Record struct {
	Partition int32
	Offset    int64
	ArrivalMs int64
	Reason    string
	Raw       []byte
}

// FileSpool appends length-framed records and fsyncs each one.
//
// record = [p:int32][off:int64][arrival:int64][nr:uint16][reason:nr][n:uint32][raw:n]
type FileSpool struct {
	mu sync.Mutex
	f  *os.File
	w  *bufio.Writer
}

func NewFileSpool(path string) (*FileSpool, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &FileSpool{f: f, w: bufio.NewWriterSize(f, 64<<10)}, nil
}

const hdrLen = 4 + 8 + 8 + 2

func (s *FileSpool) Append(r Record) error {
	reason := r.Reason
	if len(reason) > 0xffff {
		reason = reason[:0xffff]
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var hdr [hdrLen]byte
	binary.BigEndian.PutUint32(hdr[0:4], uint32(r.Partition))
	binary.BigEndian.PutUint64(hdr[4:12], uint64(r.Offset))
	binary.BigEndian.PutUint64(hdr[12:20], uint64(r.ArrivalMs))
	binary.BigEndian.PutUint16(hdr[20:22], uint16(len(reason)))
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(r.Raw)))

	for _, p := range [][]byte{hdr[:], []byte(reason), n[:], r.Raw} {
		if _, err := s.w.Write(p); err != nil {
			return err
		}
	}
	if err := s.w.Flush(); err != nil {
		return err
	}
	return s.f.Sync()
}

func (s *FileSpool) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.w.Flush()
	return s.f.Close()
}

// ErrTruncated reports a record cut short, typically by a crash mid-write.
var ErrTruncated = errors.New("spool: truncated record")

// Read decodes records from r until EOF, calling fn for each.
func Read(r io.Reader, fn func(Record) error) error {
	br := bufio.NewReader(r)
	for {
		var hdr [hdrLen]byte
		if _, err := io.ReadFull(br, hdr[:]); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("%w: header: %v", ErrTruncated, err)
		}
		rec := Record{
			Partition: int32(binary.BigEndian.Uint32(hdr[0:4])),
			Offset:    int64(binary.BigEndian.Uint64(hdr[4:12])),
			ArrivalMs: int64(binary.BigEndian.Uint64(hdr[12:20])),
		}
		reason := make([]byte, binary.BigEndian.Uint16(hdr[20:22]))
		if _, err := io.ReadFull(br, reason); err != nil {
			return fmt.Errorf("%w: reason: %v", ErrTruncated, err)
		}
		rec.Reason = string(reason)

		var n [4]byte
		if _, err := io.ReadFull(br, n[:]); err != nil {
			return fmt.Errorf("%w: length: %v", ErrTruncated, err)
		}
		rec.Raw = make([]byte, binary.BigEndian.Uint32(n[:]))
		if _, err := io.ReadFull(br, rec.Raw); err != nil {
			return fmt.Errorf("%w: payload: %v", ErrTruncated, err)
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
}

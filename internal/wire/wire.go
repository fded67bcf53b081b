package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"time"
)

const (
	version byte = 1

	flagCompressed byte = 1 << 0

	hdrLen = 4 + 1 + 1 + 8 + 8 + 4
)

var (
	ErrCorrupt = errors.New("tiered: corrupt entry")
	magic4     = [...]byte{'R', 'P', 'T', 'C'}
)

// Entry is one cached value with the metadata needed to judge freshness in
// either tier. Both tiers store the same framed bytes, so promoting a shared
// hit into the fast tier is a plain copy.
type Entry struct {
	CreatedAt  time.Time
	TTL        time.Duration
	Compressed bool
	Payload    []byte
}

// Age reports how long ago the entry was written.
func (e Entry) Age(now time.Time) time.Duration { return now.Sub(e.CreatedAt) }

// Expired reports whether the entry outlived its TTL. A zero TTL never expires.
func (e Entry) Expired(now time.Time) bool {
	return e.TTL > 0 && e.Age(now) > e.TTL
}

// Remaining returns the TTL left at now, never negative.
func (e Entry) Remaining(now time.Time) time.Duration {
	if e.TTL <= 0 {
		return 0
	}
	if r := e.TTL - e.Age(now); r > 0 {
		return r
	}
	return 0
}

func hasMagic(b []byte) bool {
	return len(b) >= 4 && bytes.Equal(b[:4], magic4[:])
}

// Encode frames e as:
//
//	magic(4) | ver(1) | flags(1) | created(i64 unix nanos be) | ttl(i64 nanos be) | vlen(u32 be) | payload(vlen)
func Encode(e Entry) []byte {
	var buf bytes.Buffer
	buf.Grow(hdrLen + len(e.Payload))

	buf.Write(magic4[:])
	buf.WriteByte(version)

	var flags byte
	if e.Compressed {
		flags |= flagCompressed
	}
	buf.WriteByte(flags)

	var u8 [8]byte
	var u4 [4]byte

	binary.BigEndian.PutUint64(u8[:], uint64(e.CreatedAt.UnixNano()))
	buf.Write(u8[:])

	binary.BigEndian.PutUint64(u8[:], uint64(e.TTL))
	buf.Write(u8[:])

	binary.BigEndian.PutUint32(u4[:], uint32(len(e.Payload)))
	buf.Write(u4[:])

	buf.Write(e.Payload)
	return buf.Bytes()
}

// Decode parses a frame produced by Encode. The returned payload aliases b.
// Trailing bytes and unknown flags are treated as corruption.
func Decode(b []byte) (Entry, error) {
	if len(b) < hdrLen || !hasMagic(b) || b[4] != version {
		return Entry{}, ErrCorrupt
	}
	flags := b[5]
	if flags&^flagCompressed != 0 {
		return Entry{}, ErrCorrupt
	}

	off := 6
	created := int64(binary.BigEndian.Uint64(b[off : off+8]))
	off += 8
	ttl := int64(binary.BigEndian.Uint64(b[off : off+8]))
	off += 8
	if ttl < 0 {
		return Entry{}, ErrCorrupt
	}
	vlen := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	if vlen != len(b)-off {
		return Entry{}, ErrCorrupt
	}

	return Entry{
		CreatedAt:  time.Unix(0, created),
		TTL:        time.Duration(ttl),
		Compressed: flags&flagCompressed != 0,
		Payload:    b[off : off+vlen],
	}, nil
}

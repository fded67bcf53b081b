// Package compress provides the payload compressors used by the tiered
// cache for large or explicitly compressed entries.
package compress

import (
	"fmt"
	"sync"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
)

// Compressor compresses and restores cache payloads. Implementations must be
// safe for concurrent use.
type Compressor interface {
	Name() string
	Compress(src []byte) ([]byte, error)
	Decompress(src []byte) ([]byte, error)
}

const (
	NameZstd   = "zstd"
	NameSnappy = "snappy"
)

// ByName returns the named compressor. An empty name selects zstd.
func ByName(name string) (Compressor, error) {
	switch name {
	case "", NameZstd:
		return NewZstd()
	case NameSnappy:
		return Snappy{}, nil
	default:
		return nil, fmt.Errorf("compress: unknown compressor %q", name)
	}
}

// Zstd wraps a shared klauspost encoder/decoder pair. EncodeAll and
// DecodeAll are safe for concurrent use on a single instance.
type Zstd struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

var (
	zstdOnce sync.Once
	zstdInst *Zstd
	zstdErr  error
)

// NewZstd returns the process-wide zstd compressor.
func NewZstd() (*Zstd, error) {
	zstdOnce.Do(func() {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			zstdErr = err
			return
		}
		dec, err := zstd.NewReader(nil)
		if err != nil {
			zstdErr = err
			return
		}
		zstdInst = &Zstd{enc: enc, dec: dec}
	})
	return zstdInst, zstdErr
}

func (*Zstd) Name() string { return NameZstd }

func (z *Zstd) Compress(src []byte) ([]byte, error) {
	return z.enc.EncodeAll(src, make([]byte, 0, len(src)/2)), nil
}

func (z *Zstd) Decompress(src []byte) ([]byte, error) {
	out, err := z.dec.DecodeAll(src, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	return out, nil
}

// Snappy trades ratio for speed.
type Snappy struct{}

func (Snappy) Name() string { return NameSnappy }

func (Snappy) Compress(src []byte) ([]byte, error) {
	return snappy.Encode(nil, src), nil
}

func (Snappy) Decompress(src []byte) ([]byte, error) {
	out, err := snappy.Decode(nil, src)
	if err != nil {
		return nil, fmt.Errorf("snappy decompress: %w", err)
	}
	return out, nil
}

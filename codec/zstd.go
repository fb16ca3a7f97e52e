package codec

import (
	"github.com/klauspost/compress/zstd"
)

// Zstd wraps another codec and compresses its encoded output with zstd.
// Decode reverses the compression before handing the bytes to Inner, so
// the wrapped codec round-trips exactly.
// The zero value is NOT ready to use. Construct with NewZstd or MustZstd.
type Zstd[V any] struct {
	inner Codec[V]
	enc   *zstd.Encoder
	dec   *zstd.Decoder
}

// NewZstd constructs a Zstd codec around inner. The encoder and decoder are
// shared and safe for concurrent use via EncodeAll/DecodeAll.
func NewZstd[V any](inner Codec[V]) (Zstd[V], error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return Zstd[V]{}, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return Zstd[V]{}, err
	}
	return Zstd[V]{inner: inner, enc: enc, dec: dec}, nil
}

// MustZstd is like NewZstd but panics on error.
func MustZstd[V any](inner Codec[V]) Zstd[V] {
	c, err := NewZstd[V](inner)
	if err != nil {
		panic(err)
	}
	return c
}

func (c Zstd[V]) Encode(v V) ([]byte, error) {
	b, err := c.inner.Encode(v)
	if err != nil {
		return nil, err
	}
	return c.enc.EncodeAll(b, make([]byte, 0, len(b)/2)), nil
}

func (c Zstd[V]) Decode(b []byte) (V, error) {
	var zero V
	raw, err := c.dec.DecodeAll(b, nil)
	if err != nil {
		return zero, err
	}
	return c.inner.Decode(raw)
}

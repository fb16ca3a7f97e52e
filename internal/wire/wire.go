package wire

import (
	"bytes"
	"encoding/binary"
	"errors"

	"github.com/zeebo/blake3"
)

const (
	version byte = 1

	sumLen = 8 // leading bytes of the blake3 payload digest
)

var (
	ErrCorrupt = errors.New("artifactcache: corrupt record")

	magic4 = [...]byte{'A', 'R', 'T', 'C'}
)

// Record is the storable form of a cached value: raw payload bytes plus the
// declared metadata that must survive a round trip.
type Record struct {
	ContentType string
	Payload     []byte
}

func hasMagic(b []byte) bool {
	return len(b) >= 4 && bytes.Equal(b[:4], magic4[:])
}

func sum8(payload []byte) [sumLen]byte {
	d := blake3.Sum256(payload)
	var s [sumLen]byte
	copy(s[:], d[:sumLen])
	return s
}

// Encode frames a record:
//
//	magic(4) | ver(1) | ctlen(u8) | content-type(ctlen) | sum(8) | vlen(u32 be) | payload(vlen)
//
// sum is the first 8 bytes of the blake3 digest of payload. Content types
// longer than 255 bytes are rejected.
func Encode(r Record) ([]byte, error) {
	if len(r.ContentType) > 0xFF {
		return nil, errors.New("artifactcache: content type too long")
	}

	var buf bytes.Buffer
	buf.Grow(4 + 1 + 1 + len(r.ContentType) + sumLen + 4 + len(r.Payload))

	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(byte(len(r.ContentType)))
	buf.WriteString(r.ContentType)

	s := sum8(r.Payload)
	buf.Write(s[:])

	var u4 [4]byte
	binary.BigEndian.PutUint32(u4[:], uint32(len(r.Payload)))
	buf.Write(u4[:])

	buf.Write(r.Payload)
	return buf.Bytes(), nil
}

// Decode parses and verifies a framed record. Framing is strict: trailing
// bytes, a bad checksum, or an unknown version all fail with ErrCorrupt.
func Decode(b []byte) (Record, error) {
	const fixed = 4 + 1 + 1
	if len(b) < fixed || !hasMagic(b) || b[4] != version {
		return Record{}, ErrCorrupt
	}

	off := 5
	ctlen := int(b[off])
	off++
	if off+ctlen+sumLen+4 > len(b) {
		return Record{}, ErrCorrupt
	}
	contentType := string(b[off : off+ctlen])
	off += ctlen

	var want [sumLen]byte
	copy(want[:], b[off:off+sumLen])
	off += sumLen

	vlen := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	if vlen != len(b)-off {
		return Record{}, ErrCorrupt
	}

	payload := b[off:]
	if sum8(payload) != want {
		return Record{}, ErrCorrupt
	}

	return Record{ContentType: contentType, Payload: payload}, nil
}

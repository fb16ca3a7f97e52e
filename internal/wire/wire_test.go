package wire

import (
	"bytes"
	"strings"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	cases := []Record{
		{ContentType: "image/png", Payload: []byte("\x89PNG payload")},
		{ContentType: "", Payload: []byte("opaque chunk")},
		{ContentType: "application/zip", Payload: bytes.Repeat([]byte{0xAB}, 1<<16)},
	}
	for _, want := range cases {
		b, err := Encode(want)
		if err != nil {
			t.Fatalf("Encode: %v", err)
		}
		got, err := Decode(b)
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if got.ContentType != want.ContentType || !bytes.Equal(got.Payload, want.Payload) {
			t.Fatalf("round trip mismatch: %q/%d vs %q/%d",
				got.ContentType, len(got.Payload), want.ContentType, len(want.Payload))
		}
	}
}

// Decode must reject trailing bytes (strict framing).
func TestDecodeRejectsTrailing(t *testing.T) {
	b, err := Encode(Record{ContentType: "image/png", Payload: []byte("x")})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	b = append(b, 0xDE, 0xAD)
	if _, err := Decode(b); err == nil {
		t.Fatalf("Decode should reject trailing bytes")
	}
}

func TestDecodeRejectsFlippedPayload(t *testing.T) {
	b, err := Encode(Record{ContentType: "image/png", Payload: []byte("checksummed")})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	b[len(b)-1] ^= 0x01
	if _, err := Decode(b); err == nil {
		t.Fatalf("Decode should reject a payload failing its checksum")
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	for _, b := range [][]byte{nil, []byte("x"), []byte("not-wire-format")} {
		if _, err := Decode(b); err == nil {
			t.Fatalf("Decode should reject %q", b)
		}
	}
}

func TestEncodeContentTypeLength(t *testing.T) {
	// boundary (255) -> ok
	ct := strings.Repeat("a", 0xFF)
	if _, err := Encode(Record{ContentType: ct, Payload: []byte("x")}); err != nil {
		t.Fatalf("Encode should accept a 255-byte content type: %v", err)
	}
	// 256 -> error
	if _, err := Encode(Record{ContentType: ct + "a", Payload: []byte("x")}); err == nil {
		t.Fatalf("Encode should reject content types over 255 bytes")
	}
}

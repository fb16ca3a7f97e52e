package artifactcache

import (
	"bytes"
	"testing"
)

func TestEveryPartitionHasSpec(t *testing.T) {
	for _, p := range Partitions() {
		spec, ok := partitionSpecs[p]
		if !ok {
			t.Fatalf("%s: no spec", p)
		}
		if spec.keyField == "" || spec.validate == nil || spec.encode == nil || spec.decode == nil {
			t.Fatalf("%s: incomplete spec", p)
		}
	}
	if len(partitionSpecs) != len(Partitions()) {
		t.Fatalf("spec table and Partitions() disagree")
	}
}

// serialize/deserialize must be exact inverses, including the declared
// content type, for every partition.
func TestSpecsAreInverses(t *testing.T) {
	for _, p := range Partitions() {
		spec := partitionSpecs[p]
		want := sampleValue(p)
		rec, err := spec.encode(want)
		if err != nil {
			t.Fatalf("%s: encode: %v", p, err)
		}
		got, err := spec.decode(rec)
		if err != nil {
			t.Fatalf("%s: decode: %v", p, err)
		}
		switch w := want.(type) {
		case Blob:
			g, ok := got.(Blob)
			if !ok || !bytes.Equal(g.Data, w.Data) || g.ContentType != w.ContentType {
				t.Fatalf("%s: blob round trip mismatch", p)
			}
		case Chunk:
			g, ok := got.(Chunk)
			if !ok || !bytes.Equal(g.Data, w.Data) {
				t.Fatalf("%s: chunk round trip mismatch", p)
			}
		}
	}
}

// context images are stored compressed; the record payload must differ from
// the raw bytes and still decode back exactly.
func TestContextImageCompressed(t *testing.T) {
	spec := partitionSpecs[ContextImage]
	want := Blob{Data: bytes.Repeat([]byte("frame-row "), 1024), ContentType: "image/jpeg"}

	rec, err := spec.encode(want)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if bytes.Equal(rec.Payload, want.Data) {
		t.Fatalf("context image payload was not compressed")
	}
	if len(rec.Payload) >= len(want.Data) {
		t.Fatalf("compressible payload did not shrink: %d >= %d", len(rec.Payload), len(want.Data))
	}

	got, err := spec.decode(rec)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal(got.(Blob).Data, want.Data) || got.(Blob).ContentType != want.ContentType {
		t.Fatalf("compressed round trip mismatch")
	}
}

func TestValidatorsRejectWrongShape(t *testing.T) {
	preview := partitionSpecs[ProjectPreview]
	if err := preview.validate(Chunk{Data: []byte("x")}); err == nil {
		t.Fatalf("preview validator accepted a Chunk")
	}
	if err := preview.validate(Blob{Data: []byte("x"), ContentType: "video/mp4"}); err == nil {
		t.Fatalf("preview validator accepted a non-image content type")
	}
	if err := preview.validate(Blob{ContentType: "image/png"}); err == nil {
		t.Fatalf("preview validator accepted an empty payload")
	}

	chunk := partitionSpecs[CompressedChunk]
	if err := chunk.validate(Blob{Data: []byte("x"), ContentType: "image/png"}); err == nil {
		t.Fatalf("chunk validator accepted a Blob")
	}
	if err := chunk.validate(Chunk{Data: []byte("x")}); err != nil {
		t.Fatalf("chunk validator rejected a valid chunk: %v", err)
	}

	archive := partitionSpecs[CompressedImage]
	if err := archive.validate(Blob{Data: []byte("x"), ContentType: "application/zip"}); err != nil {
		t.Fatalf("compressed-image validator rejected a zip blob: %v", err)
	}
}

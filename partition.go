package artifactcache

import (
	"errors"
	"fmt"
	"strings"

	"github.com/annolab/artifactcache/codec"
	"github.com/annolab/artifactcache/internal/wire"
)

// Partition identifies one independently keyed, independently typed region
// of the cache. The tag doubles as the physical store name, so the values
// must stay stable across releases.
type Partition string

const (
	ProjectPreview      Partition = "project-preview"
	TaskPreview         Partition = "task-preview"
	JobPreview          Partition = "job-preview"
	CloudStoragePreview Partition = "cloud-storage-preview"
	ModelPreview        Partition = "model-preview"
	CompressedChunk     Partition = "compressed-chunk"
	CompressedImage     Partition = "compressed-image"
	ContextImage        Partition = "context-image"
)

// Partitions returns every known partition in stable order. New partitions
// are appended here and picked up by the additive schema upgrade on the
// next open; existing stores are never renamed or removed.
func Partitions() []Partition {
	return []Partition{
		ProjectPreview,
		TaskPreview,
		JobPreview,
		CloudStoragePreview,
		ModelPreview,
		CompressedChunk,
		CompressedImage,
		ContextImage,
	}
}

func partitionNames() []string {
	ps := Partitions()
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = string(p)
	}
	return out
}

// Value is a cacheable artifact. The closed set of implementations is Blob
// and Chunk; which of the two a partition accepts is fixed at compile time
// in its spec. Callers must not mutate buffers they hand in or get back.
type Value interface{ artifactValue() }

// Blob is a binary artifact with a declared content type (a preview
// thumbnail, an encoded image). The content type is metadata that must
// survive a cache round trip byte-for-byte.
type Blob struct {
	Data        []byte
	ContentType string
}

func (Blob) artifactValue() {}

// Chunk is an opaque buffer already compressed by the producer (a decoded
// video/image chunk in its transport form). It carries no metadata.
type Chunk struct {
	Data []byte
}

func (Chunk) artifactValue() {}

// partitionSpec fixes a partition's key field, validation rule, and
// serialization contract. encode/decode must be exact inverses.
type partitionSpec struct {
	keyField string
	validate func(Value) error
	encode   func(Value) (wire.Record, error)
	decode   func(wire.Record) (Value, error)
}

// context images are large raw frames; compress them transparently before
// they hit the storage engine.
var contextImageZstd = codec.MustZstd[[]byte](codec.Bytes{})

var partitionSpecs = map[Partition]partitionSpec{
	ProjectPreview:      blobSpec(requireImage),
	TaskPreview:         blobSpec(requireImage),
	JobPreview:          blobSpec(requireImage),
	CloudStoragePreview: blobSpec(requireImage),
	ModelPreview:        blobSpec(requireImage),
	CompressedChunk:     chunkSpec(),
	CompressedImage:     blobSpec(nil),
	ContextImage:        zstdBlobSpec(requireImage),
}

func requireImage(b Blob) error {
	if !strings.HasPrefix(b.ContentType, "image/") {
		return fmt.Errorf("content type %q is not an image", b.ContentType)
	}
	return nil
}

func validateBlob(extra func(Blob) error) func(Value) error {
	return func(v Value) error {
		b, ok := v.(Blob)
		if !ok {
			return fmt.Errorf("want Blob, got %T", v)
		}
		if len(b.Data) == 0 {
			return errors.New("empty payload")
		}
		if b.ContentType == "" {
			return errors.New("missing content type")
		}
		if extra != nil {
			return extra(b)
		}
		return nil
	}
}

func blobSpec(extra func(Blob) error) partitionSpec {
	return partitionSpec{
		keyField: "id",
		validate: validateBlob(extra),
		encode: func(v Value) (wire.Record, error) {
			b := v.(Blob)
			return wire.Record{ContentType: b.ContentType, Payload: b.Data}, nil
		},
		decode: func(r wire.Record) (Value, error) {
			if len(r.Payload) == 0 || r.ContentType == "" {
				return nil, wire.ErrCorrupt
			}
			return Blob{Data: r.Payload, ContentType: r.ContentType}, nil
		},
	}
}

// zstdBlobSpec is blobSpec with the payload compressed on the way in and
// decompressed on the way out. The declared content type still describes
// the decompressed bytes.
func zstdBlobSpec(extra func(Blob) error) partitionSpec {
	return partitionSpec{
		keyField: "id",
		validate: validateBlob(extra),
		encode: func(v Value) (wire.Record, error) {
			b := v.(Blob)
			packed, err := contextImageZstd.Encode(b.Data)
			if err != nil {
				return wire.Record{}, err
			}
			return wire.Record{ContentType: b.ContentType, Payload: packed}, nil
		},
		decode: func(r wire.Record) (Value, error) {
			if r.ContentType == "" {
				return nil, wire.ErrCorrupt
			}
			data, err := contextImageZstd.Decode(r.Payload)
			if err != nil {
				return nil, err
			}
			if len(data) == 0 {
				return nil, wire.ErrCorrupt
			}
			return Blob{Data: data, ContentType: r.ContentType}, nil
		},
	}
}

func chunkSpec() partitionSpec {
	return partitionSpec{
		keyField: "id",
		validate: func(v Value) error {
			c, ok := v.(Chunk)
			if !ok {
				return fmt.Errorf("want Chunk, got %T", v)
			}
			if len(c.Data) == 0 {
				return errors.New("empty payload")
			}
			return nil
		},
		encode: func(v Value) (wire.Record, error) {
			return wire.Record{Payload: v.(Chunk).Data}, nil
		},
		decode: func(r wire.Record) (Value, error) {
			if len(r.Payload) == 0 || r.ContentType != "" {
				return nil, wire.ErrCorrupt
			}
			return Chunk{Data: r.Payload}, nil
		},
	}
}

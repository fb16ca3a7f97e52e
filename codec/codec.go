// Package codec provides value (de)serialization for artifactcache.
// Partition specs compose these; they are also usable on their own.
package codec

// Codec encodes/decodes values V to []byte for storage.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}

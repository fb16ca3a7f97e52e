package bolt

import (
	"time"

	"github.com/annolab/artifactcache/codec"
)

const (
	// bucketMeta is reserved; partition tags never start with '_'.
	bucketMeta  = "__meta"
	keyManifest = "manifest"
)

// manifest records the schema a database file was last opened with.
type manifest struct {
	Version    uint32    `cbor:"version"`
	Partitions []string  `cbor:"partitions"`
	CreatedAt  time.Time `cbor:"created_at"`
}

var manifestCodec = codec.MustCBOR[manifest](false)

// mergePartitions keeps stored order and appends the requested partitions
// that are not present yet. Nothing is ever removed.
func mergePartitions(stored, requested []string) []string {
	seen := make(map[string]struct{}, len(stored))
	out := append([]string(nil), stored...)
	for _, p := range stored {
		seen[p] = struct{}{}
	}
	for _, p := range requested {
		if _, ok := seen[p]; !ok {
			out = append(out, p)
			seen[p] = struct{}{}
		}
	}
	return out
}

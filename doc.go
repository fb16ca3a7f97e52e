// Package artifactcache implements a persistent, partitioned, best-effort
// cache for expensive binary artifacts (preview thumbnails, decoded chunks,
// context images) produced by an annotation workload. One local database
// holds a fixed set of named partitions; each partition declares its own
// value type, serialization contract, and validation rule.
//
// The public contract is deliberately narrow: Get and Set never fail. A
// cache fault and a cache miss are indistinguishable to the caller - both
// mean "recompute the value the slow way". The only operation allowed to
// surface an error is Clear, because the caller explicitly asked to reclaim
// space and must know if that did not happen.
//
// Components:
//   - engine.Engine: storage backend (bolt file database, redis server,
//     volatile bigcache fallback). Owns transactions, quota detection and
//     version-change notification.
//   - Partition: closed enumeration of stores, each mapped to a concrete
//     value type (Blob or Chunk) with a validator and codec.
//   - internal/wire: record framing with content-type metadata and a
//     blake3 payload checksum; corrupt records are deleted on read.
//
// Policy:
//   - At most one engine open is in flight; concurrent callers share it.
//   - A write rejected for quota trips a sticky process-wide flag; reads
//     and writes short-circuit until Clear.
//   - A version change from another writer invalidates the connection
//     permanently; the process must restart to cache again.
package artifactcache

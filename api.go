package artifactcache

import (
	"context"

	"github.com/annolab/artifactcache/engine"
)

// Cache is the best-effort artifact cache. Get and Set never fail: every
// fault on the accelerate-a-read/write path is absorbed and reported as a
// miss or a rejected write. Clear is the one operation that may fail.
type Cache interface {
	// Get returns the cached value for (partition, key), or (nil, false)
	// when absent, disabled, quota-stuck, invalidated, or faulted.
	Get(ctx context.Context, p Partition, key string) (Value, bool)

	// Set validates, serializes and upserts a value. Reports whether the
	// record was committed.
	Set(ctx context.Context, p Partition, key string, v Value) bool

	// Estimate reports the storage budget and usage, or nil when the
	// engine cannot measure it. Purely informational.
	Estimate(ctx context.Context) *engine.Estimate

	// Clear wipes the entire database (all partitions), resets the sticky
	// quota flag, and re-initializes a fresh database so callers can keep
	// caching without a restart.
	Clear(ctx context.Context) error

	// Close releases the connection and the hot layer.
	Close(ctx context.Context) error
}

// Options tune the cache. Only Engine is required.
type Options struct {
	// Required
	Engine engine.Engine

	// Database is the database name the engine opens. "" => "artifacts".
	Database string

	// Version is the schema version. 0 => current compiled-in version.
	// Bump it when Partitions() grows; the upgrade is additive-only.
	Version uint32

	// Enabled gates all caching and is read fresh on every operation.
	// nil => always enabled. When it reports false, Get misses, Set
	// rejects, and the engine is never touched.
	Enabled func() bool

	Logger Logger // if nil, NopLogger is used
	Hooks  Hooks  // if nil, NopHooks is used

	// HotBytes enables an in-process decoded-value layer (ristretto) of
	// roughly this many bytes in front of the engine. 0 disables it.
	HotBytes int64
}

// SchemaVersion is the partition layout this build writes.
const SchemaVersion uint32 = 1

func New(opts Options) (Cache, error) {
	return newCache(opts)
}

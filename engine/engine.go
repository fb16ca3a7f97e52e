// Package engine defines the storage abstraction used by artifactcache.
//
// An Engine opens named, versioned databases. A database is a set of
// partitions created during open; each partition is an independently keyed
// byte store. Implementations MUST be byte-for-byte transparent: Get must
// return exactly the same []byte previously passed to Put for a key. Any
// internal transform (compression, framing) must be fully reversed before
// the bytes are handed back.
//
// Schema evolution is additive-only: opening an existing database at a
// newer version creates the partitions that do not exist yet and never
// removes or rewrites existing ones. Opening at an older version than the
// one on disk fails with ErrVersionBehind.
package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
)

var (
	// ErrQuotaExceeded reports a write the backend rejected because the
	// configured storage budget is full. The cache treats it as sticky.
	ErrQuotaExceeded = errors.New("engine: storage quota exceeded")

	// ErrClosed reports an operation on a connection that was closed,
	// either explicitly or by a version change from another writer.
	ErrClosed = errors.New("engine: connection closed")

	// ErrVersionBehind reports an open at a version older than the one
	// already on disk. The caller must upgrade before it can connect.
	ErrVersionBehind = errors.New("engine: database version is behind the stored version")

	// ErrUnknownPartition reports access to a partition that was not part
	// of the open configuration.
	ErrUnknownPartition = errors.New("engine: unknown partition")
)

// Config describes the database an Open call targets.
type Config struct {
	// Name identifies the database. For file-backed engines it becomes the
	// file name; for server-backed engines a key prefix.
	Name string

	// Version is the schema version the caller compiles against.
	Version uint32

	// Partitions lists every partition that must exist after a successful
	// open. Missing ones are created; existing ones are left untouched.
	Partitions []string

	// OnVersionChange, if non-nil, is invoked at most once when another
	// writer upgrades or deletes the database while this connection is
	// open. The engine stops serving the connection before calling it.
	// Implementations without a change source never call it.
	OnVersionChange func(newVersion uint32)
}

// Engine opens and drops named databases.
type Engine interface {
	Open(ctx context.Context, cfg Config) (Conn, error)

	// Drop deletes the entire database: every partition and all records.
	// Dropping a database that does not exist is not an error.
	Drop(ctx context.Context, name string) error
}

// Conn is an open database connection. Safe for concurrent use.
type Conn interface {
	// Get returns (payload, true, nil) on hit; (nil, false, nil) on miss.
	Get(ctx context.Context, partition, key string) ([]byte, bool, error)

	// Put upserts a record. Returns ErrQuotaExceeded (possibly wrapped)
	// when the write would exceed the storage budget.
	Put(ctx context.Context, partition, key string, payload []byte) error

	// Delete removes a record (best-effort; absent keys are not an error).
	Delete(ctx context.Context, partition, key string) error

	// Estimate reports the storage budget and current usage. Engines that
	// cannot measure either return (nil, nil).
	Estimate(ctx context.Context) (*Estimate, error)

	// Close releases the connection. Safe to call more than once.
	Close(ctx context.Context) error
}

// Estimate is a point-in-time view of the storage budget.
type Estimate struct {
	Quota uint64 // configured budget in bytes
	Usage uint64 // bytes currently allocated
}

func (e Estimate) String() string {
	return fmt.Sprintf("%s of %s", humanize.IBytes(e.Usage), humanize.IBytes(e.Quota))
}

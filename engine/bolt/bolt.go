// Package bolt implements the artifactcache engine on a bbolt file
// database. One file per database name; one bucket per partition plus a
// meta bucket holding the schema manifest. A sidecar version file next to
// the database carries the schema version across processes; it is watched
// so that an upgrade or deletion by another writer invalidates every other
// open connection.
package bolt

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	bbolt "go.etcd.io/bbolt"

	"github.com/annolab/artifactcache/engine"
)

type Config struct {
	// Dir holds the database files. Created on first open.
	Dir string

	// MaxBytes is the storage budget per database. A write that would grow
	// the file past it fails with engine.ErrQuotaExceeded. 0 disables the
	// budget and makes Estimate unsupported.
	MaxBytes int64

	FileMode os.FileMode   // 0 => 0600
	Timeout  time.Duration // file-lock wait on open; 0 => 1s
}

type Engine struct {
	cfg Config
}

var _ engine.Engine = (*Engine)(nil)

func New(cfg Config) (*Engine, error) {
	if cfg.Dir == "" {
		return nil, errors.New("bolt: dir is required")
	}
	return &Engine{cfg: cfg}, nil
}

func (e *Engine) dbPath(name string) string {
	return filepath.Join(e.cfg.Dir, name+".db")
}

func (e *Engine) versionPath(name string) string {
	return filepath.Join(e.cfg.Dir, name+".version")
}

func (e *Engine) Open(_ context.Context, cfg engine.Config) (engine.Conn, error) {
	if err := os.MkdirAll(e.cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("bolt: create dir: %w", err)
	}

	mode := e.cfg.FileMode
	if mode == 0 {
		mode = 0o600
	}
	timeout := e.cfg.Timeout
	if timeout == 0 {
		timeout = time.Second
	}

	path := e.dbPath(cfg.Name)
	db, err := bbolt.Open(path, mode, &bbolt.Options{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("bolt: open %s: %w", path, err)
	}

	if err := upgrade(db, cfg); err != nil {
		_ = db.Close()
		return nil, err
	}

	vpath := e.versionPath(cfg.Name)
	if err := writeVersionFile(vpath, cfg.Version); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bolt: write version file: %w", err)
	}

	c := &conn{db: db, path: path, maxBytes: e.cfg.MaxBytes}
	if cfg.OnVersionChange != nil {
		w, err := newVersionWatcher(vpath, cfg.Version, func(newVersion uint32) {
			c.stale.Store(true)
			cfg.OnVersionChange(newVersion)
		})
		if err == nil {
			c.watcher = w
		}
		// watcher failure degrades to no cross-writer detection; the
		// connection itself is still good
	}
	return c, nil
}

func (e *Engine) Drop(_ context.Context, name string) error {
	if err := os.Remove(e.dbPath(name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("bolt: drop %s: %w", name, err)
	}
	// removing the sidecar notifies every watching connection
	if err := os.Remove(e.versionPath(name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("bolt: drop version file for %s: %w", name, err)
	}
	return nil
}

// upgrade applies the additive-only schema step: create missing partition
// buckets, refuse downgrades, and persist the merged manifest.
func upgrade(db *bbolt.DB, cfg engine.Config) error {
	return db.Update(func(tx *bbolt.Tx) error {
		meta, err := tx.CreateBucketIfNotExists([]byte(bucketMeta))
		if err != nil {
			return err
		}

		m := manifest{
			Version:    cfg.Version,
			Partitions: cfg.Partitions,
			CreatedAt:  time.Now().UTC(),
		}
		if raw := meta.Get([]byte(keyManifest)); raw != nil {
			stored, err := manifestCodec.Decode(raw)
			if err != nil {
				return fmt.Errorf("bolt: manifest: %w", err)
			}
			if stored.Version > cfg.Version {
				return fmt.Errorf("bolt: stored version %d: %w", stored.Version, engine.ErrVersionBehind)
			}
			m = stored
			m.Version = cfg.Version
			m.Partitions = mergePartitions(stored.Partitions, cfg.Partitions)
		}

		for _, p := range cfg.Partitions {
			if _, err := tx.CreateBucketIfNotExists([]byte(p)); err != nil {
				return err
			}
		}

		enc, err := manifestCodec.Encode(m)
		if err != nil {
			return err
		}
		return meta.Put([]byte(keyManifest), enc)
	})
}

type conn struct {
	db       *bbolt.DB
	path     string
	maxBytes int64

	watcher   *versionWatcher
	stale     atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

var _ engine.Conn = (*conn)(nil)

func (c *conn) Get(_ context.Context, partition, key string) ([]byte, bool, error) {
	if c.stale.Load() {
		return nil, false, engine.ErrClosed
	}
	var (
		out   []byte
		found bool
	)
	err := c.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(partition))
		if b == nil {
			return engine.ErrUnknownPartition
		}
		if v := b.Get([]byte(key)); v != nil {
			out = append([]byte(nil), v...) // bbolt memory is tx-scoped
			found = true
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, found, nil
}

func (c *conn) Put(_ context.Context, partition, key string, payload []byte) error {
	if c.stale.Load() {
		return engine.ErrClosed
	}
	return c.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(partition))
		if b == nil {
			return engine.ErrUnknownPartition
		}
		if err := b.Put([]byte(key), payload); err != nil {
			return err
		}
		if c.maxBytes > 0 && tx.Size() > c.maxBytes {
			return engine.ErrQuotaExceeded // rolls the put back
		}
		return nil
	})
}

func (c *conn) Delete(_ context.Context, partition, key string) error {
	if c.stale.Load() {
		return engine.ErrClosed
	}
	return c.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(partition))
		if b == nil {
			return engine.ErrUnknownPartition
		}
		return b.Delete([]byte(key))
	})
}

func (c *conn) Estimate(_ context.Context) (*engine.Estimate, error) {
	if c.maxBytes <= 0 {
		return nil, nil
	}
	fi, err := os.Stat(c.path)
	if err != nil {
		return nil, err
	}
	return &engine.Estimate{
		Quota: uint64(c.maxBytes),
		Usage: uint64(fi.Size()),
	}, nil
}

func (c *conn) Close(_ context.Context) error {
	c.closeOnce.Do(func() {
		c.stale.Store(true)
		if c.watcher != nil {
			c.watcher.close()
		}
		c.closeErr = c.db.Close()
	})
	return c.closeErr
}

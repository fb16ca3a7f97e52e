// Package bigmem implements a volatile artifactcache engine on bigcache.
// It is the fallback for contexts where persistent storage is denied:
// nothing survives the process, but repeat work within it is still saved.
// There is no cross-writer change source, so connections are never
// invalidated.
package bigmem

import (
	"context"
	"strings"
	"sync"
	"time"

	bc "github.com/allegro/bigcache/v3"

	"github.com/annolab/artifactcache/engine"
)

type Config struct {
	LifeWindow         time.Duration // 0 => 1h
	CleanWindow        time.Duration
	MaxEntriesInWindow int
	MaxEntrySize       int
	HardMaxCacheSizeMB int // ~ memory limit; 0 = unlimited
}

type Engine struct {
	cfg Config

	mu  sync.Mutex
	dbs map[string]*database
}

type database struct {
	c       *bc.BigCache
	version uint32
}

var _ engine.Engine = (*Engine)(nil)

func New(cfg Config) *Engine {
	return &Engine{cfg: cfg, dbs: make(map[string]*database)}
}

func (e *Engine) Open(_ context.Context, cfg engine.Config) (engine.Conn, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	db, ok := e.dbs[cfg.Name]
	if !ok {
		life := e.cfg.LifeWindow
		if life == 0 {
			life = time.Hour
		}
		conf := bc.DefaultConfig(life)
		if e.cfg.CleanWindow > 0 {
			conf.CleanWindow = e.cfg.CleanWindow
		}
		if e.cfg.MaxEntriesInWindow > 0 {
			conf.MaxEntriesInWindow = e.cfg.MaxEntriesInWindow
		}
		if e.cfg.MaxEntrySize > 0 {
			conf.MaxEntrySize = e.cfg.MaxEntrySize
		}
		if e.cfg.HardMaxCacheSizeMB > 0 {
			conf.HardMaxCacheSize = e.cfg.HardMaxCacheSizeMB
		}
		c, err := bc.New(context.Background(), conf)
		if err != nil {
			return nil, err
		}
		db = &database{c: c, version: cfg.Version}
		e.dbs[cfg.Name] = db
	}

	// partitions share one flat keyspace, so the additive upgrade has no
	// physical step; only the version moves
	if db.version < cfg.Version {
		db.version = cfg.Version
	}
	return &conn{db: db, quotaMB: e.cfg.HardMaxCacheSizeMB}, nil
}

func (e *Engine) Drop(_ context.Context, name string) error {
	e.mu.Lock()
	db, ok := e.dbs[name]
	delete(e.dbs, name)
	e.mu.Unlock()
	if !ok {
		return nil
	}
	return db.c.Close()
}

type conn struct {
	db      *database
	quotaMB int
}

var _ engine.Conn = (*conn)(nil)

func storageKey(partition, key string) string {
	return partition + ":" + key
}

func (c *conn) Get(_ context.Context, partition, key string) ([]byte, bool, error) {
	b, err := c.db.c.Get(storageKey(partition, key))
	if err == bc.ErrEntryNotFound {
		return nil, false, nil
	}
	return b, err == nil, err
}

func (c *conn) Put(_ context.Context, partition, key string, payload []byte) error {
	err := c.db.c.Set(storageKey(partition, key), payload)
	if err != nil && strings.Contains(err.Error(), "entry is bigger than") {
		return engine.ErrQuotaExceeded
	}
	return err
}

func (c *conn) Delete(_ context.Context, partition, key string) error {
	err := c.db.c.Delete(storageKey(partition, key))
	if err == bc.ErrEntryNotFound {
		return nil
	}
	return err
}

func (c *conn) Estimate(_ context.Context) (*engine.Estimate, error) {
	if c.quotaMB <= 0 {
		return nil, nil
	}
	return &engine.Estimate{
		Quota: uint64(c.quotaMB) << 20,
		Usage: uint64(c.db.c.Capacity()),
	}, nil
}

func (c *conn) Close(context.Context) error {
	// the engine owns the bigcache instance; other connections may share it
	return nil
}

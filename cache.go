package artifactcache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dgraph-io/ristretto"
	"golang.org/x/sync/singleflight"

	"github.com/annolab/artifactcache/engine"
	"github.com/annolab/artifactcache/internal/util"
	"github.com/annolab/artifactcache/internal/wire"
)

const defaultDatabase = "artifacts"

type cache struct {
	eng     engine.Engine
	name    string
	version uint32
	enabled func() bool
	log     Logger
	hooks   Hooks
	hot     *ristretto.Cache

	// connection state. conn is nil until the first successful open and
	// again after Clear closes it. sf guarantees at most one open attempt
	// in flight; a failed attempt is not sticky.
	sf   singleflight.Group
	mu   sync.Mutex
	conn engine.Conn

	// sticky, orthogonal failure axes
	quotaFull   atomic.Bool
	invalidated atomic.Bool
	closed      atomic.Bool
}

func newCache(opts Options) (*cache, error) {
	if opts.Engine == nil {
		return nil, fmt.Errorf("artifactcache: engine is required")
	}

	c := &cache{
		eng:     opts.Engine,
		name:    coalesce(opts.Database, defaultDatabase),
		version: coalesce(opts.Version, SchemaVersion),
	}

	// defaults
	c.log = coalesce[Logger](opts.Logger, NopLogger{})
	c.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})
	if opts.Enabled != nil {
		c.enabled = opts.Enabled
	} else {
		c.enabled = func() bool { return true }
	}

	if opts.HotBytes > 0 {
		hot, err := ristretto.NewCache(&ristretto.Config{
			NumCounters: opts.HotBytes / 1024 * 10,
			MaxCost:     opts.HotBytes,
			BufferItems: 64,
		})
		if err != nil {
			return nil, fmt.Errorf("artifactcache: hot layer: %w", err)
		}
		c.hot = hot
	}

	return c, nil
}

func (c *cache) Close(ctx context.Context) error {
	c.closed.Store(true)
	if c.hot != nil {
		c.hot.Close()
	}
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn != nil {
		return conn.Close(ctx)
	}
	return nil
}

// shortCircuit reports whether operations must degrade without touching the
// engine, per the sticky policy flags and the externally supplied gate.
func (c *cache) shortCircuit() bool {
	return !c.enabled() || c.quotaFull.Load() || c.invalidated.Load() || c.closed.Load()
}

func (c *cache) Get(ctx context.Context, p Partition, key string) (Value, bool) {
	if c.shortCircuit() {
		return nil, false
	}
	spec, ok := partitionSpecs[p]
	if !ok {
		c.log.Warn("get on unknown partition", Fields{"partition": p})
		return nil, false
	}

	if c.hot != nil {
		if v, ok := c.hot.Get(hotKey(p, key)); ok {
			return v.(Value), true
		}
	}

	conn, err := c.connect(ctx)
	if err != nil {
		return nil, false
	}

	raw, ok, err := conn.Get(ctx, string(p), key)
	if err != nil {
		c.log.Debug("get failed", Fields{"partition": p, "key": key, "err": err})
		return nil, false
	}
	if !ok {
		return nil, false
	}

	rec, err := wire.Decode(raw)
	if err != nil {
		c.selfHeal(ctx, conn, p, key, "corrupt")
		return nil, false
	}
	v, err := spec.decode(rec)
	if err != nil {
		c.selfHeal(ctx, conn, p, key, "decode")
		return nil, false
	}
	if err := spec.validate(v); err != nil {
		c.selfHeal(ctx, conn, p, key, "shape")
		return nil, false
	}

	if c.hot != nil {
		c.hot.Set(hotKey(p, key), v, int64(len(raw)))
	}
	return v, true
}

func (c *cache) Set(ctx context.Context, p Partition, key string, v Value) bool {
	if c.shortCircuit() {
		return false
	}
	spec, ok := partitionSpecs[p]
	if !ok {
		c.log.Warn("set on unknown partition", Fields{"partition": p})
		return false
	}

	if err := spec.validate(v); err != nil {
		c.log.Debug("set rejected by validator", Fields{"partition": p, "key": key, "err": err})
		c.hooks.ValidationRejected(string(p))
		return false
	}

	rec, err := spec.encode(v)
	if err != nil {
		c.log.Debug("set encode failed", Fields{"partition": p, "key": key, "err": err})
		return false
	}
	raw, err := wire.Encode(rec)
	if err != nil {
		c.log.Debug("set framing failed", Fields{"partition": p, "key": key, "err": err})
		return false
	}

	conn, err := c.connect(ctx)
	if err != nil {
		return false
	}

	if err := conn.Put(ctx, string(p), key, raw); err != nil {
		if errors.Is(err, engine.ErrQuotaExceeded) {
			// sticky until Clear; reads and writes short-circuit from here
			if c.quotaFull.CompareAndSwap(false, true) {
				c.log.Warn("storage quota exhausted; caching suspended until clear",
					Fields{"partition": p, "key": key})
				c.hooks.QuotaExhausted(string(p), key)
			}
		} else {
			c.log.Debug("put failed", Fields{"partition": p, "key": key, "err": err})
		}
		return false
	}

	if c.hot != nil {
		c.hot.Set(hotKey(p, key), v, int64(len(raw)))
	}
	return true
}

func (c *cache) Estimate(ctx context.Context) *engine.Estimate {
	if c.invalidated.Load() || c.closed.Load() {
		return nil
	}
	conn, err := c.connect(ctx)
	if err != nil {
		return nil
	}
	est, err := conn.Estimate(ctx)
	if err != nil {
		c.log.Debug("estimate failed", Fields{"err": err})
		return nil
	}
	return est
}

func (c *cache) Clear(ctx context.Context) error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		if err := conn.Close(ctx); err != nil {
			c.log.Warn("close before drop failed", Fields{"err": err})
		}
	}
	if c.hot != nil {
		c.hot.Clear()
	}

	if err := c.eng.Drop(ctx, c.name); err != nil {
		return &ClearError{Database: c.name, DropErr: err}
	}

	// the caller reclaimed space; writes may proceed again
	c.quotaFull.Store(false)

	if c.closed.Load() || c.invalidated.Load() {
		return nil
	}
	if _, err := c.connect(ctx); err != nil {
		return &ClearError{Database: c.name, ReopenErr: err}
	}
	return nil
}

// connect returns the open connection, lazily performing the one-shot
// initialization. Concurrent callers converge on a single open attempt; a
// failure rejects all of them once and the next call retries from scratch.
func (c *cache) connect(ctx context.Context) (engine.Conn, error) {
	c.mu.Lock()
	if conn := c.conn; conn != nil {
		c.mu.Unlock()
		return conn, nil
	}
	c.mu.Unlock()

	v, err, _ := c.sf.Do("open", func() (any, error) {
		c.mu.Lock()
		if conn := c.conn; conn != nil {
			c.mu.Unlock()
			return conn, nil
		}
		c.mu.Unlock()

		conn, err := c.eng.Open(ctx, engine.Config{
			Name:            c.name,
			Version:         c.version,
			Partitions:      partitionNames(),
			OnVersionChange: c.onVersionChange,
		})
		if err != nil {
			c.log.Warn("engine open failed", Fields{"database": c.name, "err": err})
			c.hooks.OpenFailed(err)
			return nil, err
		}

		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()
		return conn, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(engine.Conn), nil
}

// onVersionChange handles the engine's notification that another writer
// upgraded or deleted the database. Terminal for this process: the
// connection is closed and every later operation degrades to a miss.
func (c *cache) onVersionChange(newVersion uint32) {
	if !c.invalidated.CompareAndSwap(false, true) {
		return
	}
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close(context.Background())
	}
	if c.hot != nil {
		c.hot.Clear()
	}
	c.log.Error("database changed by another writer; restart required to cache again",
		Fields{"database": c.name, "have": c.version, "now": newVersion})
	c.hooks.Invalidated(c.version, newVersion)
}

func (c *cache) selfHeal(ctx context.Context, conn engine.Conn, p Partition, key, reason string) {
	_ = conn.Delete(ctx, string(p), key)
	if c.hot != nil {
		c.hot.Del(hotKey(p, key))
	}
	c.log.Debug("dropped unreadable record", Fields{"partition": p, "key": key, "reason": reason})
	c.hooks.SelfHeal(string(p), key, reason)
}

func hotKey(p Partition, key string) string {
	return util.Join(string(p), key)
}

// Package redis implements the artifactcache engine on a redis server, for
// deployments where several annotation workers share one artifact cache.
// Partitions live in a flat keyspace under "<db>:<partition>:<key>"; the
// schema manifest under "<db>:manifest"; version changes are broadcast on
// the "<db>:version" pub/sub channel, which is how one writer's upgrade or
// drop invalidates every other open connection.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	goredis "github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/annolab/artifactcache/engine"
	"github.com/annolab/artifactcache/internal/util"
)

var ErrNilClient = errors.New("redis engine: nil client")

type Config struct {
	Client      goredis.UniversalClient
	CloseClient bool // set true only if this engine exclusively owns the client
}

type Engine struct {
	rdb         goredis.UniversalClient
	closeClient bool
}

var _ engine.Engine = (*Engine)(nil)

func New(cfg Config) (*Engine, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	return &Engine{rdb: cfg.Client, closeClient: cfg.CloseClient}, nil
}

// manifest is the schema record stored under "<db>:manifest".
type manifest struct {
	Version    uint32   `msgpack:"version"`
	Partitions []string `msgpack:"partitions"`
}

func manifestKey(name string) string { return util.Join(name, "manifest") }
func versionChannel(name string) string {
	return util.Join(name, "version")
}

func (e *Engine) Open(ctx context.Context, cfg engine.Config) (engine.Conn, error) {
	m, upgraded, err := e.upgrade(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if upgraded {
		// tell every other connection the schema moved
		if err := e.rdb.Publish(ctx, versionChannel(cfg.Name),
			strconv.FormatUint(uint64(m.Version), 10)).Err(); err != nil {
			return nil, fmt.Errorf("redis engine: publish version: %w", err)
		}
	}

	c := &conn{
		rdb:     e.rdb,
		name:    cfg.Name,
		version: cfg.Version,
	}

	if cfg.OnVersionChange != nil {
		ps := e.rdb.Subscribe(ctx, versionChannel(cfg.Name))
		// force the subscription before returning so no notification is lost
		if _, err := ps.Receive(ctx); err != nil {
			_ = ps.Close()
			return nil, fmt.Errorf("redis engine: subscribe: %w", err)
		}
		c.ps = ps
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			for msg := range ps.Channel() {
				v, err := strconv.ParseUint(msg.Payload, 10, 32)
				if err != nil {
					continue
				}
				if uint32(v) == cfg.Version {
					continue
				}
				if c.stale.CompareAndSwap(false, true) {
					cfg.OnVersionChange(uint32(v))
				}
			}
		}()
	}
	return c, nil
}

// upgrade merges the requested schema into the stored manifest. Returns the
// effective manifest and whether anything changed on the server.
func (e *Engine) upgrade(ctx context.Context, cfg engine.Config) (manifest, bool, error) {
	m := manifest{Version: cfg.Version, Partitions: cfg.Partitions}

	raw, err := e.rdb.Get(ctx, manifestKey(cfg.Name)).Bytes()
	switch {
	case err == goredis.Nil:
		// fresh database
	case err != nil:
		return manifest{}, false, fmt.Errorf("redis engine: manifest: %w", err)
	default:
		var stored manifest
		if err := msgpack.Unmarshal(raw, &stored); err != nil {
			return manifest{}, false, fmt.Errorf("redis engine: manifest: %w", err)
		}
		if stored.Version > cfg.Version {
			return manifest{}, false, fmt.Errorf("redis engine: stored version %d: %w",
				stored.Version, engine.ErrVersionBehind)
		}
		if stored.Version == cfg.Version {
			return stored, false, nil
		}
		m.Partitions = mergePartitions(stored.Partitions, cfg.Partitions)
	}

	enc, err := msgpack.Marshal(m)
	if err != nil {
		return manifest{}, false, err
	}
	if err := e.rdb.Set(ctx, manifestKey(cfg.Name), enc, 0).Err(); err != nil {
		return manifest{}, false, fmt.Errorf("redis engine: manifest: %w", err)
	}
	return m, true, nil
}

// Drop deletes every record of the database in SCAN batches and broadcasts
// version 0 so open connections invalidate themselves.
func (e *Engine) Drop(ctx context.Context, name string) error {
	var cursor uint64
	pattern := util.Join(name, "*")
	for {
		keys, next, err := e.rdb.Scan(ctx, cursor, pattern, 512).Result()
		if err != nil {
			return fmt.Errorf("redis engine: drop scan: %w", err)
		}
		if len(keys) > 0 {
			if err := e.rdb.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("redis engine: drop del: %w", err)
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return e.rdb.Publish(ctx, versionChannel(name), "0").Err()
}

// Close releases the underlying redis client only when this engine owns it.
func (e *Engine) Close() error {
	if e.closeClient {
		if err := e.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
			return err
		}
	}
	return nil
}

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

type conn struct {
	rdb     goredis.UniversalClient
	name    string
	version uint32

	ps        *goredis.PubSub
	wg        sync.WaitGroup
	stale     atomic.Bool
	closeOnce sync.Once
}

var _ engine.Conn = (*conn)(nil)

func (c *conn) recordKey(partition, key string) string {
	return util.Join(c.name, partition, key)
}

func (c *conn) Get(ctx context.Context, partition, key string) ([]byte, bool, error) {
	if c.stale.Load() {
		return nil, false, engine.ErrClosed
	}
	b, err := c.rdb.Get(ctx, c.recordKey(partition, key)).Bytes()
	if err == goredis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (c *conn) Put(ctx context.Context, partition, key string, payload []byte) error {
	if c.stale.Load() {
		return engine.ErrClosed
	}
	err := c.rdb.Set(ctx, c.recordKey(partition, key), payload, 0).Err()
	if err != nil && strings.HasPrefix(err.Error(), "OOM") {
		// server is at maxmemory with a noeviction policy
		return fmt.Errorf("%w: %v", engine.ErrQuotaExceeded, err)
	}
	return err
}

func (c *conn) Delete(ctx context.Context, partition, key string) error {
	if c.stale.Load() {
		return engine.ErrClosed
	}
	return c.rdb.Del(ctx, c.recordKey(partition, key)).Err()
}

func (c *conn) Estimate(ctx context.Context) (*engine.Estimate, error) {
	if c.stale.Load() {
		return nil, engine.ErrClosed
	}
	info, err := c.rdb.Info(ctx, "memory").Result()
	if err != nil {
		return nil, err
	}
	used := infoField(info, "used_memory")
	max := infoField(info, "maxmemory")
	if max == 0 {
		return nil, nil // unmetered server; nothing meaningful to report
	}
	return &engine.Estimate{Quota: max, Usage: used}, nil
}

func infoField(info, field string) uint64 {
	for _, line := range strings.Split(info, "\n") {
		rest, ok := strings.CutPrefix(line, field+":")
		if !ok {
			continue
		}
		v, err := strconv.ParseUint(strings.TrimSpace(rest), 10, 64)
		if err != nil {
			return 0
		}
		return v
	}
	return 0
}

func (c *conn) Close(context.Context) error {
	var err error
	c.closeOnce.Do(func() {
		c.stale.Store(true)
		if c.ps != nil {
			err = c.ps.Close()
			c.wg.Wait()
		}
	})
	return err
}

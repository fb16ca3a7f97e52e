package bolt

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/annolab/artifactcache/engine"
)

func openTestConn(t *testing.T, dir string, cfg engine.Config, maxBytes int64) engine.Conn {
	t.Helper()
	e, err := New(Config{Dir: dir, MaxBytes: maxBytes})
	require.NoError(t, err)
	conn, err := e.Open(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(context.Background()) })
	return conn
}

func TestPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	cfg := engine.Config{Name: "artifacts", Version: 1, Partitions: []string{"previews"}}

	conn := openTestConn(t, dir, cfg, 0)
	require.NoError(t, conn.Put(ctx, "previews", "k", []byte("payload")))
	require.NoError(t, conn.Close(ctx))

	conn2 := openTestConn(t, dir, cfg, 0)
	got, ok, err := conn2.Get(ctx, "previews", "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("payload"), got)

	// absent key is a miss, not an error
	_, ok, err = conn2.Get(ctx, "previews", "nope")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestAdditiveUpgrade(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	v1 := engine.Config{Name: "artifacts", Version: 1, Partitions: []string{"previews"}}
	conn := openTestConn(t, dir, v1, 0)
	require.NoError(t, conn.Put(ctx, "previews", "k", []byte("old")))
	require.NoError(t, conn.Close(ctx))

	v2 := engine.Config{Name: "artifacts", Version: 2, Partitions: []string{"previews", "chunks"}}
	conn2 := openTestConn(t, dir, v2, 0)

	// existing records are untouched
	got, ok, err := conn2.Get(ctx, "previews", "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("old"), got)

	// the new partition exists
	require.NoError(t, conn2.Put(ctx, "chunks", "c", []byte("new")))
	require.NoError(t, conn2.Close(ctx))

	// opening behind the stored version fails
	e, err := New(Config{Dir: dir})
	require.NoError(t, err)
	_, err = e.Open(ctx, v1)
	require.ErrorIs(t, err, engine.ErrVersionBehind)
}

func TestUnknownPartition(t *testing.T) {
	ctx := context.Background()
	cfg := engine.Config{Name: "artifacts", Version: 1, Partitions: []string{"previews"}}
	conn := openTestConn(t, t.TempDir(), cfg, 0)

	_, _, err := conn.Get(ctx, "nope", "k")
	require.ErrorIs(t, err, engine.ErrUnknownPartition)
	require.ErrorIs(t, conn.Put(ctx, "nope", "k", []byte("x")), engine.ErrUnknownPartition)
}

func TestQuotaEnforced(t *testing.T) {
	ctx := context.Background()
	cfg := engine.Config{Name: "artifacts", Version: 1, Partitions: []string{"previews"}}
	conn := openTestConn(t, t.TempDir(), cfg, 1<<16)

	big := make([]byte, 1<<19) // far past the 64 KiB budget
	err := conn.Put(ctx, "previews", "big", big)
	require.ErrorIs(t, err, engine.ErrQuotaExceeded)

	// the oversized write rolled back; small writes still fit
	_, ok, err := conn.Get(ctx, "previews", "big")
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, conn.Put(ctx, "previews", "small", []byte("x")))
}

func TestEstimate(t *testing.T) {
	ctx := context.Background()
	cfg := engine.Config{Name: "artifacts", Version: 1, Partitions: []string{"previews"}}

	unmetered := openTestConn(t, t.TempDir(), cfg, 0)
	est, err := unmetered.Estimate(ctx)
	require.NoError(t, err)
	require.Nil(t, est)

	metered := openTestConn(t, t.TempDir(), cfg, 1<<20)
	est, err = metered.Estimate(ctx)
	require.NoError(t, err)
	require.NotNil(t, est)
	require.Equal(t, uint64(1<<20), est.Quota)
	require.Greater(t, est.Usage, uint64(0))
}

func TestDropRemovesDatabase(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	cfg := engine.Config{Name: "artifacts", Version: 1, Partitions: []string{"previews"}}

	e, err := New(Config{Dir: dir})
	require.NoError(t, err)
	conn, err := e.Open(ctx, cfg)
	require.NoError(t, err)
	require.NoError(t, conn.Put(ctx, "previews", "k", []byte("x")))
	require.NoError(t, conn.Close(ctx))

	require.NoError(t, e.Drop(ctx, "artifacts"))
	_, statErr := os.Stat(e.dbPath("artifacts"))
	require.True(t, os.IsNotExist(statErr))

	// dropping again is a no-op
	require.NoError(t, e.Drop(ctx, "artifacts"))

	// a fresh open starts empty
	conn2, err := e.Open(ctx, cfg)
	require.NoError(t, err)
	defer conn2.Close(ctx)
	_, ok, err := conn2.Get(ctx, "previews", "k")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestVersionFileChangeInvalidates(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	changed := make(chan uint32, 1)
	cfg := engine.Config{
		Name:       "artifacts",
		Version:    1,
		Partitions: []string{"previews"},
		OnVersionChange: func(v uint32) {
			select {
			case changed <- v:
			default:
			}
		},
	}

	e, err := New(Config{Dir: dir})
	require.NoError(t, err)
	conn, err := e.Open(ctx, cfg)
	require.NoError(t, err)
	defer conn.Close(ctx)

	// another process upgrades the schema
	require.NoError(t, writeVersionFile(e.versionPath("artifacts"), 2))

	select {
	case v := <-changed:
		require.Equal(t, uint32(2), v)
	case <-time.After(5 * time.Second):
		t.Fatal("version change was not observed")
	}

	// the stale connection refuses further work
	_, _, err = conn.Get(ctx, "previews", "k")
	require.ErrorIs(t, err, engine.ErrClosed)
	require.ErrorIs(t, conn.Put(ctx, "previews", "k", []byte("x")), engine.ErrClosed)
}

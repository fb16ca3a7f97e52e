// usage:
//
// import (
//
//	"log/slog"
//
//	"github.com/annolab/artifactcache"
//	asynchook "github.com/annolab/artifactcache/hooks/async"
//	"github.com/annolab/artifactcache/sloghooks"
//
// )
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{
//	    SelfHealEvery: 10, // sample logs: ~every 10th self-heal
//	})
//
// hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
// defer hooks.Close()
//
//	cache, _ := artifactcache.New(artifactcache.Options{
//	    Engine: eng,
//	    Hooks:  hooks, // or `raw` if you don’t want async
//	})
package asynchook

import (
	"sync"

	"github.com/annolab/artifactcache"
)

type Hooks struct {
	inner artifactcache.Hooks
	q     chan func()
	wg    sync.WaitGroup
	once  sync.Once
}

var _ artifactcache.Hooks = (*Hooks)(nil)

func New(inner artifactcache.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

func (h *Hooks) Close() {
	h.once.Do(func() {
		close(h.q)
		h.wg.Wait()
	})
}

func (h *Hooks) try(f func()) {
	select {
	case h.q <- f:
	default: // drop
	}
}

func (h *Hooks) SelfHeal(p, k, r string) { h.try(func() { h.inner.SelfHeal(p, k, r) }) }
func (h *Hooks) ValidationRejected(p string) {
	h.try(func() { h.inner.ValidationRejected(p) })
}
func (h *Hooks) QuotaExhausted(p, k string) {
	h.try(func() { h.inner.QuotaExhausted(p, k) })
}
func (h *Hooks) Invalidated(oldV, newV uint32) {
	h.try(func() { h.inner.Invalidated(oldV, newV) })
}
func (h *Hooks) OpenFailed(err error) { h.try(func() { h.inner.OpenFailed(err) }) }

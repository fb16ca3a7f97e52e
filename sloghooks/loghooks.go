package sloghooks

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"

	"github.com/annolab/artifactcache"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	SelfHealEvery uint64
	// Optional key redactor. Defaults to SHA-256 prefix.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	selfHealCtr atomic.Uint64
}

var _ artifactcache.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:8])
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) SelfHeal(partition, key, reason string) {
	if h.l == nil || !sample(h.opts.SelfHealEvery, &h.selfHealCtr) {
		return
	}
	h.l.Debug("artifactcache.self_heal",
		"partition", partition,
		"key", h.redact(key),
		"reason", reason)
}

func (h *Hooks) ValidationRejected(partition string) {
	if h.l == nil {
		return
	}
	h.l.Warn("artifactcache.validation_rejected",
		"partition", partition)
}

func (h *Hooks) QuotaExhausted(partition, key string) {
	if h.l == nil {
		return
	}
	h.l.Error("artifactcache.quota_exhausted",
		"partition", partition,
		"key", h.redact(key))
}

func (h *Hooks) Invalidated(oldVersion, newVersion uint32) {
	if h.l == nil {
		return
	}
	h.l.Error("artifactcache.invalidated",
		"have", oldVersion,
		"now", newVersion,
		"msg", "database changed by another writer; restart required")
}

func (h *Hooks) OpenFailed(err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("artifactcache.open_failed",
		"err", err)
}

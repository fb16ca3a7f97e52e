package artifactcache

// Hooks lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking.
// The cache calls them on hot paths.
type Hooks interface {
	// A record was deleted by the cache on read.
	// reason ∈ {"corrupt", "decode", "shape"}
	SelfHeal(partition, key, reason string)

	// Set rejected a value that failed the partition's validator.
	ValidationRejected(partition string)

	// A write tripped the sticky quota flag. Fired once per trip.
	QuotaExhausted(partition, key string)

	// Another writer upgraded or deleted the database; this connection is
	// dead until the process restarts.
	Invalidated(oldVersion, newVersion uint32)

	// An engine open attempt failed (storage unavailable, version behind).
	OpenFailed(err error)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) SelfHeal(string, string, string) {}
func (NopHooks) ValidationRejected(string)       {}
func (NopHooks) QuotaExhausted(string, string)   {}
func (NopHooks) Invalidated(uint32, uint32)      {}
func (NopHooks) OpenFailed(error)                {}

package tiered

// Tier names a cache level.
type Tier uint8

const (
	TierFast Tier = iota
	TierShared
)

func (t Tier) String() string {
	if t == TierShared {
		return "shared"
	}
	return "fast"
}

// Hooks lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking.
// The cache calls them on hot paths.
type Hooks interface {
	// A fresh or stale-but-unexpired entry was served from tier.
	Hit(key string, tier Tier)
	// Neither tier held a live entry.
	Miss(key string)
	// An entry was written; size is the framed size in bytes.
	Set(key string, size int, compressed bool)
	// An entry was removed by Delete or tag invalidation.
	Delete(key string)
	// A background refresh finished; err is the fallback's error.
	Refresh(key string, err error)
	// The shared tier failed; op is get, set, del, sadd, smembers, flush or ping.
	SharedError(op string, err error)
	// An entry was dropped on read.
	// reason ∈ {"corrupt", "expired", "decompress", "value_decode"}
	SelfHeal(key, reason string)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) Hit(string, Tier)          {}
func (NopHooks) Miss(string)               {}
func (NopHooks) Set(string, int, bool)     {}
func (NopHooks) Delete(string)             {}
func (NopHooks) Refresh(string, error)     {}
func (NopHooks) SharedError(string, error) {}
func (NopHooks) SelfHeal(string, string)   {}

// MultiHooks fans every event out to each hook in order.
type MultiHooks []Hooks

func (m MultiHooks) Hit(k string, t Tier) {
	for _, h := range m {
		h.Hit(k, t)
	}
}
func (m MultiHooks) Miss(k string) {
	for _, h := range m {
		h.Miss(k)
	}
}
func (m MultiHooks) Set(k string, n int, c bool) {
	for _, h := range m {
		h.Set(k, n, c)
	}
}
func (m MultiHooks) Delete(k string) {
	for _, h := range m {
		h.Delete(k)
	}
}
func (m MultiHooks) Refresh(k string, err error) {
	for _, h := range m {
		h.Refresh(k, err)
	}
}
func (m MultiHooks) SharedError(op string, err error) {
	for _, h := range m {
		h.SharedError(op, err)
	}
}
func (m MultiHooks) SelfHeal(k, r string) {
	for _, h := range m {
		h.SelfHeal(k, r)
	}
}

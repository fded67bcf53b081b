package tiered

import "sync/atomic"

// Stats is a point-in-time copy of the cache counters.
type Stats struct {
	Hits          uint64 `json:"hits"`
	FastHits      uint64 `json:"fastHits"`
	SharedHits    uint64 `json:"sharedHits"`
	Misses        uint64 `json:"misses"`
	Sets          uint64 `json:"sets"`
	Deletes       uint64 `json:"deletes"`
	Errors        uint64 `json:"errors"`
	Refreshes     uint64 `json:"refreshes"`
	SkippedWrites uint64 `json:"skippedWrites"`
	Evictions     uint64 `json:"evictions"`
	FastEntries   int    `json:"fastEntries"`
	Tags          int    `json:"tags"`
	SharedUp      bool   `json:"sharedUp"`
}

// HitRate is hits / (hits + misses), 0 when nothing was read.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

type counters struct {
	fastHits, sharedHits atomic.Uint64
	misses, sets         atomic.Uint64
	deletes, errors      atomic.Uint64
	refreshes, skipped   atomic.Uint64
}

func (c *counters) reset() {
	for _, a := range []*atomic.Uint64{
		&c.fastHits, &c.sharedHits, &c.misses, &c.sets,
		&c.deletes, &c.errors, &c.refreshes, &c.skipped,
	} {
		a.Store(0)
	}
}

type evictionCounter interface {
	Evictions() uint64
}

package monitor

import (
	"time"

	"github.com/EmrahCan/budget-sub000/batch"
	"github.com/EmrahCan/budget-sub000/pool"
	"github.com/EmrahCan/budget-sub000/tiered"
)

// PoolObserver feeds pool manager events into m.
func (m *Monitor) PoolObserver() pool.Observer { return poolObserver{m} }

// CacheHooks feeds tiered cache events into m.
func (m *Monitor) CacheHooks() tiered.Hooks { return cacheHooks{m} }

// BatchObserver feeds batch executor events into m.
func (m *Monitor) BatchObserver() batch.Observer { return batchObserver{m} }

type poolObserver struct{ m *Monitor }

func (o poolObserver) ConnectionCreated(p string) {
	o.m.connections.WithLabelValues(p).Inc()
}

func (o poolObserver) QueryExecuted(p string, d time.Duration, err error) {
	o.m.query("pool:"+p, d, err)
}

func (o poolObserver) SlowQuery(p, _ string, _ time.Duration) {
	o.m.slowQueries.WithLabelValues("pool:" + p).Inc()
}

func (o poolObserver) Retry(p string, _ int, _ error) {
	o.m.retries.WithLabelValues(p).Inc()
}

func (o poolObserver) Transaction(p string, committed bool) {
	outcome := "rolled_back"
	if committed {
		outcome = "committed"
	}
	o.m.transactions.WithLabelValues(p, outcome).Inc()
}

func (m *Monitor) query(source string, d time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
		m.errors.WithLabelValues("query_" + pool.KindOf(err).String()).Inc()
	}
	m.queries.WithLabelValues(source, outcome).Inc()
	m.queryLatency.WithLabelValues(source).Observe(d.Seconds())
}

type cacheHooks struct{ m *Monitor }

func (h cacheHooks) Hit(_ string, t tiered.Tier) {
	h.m.cacheLookups.WithLabelValues("tiered", t.String(), "hit").Inc()
}

func (h cacheHooks) Miss(string) {
	h.m.cacheLookups.WithLabelValues("tiered", "none", "miss").Inc()
}

func (h cacheHooks) Set(string, int, bool) { h.m.cacheEvents.WithLabelValues("set").Inc() }
func (h cacheHooks) Delete(string)         { h.m.cacheEvents.WithLabelValues("delete").Inc() }

func (h cacheHooks) Refresh(_ string, err error) {
	h.m.cacheEvents.WithLabelValues("refresh").Inc()
	if err != nil {
		h.m.errors.WithLabelValues("cache_refresh").Inc()
	}
}

func (h cacheHooks) SharedError(string, error) {
	h.m.errors.WithLabelValues("cache_shared").Inc()
}

func (h cacheHooks) SelfHeal(string, string) {
	h.m.cacheEvents.WithLabelValues("self_heal").Inc()
}

type batchObserver struct{ m *Monitor }

func (o batchObserver) QueryTimed(_ string, mode batch.Mode, d time.Duration, err error) {
	o.m.query("batch:"+mode.String(), d, err)
}

func (o batchObserver) CacheLookup(_ string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	o.m.cacheLookups.WithLabelValues("batch", "private", result).Inc()
}

package monitor

import (
	"fmt"
	"io"
	"strings"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

type RequestStats struct {
	Total      uint64        `json:"total"`
	Errors     uint64        `json:"errors"`
	ErrorRate  float64       `json:"errorRate"`
	AvgLatency time.Duration `json:"avgLatency"`
	MaxLatency time.Duration `json:"maxLatency"`
}

type QueryStats struct {
	Total              uint64        `json:"total"`
	Errors             uint64        `json:"errors"`
	Slow               uint64        `json:"slow"`
	AvgLatency         time.Duration `json:"avgLatency"`
	Retries            uint64        `json:"retries"`
	ConnectionsCreated uint64        `json:"connectionsCreated"`
	Committed          uint64        `json:"committed"`
	RolledBack         uint64        `json:"rolledBack"`
	BatchReads         uint64        `json:"batchReads"`
	BatchWrites        uint64        `json:"batchWrites"`
}

type CacheStats struct {
	Hits        uint64  `json:"hits"`
	FastHits    uint64  `json:"fastHits"`
	SharedHits  uint64  `json:"sharedHits"`
	Misses      uint64  `json:"misses"`
	HitRate     float64 `json:"hitRate"`
	BatchHits   uint64  `json:"batchHits"`
	BatchMisses uint64  `json:"batchMisses"`
	SelfHeals   uint64  `json:"selfHeals"`
	Refreshes   uint64  `json:"refreshes"`
}

// Report is an immutable snapshot, safe to JSON-encode.
type Report struct {
	InstanceID      string            `json:"instanceId"`
	GeneratedAt     time.Time         `json:"generatedAt"`
	Uptime          time.Duration     `json:"uptime"`
	Requests        RequestStats      `json:"requests"`
	Queries         QueryStats        `json:"queries"`
	Cache           CacheStats        `json:"cache"`
	Errors          map[string]uint64 `json:"errors"`
	System          System            `json:"system"`
	Alerts          []Alert           `json:"alerts"`
	Recommendations []string          `json:"recommendations"`
}

// families indexes a registry gather by metric name.
type families map[string]*dto.MetricFamily

func (m *Monitor) gather() (families, error) {
	mfs, err := m.reg.Gather()
	if err != nil {
		return nil, err
	}
	out := make(families, len(mfs))
	for _, mf := range mfs {
		out[mf.GetName()] = mf
	}
	return out, nil
}

func matches(mt *dto.Metric, labels map[string]string, prefixes map[string]string) bool {
	for _, lp := range mt.GetLabel() {
		if want, ok := labels[lp.GetName()]; ok && lp.GetValue() != want {
			return false
		}
		if p, ok := prefixes[lp.GetName()]; ok && !strings.HasPrefix(lp.GetValue(), p) {
			return false
		}
	}
	return true
}

// counter sums the counters of family name whose labels match.
func (f families) counter(name string, labels map[string]string, prefixes map[string]string) uint64 {
	var sum float64
	if mf := f[name]; mf != nil {
		for _, mt := range mf.GetMetric() {
			if matches(mt, labels, prefixes) {
				sum += mt.GetCounter().GetValue()
			}
		}
	}
	return uint64(sum)
}

// histogram sums sample counts and sums of family name whose labels match.
func (f families) histogram(name string, prefixes map[string]string) (uint64, float64) {
	var n uint64
	var s float64
	if mf := f[name]; mf != nil {
		for _, mt := range mf.GetMetric() {
			if matches(mt, nil, prefixes) {
				n += mt.GetHistogram().GetSampleCount()
				s += mt.GetHistogram().GetSampleSum()
			}
		}
	}
	return n, s
}

func avg(n uint64, sumSeconds float64) time.Duration {
	if n == 0 {
		return 0
	}
	return time.Duration(sumSeconds / float64(n) * float64(time.Second))
}

func ratio(a, b uint64) float64 {
	if b == 0 {
		return 0
	}
	return float64(a) / float64(b)
}

// Report gathers every metric into one snapshot with recommendations and
// the alerts still inside their cooldown window.
func (m *Monitor) Report() (Report, error) {
	f, err := m.gather()
	if err != nil {
		return Report{}, err
	}
	name := func(s string) string { return m.metricName(s) }
	pools := map[string]string{"source": "pool:"}
	now := m.clock()

	r := Report{
		InstanceID:  m.id,
		GeneratedAt: now,
		Uptime:      now.Sub(m.started),
		Errors:      map[string]uint64{},
		System:      m.lastSample(),
		Alerts:      m.Alerts(),
	}

	n, s := f.histogram(name("request_duration_seconds"), nil)
	r.Requests = RequestStats{
		Total:      f.counter(name("requests_total"), nil, nil),
		Errors:     f.counter(name("requests_total"), map[string]string{"outcome": "error"}, nil),
		AvgLatency: avg(n, s),
		MaxLatency: time.Duration(m.maxNanos.Load()),
	}
	r.Requests.ErrorRate = ratio(r.Requests.Errors, r.Requests.Total)

	n, s = f.histogram(name("query_duration_seconds"), pools)
	r.Queries = QueryStats{
		Total:              f.counter(name("queries_total"), nil, pools),
		Errors:             f.counter(name("queries_total"), map[string]string{"outcome": "error"}, pools),
		Slow:               f.counter(name("slow_queries_total"), nil, nil),
		AvgLatency:         avg(n, s),
		Retries:            f.counter(name("query_retries_total"), nil, nil),
		ConnectionsCreated: f.counter(name("connections_created_total"), nil, nil),
		Committed:          f.counter(name("transactions_total"), map[string]string{"outcome": "committed"}, nil),
		RolledBack:         f.counter(name("transactions_total"), map[string]string{"outcome": "rolled_back"}, nil),
		BatchReads:         f.counter(name("queries_total"), map[string]string{"source": "batch:read"}, nil),
		BatchWrites:        f.counter(name("queries_total"), map[string]string{"source": "batch:write"}, nil),
	}

	lookups := name("cache_lookups_total")
	r.Cache = CacheStats{
		FastHits:    f.counter(lookups, map[string]string{"layer": "tiered", "tier": "fast", "result": "hit"}, nil),
		SharedHits:  f.counter(lookups, map[string]string{"layer": "tiered", "tier": "shared", "result": "hit"}, nil),
		Misses:      f.counter(lookups, map[string]string{"layer": "tiered", "result": "miss"}, nil),
		BatchHits:   f.counter(lookups, map[string]string{"layer": "batch", "result": "hit"}, nil),
		BatchMisses: f.counter(lookups, map[string]string{"layer": "batch", "result": "miss"}, nil),
		SelfHeals:   f.counter(name("cache_events_total"), map[string]string{"event": "self_heal"}, nil),
		Refreshes:   f.counter(name("cache_events_total"), map[string]string{"event": "refresh"}, nil),
	}
	r.Cache.Hits = r.Cache.FastHits + r.Cache.SharedHits
	r.Cache.HitRate = ratio(r.Cache.Hits, r.Cache.Hits+r.Cache.Misses)

	if mf := f[name("errors_total")]; mf != nil {
		for _, mt := range mf.GetMetric() {
			for _, lp := range mt.GetLabel() {
				if lp.GetName() == "category" {
					r.Errors[lp.GetValue()] += uint64(mt.GetCounter().GetValue())
				}
			}
		}
	}

	r.Recommendations = m.recommend(r)
	return r, nil
}

const (
	minLookupsForAdvice = 100
	lowHitRate          = 0.5
	retryRatio          = 0.05
	memoryHeadroom      = 0.8
)

func (m *Monitor) recommend(r Report) []string {
	out := []string{}
	if lookups := r.Cache.Hits + r.Cache.Misses; lookups >= minLookupsForAdvice && r.Cache.HitRate < lowHitRate {
		out = append(out, fmt.Sprintf("cache hit rate is %.0f%%: lengthen report TTLs or warm hot reports", r.Cache.HitRate*100))
	}
	if r.Queries.Slow > 0 {
		out = append(out, fmt.Sprintf("%d slow queries: create the finance indexes and review query plans", r.Queries.Slow))
	}
	if r.Queries.Total > 0 && ratio(r.Queries.Retries, r.Queries.Total) > retryRatio {
		out = append(out, fmt.Sprintf("%d retried queries: check database connectivity and lock contention", r.Queries.Retries))
	}
	if r.Requests.AvgLatency > m.th.ResponseTime/2 {
		out = append(out, fmt.Sprintf("average computation takes %s: enable caching or batch the reads", r.Requests.AvgLatency))
	}
	if r.Requests.Total >= m.th.MinRequests && r.Requests.ErrorRate > m.th.ErrorRate {
		out = append(out, fmt.Sprintf("error rate is %.1f%%: inspect the error categories", r.Requests.ErrorRate*100))
	}
	if float64(r.System.HeapAlloc) > memoryHeadroom*float64(m.th.MemoryBytes) {
		out = append(out, "heap is close to the memory threshold: lower the fast tier MaxEntries")
	}
	return out
}

func (m *Monitor) metricName(s string) string {
	return m.ns + "_" + s
}

// WritePrometheus writes every metric in the text exposition format.
func (m *Monitor) WritePrometheus(w io.Writer) error {
	mfs, err := m.reg.Gather()
	if err != nil {
		return err
	}
	for _, mf := range mfs {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}

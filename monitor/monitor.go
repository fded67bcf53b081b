package monitor

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/EmrahCan/budget-sub000/logging"
	"github.com/EmrahCan/budget-sub000/pool"
)

// Monitor is safe for concurrent use. Construct one per process; Close it
// on shutdown.
type Monitor struct {
	id      string
	ns      string
	started time.Time
	now     func() time.Time
	log     logging.Logger
	th      Thresholds

	reg *prometheus.Registry

	requests       *prometheus.CounterVec // outcome
	requestLatency prometheus.Histogram
	queries        *prometheus.CounterVec   // source, outcome
	queryLatency   *prometheus.HistogramVec // source
	slowQueries    *prometheus.CounterVec   // source
	retries        *prometheus.CounterVec   // pool
	connections    *prometheus.CounterVec   // pool
	transactions   *prometheus.CounterVec   // pool, outcome
	cacheLookups   *prometheus.CounterVec   // layer, tier, result
	cacheEvents    *prometheus.CounterVec   // event
	errors         *prometheus.CounterVec   // category
	alertsRaised   *prometheus.CounterVec   // type
	heapBytes      prometheus.Gauge
	sysBytes       prometheus.Gauge
	goroutines     prometheus.Gauge
	gcCycles       prometheus.Gauge
	uptime         prometheus.Gauge

	// request counts seen by the error-rate window
	reqTotal  atomic.Uint64
	reqErrors atomic.Uint64
	maxNanos  atomic.Int64

	alerts alerter

	samplerMu   sync.Mutex
	stopSampler chan struct{}
	samplerWG   sync.WaitGroup
	interval    time.Duration

	lastMu     sync.Mutex
	last       System
	windowReq  uint64
	windowErrs uint64

	closeOnce sync.Once
}

func New(opts Options) *Monitor {
	ns := coalesce(opts.Namespace, defaultNamespace)
	m := &Monitor{
		id:       uuid.NewString(),
		ns:       ns,
		now:      opts.Now,
		log:      logging.With(opts.Logger, logging.Fields{"component": "monitor"}),
		interval: coalesce(opts.SampleInterval, defaultSampleInterval),
		th: Thresholds{
			ResponseTime: coalesce(opts.Thresholds.ResponseTime, defaultResponseTime),
			MemoryBytes:  coalesce(opts.Thresholds.MemoryBytes, uint64(defaultMemoryBytes)),
			ErrorRate:    coalesce(opts.Thresholds.ErrorRate, defaultErrorRate),
			MinRequests:  coalesce(opts.Thresholds.MinRequests, uint64(defaultMinRequests)),
		},
		reg: prometheus.NewRegistry(),
	}
	m.started = m.clock()

	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: name, Help: help}, labels)
	}
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{Namespace: ns, Name: name, Help: help})
	}
	m.requests = counter("requests_total", "Facade computations by outcome.", "outcome")
	m.requestLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: ns, Name: "request_duration_seconds", Help: "Facade computation latency.",
		Buckets: prometheus.DefBuckets,
	})
	m.queries = counter("queries_total", "Queries by source and outcome.", "source", "outcome")
	m.queryLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: ns, Name: "query_duration_seconds", Help: "Query latency by source.",
		Buckets: prometheus.DefBuckets,
	}, []string{"source"})
	m.slowQueries = counter("slow_queries_total", "Queries over the slow threshold.", "source")
	m.retries = counter("query_retries_total", "Transient failures retried.", "pool")
	m.connections = counter("connections_created_total", "Physical connections opened.", "pool")
	m.transactions = counter("transactions_total", "Transactions by outcome.", "pool", "outcome")
	m.cacheLookups = counter("cache_lookups_total", "Cache lookups by layer, tier and result.", "layer", "tier", "result")
	m.cacheEvents = counter("cache_events_total", "Cache writes, deletes, refreshes and self-heals.", "event")
	m.errors = counter("errors_total", "Errors by category.", "category")
	m.alertsRaised = counter("alerts_total", "Alerts raised by type.", "type")
	m.heapBytes = gauge("heap_bytes", "Heap bytes in use at the last sample.")
	m.sysBytes = gauge("sys_bytes", "Bytes obtained from the OS at the last sample.")
	m.goroutines = gauge("goroutines", "Goroutines at the last sample.")
	m.gcCycles = gauge("gc_cycles", "Completed GC cycles at the last sample.")
	m.uptime = gauge("uptime_seconds", "Seconds since the monitor was created.")

	m.reg.MustRegister(
		m.requests, m.requestLatency, m.queries, m.queryLatency, m.slowQueries,
		m.retries, m.connections, m.transactions, m.cacheLookups, m.cacheEvents,
		m.errors, m.alertsRaised, m.heapBytes, m.sysBytes, m.goroutines, m.gcCycles, m.uptime,
		collectors.NewGoCollector(),
	)

	m.alerts.init(m, coalesce(opts.AlertCooldown, defaultAlertCooldown), coalesce(opts.AlertQueue, defaultAlertQueue))
	return m
}

func (m *Monitor) clock() time.Time {
	if m.now != nil {
		return m.now()
	}
	return time.Now()
}

// ID identifies this monitor instance in reports.
func (m *Monitor) ID() string { return m.id }

// Registry exposes the private registry, e.g. for promhttp.
func (m *Monitor) Registry() *prometheus.Registry { return m.reg }

// RecordRequest records one facade computation. A request slower than the
// response time threshold raises an alert.
func (m *Monitor) RecordRequest(name string, d time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
		m.reqErrors.Add(1)
		m.errors.WithLabelValues("request_" + pool.KindOf(err).String()).Inc()
	}
	m.reqTotal.Add(1)
	m.requests.WithLabelValues(outcome).Inc()
	m.requestLatency.Observe(d.Seconds())
	for {
		cur := m.maxNanos.Load()
		if int64(d) <= cur || m.maxNanos.CompareAndSwap(cur, int64(d)) {
			break
		}
	}

	if d > m.th.ResponseTime {
		m.alerts.raise(Alert{
			Type:      ResponseTime,
			Message:   "slow computation " + name + ": " + d.String(),
			Value:     d.Seconds(),
			Threshold: m.th.ResponseTime.Seconds(),
		})
	}
}

// RecordError counts one error under category.
func (m *Monitor) RecordError(category string) {
	m.errors.WithLabelValues(category).Inc()
}

// Close stops the sampler and drains pending alert deliveries. Safe to call
// more than once.
func (m *Monitor) Close() {
	m.closeOnce.Do(func() {
		m.Stop()
		m.alerts.close()
	})
}

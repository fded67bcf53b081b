package monitor

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EmrahCan/budget-sub000/batch"
	"github.com/EmrahCan/budget-sub000/tiered"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newMonitor(t *testing.T, opts Options) (*Monitor, *fakeClock) {
	t.Helper()
	clk := &fakeClock{t: time.Date(2024, 1, 31, 12, 0, 0, 0, time.UTC)}
	opts.Now = clk.Now
	m := New(opts)
	t.Cleanup(m.Close)
	return m, clk
}

// collect subscribes to alerts and returns a receive function with a timeout.
func collect(t *testing.T, m *Monitor) func() Alert {
	ch := make(chan Alert, 16)
	m.OnAlert(func(a Alert) { ch <- a })
	return func() Alert {
		t.Helper()
		select {
		case a := <-ch:
			return a
		case <-time.After(2 * time.Second):
			t.Fatal("no alert delivered")
			return Alert{}
		}
	}
}

func TestReportAggregatesPushedEvents(t *testing.T) {
	m, _ := newMonitor(t, Options{})
	po, ch, bo := m.PoolObserver(), m.CacheHooks(), m.BatchObserver()

	m.RecordRequest("summary", 100*time.Millisecond, nil)
	m.RecordRequest("summary", 300*time.Millisecond, errors.New("syntax"))

	po.ConnectionCreated("main")
	po.QueryExecuted("main", 10*time.Millisecond, nil)
	po.QueryExecuted("main", 30*time.Millisecond, os.NewSyscallError("read", syscall.ECONNRESET))
	po.Retry("main", 1, nil)
	po.SlowQuery("main", "SELECT 1", 2*time.Second)
	po.Transaction("main", true)
	po.Transaction("main", false)

	ch.Hit("k", tiered.TierFast)
	ch.Hit("k", tiered.TierShared)
	ch.Miss("k")
	ch.SelfHeal("k", "expired")
	ch.SharedError("get", errors.New("down"))

	bo.QueryTimed("income", batch.Read, time.Millisecond, nil)
	bo.QueryTimed("insert", batch.Write, time.Millisecond, nil)
	bo.CacheLookup("income", true)

	r, err := m.Report()
	require.NoError(t, err)

	assert.Equal(t, m.ID(), r.InstanceID)
	assert.EqualValues(t, 2, r.Requests.Total)
	assert.EqualValues(t, 1, r.Requests.Errors)
	assert.InDelta(t, 0.5, r.Requests.ErrorRate, 1e-9)
	assert.Equal(t, 300*time.Millisecond, r.Requests.MaxLatency)
	assert.InDelta(t, float64(200*time.Millisecond), float64(r.Requests.AvgLatency), float64(time.Millisecond))

	assert.EqualValues(t, 2, r.Queries.Total, "batch timings are not pool queries")
	assert.EqualValues(t, 1, r.Queries.Errors)
	assert.EqualValues(t, 1, r.Queries.Slow)
	assert.EqualValues(t, 1, r.Queries.Retries)
	assert.EqualValues(t, 1, r.Queries.ConnectionsCreated)
	assert.EqualValues(t, 1, r.Queries.Committed)
	assert.EqualValues(t, 1, r.Queries.RolledBack)
	assert.EqualValues(t, 1, r.Queries.BatchReads)
	assert.EqualValues(t, 1, r.Queries.BatchWrites)

	assert.EqualValues(t, 2, r.Cache.Hits)
	assert.EqualValues(t, 1, r.Cache.FastHits)
	assert.EqualValues(t, 1, r.Cache.SharedHits)
	assert.EqualValues(t, 1, r.Cache.Misses)
	assert.EqualValues(t, 1, r.Cache.BatchHits)
	assert.EqualValues(t, 1, r.Cache.SelfHeals)

	assert.Equal(t, map[string]uint64{
		"request_semantic": 1,
		"query_transient":  1,
		"cache_shared":     1,
	}, r.Errors)
	assert.Contains(t, r.Recommendations[0], "slow queries")

	_, err = json.Marshal(r)
	require.NoError(t, err)
}

func TestSlowRequestAlertHonorsCooldown(t *testing.T) {
	m, clk := newMonitor(t, Options{
		AlertCooldown: time.Minute,
		Thresholds:    Thresholds{ResponseTime: 100 * time.Millisecond},
	})
	next := collect(t, m)

	m.RecordRequest("summary", 120*time.Millisecond, nil)
	a := next()
	assert.Equal(t, ResponseTime, a.Type)
	assert.Equal(t, Warning, a.Severity)
	assert.NotEmpty(t, a.ID)

	m.RecordRequest("summary", 500*time.Millisecond, nil) // inside cooldown
	require.Len(t, m.Alerts(), 1)

	clk.Advance(61 * time.Second)
	assert.Empty(t, m.Alerts(), "alert leaves the active list after its cooldown")
	m.RecordRequest("summary", 500*time.Millisecond, nil)
	a2 := next()
	assert.Equal(t, Critical, a2.Severity)
	assert.NotEqual(t, a.ID, a2.ID)
}

func TestSampleRaisesMemoryAndErrorRateAlerts(t *testing.T) {
	m, _ := newMonitor(t, Options{
		Thresholds: Thresholds{MemoryBytes: 1, ErrorRate: 0.2, MinRequests: 10},
	})
	next := collect(t, m)

	for i := 0; i < 10; i++ {
		var err error
		if i%2 == 0 {
			err = errors.New("boom")
		}
		m.RecordRequest("r", time.Millisecond, err)
	}
	s := m.Sample()
	assert.NotZero(t, s.HeapAlloc)
	assert.Positive(t, s.Goroutines)

	got := map[AlertType]Alert{}
	for i := 0; i < 2; i++ {
		a := next()
		got[a.Type] = a
	}
	require.Contains(t, got, MemoryUsage)
	require.Contains(t, got, ErrorRate)
	assert.Equal(t, Critical, got[MemoryUsage].Severity)
	assert.InDelta(t, 0.5, got[ErrorRate].Value, 1e-9)

	// the next window has no new requests
	m.Sample()
	for _, a := range m.Alerts() {
		assert.NotEqual(t, "", a.ID)
	}
	assert.Len(t, m.Alerts(), 2)
}

func TestPanickingCallbackDoesNotStopDelivery(t *testing.T) {
	m, _ := newMonitor(t, Options{Thresholds: Thresholds{ResponseTime: time.Millisecond}})
	m.OnAlert(func(Alert) { panic("bad subscriber") })
	next := collect(t, m)

	m.RecordRequest("r", time.Second, nil)
	assert.Equal(t, ResponseTime, next().Type)
}

func TestWritePrometheus(t *testing.T) {
	m, _ := newMonitor(t, Options{Namespace: "test"})
	m.RecordRequest("r", time.Millisecond, nil)
	m.PoolObserver().QueryExecuted("main", time.Millisecond, nil)
	m.Sample()

	var buf bytes.Buffer
	require.NoError(t, m.WritePrometheus(&buf))
	out := buf.String()
	assert.Contains(t, out, `test_requests_total{outcome="ok"} 1`)
	assert.Contains(t, out, `test_queries_total{outcome="ok",source="pool:main"} 1`)
	assert.Contains(t, out, "# TYPE test_query_duration_seconds histogram")
	assert.Contains(t, out, "test_heap_bytes")
	assert.Contains(t, out, "go_goroutines")
}

func TestSamplerLifecycle(t *testing.T) {
	m, _ := newMonitor(t, Options{SampleInterval: 5 * time.Millisecond})
	m.Stop() // before Start
	m.Start()
	m.Start()
	require.Eventually(t, func() bool { return !m.lastSample().SampledAt.IsZero() }, time.Second, 5*time.Millisecond)
	m.Stop()
	m.Stop()
	m.Close()
	m.Close()

	m.RecordRequest("after close", time.Hour, nil)
	assert.Empty(t, m.Alerts(), "closed monitor raises nothing")
}

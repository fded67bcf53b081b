package monitor

import (
	"fmt"
	"runtime"
	"time"

	"github.com/EmrahCan/budget-sub000/logging"
)

// System is one sample of process resources.
type System struct {
	HeapAlloc  uint64        `json:"heapAlloc"`
	HeapSys    uint64        `json:"heapSys"`
	Sys        uint64        `json:"sys"`
	Goroutines int           `json:"goroutines"`
	NumGC      uint32        `json:"numGC"`
	Uptime     time.Duration `json:"uptime"`
	SampledAt  time.Time     `json:"sampledAt"`
}

// Start runs the sampler every SampleInterval until Stop. Calling Start on
// a running sampler does nothing.
func (m *Monitor) Start() {
	m.samplerMu.Lock()
	defer m.samplerMu.Unlock()
	if m.stopSampler != nil {
		return
	}
	stop := make(chan struct{})
	m.stopSampler = stop
	m.samplerWG.Add(1)
	go func() {
		defer m.samplerWG.Done()
		t := time.NewTicker(m.interval)
		defer t.Stop()
		m.Sample()
		for {
			select {
			case <-t.C:
				m.Sample()
			case <-stop:
				return
			}
		}
	}()
	m.log.Debug("sampler started", logging.Fields{"interval": m.interval.String()})
}

// Stop halts the sampler and waits for it. Safe without Start.
func (m *Monitor) Stop() {
	m.samplerMu.Lock()
	stop := m.stopSampler
	m.stopSampler = nil
	m.samplerMu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	m.samplerWG.Wait()
}

// Sample reads runtime memory statistics, updates the gauges and checks the
// memory and error-rate thresholds.
func (m *Monitor) Sample() System {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	now := m.clock()
	s := System{
		HeapAlloc:  ms.HeapAlloc,
		HeapSys:    ms.HeapSys,
		Sys:        ms.Sys,
		Goroutines: runtime.NumGoroutine(),
		NumGC:      ms.NumGC,
		Uptime:     now.Sub(m.started),
		SampledAt:  now,
	}
	m.heapBytes.Set(float64(s.HeapAlloc))
	m.sysBytes.Set(float64(s.Sys))
	m.goroutines.Set(float64(s.Goroutines))
	m.gcCycles.Set(float64(s.NumGC))
	m.uptime.Set(s.Uptime.Seconds())

	reqs, errs := m.reqTotal.Load(), m.reqErrors.Load()
	m.lastMu.Lock()
	m.last = s
	dReq, dErr := reqs-m.windowReq, errs-m.windowErrs
	m.windowReq, m.windowErrs = reqs, errs
	m.lastMu.Unlock()

	m.checkMemory(s.HeapAlloc)
	if dReq >= m.th.MinRequests {
		if rate := float64(dErr) / float64(dReq); rate > m.th.ErrorRate {
			m.alerts.raise(Alert{
				Type:      ErrorRate,
				Message:   fmt.Sprintf("error rate %.1f%% over the last %d requests", rate*100, dReq),
				Value:     rate,
				Threshold: m.th.ErrorRate,
			})
		}
	}
	return s
}

func (m *Monitor) checkMemory(heap uint64) {
	if heap <= m.th.MemoryBytes {
		return
	}
	m.alerts.raise(Alert{
		Type:      MemoryUsage,
		Message:   fmt.Sprintf("heap in use %d MiB", heap>>20),
		Value:     float64(heap),
		Threshold: float64(m.th.MemoryBytes),
	})
}

func (m *Monitor) lastSample() System {
	m.lastMu.Lock()
	defer m.lastMu.Unlock()
	return m.last
}

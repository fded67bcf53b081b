package monitor

import (
	"runtime"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/EmrahCan/budget-sub000/logging"
)

// AlertType is the threshold that fired.
type AlertType string

const (
	ResponseTime AlertType = "response_time"
	MemoryUsage  AlertType = "memory_usage"
	ErrorRate    AlertType = "error_rate"
)

// Severity grows with how far past the threshold the value is.
type Severity string

const (
	Warning  Severity = "warning"
	Critical Severity = "critical"
)

// criticalFactor: value/threshold at or above this is critical.
const criticalFactor = 1.5

type Alert struct {
	ID        string    `json:"id"`
	Type      AlertType `json:"type"`
	Severity  Severity  `json:"severity"`
	Message   string    `json:"message"`
	Value     float64   `json:"value"`
	Threshold float64   `json:"threshold"`
	At        time.Time `json:"at"`
}

type alerter struct {
	m        *Monitor
	cooldown time.Duration

	mu     sync.Mutex
	last   map[AlertType]time.Time
	recent []Alert
	subs   []func(Alert)
	closed bool

	q       chan Alert
	wg      sync.WaitGroup
	dropped atomic.Uint64
}

func (a *alerter) init(m *Monitor, cooldown time.Duration, qlen int) {
	a.m = m
	a.cooldown = cooldown
	a.last = make(map[AlertType]time.Time)
	a.q = make(chan Alert, qlen)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		for al := range a.q {
			a.deliver(al)
		}
	}()
}

func (a *alerter) deliver(al Alert) {
	a.mu.Lock()
	subs := slices.Clone(a.subs)
	a.mu.Unlock()
	for _, fn := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					a.m.log.Error("alert callback panicked", logging.Fields{"alert": al.ID, "panic": r})
				}
			}()
			fn(al)
		}()
	}
}

// raise fills in ID, severity and time, applies the per-type cooldown and
// queues the alert. It reports whether the alert was raised.
func (a *alerter) raise(al Alert) bool {
	now := a.m.clock()
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return false
	}
	if t, ok := a.last[al.Type]; ok && now.Sub(t) < a.cooldown {
		a.mu.Unlock()
		return false
	}
	a.last[al.Type] = now

	al.ID = uuid.NewString()
	al.At = now
	al.Severity = Warning
	if al.Threshold > 0 && al.Value/al.Threshold >= criticalFactor {
		al.Severity = Critical
	}
	a.recent = append(a.recent, al)
	if len(a.recent) > keptAlerts {
		a.recent = a.recent[len(a.recent)-keptAlerts:]
	}

	select {
	case a.q <- al:
	default:
		a.dropped.Add(1)
	}
	a.mu.Unlock()

	a.m.alertsRaised.WithLabelValues(string(al.Type)).Inc()
	a.m.log.Warn("alert", logging.Fields{
		"type": string(al.Type), "severity": string(al.Severity), "message": al.Message,
	})
	return true
}

// active lists alerts raised within the cooldown window, newest first.
func (a *alerter) active() []Alert {
	now := a.m.clock()
	a.mu.Lock()
	defer a.mu.Unlock()
	out := []Alert{}
	for i := len(a.recent) - 1; i >= 0; i-- {
		if now.Sub(a.recent[i].At) < a.cooldown {
			out = append(out, a.recent[i])
		}
	}
	return out
}

func (a *alerter) close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	close(a.q)
	a.mu.Unlock()
	a.wg.Wait()
}

// OnAlert registers fn for every alert raised from now on. Callbacks run on
// one delivery goroutine, in order, off the request path.
func (m *Monitor) OnAlert(fn func(Alert)) {
	m.alerts.mu.Lock()
	m.alerts.subs = append(m.alerts.subs, fn)
	m.alerts.mu.Unlock()
}

// Alerts returns the alerts still inside their cooldown window.
func (m *Monitor) Alerts() []Alert { return m.alerts.active() }

// DroppedAlerts counts alerts not delivered because the queue was full.
func (m *Monitor) DroppedAlerts() uint64 { return m.alerts.dropped.Load() }

// CollectGarbageOnMemoryAlert is a ready-made callback that forces a GC
// cycle when memory usage crosses its threshold.
func CollectGarbageOnMemoryAlert(al Alert) {
	if al.Type == MemoryUsage {
		runtime.GC()
	}
}

// LogAlerts returns a callback that writes every alert to l.
func LogAlerts(l logging.Logger) func(Alert) {
	l = logging.OrNop(l)
	return func(al Alert) {
		f := logging.Fields{"id": al.ID, "type": string(al.Type), "value": al.Value, "threshold": al.Threshold}
		if al.Severity == Critical {
			l.Error(al.Message, f)
			return
		}
		l.Warn(al.Message, f)
	}
}

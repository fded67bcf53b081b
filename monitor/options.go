package monitor

import (
	"time"

	"github.com/EmrahCan/budget-sub000/logging"
)

// Thresholds trigger alerts. Zero values take defaults.
type Thresholds struct {
	ResponseTime time.Duration // per request; 0 => 2s
	MemoryBytes  uint64        // heap in use; 0 => 512 MiB
	ErrorRate    float64       // errors/requests between two samples; 0 => 0.05
	// MinRequests is the fewest requests a sample window needs before its
	// error rate is judged; 0 => 20.
	MinRequests uint64
}

type Options struct {
	// Namespace prefixes every metric name; "" => "budget_perf".
	Namespace string
	// SampleInterval is the system sampler period; 0 => 30s.
	SampleInterval time.Duration
	// AlertCooldown is the quiet period per alert type; 0 => 5m.
	AlertCooldown time.Duration
	// AlertQueue bounds undelivered alerts; 0 => 64. Overflow is dropped.
	AlertQueue int
	Thresholds Thresholds

	Logger logging.Logger
	// Now is used for alert timestamps and cooldowns. Defaults to time.Now.
	Now func() time.Time
}

const (
	defaultNamespace      = "budget_perf"
	defaultSampleInterval = 30 * time.Second
	defaultAlertCooldown  = 5 * time.Minute
	defaultAlertQueue     = 64
	defaultResponseTime   = 2 * time.Second
	defaultMemoryBytes    = 512 << 20
	defaultErrorRate      = 0.05
	defaultMinRequests    = 20
	keptAlerts            = 50
)

func coalesce[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}

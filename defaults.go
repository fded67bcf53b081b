package perf

import "time"

const (
	defaultNamespace        = "reports"
	defaultPoolName         = "default"
	defaultOptimizeInterval = time.Hour
	defaultCleanupInterval  = 5 * time.Minute
	defaultTaskTimeout      = 2 * time.Minute
	cacheLogQueue           = 1024
)

// coalesce returns def when v is the zero value of T - otherwise v.
func coalesce[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}

package batch

import "time"

// Observer receives explicit instrumentation calls from the Executor.
// Implementations MUST be cheap and non-blocking.
type Observer interface {
	QueryTimed(key string, mode Mode, d time.Duration, err error)
	CacheLookup(key string, hit bool)
}

// NopObserver is the default no-op
type NopObserver struct{}

func (NopObserver) QueryTimed(string, Mode, time.Duration, error) {}
func (NopObserver) CacheLookup(string, bool)                      {}

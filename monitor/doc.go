// Package monitor aggregates what the rest of the layer pushes into it:
// request latency, query timing from the pool manager and batch executor,
// cache hits by tier and errors by category. A sampler adds process memory,
// goroutines and GC on a timer and checks the alert thresholds.
//
// Everything lives in a private prometheus registry. Report renders a JSON
// friendly snapshot with recommendations; WritePrometheus renders the text
// exposition format. Alerts are advisory: they are queued to the registered
// callbacks and never throttle traffic.
package monitor

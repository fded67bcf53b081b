// Package perf is the performance layer between the report endpoints of the
// budget application and its relational store.
//
// A Layer owns one of each component and wires them together:
//   - pool.Manager: named connection pools with bounded retry of transient
//     failures, transactions and batch inserts.
//   - tiered.Cache: fast in-process tier in front of an optional shared
//     Redis tier, with tags, stale-while-revalidate and generation-guarded
//     write-back.
//   - batch.Executor: concurrent reads, ordered writes, per-key timings.
//   - monitor.Monitor: prometheus metrics, system sampling and alerts.
//
// Flow of one computation:
//
//	key  := Key(name, params)                 // deterministic
//	v, _ := cache.Get(key, fallback)          // fast, shared, then fallback
//	fallback = fn(ctx, Runner)                // batch executor + pools
//	monitor.RecordRequest(name, took, err)
//
// Construct with New, call Initialize once, and Shutdown on exit:
//
//	l, err := perf.New(perf.Options{Pools: map[string]pool.Config{"main": cfg}})
//	if err := l.Initialize(ctx); err != nil { ... }
//	defer l.Shutdown(context.Background())
//
//	sum, err := perf.Compute(ctx, l, "report:summary", params,
//	    func(ctx context.Context, r perf.Runner) (Summary, error) { ... },
//	    perf.ComputeOptions{TTL: 5 * time.Minute, Tags: []string{"user:7"}})
//
// Package config builds Options from a YAML or TOML file; package reports
// holds the finance computations served through a Layer.
package perf

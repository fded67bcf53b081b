// Package batch runs the report queries of one request.
//
// An Executor wraps single queries with timing and an optional private
// result cache (ExecuteOptimizedQuery), and runs groups of descriptors with
// reads fanned out concurrently and writes applied strictly in order
// (ExecuteBatchQueries). It also owns the fixed finance index list
// (CreateOptimalIndexes), a pure query rewriter (GenerateOptimizedQuery) and
// the per-key statistics behind AnalyzeQueryPerformance.
//
// The private cache is deliberately separate from the tiered cache: entries
// carry their own wall-clock TTL and live only in this process.
package batch

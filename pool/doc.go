// Package pool manages named connection pools to the relational store.
//
// Every statement goes through Execute, which retries a fixed whitelist of
// transient failures with linear backoff (RetryDelay * attempt) and never
// retries anything else. Transactions run on one dedicated connection that is
// released on every exit path. Instrumentation is explicit: each operation
// updates the pool's counters and notifies the Observer itself.
//
// Errors returned by the Manager are *Error values carrying a Kind
// (Configuration, Transient or Semantic) so callers can tell a bad request
// from a flaky store without parsing driver messages.
package pool

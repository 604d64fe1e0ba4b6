// Package progress turns the per-worker delta streams of a consume run into
// one running total and throughput view.
//
// Each worker owns a private Event channel and closes it when it stops. The
// Aggregator waits on every open channel at once, folds deltas into its
// totals, and forwards each event to an optional Emitter. Hub is the Emitter
// used in production: it batches events on a background goroutine without
// ever blocking the aggregator and fans them out to pluggable sinks such as
// Prometheus metrics, a terminal bar, or persistent storage.
package progress

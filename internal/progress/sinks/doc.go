// Package sinks implements concrete progress consumers: structured logging,
// Prometheus counters, a terminal progress bar, repository-backed storage,
// and a shard-completion publisher. Each sink satisfies the progress.Sink
// interface and is safe for repeated Consume/Close cycles.
package sinks

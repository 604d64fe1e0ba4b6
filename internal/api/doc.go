// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/progress for the live aggregator snapshot of the current run.
//   - GET /v1/sessions and /v1/sessions/{id}/stats for statistic sessions.
//   - GET /v1/runs/{id} and /v1/runs/{id}/shards for persisted run progress
//     via the ProgressRepository interface.
package api

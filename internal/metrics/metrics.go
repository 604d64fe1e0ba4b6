// Package metrics exposes Prometheus collectors for pools, statistic sessions
// and the HTTP surface. A nil *Metrics is valid and records nothing.
package metrics

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JakeFAU/shardkit/internal/worker"
)

// Metrics bundles the collectors. It satisfies worker.Observer,
// stats.DropObserver, proc.SpawnObserver and ratelimit.DelayObserver.
type Metrics struct {
	activeWorkers       prometheus.Gauge
	workerFailures      *prometheus.CounterVec
	shardDuration       prometheus.Histogram
	shardItems          prometheus.Counter
	statisticDrops      *prometheus.CounterVec
	gateSpawns          prometheus.Counter
	rateLimitDelay      prometheus.Histogram
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	gatherer prometheus.Gatherer
}

var _ worker.Observer = (*Metrics)(nil)

// New registers the collectors on reg. When reg also implements
// prometheus.Gatherer, Handler serves it.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		activeWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "shardkit_active_workers",
			Help: "Number of workers currently running.",
		}),
		workerFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shardkit_worker_failures_total",
			Help: "Worker failures, labeled by the hook that failed.",
		}, []string{"phase"}),
		shardDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "shardkit_shard_duration_seconds",
			Help:    "Time taken to consume one shard.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
		}),
		shardItems: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shardkit_shard_items_total",
			Help: "Items consumed in completed shards.",
		}),
		statisticDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shardkit_statistic_writes_dropped_total",
			Help: "Broadcast statistic writes that reached no session, labeled by outcome.",
		}, []string{"outcome"}),
		gateSpawns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shardkit_gate_spawns_total",
			Help: "Child contexts started by execution gates.",
		}),
		rateLimitDelay: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "shardkit_rate_limit_delay_seconds",
			Help:    "Time items waited for a consumption token.",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shardkit_http_requests_total",
			Help: "Total number of HTTP requests, labeled by method and code.",
		}, []string{"method", "code"}),
		httpRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "shardkit_http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, labeled by method and route.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}, []string{"method", "route"}),
	}
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	collectors := []prometheus.Collector{
		m.activeWorkers,
		m.workerFailures,
		m.shardDuration,
		m.shardItems,
		m.statisticDrops,
		m.gateSpawns,
		m.rateLimitDelay,
		m.httpRequestsTotal,
		m.httpRequestDuration,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register metrics collector: %w", err)
		}
	}
	if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	}
	return m, nil
}

// Handler serves the registry the collectors were registered on, falling
// back to the default gatherer.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// WorkerStarted implements worker.Observer.
func (m *Metrics) WorkerStarted(int) {
	if m == nil {
		return
	}
	m.activeWorkers.Inc()
}

// WorkerStopped implements worker.Observer.
func (m *Metrics) WorkerStopped(int) {
	if m == nil {
		return
	}
	m.activeWorkers.Dec()
}

// WorkerFailed implements worker.Observer.
func (m *Metrics) WorkerFailed(_ int, phase worker.Phase) {
	if m == nil {
		return
	}
	m.workerFailures.WithLabelValues(string(phase)).Inc()
}

// ShardCompleted implements worker.Observer.
func (m *Metrics) ShardCompleted(_ int, _ int, items int64, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.shardDuration.Observe(elapsed.Seconds())
	m.shardItems.Add(float64(items))
}

// StatisticDropped implements stats.DropObserver.
func (m *Metrics) StatisticDropped(_ string, outcome string) {
	if m == nil {
		return
	}
	m.statisticDrops.WithLabelValues(outcome).Inc()
}

// GateSpawned implements proc.SpawnObserver.
func (m *Metrics) GateSpawned() {
	if m == nil {
		return
	}
	m.gateSpawns.Inc()
}

// RateLimitDelayed implements ratelimit.DelayObserver.
func (m *Metrics) RateLimitDelayed(_ string, delay time.Duration) {
	if m == nil {
		return
	}
	m.rateLimitDelay.Observe(delay.Seconds())
}

// ObserveHTTPRequest records one served request.
func (m *Metrics) ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	m.httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

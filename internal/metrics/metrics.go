// Package metrics exposes Prometheus collectors for the crawler service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	entitiesTotal              *prometheus.CounterVec
	fetchAttemptsTotal         *prometheus.CounterVec
	fetchDurationSeconds       *prometheus.HistogramVec
	relationshipsStoredTotal   prometheus.Counter
	selfLoopsDroppedTotal      prometheus.Counter
	frontierRemaining          prometheus.Gauge
	paceSeconds                prometheus.Gauge
	activeWorkers              prometheus.Gauge
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		entitiesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "socialgraph_entities_total",
				Help: "Persons handled by crawl workers, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		fetchAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "socialgraph_fetch_attempts_total",
				Help: "Remote fetch attempts, labeled by operation and outcome.",
			},
			[]string{"op", "outcome"},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "socialgraph_fetch_duration_seconds",
				Help:    "Latency of successful logical fetches including retries, labeled by operation.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"op"},
		)

		relationshipsStoredTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "socialgraph_relationships_stored_total",
				Help: "Relationships handed to the store (duplicates included).",
			},
		)

		selfLoopsDroppedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "socialgraph_self_loops_dropped_total",
				Help: "Neighborhood entries discarded because they pointed back at the queried person.",
			},
		)

		frontierRemaining = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "socialgraph_frontier_remaining",
				Help: "Persons from the current frontier snapshot not yet completed.",
			},
		)

		paceSeconds = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "socialgraph_pace_seconds",
				Help: "Current delay each worker waits before claiming a person.",
			},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "socialgraph_active_workers",
				Help: "Number of workers currently processing a person.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveEntity counts one person finishing with outcome.
func ObserveEntity(outcome string) {
	Init()
	entitiesTotal.WithLabelValues(outcome).Inc()
}

// ObserveFetchAttempt counts a single remote request attempt.
func ObserveFetchAttempt(op, outcome string) {
	Init()
	fetchAttemptsTotal.WithLabelValues(op, outcome).Inc()
}

// ObserveFetch records the latency of a completed logical fetch.
func ObserveFetch(op string, duration time.Duration) {
	Init()
	fetchDurationSeconds.WithLabelValues(op).Observe(duration.Seconds())
}

// AddRelationships counts relationships passed to the store.
func AddRelationships(n int) {
	if n <= 0 {
		return
	}
	Init()
	relationshipsStoredTotal.Add(float64(n))
}

// AddSelfLoops counts dropped self-loops.
func AddSelfLoops(n int) {
	if n <= 0 {
		return
	}
	Init()
	selfLoopsDroppedTotal.Add(float64(n))
}

// SetFrontierRemaining publishes how many snapshot rows are left.
func SetFrontierRemaining(n int) {
	Init()
	frontierRemaining.Set(float64(n))
}

// SetPace publishes the current pacing delay.
func SetPace(d time.Duration) {
	Init()
	paceSeconds.Set(d.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

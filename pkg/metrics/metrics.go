// Package metrics defines the Prometheus collectors shared by the imgseek
// services and serves them for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the services.
type Metrics struct {
	HTTPRequestsTotal      *prometheus.CounterVec
	HTTPRequestDuration    *prometheus.HistogramVec
	HTTPRequestsInFlight   prometheus.Gauge
	SimilarQueriesTotal    *prometheus.CounterVec
	SimilarLatency         *prometheus.HistogramVec
	SimilarResultsCount    prometheus.Histogram
	QueryBuildFailures     *prometheus.CounterVec
	CacheHitsTotal         prometheus.Counter
	CacheMissesTotal       prometheus.Counter
	SignaturesIngested     *prometheus.CounterVec
	SignaturesIndexedTotal prometheus.Counter
	IndexFlushesTotal      *prometheus.CounterVec
	SegmentReloadsTotal    prometheus.Counter
	ShardDocCount          *prometheus.GaugeVec
	ActiveShards           prometheus.Gauge
	CircuitBreakerState    *prometheus.GaugeVec

	gatherer prometheus.Gatherer
}

// New creates all metrics and registers them with the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates all metrics and registers them with reg. When reg
// is also a Gatherer, such as a *prometheus.Registry, Handler serves it;
// otherwise Handler serves the default gatherer.
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		SimilarQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "similar_queries_total",
				Help: "Total similar-image queries by result type (hit, miss, zero_result, not_found, error).",
			},
			[]string{"result_type"},
		),
		SimilarLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "similar_query_latency_seconds",
				Help:    "Similar-image query latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"cache_status"},
		),
		SimilarResultsCount: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "similar_results_count",
				Help:    "Number of results returned per similar-image query.",
				Buckets: []float64{0, 1, 5, 10, 25, 50, 100},
			},
		),
		QueryBuildFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "similar_query_build_failures_total",
				Help: "Similar queries that could not be built, by colour channel.",
			},
			[]string{"channel"},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_hits_total",
				Help: "Total number of cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_misses_total",
				Help: "Total number of cache misses.",
			},
		),
		SignaturesIngested: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signatures_ingested_total",
				Help: "Signatures accepted by the ingestion service, by status.",
			},
			[]string{"status"},
		),
		SignaturesIndexedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "signatures_indexed_total",
				Help: "Total image signatures indexed.",
			},
		),
		IndexFlushesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "index_flushes_total",
				Help: "Total index flush operations by status.",
			},
			[]string{"status"},
		),
		SegmentReloadsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "segment_reloads_total",
				Help: "Total segments picked up by reload scans.",
			},
		),
		ShardDocCount: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "shard_document_count",
				Help: "Number of documents per shard.",
			},
			[]string{"shard_id"},
		),
		ActiveShards: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "active_shards",
				Help: "Number of active index shards.",
			},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.SimilarQueriesTotal,
		m.SimilarLatency,
		m.SimilarResultsCount,
		m.QueryBuildFailures,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.SignaturesIngested,
		m.SignaturesIndexedTotal,
		m.IndexFlushesTotal,
		m.SegmentReloadsTotal,
		m.ShardDocCount,
		m.ActiveShards,
		m.CircuitBreakerState,
	)

	m.gatherer = prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	}
	return m
}

// Handler returns the scrape handler for the registry m was created with.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

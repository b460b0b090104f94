package scraper

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the product pipeline.
type Metrics struct {
	Registry         *prometheus.Registry
	FetchesTotal     *prometheus.CounterVec
	FetchDuration    *prometheus.HistogramVec
	ProductsTotal    prometheus.Counter
	FailuresTotal    *prometheus.CounterVec
	AuthTotal        *prometheus.CounterVec
	BatchSize        prometheus.Histogram
	CacheHitsTotal   prometheus.Counter
	CacheMissesTotal prometheus.Counter
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	fetches := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ktw_fetch_requests_total",
			Help: "Total page requests issued, labelled by source.",
		},
		[]string{"source"},
	)
	fetchDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ktw_fetch_duration_seconds",
			Help:    "Page request latency by source.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source"},
	)
	products := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ktw_products_fetched_total",
			Help: "Total product records assembled.",
		},
	)
	failures := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ktw_fetch_failures_total",
			Help: "Total per-SKU failures by reason.",
		},
		[]string{"reason"},
	)
	auth := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ktw_auth_attempts_total",
			Help: "Total authentication attempts by result.",
		},
		[]string{"result"},
	)
	batchSize := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ktw_batch_size",
			Help:    "Number of SKUs per batch request.",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250},
		},
	)
	cacheHits := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ktw_cache_hits_total",
			Help: "Result cache hits.",
		},
	)
	cacheMisses := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ktw_cache_misses_total",
			Help: "Result cache misses.",
		},
	)

	registry.MustRegister(fetches, fetchDuration, products, failures, auth, batchSize, cacheHits, cacheMisses)

	return &Metrics{
		Registry:         registry,
		FetchesTotal:     fetches,
		FetchDuration:    fetchDuration,
		ProductsTotal:    products,
		FailuresTotal:    failures,
		AuthTotal:        auth,
		BatchSize:        batchSize,
		CacheHitsTotal:   cacheHits,
		CacheMissesTotal: cacheMisses,
	}
}

// IncFetch increments the request counter for a source.
func (m *Metrics) IncFetch(source string) {
	if m == nil {
		return
	}
	m.FetchesTotal.WithLabelValues(source).Inc()
}

// ObserveFetch records a page request duration.
func (m *Metrics) ObserveFetch(source string, d time.Duration) {
	if m == nil {
		return
	}
	m.FetchDuration.WithLabelValues(source).Observe(d.Seconds())
}

// IncProduct increments the assembled-record counter.
func (m *Metrics) IncProduct() {
	if m == nil {
		return
	}
	m.ProductsTotal.Inc()
}

// IncFailure increments the failure counter for a reason label.
func (m *Metrics) IncFailure(reason string) {
	if m == nil {
		return
	}
	m.FailuresTotal.WithLabelValues(reason).Inc()
}

// IncAuth increments the auth-attempt counter for a result label.
func (m *Metrics) IncAuth(result string) {
	if m == nil {
		return
	}
	m.AuthTotal.WithLabelValues(result).Inc()
}

// ObserveBatch records a batch size.
func (m *Metrics) ObserveBatch(n int) {
	if m == nil {
		return
	}
	m.BatchSize.Observe(float64(n))
}

// IncCacheHit increments the cache hit counter.
func (m *Metrics) IncCacheHit() {
	if m == nil {
		return
	}
	m.CacheHitsTotal.Inc()
}

// IncCacheMiss increments the cache miss counter.
func (m *Metrics) IncCacheMiss() {
	if m == nil {
		return
	}
	m.CacheMissesTotal.Inc()
}

package monitoring

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "bridgeroute"

// Metrics holds all Prometheus metrics. It satisfies the metric sinks of the
// cache, market, engine and catalog packages.
type Metrics struct {
	registry *prometheus.Registry

	sourceFetches   *prometheus.CounterVec
	fallbackHops    *prometheus.CounterVec
	cacheLookups    *prometheus.CounterVec
	routeDuration   *prometheus.HistogramVec
	decisionTiers   *prometheus.CounterVec
	venueOnline     *prometheus.GaugeVec
	snapshotsStored *prometheus.CounterVec

	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight *prometheus.GaugeVec
}

// NewMetrics creates the metrics on registry; a nil registry gets a fresh one
func NewMetrics(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	m := &Metrics{
		registry: registry,
		sourceFetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "source_fetch_total",
				Help:      "Provider calls by fact kind, provider and outcome",
			},
			[]string{"kind", "provider", "outcome"},
		),
		fallbackHops: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "source_fallback_hops_total",
				Help:      "Moves to the next provider or a fallback tier",
			},
			[]string{"kind"},
		),
		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_lookups_total",
				Help:      "Coalescer lookups by fact kind and result",
			},
			[]string{"kind", "result"},
		),
		routeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "route_duration_seconds",
				Help:      "Route computation duration in seconds",
				Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 15},
			},
			[]string{"strategy"},
		),
		decisionTiers: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "decision_tier_total",
				Help:      "Decision signals by tier",
			},
			[]string{"tier"},
		),
		venueOnline: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "venue_online",
				Help:      "1 when the last health probe of the venue succeeded",
			},
			[]string{"venue"},
		),
		snapshotsStored: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "snapshots_stored_total",
				Help:      "Snapshots written by the capture task",
			},
			[]string{"kind"},
		),
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
		httpRequestsInFlight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "http_requests_in_flight",
				Help:      "Current number of HTTP requests being processed",
			},
			[]string{"method", "endpoint"},
		),
	}

	registry.MustRegister(
		m.sourceFetches,
		m.fallbackHops,
		m.cacheLookups,
		m.routeDuration,
		m.decisionTiers,
		m.venueOnline,
		m.snapshotsStored,
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.httpRequestsInFlight,
	)

	return m
}

// Registry returns the registry the metrics live on
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RegisterRuntime adds the Go runtime and process collectors
func (m *Metrics) RegisterRuntime() {
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// RegisterDB exports connection pool statistics of db
func (m *Metrics) RegisterDB(db *sql.DB, name string) {
	m.registry.MustRegister(collectors.NewDBStatsCollector(db, name))
}

// RecordSourceFetch counts one provider call
func (m *Metrics) RecordSourceFetch(kind, provider, outcome string) {
	m.sourceFetches.WithLabelValues(kind, provider, outcome).Inc()
}

// RecordFallbackHop counts one move down a fallback chain
func (m *Metrics) RecordFallbackHop(kind string) {
	m.fallbackHops.WithLabelValues(kind).Inc()
}

// RecordCacheLookup counts one coalescer lookup
func (m *Metrics) RecordCacheLookup(kind, result string) {
	m.cacheLookups.WithLabelValues(kind, result).Inc()
}

// ObserveRoute records the duration of one route computation
func (m *Metrics) ObserveRoute(strategy string, d time.Duration) {
	m.routeDuration.WithLabelValues(strategy).Observe(d.Seconds())
}

// RecordDecision counts one decision signal
func (m *Metrics) RecordDecision(tier string) {
	m.decisionTiers.WithLabelValues(tier).Inc()
}

// SetVenueStatus records a health probe result
func (m *Metrics) SetVenueStatus(venue string, online bool) {
	v := 0.0
	if online {
		v = 1
	}
	m.venueOnline.WithLabelValues(venue).Set(v)
}

// RecordSnapshots counts snapshots written by the capture task
func (m *Metrics) RecordSnapshots(kind string, n int) {
	m.snapshotsStored.WithLabelValues(kind).Add(float64(n))
}

// MetricsMiddleware creates a Prometheus metrics middleware
func (m *Metrics) MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		m.httpRequestsInFlight.WithLabelValues(c.Request.Method, path).Inc()
		defer m.httpRequestsInFlight.WithLabelValues(c.Request.Method, path).Dec()

		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		m.httpRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		m.httpRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

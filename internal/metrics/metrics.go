// Package metrics owns the prometheus registry and the pipeline's
// domain counters.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/reachmetrics/reachmetrics-api/internal/version"
)

type ServerMetrics struct {
	reg     *prometheus.Registry
	handler http.Handler

	inflight  prometheus.Gauge
	reqTotal  *prometheus.CounterVec
	reqDur    *prometheus.HistogramVec
	respBytes *prometheus.HistogramVec

	httpPanicTotal       prometheus.Counter
	errorsTotal          *prometheus.CounterVec
	buildInfo            *prometheus.GaugeVec
	ratelimitDeniedTotal *prometheus.CounterVec
	authFailuresTotal    prometheus.Counter

	cacheHitsTotal   *prometheus.CounterVec
	cacheMissesTotal *prometheus.CounterVec
	cacheStaleTotal  *prometheus.CounterVec

	upstreamErrorsTotal *prometheus.CounterVec
}

// New returns a fresh registry + standard collectors + HTTP metrics
// safe labels only (method, route, code) to avoid path/cardinality explosions
func New() *ServerMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &ServerMetrics{
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "Current number of in-flight HTTP requests",
		}),
		reqTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests by method, route, and status",
		}, []string{"method", "route", "status"}),
		reqDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Request latency by method and route",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"method", "route"}),
		respBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "Response size by method and route",
			Buckets: []float64{256, 1024, 4096, 16384, 65536, 262144, 1048576},
		}, []string{"method", "route"}),
		httpPanicTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_panic_total",
			Help: "Total number of recovered httpserver panics",
		}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "Total 5xx HTTP server errors by method and route (SLI)",
		}, []string{"method", "route"}),
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build metadata (value is always 1)",
		}, []string{"app", "component", "version", "commit", "go_version"}),
		ratelimitDeniedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_rate_limited_total",
			Help: "Total requests rejected by rate limiter, by policy",
		}, []string{"policy"}),
		authFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_auth_failures_total",
			Help: "Total requests rejected for missing or invalid credentials",
		}),
		cacheHitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aggregate_cache_hits_total",
			Help: "Aggregate cache hits by dataset",
		}, []string{"dataset"}),
		cacheMissesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aggregate_cache_misses_total",
			Help: "Aggregate cache misses by dataset",
		}, []string{"dataset"}),
		cacheStaleTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aggregate_cache_stale_serves_total",
			Help: "Stale aggregate cache serves after a failed refresh, by dataset",
		}, []string{"dataset"}),
		upstreamErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "upstream_errors_total",
			Help: "Scraper service call failures by kind",
		}, []string{"kind"}),
	}
	reg.MustRegister(
		m.inflight,
		m.reqTotal,
		m.reqDur,
		m.respBytes,
		m.httpPanicTotal,
		m.errorsTotal,
		m.buildInfo,
		m.ratelimitDeniedTotal,
		m.authFailuresTotal,
		m.cacheHitsTotal,
		m.cacheMissesTotal,
		m.cacheStaleTotal,
		m.upstreamErrorsTotal,
	)

	m.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
	m.reg = reg
	return m
}

func (m *ServerMetrics) Handler() http.Handler { return m.handler }

// Gather exposes the registry for tests.
func (m *ServerMetrics) Gather() (prometheus.Gatherer, error) { return m.reg, nil }

// SetBuildInfo is set once at startup.
func (m *ServerMetrics) SetBuildInfo(app, component string, vi *version.Info) {
	m.buildInfo.With(prometheus.Labels{
		"app":        app,
		"component":  component,
		"version":    vi.Version,
		"commit":     vi.Commit,
		"go_version": vi.GoVersion,
	}).Set(1)
}

func (m *ServerMetrics) IncHttpPanic() { m.httpPanicTotal.Inc() }

func (m *ServerMetrics) IncRateLimitDenied(policy string) {
	m.ratelimitDeniedTotal.WithLabelValues(policy).Inc()
}

func (m *ServerMetrics) IncAuthFailure() { m.authFailuresTotal.Inc() }

func (m *ServerMetrics) IncCacheHit(dataset string)  { m.cacheHitsTotal.WithLabelValues(dataset).Inc() }
func (m *ServerMetrics) IncCacheMiss(dataset string) { m.cacheMissesTotal.WithLabelValues(dataset).Inc() }
func (m *ServerMetrics) IncCacheStale(dataset string) {
	m.cacheStaleTotal.WithLabelValues(dataset).Inc()
}

func (m *ServerMetrics) IncUpstreamError(kind string) {
	m.upstreamErrorsTotal.WithLabelValues(kind).Inc()
}

func statusLabel(code int) string { return strconv.Itoa(code) }

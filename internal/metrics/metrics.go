// Package metrics provides Prometheus metrics for the API.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// defaultBuckets covers fast catalog reads through multi-second media relays.
var defaultBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30}

// Metrics holds all Prometheus metric collectors for the service.
type Metrics struct {
	Registry *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge
	ResponseBytes    *prometheus.CounterVec

	UpstreamDuration  *prometheus.HistogramVec
	UpstreamResponses *prometheus.CounterVec
}

// New creates a Metrics instance with a custom registry and all collectors registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,

		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nekostream_http_requests_total",
			Help: "Total inbound HTTP requests.",
		}, []string{"method", "status_code", "route"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "nekostream_http_request_duration_seconds",
			Help:    "Inbound HTTP request latency in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method", "status_code", "route"}),

		RequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nekostream_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed.",
		}),

		// Relayed media dwarfs JSON traffic; tracking bytes per route shows
		// where the egress goes.
		ResponseBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nekostream_http_response_bytes_total",
			Help: "Total response bytes written, by route.",
		}, []string{"route"}),

		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "nekostream_upstream_request_duration_seconds",
			Help:    "Outbound fetch latency in seconds.",
			Buckets: defaultBuckets,
		}, []string{"status_code"}),

		UpstreamResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nekostream_upstream_responses_total",
			Help: "Total upstream responses by status code.",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.RequestsInFlight,
		m.ResponseBytes,
		m.UpstreamDuration,
		m.UpstreamResponses,
	)

	return m
}

// knownMethods lists the allowed HTTP method label values (bounded cardinality).
var knownMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true,
	"PATCH": true, "HEAD": true, "OPTIONS": true,
}

// NormalizeMethod returns a bounded HTTP method label for Prometheus metrics.
// Non-standard methods are mapped to "other" to prevent cardinality explosion.
func NormalizeMethod(method string) string {
	if knownMethods[method] {
		return method
	}
	return "other"
}

// knownRoutes lists the allowed route label values (bounded cardinality).
// Parameterized routes are identified by prefix so slugs never become labels.
var knownRoutes = []string{
	"/api/extract", "/api/proxy", "/api/home", "/api/trending", "/api/search",
	"/api/genres", "/api/genre", "/api/watch", "/api/anime", "/api/animes",
	"/api/episodes", "/api/status", "/healthz", "/metrics",
}

// NormalizeRoute returns a bounded route label for Prometheus metrics.
func NormalizeRoute(path string) string {
	for _, route := range knownRoutes {
		if path == route || strings.HasPrefix(path, route+"/") || strings.HasPrefix(path, route+"?") {
			return route
		}
	}
	return "other"
}

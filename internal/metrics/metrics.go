// Package metrics provides Prometheus metrics for the proxy.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Default histogram buckets for latency. The tail is longer than a plain API
// proxy needs because held requests can wait through several retry delays.
var defaultBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60}

// Attempt results used as label values on AttemptsTotal.
const (
	AttemptResponse = "response"
	AttemptRefused  = "refused"
	AttemptError    = "error"
)

// Metrics holds all Prometheus metric collectors for the proxy.
type Metrics struct {
	Registry *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	UpstreamDuration  *prometheus.HistogramVec
	UpstreamResponses *prometheus.CounterVec

	AttemptsTotal      *prometheus.CounterVec
	RetriesTotal       prometheus.Counter
	OutcomesTotal      *prometheus.CounterVec
	AttemptsPerRequest prometheus.Histogram
	BufferedBodyBytes  prometheus.Histogram
}

// New creates a Metrics instance with a custom registry and all collectors registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,

		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "holdproxy_http_requests_total",
			Help: "Total inbound HTTP requests.",
		}, []string{"method", "status_code", "route"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "holdproxy_http_request_duration_seconds",
			Help:    "Inbound HTTP request latency in seconds, including time held for retries.",
			Buckets: defaultBuckets,
		}, []string{"method", "status_code", "route"}),

		RequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "holdproxy_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed or held.",
		}),

		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "holdproxy_upstream_request_duration_seconds",
			Help:    "Time until upstream response headers (or failure) in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method"}),

		UpstreamResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "holdproxy_upstream_responses_total",
			Help: "Total upstream responses by method and status code.",
		}, []string{"method", "status_code"}),

		AttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "holdproxy_upstream_attempts_total",
			Help: "Upstream attempts by result (response, refused, error).",
		}, []string{"result"}),

		RetriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "holdproxy_retries_total",
			Help: "Requests held for another attempt after the upstream refused the connection.",
		}),

		OutcomesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "holdproxy_outcomes_total",
			Help: "Terminal request outcomes (succeeded, failed, aborted).",
		}, []string{"outcome"}),

		AttemptsPerRequest: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "holdproxy_attempts_per_request",
			Help:    "Number of upstream attempts used per proxied request.",
			Buckets: []float64{1, 2, 3, 5, 10, 20, 50},
		}),

		BufferedBodyBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "holdproxy_buffered_body_bytes",
			Help:    "Size of request bodies held in memory for replay.",
			Buckets: prometheus.ExponentialBuckets(256, 4, 10),
		}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.RequestsInFlight,
		m.UpstreamDuration,
		m.UpstreamResponses,
		m.AttemptsTotal,
		m.RetriesTotal,
		m.OutcomesTotal,
		m.AttemptsPerRequest,
		m.BufferedBodyBytes,
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

// RouteLabel classifies a request path as "admin" (under adminPrefix) or
// "proxy". Proxied paths are arbitrary, so they are never used as labels.
func RouteLabel(path, adminPrefix string) string {
	if adminPrefix != "" && (path == adminPrefix || strings.HasPrefix(path, adminPrefix+"/")) {
		return "admin"
	}
	return "proxy"
}

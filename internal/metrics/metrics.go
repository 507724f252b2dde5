package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentwire_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agentwire_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Delivery metrics
	EnvelopesDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentwire_envelopes_delivered_total",
			Help: "Total envelopes delivered",
		},
		[]string{"transport"}, // "local" or "http"
	)

	EnvelopesFailed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "agentwire_envelopes_failed_total",
			Help: "Total envelopes that exhausted all endpoints",
		},
	)

	EndpointAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentwire_endpoint_attempts_total",
			Help: "Total per-endpoint delivery attempts",
		},
		[]string{"outcome"}, // "ok" or "error"
	)

	EnvelopesReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "agentwire_envelopes_received_total",
			Help: "Total inbound envelopes accepted",
		},
	)

	// Resolution metrics
	Resolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentwire_resolutions_total",
			Help: "Total identifier resolutions",
		},
		[]string{"outcome"}, // "ok", "empty" or "error"
	)

	// Registry metrics
	RegistrationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentwire_registrations_total",
			Help: "Total almanac registration attempts",
		},
		[]string{"outcome"},
	)
)

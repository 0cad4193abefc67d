// Package metrics registers the Prometheus metrics used by the server.
// Import this package (via blank import) from the server entry point to
// register all metrics before the /metrics handler is mounted.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Inbound authorization and key store metrics.
var (
	// AuthDecisions counts inbound authorization outcomes labelled by route
	// class ("protected", "admin") and decision ("admitted", "unauthorized",
	// "forbidden").
	AuthDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gdpmcp_auth_decisions_total",
			Help: "Inbound authorization decisions by route class and outcome.",
		},
		[]string{"route", "decision"},
	)

	// KeyStoreOps counts key store operations labelled by operation
	// ("generate", "validate", "list", "revoke") and result
	// ("ok", "miss", "error").
	KeyStoreOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gdpmcp_keystore_operations_total",
			Help: "API key store operations by type and result.",
		},
		[]string{"op", "result"},
	)
)

// Appliance-facing metrics.
var (
	// TokenAcquisitions counts OAuth token exchanges against the appliance,
	// labelled by outcome ("success", "error").
	TokenAcquisitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gdpmcp_token_acquisitions_total",
			Help: "OAuth password-grant token acquisitions by outcome.",
		},
		[]string{"status"},
	)

	// UpstreamRequests counts appliance REST API calls labelled by HTTP verb
	// and response status class ("2xx", "4xx", "5xx", "error").
	UpstreamRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gdpmcp_upstream_requests_total",
			Help: "Appliance REST API requests by verb and status class.",
		},
		[]string{"verb", "status"},
	)

	// UpstreamRetries counts single-shot retries triggered by a 401 from the
	// appliance.
	UpstreamRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gdpmcp_upstream_auth_retries_total",
			Help: "Requests retried once after an appliance 401.",
		},
	)

	// UpstreamDuration observes appliance request latency in seconds.
	UpstreamDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gdpmcp_upstream_request_duration_seconds",
			Help:    "Appliance request duration in seconds.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"verb"},
	)
)

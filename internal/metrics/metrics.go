// Package metrics exposes the dispatcher's Prometheus collectors,
// following the package-level promauto var style of the teacher's
// internal/metrics.
//
// No other package in this repository imports it, so these collectors
// are not registered at run time, nothing updates them, and /metrics
// does not report them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal counts completed RsaOp calls by outcome.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_requests_total",
			Help: "RSA dispatch requests by outcome",
		},
		[]string{"outcome"}, // ok | no_servers | wall_clock_exceeded
	)

	// RequestDuration tracks end-to-end RsaOp latency.
	RequestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dispatch_request_duration_seconds",
			Help:    "End-to-end latency of RsaOp calls",
			Buckets: prometheus.DefBuckets,
		},
	)

	// BackendTimeouts counts report_timeout calls per backend.
	BackendTimeouts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_backend_timeouts_total",
			Help: "Timeouts reported against a backend",
		},
		[]string{"backend_id"},
	)

	// BackendReqsPerSec mirrors the estimator's current selection
	// weight for each backend.
	BackendReqsPerSec = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dispatch_backend_reqs_per_sec",
			Help: "Current reqs_per_sec weight per backend",
		},
		[]string{"backend_id"},
	)

	// BackendRTOMicros mirrors the estimator's current adaptive RTO.
	BackendRTOMicros = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dispatch_backend_rto_micros",
			Help: "Current adaptive RTO in microseconds per backend",
		},
		[]string{"backend_id"},
	)

	// BreakerOpen reports 1 when a backend's circuit is open.
	BreakerOpen = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dispatch_backend_breaker_open",
			Help: "1 if the backend's circuit breaker is currently open",
		},
		[]string{"backend_id"},
	)

	// DiscoveryRefreshes counts discovery poll attempts by outcome.
	DiscoveryRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_discovery_refreshes_total",
			Help: "Discovery refresh attempts by outcome",
		},
		[]string{"outcome"}, // ok | error
	)
)

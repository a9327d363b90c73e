// Package observability provides Prometheus metrics instrumentation and
// OpenTelemetry tracing for the conduitmesh core.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// CONTEXT LIFECYCLE METRICS
// =============================================================================

var (
	contextsStartedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conduitmesh_contexts_started_total",
			Help: "Total number of per-operation contexts started, by operation kind",
		},
		[]string{"kind"}, // send, recv, send_receive, dial, listen, accept, resume, bootstrap_dial, bootstrap_listen, connection, pre_conduit, conduit
	)

	contextsFinishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conduitmesh_contexts_finished_total",
			Help: "Total number of contexts reaching a terminal state, by kind and outcome",
		},
		[]string{"kind", "outcome"}, // outcome: finished, failed
	)

	contextLifetimeSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "conduitmesh_context_lifetime_seconds",
			Help:    "Time from context creation to terminal state",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30, 60},
		},
		[]string{"kind"},
	)
)

// =============================================================================
// CHANNEL / CONNECTION GAUGES
// =============================================================================

var (
	activatedChannelsGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "conduitmesh_activated_channels",
			Help: "Number of channels currently activated",
		},
	)

	openConnectionsGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "conduitmesh_open_connections",
			Help: "Number of connections currently open and tracked in the reuse table",
		},
	)

	bufferedPackagesGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "conduitmesh_unassociated_packages_buffered",
			Help: "Number of received packages buffered awaiting a registering context",
		},
	)
)

// =============================================================================
// PLUGIN CALL METRICS
// =============================================================================

var (
	pluginCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conduitmesh_plugin_calls_total",
			Help: "Total plugin wrapper invocations, by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)
)

// RecordContextStarted records that a new context of the given kind began.
func RecordContextStarted(kind string) {
	contextsStartedTotal.WithLabelValues(kind).Inc()
}

// RecordContextFinished records a context reaching a terminal state and its
// lifetime in seconds.
func RecordContextFinished(kind, outcome string, lifetimeSeconds float64) {
	contextsFinishedTotal.WithLabelValues(kind, outcome).Inc()
	contextLifetimeSeconds.WithLabelValues(kind).Observe(lifetimeSeconds)
}

// SetActivatedChannels sets the current activated-channel gauge.
func SetActivatedChannels(n int) {
	activatedChannelsGauge.Set(float64(n))
}

// SetOpenConnections sets the current open-connection gauge.
func SetOpenConnections(n int) {
	openConnectionsGauge.Set(float64(n))
}

// SetBufferedPackages sets the current unassociated-package buffer gauge.
func SetBufferedPackages(n int) {
	bufferedPackagesGauge.Set(float64(n))
}

// RecordPluginCall records a plugin wrapper invocation outcome.
func RecordPluginCall(operation, outcome string) {
	pluginCallsTotal.WithLabelValues(operation, outcome).Inc()
}

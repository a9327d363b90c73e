// Package config provides runtime configuration for the conduitmesh core —
// NO infrastructure endpoints.
//
// This module contains only configuration relevant to the core orchestration
// engine: timeouts, limits, and feature toggles. Plugin manifests, channel
// property parsing, and deployment-specific endpoints are the embedder's
// concern and are never read from the environment inside this package.
package config

import "time"

// RuntimeConfig holds ApiManager and state-machine configuration.
//
// Infrastructure-agnostic: it does not know what channels or plugins are
// loaded, only how long to wait and how much concurrency to allow.
type RuntimeConfig struct {
	// SendTimeout is a send deadline setting. The ApiManager and the state
	// machines do not read it: SendPackage requests carry no deadline and
	// no context fails a send with Timeout.
	SendTimeout time.Duration `json:"send_timeout"`

	// ConnectionTimeout is a link/connection establishment setting. The
	// ApiManager and the state machines do not read it.
	ConnectionTimeout time.Duration `json:"connection_timeout"`

	// CallbackQueueDepth bounds the number of queued tasks the ApiManager's
	// single worker will accept before Post blocks the caller.
	CallbackQueueDepth int `json:"callback_queue_depth"`

	// WaitQueueDepth bounds the low-priority wait queue used by
	// WaitForCallbacks quiescence probes.
	WaitQueueDepth int `json:"wait_queue_depth"`

	// UnassociatedPackageTTL is an expiry setting for packages buffered in
	// UnassociatedPackages. The registry does not read it: buffered
	// packages never expire.
	UnassociatedPackageTTL time.Duration `json:"unassociated_package_ttl"`

	// EnableTelemetry is a tracing/metrics switch. The ApiManager does not
	// read it: Prometheus metrics are always recorded, and tracing starts
	// only if the embedder calls observability.InitTracer.
	EnableTelemetry bool `json:"enable_telemetry"`
}

// DefaultRuntimeConfig returns sensible defaults.
func DefaultRuntimeConfig() *RuntimeConfig {
	return &RuntimeConfig{
		SendTimeout:            30 * time.Second,
		ConnectionTimeout:      60 * time.Second,
		CallbackQueueDepth:     1024,
		WaitQueueDepth:         16,
		UnassociatedPackageTTL: 0,
		EnableTelemetry:        true,
	}
}

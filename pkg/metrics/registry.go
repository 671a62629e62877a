// Package metrics provides optional Prometheus metrics for the LakeStore
// client.
//
// Metrics are opt-in: if InitRegistry is not called, constructors return
// no-op implementations with zero overhead, and the SDK runs without any
// metrics machinery.
//
// Usage:
//
//	metrics.InitRegistry()
//	client, _ := lakestore.NewClient(account, provider)
//	// requests made through the client are now recorded
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registry     *prometheus.Registry
	registryOnce sync.Once
)

// InitRegistry initializes the global Prometheus registry. Must be called
// before constructing metrics instances; safe to call multiple times.
func InitRegistry() {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()
	})
}

// GetRegistry returns the global registry, or nil if InitRegistry has not
// been called (metrics disabled).
func GetRegistry() *prometheus.Registry {
	return registry
}

// IsEnabled reports whether metrics collection is enabled.
func IsEnabled() bool {
	return registry != nil
}

// Package metrics exposes the relay's Prometheus instrumentation.
package metrics

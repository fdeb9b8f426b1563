// Package metric provides Prometheus metrics for rxcheckpoint.
//
// This package implements metrics collection and exposition:
//
//   - prometheus.go: the Registry of checkpoint, recovery and HTTP metrics
//   - collector.go: a scrape-time collector for registry sizes
//
// Every Registry method is safe on a nil receiver, so components can take
// an optional *Registry without guarding each call.
//
// Metrics are exposed at /metrics in Prometheus format.
package metric

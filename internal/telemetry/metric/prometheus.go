package metric

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "rxcheckpoint"

// Result label values.
const (
	ResultSuccess = "success"
	ResultPartial = "partial"
	ResultError   = "error"
)

// Registry holds all application metrics.
type Registry struct {
	registry *prometheus.Registry

	// Checkpoint metrics
	Checkpoints        *prometheus.CounterVec
	CheckpointDuration *prometheus.HistogramVec
	PauseDuration      prometheus.Histogram

	// Recovery metrics
	Recoveries       *prometheus.CounterVec
	RecoveryDuration prometheus.Histogram

	// Entity metrics
	EntitiesSaved  prometheus.Counter
	EntitiesLoaded prometheus.Counter
	EntityFailures *prometheus.CounterVec
	BytesWritten   prometheus.Counter

	// Request metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// NewRegistry creates a registry with its own prometheus.Registry, so tests
// and multiple engines in one process do not collide.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	r := &Registry{
		registry: reg,
		Checkpoints: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoints_total",
			Help:      "Checkpoints attempted, by mode and result.",
		}, []string{"mode", "result"}),
		CheckpointDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "checkpoint_duration_seconds",
			Help:      "Checkpoint latency from pause to commit.",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"mode"}),
		PauseDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scheduler_pause_seconds",
			Help:      "Time the scheduler stayed paused for a checkpoint or recovery.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 10),
		}),
		Recoveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recoveries_total",
			Help:      "Recoveries attempted, by result.",
		}, []string{"result"}),
		RecoveryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "recovery_duration_seconds",
			Help:      "Recovery latency.",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		EntitiesSaved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entities_saved_total",
			Help:      "Entity records written to checkpoints.",
		}),
		EntitiesLoaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entities_loaded_total",
			Help:      "Entity records restored by recoveries.",
		}),
		EntityFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entity_failures_total",
			Help:      "Per-entity save or load failures.",
		}, []string{"op"}),
		BytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoint_bytes_total",
			Help:      "Encoded record bytes written to checkpoints.",
		}),
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Admin API requests, by method, route and status.",
		}, []string{"method", "route", "status"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin API latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	reg.MustRegister(
		r.Checkpoints, r.CheckpointDuration, r.PauseDuration,
		r.Recoveries, r.RecoveryDuration,
		r.EntitiesSaved, r.EntitiesLoaded, r.EntityFailures, r.BytesWritten,
		r.RequestsTotal, r.RequestDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Register adds an extra collector, typically a Collector.
func (r *Registry) Register(c prometheus.Collector) error {
	if r == nil {
		return nil
	}
	return r.registry.Register(c)
}

// Gatherer exposes the underlying registry.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}

// Registerer exposes the underlying registry to components that bring
// their own collectors, such as the Badger store.
func (r *Registry) Registerer() prometheus.Registerer {
	return r.registry
}

// Handler returns an HTTP handler for the /metrics endpoint.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// ObserveCheckpoint records a finished checkpoint.
func (r *Registry) ObserveCheckpoint(mode string, d time.Duration, err error) {
	if r == nil {
		return
	}
	r.Checkpoints.WithLabelValues(mode, result(err)).Inc()
	r.CheckpointDuration.WithLabelValues(mode).Observe(d.Seconds())
}

// ObserveRecovery records a finished recovery.
func (r *Registry) ObserveRecovery(d time.Duration, err error) {
	if r == nil {
		return
	}
	r.Recoveries.WithLabelValues(result(err)).Inc()
	r.RecoveryDuration.Observe(d.Seconds())
}

// ObservePause records how long the scheduler stayed paused.
func (r *Registry) ObservePause(d time.Duration) {
	if r == nil {
		return
	}
	r.PauseDuration.Observe(d.Seconds())
}

// EntitySaved counts one written record of n bytes.
func (r *Registry) EntitySaved(n int) {
	if r == nil {
		return
	}
	r.EntitiesSaved.Inc()
	r.BytesWritten.Add(float64(n))
}

// EntityLoaded counts one restored record.
func (r *Registry) EntityLoaded() {
	if r == nil {
		return
	}
	r.EntitiesLoaded.Inc()
}

// EntityFailed counts a per-entity failure for op ("save" or "load").
func (r *Registry) EntityFailed(op string) {
	if r == nil {
		return
	}
	r.EntityFailures.WithLabelValues(op).Inc()
}

// ObserveRequest records one admin API request.
func (r *Registry) ObserveRequest(method, route string, status int, d time.Duration) {
	if r == nil {
		return
	}
	r.RequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	r.RequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// partialFailure is implemented by aggregate errors.
type partialFailure interface {
	Len() int
}

func result(err error) string {
	if err == nil {
		return ResultSuccess
	}
	var pf partialFailure
	if errors.As(err, &pf) {
		return ResultPartial
	}
	return ResultError
}

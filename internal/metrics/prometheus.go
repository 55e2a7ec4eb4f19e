package metrics

import (
	"time"

	"github.com/giantswarm/appmock/internal/core"
	"github.com/prometheus/client_golang/prometheus"
)

// DefaultNamespace prefixes every metric name when none is given.
const DefaultNamespace = "appmock"

// Compile-time interface compliance check.
var _ core.MetricsCollector = (*PrometheusCollector)(nil)

// PrometheusCollector implements core.MetricsCollector with Prometheus
// metrics held in its own registry.
type PrometheusCollector struct {
	stateTransitions *prometheus.CounterVec
	cacheLookups     *prometheus.CounterVec
	readyDuration    *prometheus.HistogramVec
	closeDuration    *prometheus.HistogramVec
	failures         *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewPrometheusCollector creates a collector whose metric names start with
// namespace, or DefaultNamespace when it is empty.
func NewPrometheusCollector(namespace string) *PrometheusCollector {
	if namespace == "" {
		namespace = DefaultNamespace
	}

	c := &PrometheusCollector{
		registry: prometheus.NewRegistry(),
	}

	c.stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "instance_state_transitions_total",
			Help:      "Total number of instance state transitions",
		},
		[]string{"kind", "from_state", "to_state"},
	)

	c.cacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Total number of instance cache lookups by result",
		},
		[]string{"kind", "result"},
	)

	// Hosts take seconds to load, so the buckets reach further than the
	// defaults.
	c.readyDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "instance_ready_duration_seconds",
			Help:      "Time from start until an instance settled its readiness",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"kind", "status"},
	)

	c.closeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "instance_close_duration_seconds",
			Help:      "Duration of instance close operations",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"kind", "status"},
	)

	c.failures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "instance_failures_total",
			Help:      "Total number of lifecycle failures by error kind",
		},
		[]string{"kind", "error_kind"},
	)

	c.registry.MustRegister(
		c.stateTransitions,
		c.cacheLookups,
		c.readyDuration,
		c.closeDuration,
		c.failures,
	)

	return c
}

// StateTransition counts a state change.
func (c *PrometheusCollector) StateTransition(kind core.Kind, from, to core.State) {
	c.stateTransitions.WithLabelValues(kind.String(), from.String(), to.String()).Inc()
}

// CacheLookup counts a cache lookup.
func (c *PrometheusCollector) CacheLookup(kind core.Kind, result core.CacheResult) {
	c.cacheLookups.WithLabelValues(kind.String(), string(result)).Inc()
}

// ReadyDuration observes how long an instance took to settle readiness.
func (c *PrometheusCollector) ReadyDuration(kind core.Kind, d time.Duration, err error) {
	c.readyDuration.WithLabelValues(kind.String(), status(err)).Observe(d.Seconds())
}

// CloseDuration observes how long a close took.
func (c *PrometheusCollector) CloseDuration(kind core.Kind, d time.Duration, err error) {
	c.closeDuration.WithLabelValues(kind.String(), status(err)).Observe(d.Seconds())
}

// Failure counts a lifecycle failure.
func (c *PrometheusCollector) Failure(kind core.Kind, errKind core.ErrorKind) {
	c.failures.WithLabelValues(kind.String(), errKind.String()).Inc()
}

// Registry returns the Prometheus registry for HTTP handler setup.
func (c *PrometheusCollector) Registry() *prometheus.Registry {
	return c.registry
}

// Register adds the collector's metrics to another registerer, such as
// prometheus.DefaultRegisterer.
func (c *PrometheusCollector) Register(r prometheus.Registerer) error {
	for _, m := range []prometheus.Collector{
		c.stateTransitions,
		c.cacheLookups,
		c.readyDuration,
		c.closeDuration,
		c.failures,
	} {
		if err := r.Register(m); err != nil {
			return err
		}
	}
	return nil
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// Package metrics exports instance lifecycle measurements to Prometheus.
package metrics

// Package metrics exposes the store engine's Prometheus metrics:
// request counts by variant, dropped writes, notification delivery,
// filter evaluation latency, and pages served. The wire layer's admin
// surface serves Handler() next to the QRESP listener.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StoreMetrics holds every store-engine metric. Construct with
// NewStoreMetrics; callers nil-check before observing so an
// unconfigured store pays nothing.
type StoreMetrics struct {
	registry *prometheus.Registry

	requests       *prometheus.CounterVec
	writesDropped  *prometheus.CounterVec
	notifications  *prometheus.CounterVec
	filterDuration prometheus.Histogram
	pagesServed    *prometheus.CounterVec
}

// NewStoreMetrics registers the store's collectors on a fresh
// registry so two stores in one process never collide.
func NewStoreMetrics(namespace string) *StoreMetrics {
	if namespace == "" {
		namespace = "qcore"
	}
	registry := prometheus.NewRegistry()

	m := &StoreMetrics{
		registry: registry,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "requests_total",
			Help:      "Requests executed, by variant, mutability and outcome.",
		}, []string{"variant", "mutating", "status"}),
		writesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "writes_dropped_total",
			Help:      "Writes dropped before landing, by reason.",
		}, []string{"reason"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "notifications_total",
			Help:      "Notification deliveries, by outcome.",
		}, []string{"outcome"}),
		filterDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "filter_eval_seconds",
			Help:      "Wall time spent evaluating a filtered query.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),
		pagesServed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "pages_served_total",
			Help:      "Pagination results returned, split by filtered/unfiltered.",
		}, []string{"filtered"}),
	}

	registry.MustRegister(m.requests, m.writesDropped, m.notifications, m.filterDuration, m.pagesServed)
	return m
}

// ObserveRequest counts one executed request.
func (m *StoreMetrics) ObserveRequest(variant string, mutating, ok bool) {
	m.requests.WithLabelValues(variant, boolLabel(mutating), statusLabel(ok)).Inc()
}

// WriteDropped counts a write dropped before landing (stale
// write_time, or unchanged under a Changes push condition).
func (m *StoreMetrics) WriteDropped(reason string) {
	m.writesDropped.WithLabelValues(reason).Inc()
}

// NotificationFired counts a notification delivered to a listener.
func (m *StoreMetrics) NotificationFired() {
	m.notifications.WithLabelValues("fired").Inc()
}

// NotificationDropped counts a notification lost to a full listener
// queue.
func (m *StoreMetrics) NotificationDropped() {
	m.notifications.WithLabelValues("dropped").Inc()
}

// ObserveFilterDuration records one filtered query's evaluation time.
func (m *StoreMetrics) ObserveFilterDuration(d time.Duration) {
	m.filterDuration.Observe(d.Seconds())
}

// PageServed counts one pagination result.
func (m *StoreMetrics) PageServed(filtered bool) {
	m.pagesServed.WithLabelValues(boolLabel(filtered)).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *StoreMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func statusLabel(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}

// Package metrics wraps a dedicated prometheus registry for lorekeep
// metrics. Record helpers are safe to call before InitPrometheus; they no-op
// until the subsystem is initialized.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetrics wraps prometheus collectors for lorekeep metrics
type PrometheusMetrics struct {
	registry *prometheus.Registry

	// Counters
	permissionChecksTotal  *prometheus.CounterVec
	provisionsTotal        *prometheus.CounterVec
	managedPollsTotal      prometheus.Counter
	retentionDeletedTotal  *prometheus.CounterVec
	retentionSweepsTotal   *prometheus.CounterVec
	recordCacheHitsTotal   prometheus.Counter
	recordCacheMissesTotal prometheus.Counter

	// Histograms
	provisionDuration *prometheus.HistogramVec
	requestDuration   *prometheus.HistogramVec

	// Gauges
	uptime prometheus.GaugeFunc
}

// Default histogram buckets for provisioning duration (in seconds); the
// managed path legitimately runs into minutes.
var defaultBuckets = []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 120, 300}

var promMetrics *PrometheusMetrics

// InitPrometheus initializes the Prometheus metrics subsystem
func InitPrometheus(namespace string) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	start := time.Now()

	pm := &PrometheusMetrics{
		registry: registry,

		permissionChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "permission_checks_total",
				Help:      "Total permission checks by permission name and outcome",
			},
			[]string{"permission", "outcome"},
		),

		provisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provisions_total",
				Help:      "Total dataset storage provisioning attempts",
			},
			[]string{"graph_provider", "outcome"},
		),

		managedPollsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "managed_polls_total",
				Help:      "Total status polls against the managed graph control API",
			},
		),

		retentionDeletedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retention_deleted_total",
				Help:      "Total rows deleted by the retention sweep per collection",
			},
			[]string{"collection"},
		),

		retentionSweepsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retention_sweeps_total",
				Help:      "Total retention sweep runs by outcome",
			},
			[]string{"outcome"},
		),

		recordCacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "record_cache_hits_total",
				Help:      "Total dataset-database record cache hits",
			},
		),

		recordCacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "record_cache_misses_total",
				Help:      "Total dataset-database record cache misses",
			},
		),

		provisionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "provision_duration_seconds",
				Help:      "Dataset storage provisioning duration in seconds",
				Buckets:   defaultBuckets,
			},
			[]string{"graph_provider"},
		),

		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"route", "status"},
		),

		uptime: prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "uptime_seconds",
				Help:      "Process uptime in seconds",
			},
			func() float64 { return time.Since(start).Seconds() },
		),
	}

	registry.MustRegister(
		pm.permissionChecksTotal,
		pm.provisionsTotal,
		pm.managedPollsTotal,
		pm.retentionDeletedTotal,
		pm.retentionSweepsTotal,
		pm.recordCacheHitsTotal,
		pm.recordCacheMissesTotal,
		pm.provisionDuration,
		pm.requestDuration,
		pm.uptime,
	)

	promMetrics = pm
}

// RecordPermissionCheck records one permission check outcome.
func RecordPermissionCheck(permission string, allowed bool) {
	if promMetrics == nil {
		return
	}
	outcome := "denied"
	if allowed {
		outcome = "allowed"
	}
	promMetrics.permissionChecksTotal.WithLabelValues(permission, outcome).Inc()
}

// RecordProvision records one provisioning attempt with its duration.
func RecordProvision(graphProvider string, duration time.Duration, success bool) {
	if promMetrics == nil {
		return
	}
	outcome := "error"
	if success {
		outcome = "ok"
	}
	promMetrics.provisionsTotal.WithLabelValues(graphProvider, outcome).Inc()
	promMetrics.provisionDuration.WithLabelValues(graphProvider).Observe(duration.Seconds())
}

// RecordManagedPoll counts one control-API status poll.
func RecordManagedPoll() {
	if promMetrics == nil {
		return
	}
	promMetrics.managedPollsTotal.Inc()
}

// RecordRetentionDeleted adds deleted-row counts for a collection.
func RecordRetentionDeleted(collection string, count int) {
	if promMetrics == nil {
		return
	}
	promMetrics.retentionDeletedTotal.WithLabelValues(collection).Add(float64(count))
}

// RecordRetentionSweep records one sweep run outcome.
func RecordRetentionSweep(success bool) {
	if promMetrics == nil {
		return
	}
	outcome := "error"
	if success {
		outcome = "ok"
	}
	promMetrics.retentionSweepsTotal.WithLabelValues(outcome).Inc()
}

// RecordCacheHit counts one record-cache hit.
func RecordCacheHit() {
	if promMetrics == nil {
		return
	}
	promMetrics.recordCacheHitsTotal.Inc()
}

// RecordCacheMiss counts one record-cache miss.
func RecordCacheMiss() {
	if promMetrics == nil {
		return
	}
	promMetrics.recordCacheMissesTotal.Inc()
}

// RecordHTTPRequest records one served HTTP request.
func RecordHTTPRequest(route, status string, duration time.Duration) {
	if promMetrics == nil {
		return
	}
	promMetrics.requestDuration.WithLabelValues(route, status).Observe(duration.Seconds())
}

// PrometheusHandler returns an http.Handler serving the metrics registry.
func PrometheusHandler() http.Handler {
	if promMetrics == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(promMetrics.registry, promhttp.HandlerOpts{})
}

// PrometheusRegistry exposes the registry for tests.
func PrometheusRegistry() *prometheus.Registry {
	if promMetrics == nil {
		return nil
	}
	return promMetrics.registry
}

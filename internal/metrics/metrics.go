// Package metrics exposes the Prometheus collectors of loyaltyd.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "loyalty_layer"

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"service", "method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"service", "method", "path"},
	)

	ledgerOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "operations_total",
			Help:      "Ledger mutations by operation and outcome.",
		},
		[]string{"operation", "outcome"},
	)

	ledgerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "operation_duration_seconds",
			Help:      "Duration of ledger mutations including lock wait.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"operation"},
	)

	ledgerConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "balance_conflicts_total",
			Help:      "Compare-and-swap conflicts retried against the store.",
		},
	)

	pointsMoved = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "points_total",
			Help:      "Absolute points moved by transaction type.",
		},
		[]string{"type"},
	)

	settingsCache = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "settings",
			Name:      "cache_lookups_total",
			Help:      "Settings cache lookups by result.",
		},
		[]string{"result"},
	)

	expirySweeps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "expiry",
			Name:      "customers_total",
			Help:      "Customers processed by the expiry sweeper by outcome.",
		},
		[]string{"outcome"},
	)

	expiryDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "expiry",
			Name:      "sweep_duration_seconds",
			Help:      "Duration of expiry sweeps.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		ledgerOperations,
		ledgerDuration,
		ledgerConflicts,
		pointsMoved,
		settingsCache,
		expirySweeps,
		expiryDuration,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// IncInFlight marks the start of an HTTP request.
func IncInFlight() { httpInFlight.Inc() }

// DecInFlight marks the end of an HTTP request.
func DecInFlight() { httpInFlight.Dec() }

// RecordHTTPRequest records one completed HTTP request. path should be a
// route template so label cardinality stays bounded.
func RecordHTTPRequest(service, method, path string, status int, duration time.Duration) {
	method = strings.ToUpper(method)
	httpRequests.WithLabelValues(service, method, path, strconv.Itoa(status)).Inc()
	httpDuration.WithLabelValues(service, method, path).Observe(duration.Seconds())
}

// RecordLedgerOperation records a ledger mutation attempt.
func RecordLedgerOperation(operation, outcome string, duration time.Duration) {
	if duration <= 0 {
		duration = time.Microsecond
	}
	ledgerOperations.WithLabelValues(operation, outcome).Inc()
	ledgerDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordBalanceConflict counts one compare-and-swap retry.
func RecordBalanceConflict() { ledgerConflicts.Inc() }

// RecordPoints adds the absolute value of points to the per-type counter.
func RecordPoints(txType string, points int64) {
	if points < 0 {
		points = -points
	}
	pointsMoved.WithLabelValues(txType).Add(float64(points))
}

// RecordSettingsCache records a cache hit or miss.
func RecordSettingsCache(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	settingsCache.WithLabelValues(result).Inc()
}

// RecordExpirySweep records the outcome of one sweep.
func RecordExpirySweep(expired, failed int, duration time.Duration) {
	expirySweeps.WithLabelValues("expired").Add(float64(expired))
	expirySweeps.WithLabelValues("failed").Add(float64(failed))
	expiryDuration.Observe(duration.Seconds())
}

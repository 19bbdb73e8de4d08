package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "booklending_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "booklending_http_request_duration_seconds",
		Help:    "Duration of HTTP requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	lendingOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "booklending_lending_operations_total",
		Help: "Borrow and return attempts by result",
	}, []string{"operation", "result"})

	lendingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "booklending_lending_operation_duration_seconds",
		Help:    "Duration of borrow and return units of work",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	rollbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "booklending_unit_of_work_rollbacks_total",
		Help: "Units of work rolled back after a partial write",
	}, []string{"operation"})

	activeLoans = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "booklending_active_loans",
		Help: "Number of active borrow transactions",
	})

	copiesOnLoan = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "booklending_copies_on_loan",
		Help: "Number of copies held by active borrow transactions",
	})
)

// ObserveHTTPRequest records an HTTP request metric
func ObserveHTTPRequest(method, path, status string, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	httpRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// ObserveLending records a borrow or return attempt with its result label.
func ObserveLending(operation, result string, duration time.Duration) {
	lendingOperations.WithLabelValues(operation, result).Inc()
	lendingDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// ObserveRollback counts a unit of work undone after its first write.
func ObserveRollback(operation string) {
	rollbacks.WithLabelValues(operation).Inc()
}

// SetLoans publishes the loan gauges.
func SetLoans(active, copies int) {
	if active < 0 {
		active = 0
	}
	if copies < 0 {
		copies = 0
	}
	activeLoans.Set(float64(active))
	copiesOnLoan.Set(float64(copies))
}

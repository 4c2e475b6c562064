package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for HTTP traffic and ledger activity.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec

	payments         *prometheus.CounterVec
	paymentAmount    *prometheus.CounterVec
	receiptFailures  *prometheus.CounterVec
	receiptRetries   *prometheus.CounterVec
	auditFailures    prometheus.Counter
	rolloverStudents *prometheus.CounterVec
	rolloverDuration prometheus.Histogram
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	payments := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_payments_total",
		Help: "Recorded payments by kind (installment, extra_fee)",
	}, []string{"kind"})

	paymentAmount := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_payment_amount_total",
		Help: "Sum of recorded payment amounts by kind",
	}, []string{"kind"})

	receiptFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_receipt_failures_total",
		Help: "Receipt generation failures by kind",
	}, []string{"kind"})

	receiptRetries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_receipt_retries_total",
		Help: "Receipt retry outcomes (succeeded, dropped)",
	}, []string{"outcome"})

	auditFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ledger_audit_failures_total",
		Help: "Audit entries that could not be written after a committed mutation",
	})

	rolloverStudents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_rollover_students_total",
		Help: "Students processed by academic year rollover by outcome (promoted, graduated, failed)",
	}, []string{"outcome"})

	rolloverDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "ledger_rollover_duration_seconds",
		Help:    "Wall time of academic year rollover runs",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, payments, paymentAmount, receiptFailures, receiptRetries,
		auditFailures, rolloverStudents, rolloverDuration, goroutines)

	return &MetricsService{
		registry:         registry,
		handler:          promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration:  requestDuration,
		requestTotal:     requestTotal,
		payments:         payments,
		paymentAmount:    paymentAmount,
		receiptFailures:  receiptFailures,
		receiptRetries:   receiptRetries,
		auditFailures:    auditFailures,
		rolloverStudents: rolloverStudents,
		rolloverDuration: rolloverDuration,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Registry exposes the underlying registry, mainly for tests.
func (m *MetricsService) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordPayment counts a committed payment.
func (m *MetricsService) RecordPayment(kind string, amount int64) {
	if m == nil {
		return
	}
	m.payments.WithLabelValues(kind).Inc()
	m.paymentAmount.WithLabelValues(kind).Add(float64(amount))
}

// RecordReceiptFailure counts a receipt that could not be produced inline.
func (m *MetricsService) RecordReceiptFailure(kind string) {
	if m == nil {
		return
	}
	m.receiptFailures.WithLabelValues(kind).Inc()
}

// RecordReceiptRetry counts the final outcome of a queued receipt retry.
func (m *MetricsService) RecordReceiptRetry(outcome string) {
	if m == nil {
		return
	}
	m.receiptRetries.WithLabelValues(outcome).Inc()
}

// RecordAuditFailure counts an audit write lost after commit.
func (m *MetricsService) RecordAuditFailure() {
	if m == nil {
		return
	}
	m.auditFailures.Inc()
}

// RecordRollover records a finished rollover run.
func (m *MetricsService) RecordRollover(promoted, graduated, failed int, duration time.Duration) {
	if m == nil {
		return
	}
	m.rolloverStudents.WithLabelValues("promoted").Add(float64(promoted))
	m.rolloverStudents.WithLabelValues("graduated").Add(float64(graduated))
	m.rolloverStudents.WithLabelValues("failed").Add(float64(failed))
	m.rolloverDuration.Observe(duration.Seconds())
}

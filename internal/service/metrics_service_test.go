package service

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsServiceLedgerCounters(t *testing.T) {
	m := NewMetricsService()
	m.RecordPayment("installment", 400)
	m.RecordPayment("installment", 600)
	m.RecordReceiptFailure("installment")
	m.RecordRollover(3, 1, 0, time.Second)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `ledger_payments_total{kind="installment"} 2`)
	assert.Contains(t, body, `ledger_payment_amount_total{kind="installment"} 1000`)
	assert.Contains(t, body, `ledger_receipt_failures_total{kind="installment"} 1`)
	assert.Contains(t, body, `ledger_rollover_students_total{outcome="promoted"} 3`)
}

func TestMetricsServiceNilSafe(t *testing.T) {
	var m *MetricsService
	assert.NotPanics(t, func() {
		m.RecordPayment("installment", 1)
		m.RecordAuditFailure()
		m.ObserveHTTPRequest("GET", "/", 200, time.Millisecond)
	})
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-fee-ledger/internal/models"
	"github.com/noah-isme/sma-fee-ledger/internal/service"
	appErrors "github.com/noah-isme/sma-fee-ledger/pkg/errors"
)

type fakeExtraFeeSrv struct {
	feeID, studentID string
}

func (f *fakeExtraFeeSrv) Create(ctx context.Context, actor *models.Principal, req models.CreateExtraFeeRequest) (*models.ExtraFeeView, error) {
	if req.Amount <= 0 {
		return nil, appErrors.Clone(appErrors.ErrInvalidAmount, "amount must be positive")
	}
	view := models.NewExtraFeeView(&models.ExtraFee{ID: "f-1", Title: req.Title, Amount: req.Amount})
	return &view, nil
}

func (f *fakeExtraFeeSrv) List(ctx context.Context) ([]models.ExtraFeeSummary, error) {
	return []models.ExtraFeeSummary{{ID: "f-1"}}, nil
}

func (f *fakeExtraFeeSrv) Get(ctx context.Context, id string) (*models.ExtraFeeView, error) {
	return nil, appErrors.Clone(appErrors.ErrNotFound, "extra fee not found")
}

func (f *fakeExtraFeeSrv) Stats(ctx context.Context) (*models.ExtraFeeStats, error) {
	return &models.ExtraFeeStats{ActiveCampaigns: 2}, nil
}

func (f *fakeExtraFeeSrv) MarkPaid(ctx context.Context, actor *models.Principal, feeID, studentID string) (*models.ExtraFeePaymentResult, error) {
	f.feeID, f.studentID = feeID, studentID
	return &models.ExtraFeePaymentResult{ReceiptURL: "https://fees.test/r"}, nil
}

func (f *fakeExtraFeeSrv) RemoveStudent(ctx context.Context, actor *models.Principal, feeID, studentID string) error {
	f.feeID, f.studentID = feeID, studentID
	return nil
}

func (f *fakeExtraFeeSrv) SoftDelete(ctx context.Context, actor *models.Principal, feeID string) error {
	return nil
}

func (f *fakeExtraFeeSrv) ReminderLink(ctx context.Context, actor *models.Principal, feeID, studentID string) (*models.ReminderLink, error) {
	return &models.ReminderLink{Phone: "9876543210", Link: "https://wa.me/919876543210"}, nil
}

func TestExtraFeeHandlerRoutesPathParams(t *testing.T) {
	srv := &fakeExtraFeeSrv{}
	h := NewExtraFeeHandler(srv)

	c, rec := newTestContext(http.MethodPost, "/extra-fees/f-1/pay/s-9", nil, gin.Param{Key: "id", Value: "f-1"}, gin.Param{Key: "studentId", Value: "s-9"})
	h.MarkPaid(c)
	requireStatus(t, rec, http.StatusOK)
	assert.Equal(t, "f-1", srv.feeID)
	assert.Equal(t, "s-9", srv.studentID)

	c, _ = newTestContext(http.MethodDelete, "/extra-fees/f-2/students/s-3", nil, gin.Param{Key: "id", Value: "f-2"}, gin.Param{Key: "studentId", Value: "s-3"})
	h.RemoveStudent(c)
	assert.Equal(t, http.StatusNoContent, c.Writer.Status())
	assert.Equal(t, "s-3", srv.studentID)
}

func TestExtraFeeHandlerCreate(t *testing.T) {
	h := NewExtraFeeHandler(&fakeExtraFeeSrv{})

	c, rec := newTestContext(http.MethodPost, "/extra-fees", models.CreateExtraFeeRequest{Title: "Picnic", Amount: 200})
	h.Create(c)
	requireStatus(t, rec, http.StatusCreated)
	var view map[string]interface{}
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &view))
	assert.Equal(t, "Picnic", view["title"])
	assert.EqualValues(t, 0, view["total_pending"])

	c, rec = newTestContext(http.MethodPost, "/extra-fees", models.CreateExtraFeeRequest{Title: "Picnic"})
	h.Create(c)
	requireStatus(t, rec, http.StatusUnprocessableEntity)

	c, rec = newTestContext(http.MethodGet, "/extra-fees/f-404", nil, gin.Param{Key: "id", Value: "f-404"})
	h.Get(c)
	requireStatus(t, rec, http.StatusNotFound)
}

type fakeRolloverSrv struct {
	res *models.RolloverResult
	err error
}

func (f *fakeRolloverSrv) Stats(ctx context.Context) (*models.RolloverStats, error) {
	return &models.RolloverStats{ActiveStudents: 3}, nil
}

func (f *fakeRolloverSrv) Start(ctx context.Context, actor *models.Principal, req models.RolloverRequest) (*models.RolloverResult, error) {
	return f.res, f.err
}

func TestRolloverHandlerPartialFailureKeepsProgress(t *testing.T) {
	failure := appErrors.WithDetails(appErrors.Wrap(errFake, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "rollover stopped"), map[string]interface{}{"processed": 2, "total": 3})
	h := NewRolloverHandler(&fakeRolloverSrv{res: &models.RolloverResult{Processed: 2}, err: failure})

	c, rec := newTestContext(http.MethodPost, "/academic-year/rollover", models.RolloverRequest{ClassFees: map[string]int64{"2nd": 5000}})
	h.Start(c)

	requireStatus(t, rec, http.StatusInternalServerError)
	env := decodeEnvelope(t, rec)
	require.NotNil(t, env.Error)
	assert.EqualValues(t, 3, env.Error.Details["total"])
	var res models.RolloverResult
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, 2, res.Processed)
}

func TestRolloverHandlerConflict(t *testing.T) {
	h := NewRolloverHandler(&fakeRolloverSrv{err: appErrors.ErrRolloverInProgress})

	c, rec := newTestContext(http.MethodPost, "/academic-year/rollover", models.RolloverRequest{ClassFees: map[string]int64{"2nd": 5000}})
	h.Start(c)

	requireStatus(t, rec, http.StatusConflict)
	env := decodeEnvelope(t, rec)
	assert.Equal(t, appErrors.ErrRolloverInProgress.Code, env.Error.Code)
	assert.Empty(t, env.Data)
}

type fakeAuditQuerier struct {
	filter models.AuditFilter
}

func (f *fakeAuditQuerier) Query(ctx context.Context, filter models.AuditFilter) ([]models.AuditLog, *models.Pagination, error) {
	f.filter = filter
	return []models.AuditLog{}, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize}, nil
}

func TestAuditHandlerParsesDates(t *testing.T) {
	srv := &fakeAuditQuerier{}
	h := NewAuditHandler(srv)

	c, rec := newTestContext(http.MethodGet, "/logs?action=Fee%20payment&from=2026-03-01&to=2026-03-31", nil)
	h.List(c)
	requireStatus(t, rec, http.StatusOK)
	assert.Equal(t, models.AuditActionFeePayment, srv.filter.Action)
	require.NotNil(t, srv.filter.From)
	require.NotNil(t, srv.filter.To)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), *srv.filter.From)
	assert.Equal(t, 31, srv.filter.To.Day())
	assert.Equal(t, 23, srv.filter.To.Hour())

	c, rec = newTestContext(http.MethodGet, "/logs?from=yesterday", nil)
	h.List(c)
	requireStatus(t, rec, http.StatusBadRequest)
}

type fakeReceiptResolver struct {
	path string
}

func (f fakeReceiptResolver) ResolveDownload(ctx context.Context, token string) (*service.ReceiptDownload, error) {
	if token != "ok" {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "invalid or expired download token")
	}
	file, err := os.Open(f.path)
	if err != nil {
		return nil, err
	}
	return &service.ReceiptDownload{File: file, Filename: "GIS-1-ABC.pdf", ReceiptNo: "GIS-1-ABC"}, nil
}

func TestReceiptHandlerDownload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "receipt.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.3 test"), 0o600))
	h := NewReceiptHandler(fakeReceiptResolver{path: path})

	c, rec := newTestContext(http.MethodGet, "/receipts/download/ok", nil, gin.Param{Key: "token", Value: "ok"})
	h.Download(c)
	requireStatus(t, rec, http.StatusOK)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "GIS-1-ABC.pdf")
	assert.Equal(t, "%PDF-1.3 test", rec.Body.String())

	c, rec = newTestContext(http.MethodGet, "/receipts/download/bad", nil, gin.Param{Key: "token", Value: "bad"})
	h.Download(c)
	requireStatus(t, rec, http.StatusForbidden)
}

type fakeReportSrv struct {
	limit int
	kind  service.ReportKind
}

func (f *fakeReportSrv) Summary(ctx context.Context) (*models.FeeSummary, error) {
	return &models.FeeSummary{TotalStudents: 3}, nil
}

func (f *fakeReportSrv) ClassWise(ctx context.Context) ([]models.ClassFeeSummary, error) {
	return nil, nil
}

func (f *fakeReportSrv) Defaulters(ctx context.Context, limit int) ([]models.Defaulter, error) {
	f.limit = limit
	return []models.Defaulter{}, nil
}

func (f *fakeReportSrv) Dashboard(ctx context.Context) (*models.Dashboard, error) {
	return &models.Dashboard{CollectionRate: 75}, nil
}

func (f *fakeReportSrv) Export(ctx context.Context, kind service.ReportKind, format service.ExportFormat) (*service.ExportResult, error) {
	f.kind = kind
	return &service.ExportResult{Filename: string(kind) + "-20260401." + string(format), ContentType: "text/csv", Payload: []byte("Class\n1st\n")}, nil
}

func TestReportHandlerDefaultersLimit(t *testing.T) {
	srv := &fakeReportSrv{}
	c, rec := newTestContext(http.MethodGet, "/reports/defaulters?limit=25", nil)
	NewReportHandler(srv).Defaulters(c)
	requireStatus(t, rec, http.StatusOK)
	assert.Equal(t, 25, srv.limit)
}

func TestReportHandlerExport(t *testing.T) {
	srv := &fakeReportSrv{}
	h := NewReportHandler(srv)

	c, rec := newTestContext(http.MethodGet, "/reports/export/class-wise", nil, gin.Param{Key: "kind", Value: "class-wise"})
	h.Export(c)
	requireStatus(t, rec, http.StatusOK)
	assert.Equal(t, service.ReportClassWise, srv.kind)
	assert.Equal(t, `attachment; filename="class-wise-20260401.csv"`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "Class\n1st\n", rec.Body.String())

	c, rec = newTestContext(http.MethodGet, "/reports/export/class-wise?format=xlsx", nil, gin.Param{Key: "kind", Value: "class-wise"})
	h.Export(c)
	requireStatus(t, rec, http.StatusBadRequest)
}

func TestMetricsHandlerReady(t *testing.T) {
	healthy := NewMetricsHandler(nil, map[string]ReadinessCheck{
		"database": func(context.Context) error { return nil },
	})
	c, rec := newTestContext(http.MethodGet, "/ready", nil)
	healthy.Ready(c)
	requireStatus(t, rec, http.StatusOK)

	degraded := NewMetricsHandler(nil, map[string]ReadinessCheck{
		"database": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("connection refused") },
	})
	c, rec = newTestContext(http.MethodGet, "/ready", nil)
	degraded.Ready(c)
	requireStatus(t, rec, http.StatusServiceUnavailable)
	assert.Contains(t, rec.Body.String(), "connection refused")

	c, rec = newTestContext(http.MethodGet, "/metrics", nil)
	degraded.Prometheus(c)
	assert.Equal(t, http.StatusServiceUnavailable, c.Writer.Status())
}

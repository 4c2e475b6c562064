package handler

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-fee-ledger/internal/models"
	"github.com/noah-isme/sma-fee-ledger/internal/service"
	"github.com/noah-isme/sma-fee-ledger/pkg/response"
)

type reportService interface {
	Summary(ctx context.Context) (*models.FeeSummary, error)
	ClassWise(ctx context.Context) ([]models.ClassFeeSummary, error)
	Defaulters(ctx context.Context, limit int) ([]models.Defaulter, error)
	Dashboard(ctx context.Context) (*models.Dashboard, error)
	Export(ctx context.Context, kind service.ReportKind, format service.ExportFormat) (*service.ExportResult, error)
}

// ReportHandler exposes fee reporting endpoints.
type ReportHandler struct {
	reports reportService
}

// NewReportHandler constructs handler.
func NewReportHandler(reports reportService) *ReportHandler {
	return &ReportHandler{reports: reports}
}

// Summary godoc
// @Summary School-wide fee totals
// @Tags Reports
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /reports/summary [get]
func (h *ReportHandler) Summary(c *gin.Context) {
	summary, err := h.reports.Summary(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, summary, nil)
}

// ClassWise godoc
// @Summary Fee totals per class
// @Tags Reports
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /reports/class-wise [get]
func (h *ReportHandler) ClassWise(c *gin.Context) {
	rows, err := h.reports.ClassWise(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rows, nil)
}

// Defaulters godoc
// @Summary Students with the largest outstanding balance
// @Tags Reports
// @Produce json
// @Param limit query int false "Rows to return (default 5, max 100)"
// @Success 200 {object} response.Envelope
// @Router /reports/defaulters [get]
func (h *ReportHandler) Defaulters(c *gin.Context) {
	rows, err := h.reports.Defaulters(c.Request.Context(), queryInt(c, "limit", 0))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rows, nil)
}

// Dashboard godoc
// @Summary Admin dashboard figures
// @Tags Reports
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /reports/dashboard [get]
func (h *ReportHandler) Dashboard(c *gin.Context) {
	dashboard, err := h.reports.Dashboard(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dashboard, nil)
}

// Export godoc
// @Summary Download a report as CSV or PDF
// @Tags Reports
// @Produce text/csv,application/pdf
// @Param kind path string true "class-wise or defaulters"
// @Param format query string false "csv (default) or pdf"
// @Success 200 {file} file
// @Failure 400 {object} response.Envelope
// @Router /reports/export/{kind} [get]
func (h *ReportHandler) Export(c *gin.Context) {
	format, err := service.ParseExportFormat(c.Query("format"))
	if err != nil {
		response.Error(c, err)
		return
	}
	res, err := h.reports.Export(c.Request.Context(), service.ReportKind(c.Param("kind")), format)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", res.Filename))
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, res.ContentType, res.Payload)
}

package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-fee-ledger/internal/models"
	appErrors "github.com/noah-isme/sma-fee-ledger/pkg/errors"
	"github.com/noah-isme/sma-fee-ledger/pkg/response"
)

type auditQuerier interface {
	Query(ctx context.Context, filter models.AuditFilter) ([]models.AuditLog, *models.Pagination, error)
}

// AuditHandler exposes the audit log.
type AuditHandler struct {
	audit auditQuerier
}

// NewAuditHandler constructs AuditHandler.
func NewAuditHandler(audit auditQuerier) *AuditHandler {
	return &AuditHandler{audit: audit}
}

// List godoc
// @Summary Query the audit log
// @Tags Audit
// @Produce json
// @Param action query string false "Action"
// @Param adminId query string false "Admin ID"
// @Param student query string false "Student name"
// @Param from query string false "From date (YYYY-MM-DD or RFC3339)"
// @Param to query string false "To date (YYYY-MM-DD or RFC3339)"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /logs [get]
func (h *AuditHandler) List(c *gin.Context) {
	filter := models.AuditFilter{
		Action:      models.AuditAction(c.Query("action")),
		AdminID:     c.Query("adminId"),
		StudentName: c.Query("student"),
		Page:        queryInt(c, "page", 1),
		PageSize:    queryInt(c, "limit", 50),
	}
	var err error
	if filter.From, err = parseQueryTime(c.Query("from"), false); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid from date"))
		return
	}
	if filter.To, err = parseQueryTime(c.Query("to"), true); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid to date"))
		return
	}

	logs, pagination, err := h.audit.Query(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, logs, pagination)
}

// parseQueryTime accepts a date or an RFC3339 timestamp. A bare date used as an upper bound covers the whole day.
func parseQueryTime(raw string, endOfDay bool) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return &ts, nil
	}
	day, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return nil, err
	}
	if endOfDay {
		day = day.Add(24*time.Hour - time.Nanosecond)
	}
	return &day, nil
}

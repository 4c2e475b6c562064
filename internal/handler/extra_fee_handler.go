package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-fee-ledger/internal/models"
	appErrors "github.com/noah-isme/sma-fee-ledger/pkg/errors"
	"github.com/noah-isme/sma-fee-ledger/pkg/response"
)

type extraFeeService interface {
	Create(ctx context.Context, actor *models.Principal, req models.CreateExtraFeeRequest) (*models.ExtraFeeView, error)
	List(ctx context.Context) ([]models.ExtraFeeSummary, error)
	Get(ctx context.Context, id string) (*models.ExtraFeeView, error)
	Stats(ctx context.Context) (*models.ExtraFeeStats, error)
	MarkPaid(ctx context.Context, actor *models.Principal, feeID, studentID string) (*models.ExtraFeePaymentResult, error)
	RemoveStudent(ctx context.Context, actor *models.Principal, feeID, studentID string) error
	SoftDelete(ctx context.Context, actor *models.Principal, feeID string) error
	ReminderLink(ctx context.Context, actor *models.Principal, feeID, studentID string) (*models.ReminderLink, error)
}

// ExtraFeeHandler exposes extra fee campaign endpoints.
type ExtraFeeHandler struct {
	fees extraFeeService
}

// NewExtraFeeHandler constructs ExtraFeeHandler.
func NewExtraFeeHandler(fees extraFeeService) *ExtraFeeHandler {
	return &ExtraFeeHandler{fees: fees}
}

// List godoc
// @Summary List active extra fee campaigns
// @Tags ExtraFees
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /extra-fees [get]
func (h *ExtraFeeHandler) List(c *gin.Context) {
	fees, err := h.fees.List(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, fees, nil)
}

// Stats godoc
// @Summary Aggregate figures across campaigns
// @Tags ExtraFees
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /extra-fees/stats [get]
func (h *ExtraFeeHandler) Stats(c *gin.Context) {
	stats, err := h.fees.Stats(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, stats, nil)
}

// Get godoc
// @Summary Campaign detail with payments
// @Tags ExtraFees
// @Produce json
// @Param id path string true "Extra fee ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /extra-fees/{id} [get]
func (h *ExtraFeeHandler) Get(c *gin.Context) {
	fee, err := h.fees.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, fee, nil)
}

// Create godoc
// @Summary Create a campaign for every active student
// @Tags ExtraFees
// @Accept json
// @Produce json
// @Param payload body models.CreateExtraFeeRequest true "Campaign payload"
// @Success 201 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /extra-fees [post]
func (h *ExtraFeeHandler) Create(c *gin.Context) {
	var req models.CreateExtraFeeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	fee, err := h.fees.Create(c.Request.Context(), principalFromContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, fee)
}

// MarkPaid godoc
// @Summary Mark a student's campaign payment as paid
// @Tags ExtraFees
// @Produce json
// @Param id path string true "Extra fee ID"
// @Param studentId path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /extra-fees/{id}/pay/{studentId} [post]
func (h *ExtraFeeHandler) MarkPaid(c *gin.Context) {
	res, err := h.fees.MarkPaid(c.Request.Context(), principalFromContext(c), c.Param("id"), c.Param("studentId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, res, nil)
}

// RemoveStudent godoc
// @Summary Remove a student from a campaign
// @Tags ExtraFees
// @Param id path string true "Extra fee ID"
// @Param studentId path string true "Student ID"
// @Success 204
// @Router /extra-fees/{id}/students/{studentId} [delete]
func (h *ExtraFeeHandler) RemoveStudent(c *gin.Context) {
	if err := h.fees.RemoveStudent(c.Request.Context(), principalFromContext(c), c.Param("id"), c.Param("studentId")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Delete godoc
// @Summary Delete a campaign
// @Tags ExtraFees
// @Param id path string true "Extra fee ID"
// @Success 204
// @Router /extra-fees/{id} [delete]
func (h *ExtraFeeHandler) Delete(c *gin.Context) {
	if err := h.fees.SoftDelete(c.Request.Context(), principalFromContext(c), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Reminder godoc
// @Summary Build a WhatsApp reminder for a campaign payment
// @Tags ExtraFees
// @Produce json
// @Param id path string true "Extra fee ID"
// @Param studentId path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /extra-fees/{id}/reminder-link/{studentId} [get]
func (h *ExtraFeeHandler) Reminder(c *gin.Context) {
	link, err := h.fees.ReminderLink(c.Request.Context(), principalFromContext(c), c.Param("id"), c.Param("studentId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, link, nil)
}

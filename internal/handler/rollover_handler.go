package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-fee-ledger/internal/models"
	appErrors "github.com/noah-isme/sma-fee-ledger/pkg/errors"
	"github.com/noah-isme/sma-fee-ledger/pkg/response"
)

type rolloverService interface {
	Stats(ctx context.Context) (*models.RolloverStats, error)
	Start(ctx context.Context, actor *models.Principal, req models.RolloverRequest) (*models.RolloverResult, error)
}

// RolloverHandler exposes the academic year endpoints.
type RolloverHandler struct {
	rollover rolloverService
}

// NewRolloverHandler constructs RolloverHandler.
func NewRolloverHandler(rollover rolloverService) *RolloverHandler {
	return &RolloverHandler{rollover: rollover}
}

// Stats godoc
// @Summary Preview the next academic year rollover
// @Tags AcademicYear
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /academic-year/stats [get]
func (h *RolloverHandler) Stats(c *gin.Context) {
	stats, err := h.rollover.Stats(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, stats, nil)
}

// Start godoc
// @Summary Start a new academic year
// @Description Graduates the final grade, promotes everyone else with the supplied fees and clears extra fees.
// @Tags AcademicYear
// @Accept json
// @Produce json
// @Param payload body models.RolloverRequest true "New annual fee per grade"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /academic-year/rollover [post]
func (h *RolloverHandler) Start(c *gin.Context) {
	var req models.RolloverRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	res, err := h.rollover.Start(c.Request.Context(), principalFromContext(c), req)
	if err != nil {
		if res != nil {
			appErr := appErrors.FromError(err)
			c.JSON(appErr.Status, response.Envelope{Data: res, Error: appErr})
			return
		}
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, res, nil)
}

package handler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-fee-ledger/internal/models"
	appErrors "github.com/noah-isme/sma-fee-ledger/pkg/errors"
	"github.com/noah-isme/sma-fee-ledger/pkg/response"
)

type studentService interface {
	Enroll(ctx context.Context, actor *models.Principal, req models.EnrollStudentRequest) (*models.Student, error)
	List(ctx context.Context, filter models.StudentFilter) ([]models.Student, *models.Pagination, error)
	Get(ctx context.Context, id string) (*models.Student, error)
	ApplyInstallment(ctx context.Context, actor *models.Principal, id string, amount int64) (*models.InstallmentResult, error)
	EditProfile(ctx context.Context, actor *models.Principal, id string, req models.UpdateStudentRequest) (*models.Student, error)
	Promote(ctx context.Context, actor *models.Principal, id string) (*models.Student, error)
	SoftDelete(ctx context.Context, actor *models.Principal, id string) error
	ReminderLink(ctx context.Context, actor *models.Principal, id string) (*models.ReminderLink, error)
	ExportCSV(ctx context.Context, filter models.StudentFilter, w io.Writer) error
	ImportCSV(ctx context.Context, actor *models.Principal, r io.Reader) (*models.ImportResult, error)
}

// StudentHandler exposes student ledger endpoints.
type StudentHandler struct {
	students studentService
}

// NewStudentHandler constructs StudentHandler.
func NewStudentHandler(students studentService) *StudentHandler {
	return &StudentHandler{students: students}
}

func studentFilterFromQuery(c *gin.Context) models.StudentFilter {
	filter := models.StudentFilter{
		Search:        strings.TrimSpace(c.Query("search")),
		Class:         models.ClassLevel(c.Query("class")),
		PaymentStatus: models.PaymentStatus(c.Query("status")),
		Page:          queryInt(c, "page", 1),
		PageSize:      queryInt(c, "limit", 20),
		SortBy:        c.Query("sort"),
		SortOrder:     c.Query("order"),
	}
	switch c.Query("active") {
	case "true":
		v := true
		filter.Active = &v
	case "false":
		v := false
		filter.Active = &v
	}
	return filter
}

// List godoc
// @Summary List students
// @Tags Students
// @Produce json
// @Param search query string false "Search by name or phone"
// @Param class query string false "Filter by class"
// @Param status query string false "paid, partial or pending"
// @Param active query bool false "Filter by active state"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /students [get]
func (h *StudentHandler) List(c *gin.Context) {
	students, pagination, err := h.students.List(c.Request.Context(), studentFilterFromQuery(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, students, pagination)
}

// Get godoc
// @Summary Get student detail
// @Tags Students
// @Produce json
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /students/{id} [get]
func (h *StudentHandler) Get(c *gin.Context) {
	student, err := h.students.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, student, nil)
}

// Enroll godoc
// @Summary Enroll student
// @Tags Students
// @Accept json
// @Produce json
// @Param payload body models.EnrollStudentRequest true "Student payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /students [post]
func (h *StudentHandler) Enroll(c *gin.Context) {
	var req models.EnrollStudentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	student, err := h.students.Enroll(c.Request.Context(), principalFromContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, student)
}

// Update godoc
// @Summary Edit student profile
// @Tags Students
// @Accept json
// @Produce json
// @Param id path string true "Student ID"
// @Param payload body models.UpdateStudentRequest true "Fields to change"
// @Success 200 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /students/{id} [put]
func (h *StudentHandler) Update(c *gin.Context) {
	var req models.UpdateStudentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	student, err := h.students.EditProfile(c.Request.Context(), principalFromContext(c), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, student, nil)
}

// PayInstallment godoc
// @Summary Record an installment
// @Tags Students
// @Accept json
// @Produce json
// @Param id path string true "Student ID"
// @Param payload body models.InstallmentRequest true "Amount paid"
// @Success 201 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /students/{id}/installments [post]
func (h *StudentHandler) PayInstallment(c *gin.Context) {
	var req models.InstallmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	res, err := h.students.ApplyInstallment(c.Request.Context(), principalFromContext(c), c.Param("id"), req.Amount)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, res)
}

// Promote godoc
// @Summary Promote student to the next class
// @Tags Students
// @Produce json
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /students/{id}/promote [post]
func (h *StudentHandler) Promote(c *gin.Context) {
	student, err := h.students.Promote(c.Request.Context(), principalFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, student, nil)
}

// Delete godoc
// @Summary Deactivate student
// @Tags Students
// @Produce json
// @Param id path string true "Student ID"
// @Success 204
// @Router /students/{id} [delete]
func (h *StudentHandler) Delete(c *gin.Context) {
	if err := h.students.SoftDelete(c.Request.Context(), principalFromContext(c), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Reminder godoc
// @Summary Build a WhatsApp fee reminder
// @Tags Students
// @Produce json
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /students/{id}/reminder-link [get]
func (h *StudentHandler) Reminder(c *gin.Context) {
	link, err := h.students.ReminderLink(c.Request.Context(), principalFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, link, nil)
}

// Export godoc
// @Summary Export students as CSV
// @Tags Students
// @Produce text/csv
// @Param class query string false "Filter by class"
// @Param status query string false "paid, partial or pending"
// @Success 200 {file} file
// @Router /students/export [get]
func (h *StudentHandler) Export(c *gin.Context) {
	filename := fmt.Sprintf("students-%s.csv", time.Now().Format("20060102"))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", filename))
	c.Header("Content-Type", "text/csv")
	c.Header("Cache-Control", "no-store")
	if err := h.students.ExportCSV(c.Request.Context(), studentFilterFromQuery(c), c.Writer); err != nil {
		if !c.Writer.Written() {
			c.Header("Content-Disposition", "")
			c.Header("Content-Type", "")
			response.Error(c, err)
			return
		}
		_ = c.Error(err)
	}
}

// Import godoc
// @Summary Bulk enroll students from CSV
// @Tags Students
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "CSV with name, phone, class and total_fee columns"
// @Success 200 {object} response.Envelope
// @Router /students/import [post]
func (h *StudentHandler) Import(c *gin.Context) {
	header, err := c.FormFile("file")
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "csv file is required"))
		return
	}
	file, err := header.Open()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "unreadable upload"))
		return
	}
	defer file.Close() //nolint:errcheck

	res, err := h.students.ImportCSV(c.Request.Context(), principalFromContext(c), file)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, res, nil)
}

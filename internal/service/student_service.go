package service

import (
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-fee-ledger/internal/models"
	"github.com/noah-isme/sma-fee-ledger/internal/repository"
	appErrors "github.com/noah-isme/sma-fee-ledger/pkg/errors"
	"github.com/noah-isme/sma-fee-ledger/pkg/events"
	"github.com/noah-isme/sma-fee-ledger/pkg/export"
)

type studentRepository interface {
	List(ctx context.Context, filter models.StudentFilter) ([]models.Student, int, error)
	FindByID(ctx context.Context, id string) (*models.Student, error)
	ExistsByIdentity(ctx context.Context, name, phone string, class models.ClassLevel, excludeID string) (bool, error)
	Create(ctx context.Context, student *models.Student) error
	Mutate(ctx context.Context, id string, fn func(*models.Student) error) (*models.Student, error)
	AttachInstallmentReceipt(ctx context.Context, installmentID, receiptURL string) error
}

const exportPageSize = 100

// StudentService owns the per-student fee ledger.
type StudentService struct {
	repo      studentRepository
	validator *validator.Validate
	logger    *zap.Logger
	collab    LedgerCollaborators
	now       func() time.Time
}

// NewStudentService constructs the student service.
func NewStudentService(repo studentRepository, validate *validator.Validate, logger *zap.Logger, collab LedgerCollaborators) *StudentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StudentService{repo: repo, validator: validate, logger: logger, collab: collab.withDefaults(), now: time.Now}
}

// Enroll registers a new student with an untouched ledger.
func (s *StudentService) Enroll(ctx context.Context, actor *models.Principal, req models.EnrollStudentRequest) (*models.Student, error) {
	if err := requirePrincipal(actor); err != nil {
		return nil, err
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Phone = strings.TrimSpace(req.Phone)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload")
	}
	class, ok := models.ParseClassLevel(req.Class)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown class %q", req.Class))
	}

	exists, err := s.repo.ExistsByIdentity(ctx, req.Name, req.Phone, class, "")
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check student identity")
	}
	if exists {
		return nil, duplicateStudent()
	}

	student := &models.Student{
		Name:     req.Name,
		Phone:    req.Phone,
		Class:    class,
		TotalFee: req.TotalFee,
		IsActive: true,
	}
	if req.AdmissionDate != nil {
		student.AdmissionDate = req.AdmissionDate.UTC()
	}
	student.Recompute()
	if err := s.repo.Create(ctx, student); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, duplicateStudent()
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create student")
	}

	s.collab.Audit.Record(ctx, actor, models.AuditActionAddedStudent, student.Name, map[string]interface{}{
		"class":     student.Class,
		"total_fee": student.TotalFee,
	})
	ev := events.New(events.TypeStudentEnrolled, student.ID, actor.ID)
	ev.Amount = student.TotalFee
	publishEvent(ctx, s.collab.Events, s.logger, ev)
	return student, nil
}

// List returns students and pagination metadata. Only active students are listed unless the filter says otherwise.
func (s *StudentService) List(ctx context.Context, filter models.StudentFilter) ([]models.Student, *models.Pagination, error) {
	if filter.Active == nil {
		active := true
		filter.Active = &active
	}
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 || filter.PageSize > 100 {
		filter.PageSize = 20
	}
	students, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list students")
	}
	return students, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}, nil
}

// Get returns a single student with installments.
func (s *StudentService) Get(ctx context.Context, id string) (*models.Student, error) {
	student, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	return student, nil
}

// ApplyInstallment records a payment against the annual fee. The overpayment check runs on
// the row-locked state; receipt generation happens after commit and never fails the payment.
func (s *StudentService) ApplyInstallment(ctx context.Context, actor *models.Principal, id string, amount int64) (*models.InstallmentResult, error) {
	if err := requirePrincipal(actor); err != nil {
		return nil, err
	}
	student, err := s.repo.Mutate(ctx, id, func(st *models.Student) error {
		if amount <= 0 {
			return appErrors.ErrInvalidAmount
		}
		if st.PaidFee+amount > st.TotalFee {
			return appErrors.WithDetails(
				appErrors.Clone(appErrors.ErrExceedsTotal, fmt.Sprintf("payment exceeds total fee, maximum allowed is %d", st.DueFee)),
				map[string]interface{}{"max_allowed": st.DueFee},
			)
		}
		st.PaidFee += amount
		st.Installments = append(st.Installments, models.Installment{
			Amount:    amount,
			PaidAt:    s.now().UTC(),
			Confirmed: true,
		})
		return nil
	})
	if err != nil {
		return nil, s.mutationError(err, "failed to record installment")
	}
	inst := student.Installments[len(student.Installments)-1]
	s.collab.Metrics.RecordPayment("installment", amount)

	receiptURL := s.issueReceipt(ctx, student, &inst)
	for i := range student.Installments {
		if student.Installments[i].ID == inst.ID {
			student.Installments[i].ReceiptURL = receiptURL
		}
	}

	s.collab.Audit.Record(ctx, actor, models.AuditActionFeePayment, student.Name, map[string]interface{}{
		"amount":   amount,
		"paid_fee": student.PaidFee,
		"due_fee":  student.DueFee,
	})
	ev := events.New(events.TypeInstallmentPaid, student.ID, actor.ID)
	ev.Amount = amount
	ev.Data = map[string]interface{}{"installment_id": inst.ID, "due_fee": student.DueFee}
	publishEvent(ctx, s.collab.Events, s.logger, ev)

	message := s.collab.Links.PaymentConfirmation(student.Name, student.Class.String(), amount, student.DueFee, receiptURL, inst.PaidAt)
	return &models.InstallmentResult{
		Student:      student,
		Installment:  &inst,
		ReceiptURL:   receiptURL,
		WhatsAppLink: s.collab.Links.Link(student.Phone, message),
	}, nil
}

func (s *StudentService) issueReceipt(ctx context.Context, student *models.Student, inst *models.Installment) string {
	if s.collab.Receipts == nil {
		return ""
	}
	url, err := s.collab.Receipts.IssueInstallmentReceipt(ctx, student, *inst)
	if err != nil {
		s.logger.Warn("installment receipt failed, queued for retry",
			zap.String("student_id", student.ID),
			zap.String("installment_id", inst.ID),
			zap.Error(err))
		s.collab.Metrics.RecordReceiptFailure("installment")
		s.collab.Retries.ScheduleInstallment(student.ID, inst.ID)
		return ""
	}
	if err := s.repo.AttachInstallmentReceipt(context.WithoutCancel(ctx), inst.ID, url); err != nil {
		s.logger.Warn("failed to attach installment receipt", zap.String("installment_id", inst.ID), zap.Error(err))
		s.collab.Retries.ScheduleInstallment(student.ID, inst.ID)
		return url
	}
	inst.ReceiptURL = url
	return url
}

// EditProfile replaces the provided fields. The annual fee can be edited once per academic year.
func (s *StudentService) EditProfile(ctx context.Context, actor *models.Principal, id string, req models.UpdateStudentRequest) (*models.Student, error) {
	if err := requirePrincipal(actor); err != nil {
		return nil, err
	}
	if req.Name == nil && req.Phone == nil && req.Class == nil && req.TotalFee == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "no fields to update")
	}
	if req.Name != nil {
		trimmed := strings.TrimSpace(*req.Name)
		if trimmed == "" {
			return nil, appErrors.Clone(appErrors.ErrValidation, "name must not be empty")
		}
		req.Name = &trimmed
	}
	if req.Phone != nil {
		trimmed := strings.TrimSpace(*req.Phone)
		req.Phone = &trimmed
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload")
	}
	var class models.ClassLevel
	if req.Class != nil {
		parsed, ok := models.ParseClassLevel(*req.Class)
		if !ok {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown class %q", *req.Class))
		}
		class = parsed
	}

	changed := make(map[string]interface{})
	student, err := s.repo.Mutate(ctx, id, func(st *models.Student) error {
		if req.TotalFee != nil {
			if st.AnnualFeeLocked {
				return appErrors.ErrFeeLocked
			}
			if *req.TotalFee < st.PaidFee {
				return appErrors.WithDetails(
					appErrors.Clone(appErrors.ErrValidation, "total fee cannot be lower than paid amount"),
					map[string]interface{}{"paid_fee": st.PaidFee},
				)
			}
		}

		name, phone, cls := st.Name, st.Phone, st.Class
		if req.Name != nil {
			name = *req.Name
		}
		if req.Phone != nil {
			phone = *req.Phone
		}
		if req.Class != nil {
			cls = class
		}
		if name != st.Name || phone != st.Phone || cls != st.Class {
			exists, err := s.repo.ExistsByIdentity(ctx, name, phone, cls, st.ID)
			if err != nil {
				return fmt.Errorf("check student identity: %w", err)
			}
			if exists {
				return duplicateStudent()
			}
		}

		if name != st.Name {
			changed["name"] = name
		}
		if phone != st.Phone {
			changed["phone"] = phone
		}
		if cls != st.Class {
			changed["class"] = cls
		}
		st.Name, st.Phone, st.Class = name, phone, cls
		if req.TotalFee != nil {
			changed["total_fee"] = *req.TotalFee
			st.TotalFee = *req.TotalFee
			st.AnnualFeeLocked = true
		}
		return nil
	})
	if err != nil {
		return nil, s.mutationError(err, "failed to update student")
	}

	s.collab.Audit.Record(ctx, actor, models.AuditActionEditedStudent, student.Name, changed)
	return student, nil
}

// Promote moves the student to the next grade. The terminal grade is reported as AlreadyFinal without mutation.
func (s *StudentService) Promote(ctx context.Context, actor *models.Principal, id string) (*models.Student, error) {
	if err := requirePrincipal(actor); err != nil {
		return nil, err
	}
	var from models.ClassLevel
	student, err := s.repo.Mutate(ctx, id, func(st *models.Student) error {
		if !st.Class.Valid() {
			return appErrors.Clone(appErrors.ErrInvalidClass, fmt.Sprintf("class %q is not part of the class sequence", st.Class))
		}
		next, ok := st.Class.Next()
		if !ok {
			return appErrors.ErrAlreadyFinal
		}
		from = st.Class
		st.Class = next
		return nil
	})
	if err != nil {
		return nil, s.mutationError(err, "failed to promote student")
	}

	s.collab.Audit.Record(ctx, actor, models.AuditActionPromotedStudent, student.Name, map[string]interface{}{
		"from": from,
		"to":   student.Class,
	})
	ev := events.New(events.TypeStudentPromoted, student.ID, actor.ID)
	ev.Data = map[string]interface{}{"from": from, "to": student.Class}
	publishEvent(ctx, s.collab.Events, s.logger, ev)
	return student, nil
}

// SoftDelete deactivates a student; history is kept.
func (s *StudentService) SoftDelete(ctx context.Context, actor *models.Principal, id string) error {
	if err := requirePrincipal(actor); err != nil {
		return err
	}
	student, err := s.repo.Mutate(ctx, id, func(st *models.Student) error {
		st.IsActive = false
		return nil
	})
	if err != nil {
		return s.mutationError(err, "failed to delete student")
	}

	s.collab.Audit.Record(ctx, actor, models.AuditActionDeletedStudent, student.Name, map[string]interface{}{
		"class":   student.Class,
		"due_fee": student.DueFee,
	})
	publishEvent(ctx, s.collab.Events, s.logger, events.New(events.TypeStudentDeleted, student.ID, actor.ID))
	return nil
}

// ReminderLink builds a due-fee reminder deep link for the student's guardian.
func (s *StudentService) ReminderLink(ctx context.Context, actor *models.Principal, id string) (*models.ReminderLink, error) {
	if err := requirePrincipal(actor); err != nil {
		return nil, err
	}
	student, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if student.DueFee <= 0 {
		return nil, appErrors.Clone(appErrors.ErrAlreadyPaid, "student has no outstanding fee")
	}
	message := s.collab.Links.DueReminder(student.Name, student.Class.String(), student.DueFee)
	s.collab.Audit.Record(ctx, actor, models.AuditActionSentReminder, student.Name, map[string]interface{}{"due_fee": student.DueFee})
	return &models.ReminderLink{
		Phone:   student.Phone,
		Message: message,
		Link:    s.collab.Links.Link(student.Phone, message),
	}, nil
}

var studentExportHeaders = []string{"Name", "Phone", "Class", "Total Fee", "Paid Fee", "Due Fee", "Status", "Admission Date"}

// ExportCSV writes every student matching filter as CSV.
func (s *StudentService) ExportCSV(ctx context.Context, filter models.StudentFilter, w io.Writer) error {
	filter.Page = 1
	filter.PageSize = exportPageSize
	dataset := export.Dataset{Headers: studentExportHeaders}
	for {
		students, _, err := s.List(ctx, filter)
		if err != nil {
			return err
		}
		for _, st := range students {
			dataset.Rows = append(dataset.Rows, map[string]string{
				"Name":           st.Name,
				"Phone":          st.Phone,
				"Class":          st.Class.String(),
				"Total Fee":      strconv.FormatInt(st.TotalFee, 10),
				"Paid Fee":       strconv.FormatInt(st.PaidFee, 10),
				"Due Fee":        strconv.FormatInt(st.DueFee, 10),
				"Status":         string(paymentStatus(st)),
				"Admission Date": st.AdmissionDate.Format("2006-01-02"),
			})
		}
		if len(students) < filter.PageSize {
			break
		}
		filter.Page++
	}
	if err := export.NewCSVExporter().Write(w, dataset); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to write export")
	}
	return nil
}

func paymentStatus(st models.Student) models.PaymentStatus {
	switch {
	case st.DueFee <= 0:
		return models.PaymentStatusPaid
	case st.PaidFee == 0:
		return models.PaymentStatusPending
	default:
		return models.PaymentStatusPartial
	}
}

// ImportCSV enrols one student per row. The header must name the columns name, phone, class
// and total_fee in any order. Rows that fail are reported and do not stop the import.
func (s *StudentService) ImportCSV(ctx context.Context, actor *models.Principal, r io.Reader) (*models.ImportResult, error) {
	if err := requirePrincipal(actor); err != nil {
		return nil, err
	}
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "csv header missing")
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	for _, required := range []string{"name", "phone", "class", "total_fee"} {
		if _, ok := cols[required]; !ok {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("csv column %q missing", required))
		}
	}
	field := func(record []string, name string) string {
		idx := cols[name]
		if idx >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[idx])
	}

	result := &models.ImportResult{}
	for row := 1; ; row++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			result.Failed = append(result.Failed, models.ImportError{Row: row, Reason: err.Error()})
			continue
		}
		totalFee, err := strconv.ParseInt(field(record, "total_fee"), 10, 64)
		if err != nil {
			result.Failed = append(result.Failed, models.ImportError{Row: row, Reason: "total_fee must be a whole number"})
			continue
		}
		req := models.EnrollStudentRequest{
			Name:     field(record, "name"),
			Phone:    field(record, "phone"),
			Class:    field(record, "class"),
			TotalFee: totalFee,
		}
		if _, err := s.Enroll(ctx, actor, req); err != nil {
			result.Failed = append(result.Failed, models.ImportError{Row: row, Reason: appErrors.FromError(err).Message})
			continue
		}
		result.Created++
	}
	s.logger.Info("student import finished", zap.Int("created", result.Created), zap.Int("failed", len(result.Failed)))
	return result, nil
}

func (s *StudentService) mutationError(err error, message string) error {
	var appErr *appErrors.Error
	switch {
	case errors.As(err, &appErr):
		return appErr
	case errors.Is(err, sql.ErrNoRows):
		return appErrors.Clone(appErrors.ErrNotFound, "student not found")
	case errors.Is(err, repository.ErrDuplicate):
		return duplicateStudent()
	default:
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, message)
	}
}

func duplicateStudent() error {
	return appErrors.Clone(appErrors.ErrConflict, "student with the same name, phone and class already exists")
}

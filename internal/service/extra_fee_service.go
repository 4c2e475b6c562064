package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-fee-ledger/internal/models"
	"github.com/noah-isme/sma-fee-ledger/internal/repository"
	appErrors "github.com/noah-isme/sma-fee-ledger/pkg/errors"
	"github.com/noah-isme/sma-fee-ledger/pkg/events"
)

type extraFeeRepository interface {
	Create(ctx context.Context, fee *models.ExtraFee) error
	List(ctx context.Context) ([]models.ExtraFeeSummary, error)
	FindByID(ctx context.Context, id string) (*models.ExtraFee, error)
	MarkPaid(ctx context.Context, feeID, studentID string, paidAt time.Time) (*models.ExtraFeePayment, error)
	AttachReceipt(ctx context.Context, paymentID, receiptURL string) error
	RemovePayment(ctx context.Context, feeID, studentID string) (*models.ExtraFeePayment, error)
	SoftDelete(ctx context.Context, id string) (*models.ExtraFee, error)
	Stats(ctx context.Context) (*models.ExtraFeeStats, error)
}

type studentLookup interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
}

// ExtraFeeService manages ad-hoc fee campaigns.
type ExtraFeeService struct {
	repo      extraFeeRepository
	students  studentLookup
	validator *validator.Validate
	logger    *zap.Logger
	collab    LedgerCollaborators
	now       func() time.Time
}

// NewExtraFeeService constructs the campaign service.
func NewExtraFeeService(repo extraFeeRepository, students studentLookup, validate *validator.Validate, logger *zap.Logger, collab LedgerCollaborators) *ExtraFeeService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExtraFeeService{
		repo:      repo,
		students:  students,
		validator: validate,
		logger:    logger,
		collab:    collab.withDefaults(),
		now:       time.Now,
	}
}

// Create snapshots every active student into a new unpaid campaign.
func (s *ExtraFeeService) Create(ctx context.Context, actor *models.Principal, req models.CreateExtraFeeRequest) (*models.ExtraFeeView, error) {
	if err := requirePrincipal(actor); err != nil {
		return nil, err
	}
	req.Title = strings.TrimSpace(req.Title)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload")
	}
	if req.Amount <= 0 {
		return nil, appErrors.ErrInvalidAmount
	}

	createdBy := actor.ID
	fee := &models.ExtraFee{
		Title:         req.Title,
		Amount:        req.Amount,
		CreatedBy:     &createdBy,
		CreatedByName: actor.Name,
		IsActive:      true,
	}
	if err := s.repo.Create(ctx, fee); err != nil {
		if errors.Is(err, repository.ErrNoActiveStudents) {
			return nil, appErrors.ErrNoActiveStudents
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create extra fee")
	}

	s.collab.Audit.Record(ctx, actor, models.AuditActionCreatedExtraFee, "", map[string]interface{}{
		"title":    fee.Title,
		"amount":   fee.Amount,
		"students": len(fee.Payments),
	})
	ev := events.New(events.TypeExtraFeeCreated, fee.ID, actor.ID)
	ev.Amount = fee.Amount
	ev.Data = map[string]interface{}{"title": fee.Title, "students": len(fee.Payments)}
	publishEvent(ctx, s.collab.Events, s.logger, ev)

	view := models.NewExtraFeeView(fee)
	return &view, nil
}

// List returns active campaigns newest first.
func (s *ExtraFeeService) List(ctx context.Context) ([]models.ExtraFeeSummary, error) {
	fees, err := s.repo.List(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list extra fees")
	}
	return fees, nil
}

// Get returns one active campaign with its payment entries.
func (s *ExtraFeeService) Get(ctx context.Context, id string) (*models.ExtraFeeView, error) {
	fee, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "extra fee not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load extra fee")
	}
	view := models.NewExtraFeeView(fee)
	return &view, nil
}

// Stats aggregates all active campaigns.
func (s *ExtraFeeService) Stats(ctx context.Context) (*models.ExtraFeeStats, error) {
	stats, err := s.repo.Stats(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load extra fee stats")
	}
	return stats, nil
}

// MarkPaid settles one student's entry. Receipt failures are logged and retried in the background.
func (s *ExtraFeeService) MarkPaid(ctx context.Context, actor *models.Principal, feeID, studentID string) (*models.ExtraFeePaymentResult, error) {
	if err := requirePrincipal(actor); err != nil {
		return nil, err
	}
	payment, err := s.repo.MarkPaid(ctx, feeID, studentID, s.now().UTC())
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil, appErrors.Clone(appErrors.ErrNotFound, "extra fee payment not found")
		case errors.Is(err, repository.ErrAlreadyPaid):
			return nil, appErrors.ErrAlreadyPaid
		default:
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark extra fee paid")
		}
	}

	fee, err := s.repo.FindByID(ctx, feeID)
	if err != nil {
		// the payment is committed; report it against a minimal view
		s.logger.Warn("failed to reload extra fee after payment", zap.String("extra_fee_id", feeID), zap.Error(err))
		fee = &models.ExtraFee{ID: feeID, IsActive: true, Payments: []models.ExtraFeePayment{*payment}}
	}
	s.collab.Metrics.RecordPayment("extra_fee", fee.Amount)

	phone := ""
	if student, err := s.students.FindByID(ctx, studentID); err == nil {
		phone = student.Phone
	} else {
		s.logger.Warn("student lookup failed for extra fee receipt", zap.String("student_id", studentID), zap.Error(err))
	}

	receiptURL := s.issueReceipt(ctx, fee, payment, phone)
	if entry, ok := fee.Payment(studentID); ok {
		entry.ReceiptURL = receiptURL
	}

	s.collab.Audit.Record(ctx, actor, models.AuditActionFeePayment, payment.StudentName, map[string]interface{}{
		"extra_fee": fee.Title,
		"amount":    fee.Amount,
	})
	ev := events.New(events.TypeExtraFeePaid, fee.ID, actor.ID)
	ev.Amount = fee.Amount
	ev.Data = map[string]interface{}{"student_id": studentID}
	publishEvent(ctx, s.collab.Events, s.logger, ev)

	result := &models.ExtraFeePaymentResult{
		ExtraFee:   models.NewExtraFeeView(fee),
		Payment:    payment,
		ReceiptURL: receiptURL,
	}
	if phone != "" {
		paidAt := s.now().UTC()
		if payment.PaidDate != nil {
			paidAt = *payment.PaidDate
		}
		message := s.collab.Links.ExtraFeeConfirmation(payment.StudentName, payment.StudentClass.String(), fee.Title, fee.Amount, receiptURL, paidAt)
		result.WhatsAppLink = s.collab.Links.Link(phone, message)
	}
	return result, nil
}

func (s *ExtraFeeService) issueReceipt(ctx context.Context, fee *models.ExtraFee, payment *models.ExtraFeePayment, phone string) string {
	if s.collab.Receipts == nil {
		return ""
	}
	url, err := s.collab.Receipts.IssueExtraFeeReceipt(ctx, fee, *payment, phone)
	if err != nil {
		s.logger.Warn("extra fee receipt failed, queued for retry",
			zap.String("extra_fee_id", fee.ID),
			zap.String("student_id", payment.StudentID),
			zap.Error(err))
		s.collab.Metrics.RecordReceiptFailure("extra_fee")
		s.collab.Retries.ScheduleExtraFee(fee.ID, payment.StudentID)
		return ""
	}
	if err := s.repo.AttachReceipt(context.WithoutCancel(ctx), payment.ID, url); err != nil {
		s.logger.Warn("failed to attach extra fee receipt", zap.String("payment_id", payment.ID), zap.Error(err))
		s.collab.Retries.ScheduleExtraFee(fee.ID, payment.StudentID)
		return url
	}
	payment.ReceiptURL = url
	return url
}

// RemoveStudent drops a student's entry from a campaign.
func (s *ExtraFeeService) RemoveStudent(ctx context.Context, actor *models.Principal, feeID, studentID string) error {
	if err := requirePrincipal(actor); err != nil {
		return err
	}
	removed, err := s.repo.RemovePayment(ctx, feeID, studentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "student is not part of this extra fee")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to remove student from extra fee")
	}
	s.collab.Audit.Record(ctx, actor, models.AuditActionRemovedFromExtraFee, removed.StudentName, map[string]interface{}{
		"extra_fee_id": feeID,
		"was_paid":     removed.Paid,
	})
	return nil
}

// SoftDelete deactivates a campaign.
func (s *ExtraFeeService) SoftDelete(ctx context.Context, actor *models.Principal, feeID string) error {
	if err := requirePrincipal(actor); err != nil {
		return err
	}
	fee, err := s.repo.SoftDelete(ctx, feeID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "extra fee not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete extra fee")
	}
	s.collab.Audit.Record(ctx, actor, models.AuditActionDeletedExtraFee, "", map[string]interface{}{
		"title":  fee.Title,
		"amount": fee.Amount,
	})
	publishEvent(ctx, s.collab.Events, s.logger, events.New(events.TypeExtraFeeDeleted, fee.ID, actor.ID))
	return nil
}

// ReminderLink builds a deep link asking for an unpaid campaign entry.
func (s *ExtraFeeService) ReminderLink(ctx context.Context, actor *models.Principal, feeID, studentID string) (*models.ReminderLink, error) {
	if err := requirePrincipal(actor); err != nil {
		return nil, err
	}
	view, err := s.Get(ctx, feeID)
	if err != nil {
		return nil, err
	}
	entry, ok := view.Payment(studentID)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "student is not part of this extra fee")
	}
	if entry.Paid {
		return nil, appErrors.ErrAlreadyPaid
	}
	student, err := s.students.FindByID(ctx, studentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	message := s.collab.Links.ExtraFeeReminder(entry.StudentName, entry.StudentClass.String(), view.Title, view.Amount)
	s.collab.Audit.Record(ctx, actor, models.AuditActionSentReminder, entry.StudentName, map[string]interface{}{
		"extra_fee": view.Title,
		"amount":    view.Amount,
	})
	return &models.ReminderLink{
		Phone:   student.Phone,
		Message: message,
		Link:    s.collab.Links.Link(student.Phone, message),
	}, nil
}

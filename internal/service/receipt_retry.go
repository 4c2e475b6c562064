package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-fee-ledger/internal/models"
	"github.com/noah-isme/sma-fee-ledger/pkg/jobs"
)

const (
	receiptJobInstallment = "receipt.installment"
	receiptJobExtraFee    = "receipt.extra_fee"
)

// receiptScheduler queues a receipt for a payment whose inline generation failed.
type receiptScheduler interface {
	ScheduleInstallment(studentID, installmentID string)
	ScheduleExtraFee(feeID, studentID string)
}

type jobEnqueuer interface {
	Enqueue(job jobs.Job) error
}

type receiptStudentStore interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
	AttachInstallmentReceipt(ctx context.Context, installmentID, url string) error
}

type receiptExtraFeeStore interface {
	FindByID(ctx context.Context, id string) (*models.ExtraFee, error)
	AttachReceipt(ctx context.Context, paymentID, url string) error
}

type installmentReceiptJob struct {
	StudentID     string
	InstallmentID string
}

type extraFeeReceiptJob struct {
	FeeID     string
	StudentID string
}

// ReceiptRetrier re-issues receipts in the background and attaches them once they succeed.
type ReceiptRetrier struct {
	issuer    ReceiptIssuer
	students  receiptStudentStore
	extraFees receiptExtraFeeStore
	queue     jobEnqueuer
	metrics   *MetricsService
	logger    *zap.Logger
}

// NewReceiptRetrier constructs a retrier. Bind the queue with SetQueue before scheduling.
func NewReceiptRetrier(issuer ReceiptIssuer, students receiptStudentStore, extraFees receiptExtraFeeStore, metrics *MetricsService, logger *zap.Logger) *ReceiptRetrier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReceiptRetrier{
		issuer:    issuer,
		students:  students,
		extraFees: extraFees,
		metrics:   metrics,
		logger:    logger,
	}
}

// SetQueue binds the queue the retrier enqueues onto; the queue's handler is Handle.
func (r *ReceiptRetrier) SetQueue(queue jobEnqueuer) {
	r.queue = queue
}

// ScheduleInstallment queues a receipt for an installment.
func (r *ReceiptRetrier) ScheduleInstallment(studentID, installmentID string) {
	r.enqueue(jobs.Job{
		ID:      installmentID,
		Type:    receiptJobInstallment,
		Payload: installmentReceiptJob{StudentID: studentID, InstallmentID: installmentID},
	})
}

// ScheduleExtraFee queues a receipt for an extra fee payment entry.
func (r *ReceiptRetrier) ScheduleExtraFee(feeID, studentID string) {
	r.enqueue(jobs.Job{
		ID:      feeID + ":" + studentID,
		Type:    receiptJobExtraFee,
		Payload: extraFeeReceiptJob{FeeID: feeID, StudentID: studentID},
	})
}

func (r *ReceiptRetrier) enqueue(job jobs.Job) {
	if r.queue == nil {
		r.logger.Warn("receipt retry queue not configured", zap.String("job_id", job.ID))
		r.metrics.RecordReceiptRetry("dropped")
		return
	}
	if err := r.queue.Enqueue(job); err != nil {
		r.logger.Warn("failed to queue receipt retry", zap.String("job_id", job.ID), zap.Error(err))
		r.metrics.RecordReceiptRetry("dropped")
		return
	}
	r.metrics.RecordReceiptRetry("queued")
}

// Handle processes a queued receipt job.
func (r *ReceiptRetrier) Handle(ctx context.Context, job jobs.Job) error {
	var err error
	switch payload := job.Payload.(type) {
	case installmentReceiptJob:
		err = r.retryInstallment(ctx, payload)
	case extraFeeReceiptJob:
		err = r.retryExtraFee(ctx, payload)
	default:
		r.logger.Error("unknown receipt job", zap.String("job_id", job.ID), zap.String("type", job.Type))
		return nil
	}
	if errors.Is(err, errReceiptObsolete) {
		r.logger.Info("receipt retry skipped", zap.String("job_id", job.ID), zap.Error(err))
		r.metrics.RecordReceiptRetry("obsolete")
		return nil
	}
	if err != nil {
		return err
	}
	r.metrics.RecordReceiptRetry("succeeded")
	return nil
}

// Dropped is the queue's OnDrop hook.
func (r *ReceiptRetrier) Dropped(job jobs.Job, err error) {
	r.logger.Error("receipt permanently failed", zap.String("job_id", job.ID), zap.String("type", job.Type), zap.Error(err))
	r.metrics.RecordReceiptRetry("exhausted")
}

var errReceiptObsolete = errors.New("payment no longer present")

func (r *ReceiptRetrier) retryInstallment(ctx context.Context, p installmentReceiptJob) error {
	student, err := r.students.FindByID(ctx, p.StudentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return errReceiptObsolete
		}
		return err
	}
	for _, inst := range student.Installments {
		if inst.ID != p.InstallmentID {
			continue
		}
		if inst.ReceiptURL != "" {
			return nil
		}
		url, err := r.issuer.IssueInstallmentReceipt(ctx, student, inst)
		if err != nil {
			return err
		}
		if err := r.students.AttachInstallmentReceipt(ctx, inst.ID, url); err != nil {
			return fmt.Errorf("attach installment receipt: %w", err)
		}
		return nil
	}
	// a rollover wipes installments
	return errReceiptObsolete
}

func (r *ReceiptRetrier) retryExtraFee(ctx context.Context, p extraFeeReceiptJob) error {
	fee, err := r.extraFees.FindByID(ctx, p.FeeID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return errReceiptObsolete
		}
		return err
	}
	payment, ok := fee.Payment(p.StudentID)
	if !ok || !payment.Paid {
		return errReceiptObsolete
	}
	if payment.ReceiptURL != "" {
		return nil
	}
	phone := ""
	if student, err := r.students.FindByID(ctx, p.StudentID); err == nil {
		phone = student.Phone
	}
	url, err := r.issuer.IssueExtraFeeReceipt(ctx, fee, *payment, phone)
	if err != nil {
		return err
	}
	if err := r.extraFees.AttachReceipt(ctx, payment.ID, url); err != nil {
		return fmt.Errorf("attach extra fee receipt: %w", err)
	}
	return nil
}

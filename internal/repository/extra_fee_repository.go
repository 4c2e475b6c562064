package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-fee-ledger/internal/models"
)

const extraFeeColumns = `id, title, amount, created_by, created_by_name, is_active, created_at, updated_at`

const extraFeePaymentColumns = `id, extra_fee_id, student_id, student_name, student_class, paid, paid_date, receipt_url, position`

// ExtraFeeRepository persists extra fee campaigns and their payment snapshots.
type ExtraFeeRepository struct {
	db *sqlx.DB
}

// NewExtraFeeRepository constructs an ExtraFeeRepository.
func NewExtraFeeRepository(db *sqlx.DB) *ExtraFeeRepository {
	return &ExtraFeeRepository{db: db}
}

// Create inserts the campaign and snapshots every active student as an unpaid entry
// in one transaction. ErrNoActiveStudents is returned when the snapshot is empty.
func (r *ExtraFeeRepository) Create(ctx context.Context, fee *models.ExtraFee) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin extra fee transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var active []struct {
		ID    string            `db:"id"`
		Name  string            `db:"name"`
		Class models.ClassLevel `db:"class"`
	}
	if err = tx.SelectContext(ctx, &active, `SELECT id, name, class FROM students WHERE is_active ORDER BY name, id`); err != nil {
		return fmt.Errorf("snapshot active students: %w", err)
	}
	if len(active) == 0 {
		return ErrNoActiveStudents
	}

	if fee.ID == "" {
		fee.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	fee.IsActive = true
	fee.CreatedAt = now
	fee.UpdatedAt = now
	const insertFee = `INSERT INTO extra_fees (id, title, amount, created_by, created_by_name, is_active, created_at, updated_at)
        VALUES (:id, :title, :amount, :created_by, :created_by_name, :is_active, :created_at, :updated_at)`
	if _, err = tx.NamedExecContext(ctx, insertFee, fee); err != nil {
		return fmt.Errorf("insert extra fee: %w", err)
	}

	const insertPayment = `INSERT INTO extra_fee_payments (id, extra_fee_id, student_id, student_name, student_class, paid, receipt_url, position)
        VALUES ($1, $2, $3, $4, $5, false, '', $6)`
	payments := make([]models.ExtraFeePayment, 0, len(active))
	for i, s := range active {
		p := models.ExtraFeePayment{
			ID:           uuid.NewString(),
			ExtraFeeID:   fee.ID,
			StudentID:    s.ID,
			StudentName:  s.Name,
			StudentClass: s.Class,
			Position:     i,
		}
		if _, err = tx.ExecContext(ctx, insertPayment, p.ID, p.ExtraFeeID, p.StudentID, p.StudentName, p.StudentClass, p.Position); err != nil {
			return fmt.Errorf("insert extra fee payment: %w", err)
		}
		payments = append(payments, p)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit extra fee: %w", err)
	}
	fee.Payments = payments
	return nil
}

// List returns active campaigns newest first with aggregated payment counts.
func (r *ExtraFeeRepository) List(ctx context.Context) ([]models.ExtraFeeSummary, error) {
	const query = `SELECT f.id, f.title, f.amount, f.created_by_name, f.created_at,
        COUNT(p.id) AS student_count,
        COUNT(p.id) FILTER (WHERE p.paid) AS paid_count,
        COALESCE(COUNT(p.id) FILTER (WHERE p.paid), 0) * f.amount AS total_collected,
        COALESCE(COUNT(p.id) FILTER (WHERE NOT p.paid), 0) * f.amount AS total_pending
        FROM extra_fees f LEFT JOIN extra_fee_payments p ON p.extra_fee_id = f.id
        WHERE f.is_active
        GROUP BY f.id
        ORDER BY f.created_at DESC`
	summaries := []models.ExtraFeeSummary{}
	if err := r.db.SelectContext(ctx, &summaries, query); err != nil {
		return nil, fmt.Errorf("list extra fees: %w", err)
	}
	return summaries, nil
}

// FindByID loads an active campaign with its payments in snapshot order. sql.ErrNoRows is returned unwrapped.
func (r *ExtraFeeRepository) FindByID(ctx context.Context, id string) (*models.ExtraFee, error) {
	var fee models.ExtraFee
	if err := r.db.GetContext(ctx, &fee, "SELECT "+extraFeeColumns+" FROM extra_fees WHERE id = $1 AND is_active", id); err != nil {
		return nil, err
	}
	payments := []models.ExtraFeePayment{}
	query := "SELECT " + extraFeePaymentColumns + " FROM extra_fee_payments WHERE extra_fee_id = $1 ORDER BY position"
	if err := r.db.SelectContext(ctx, &payments, query, id); err != nil {
		return nil, fmt.Errorf("load extra fee payments: %w", err)
	}
	fee.Payments = payments
	return &fee, nil
}

// MarkPaid flips one payment entry to paid under a row lock. Missing campaign or entry
// yields sql.ErrNoRows, an already settled entry ErrAlreadyPaid.
func (r *ExtraFeeRepository) MarkPaid(ctx context.Context, feeID, studentID string, paidAt time.Time) (payment *models.ExtraFeePayment, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin extra fee payment transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var locked models.ExtraFeePayment
	query := `SELECT p.id, p.extra_fee_id, p.student_id, p.student_name, p.student_class, p.paid, p.paid_date, p.receipt_url, p.position
        FROM extra_fee_payments p JOIN extra_fees f ON f.id = p.extra_fee_id
        WHERE p.extra_fee_id = $1 AND p.student_id = $2 AND f.is_active
        FOR UPDATE OF p`
	if err = tx.GetContext(ctx, &locked, query, feeID, studentID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("lock extra fee payment: %w", err)
	}
	if locked.Paid {
		return nil, ErrAlreadyPaid
	}

	if _, err = tx.ExecContext(ctx, `UPDATE extra_fee_payments SET paid = true, paid_date = $2 WHERE id = $1`, locked.ID, paidAt); err != nil {
		return nil, fmt.Errorf("mark extra fee paid: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `UPDATE extra_fees SET updated_at = $2 WHERE id = $1`, feeID, paidAt); err != nil {
		return nil, fmt.Errorf("touch extra fee: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit extra fee payment: %w", err)
	}

	locked.Paid = true
	locked.PaidDate = &paidAt
	return &locked, nil
}

// AttachReceipt stores the receipt reference of a settled payment entry.
func (r *ExtraFeeRepository) AttachReceipt(ctx context.Context, paymentID, receiptURL string) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE extra_fee_payments SET receipt_url = $2 WHERE id = $1`, paymentID, receiptURL); err != nil {
		return fmt.Errorf("attach extra fee receipt: %w", err)
	}
	return nil
}

// RemovePayment hard-deletes a student's entry from a campaign.
func (r *ExtraFeeRepository) RemovePayment(ctx context.Context, feeID, studentID string) (*models.ExtraFeePayment, error) {
	query := "DELETE FROM extra_fee_payments WHERE extra_fee_id = $1 AND student_id = $2 RETURNING " + extraFeePaymentColumns
	var removed models.ExtraFeePayment
	if err := r.db.GetContext(ctx, &removed, query, feeID, studentID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("remove extra fee payment: %w", err)
	}
	return &removed, nil
}

// SoftDelete deactivates a campaign, leaving its payments intact.
func (r *ExtraFeeRepository) SoftDelete(ctx context.Context, id string) (*models.ExtraFee, error) {
	query := "UPDATE extra_fees SET is_active = false, updated_at = $2 WHERE id = $1 AND is_active RETURNING " + extraFeeColumns
	var fee models.ExtraFee
	if err := r.db.GetContext(ctx, &fee, query, id, time.Now().UTC()); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("soft delete extra fee: %w", err)
	}
	return &fee, nil
}

// DeleteAll permanently removes every campaign, active or not. Payments cascade.
func (r *ExtraFeeRepository) DeleteAll(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM extra_fees`)
	if err != nil {
		return 0, fmt.Errorf("purge extra fees: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge extra fees: %w", err)
	}
	return affected, nil
}

// CountAll counts campaigns regardless of state.
func (r *ExtraFeeRepository) CountAll(ctx context.Context) (int, error) {
	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM extra_fees`); err != nil {
		return 0, fmt.Errorf("count extra fees: %w", err)
	}
	return total, nil
}

// Stats aggregates collected and pending amounts over active campaigns.
func (r *ExtraFeeRepository) Stats(ctx context.Context) (*models.ExtraFeeStats, error) {
	const query = `SELECT
        COUNT(DISTINCT f.id) AS active_campaigns,
        COALESCE(SUM(CASE WHEN p.paid THEN f.amount ELSE 0 END), 0) AS total_collected,
        COALESCE(SUM(CASE WHEN p.id IS NOT NULL AND NOT p.paid THEN f.amount ELSE 0 END), 0) AS total_pending
        FROM extra_fees f LEFT JOIN extra_fee_payments p ON p.extra_fee_id = f.id
        WHERE f.is_active`
	var stats models.ExtraFeeStats
	if err := r.db.GetContext(ctx, &stats, query); err != nil {
		return nil, fmt.Errorf("extra fee stats: %w", err)
	}
	return &stats, nil
}

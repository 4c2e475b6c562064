package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-fee-ledger/internal/models"
)

// ReportRepository computes read-only fee aggregates straight from the ledger tables.
type ReportRepository struct {
	db *sqlx.DB
}

// NewReportRepository constructs a ReportRepository.
func NewReportRepository(db *sqlx.DB) *ReportRepository {
	return &ReportRepository{db: db}
}

// Summary returns count and fee totals over active students.
func (r *ReportRepository) Summary(ctx context.Context) (*models.FeeSummary, error) {
	const query = `SELECT COUNT(*) AS total_students,
        COALESCE(SUM(paid_fee), 0) AS total_collected,
        COALESCE(SUM(due_fee), 0) AS total_pending
        FROM students WHERE is_active`
	var summary models.FeeSummary
	if err := r.db.GetContext(ctx, &summary, query); err != nil {
		return nil, fmt.Errorf("fee summary: %w", err)
	}
	return &summary, nil
}

// ClassWise returns per-grade totals over active students in grade order.
func (r *ReportRepository) ClassWise(ctx context.Context) ([]models.ClassFeeSummary, error) {
	query := fmt.Sprintf(`SELECT class, COUNT(*) AS student_count,
        COALESCE(SUM(paid_fee), 0) AS total_paid,
        COALESCE(SUM(due_fee), 0) AS total_due
        FROM students WHERE is_active
        GROUP BY class
        ORDER BY %s`, classOrderExpr("class"))
	rows := []models.ClassFeeSummary{}
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("class wise report: %w", err)
	}
	return rows, nil
}

// Defaulters returns active students with dues, highest due first.
func (r *ReportRepository) Defaulters(ctx context.Context, limit int) ([]models.Defaulter, error) {
	const query = `SELECT id, name, phone, class, due_fee FROM students
        WHERE is_active AND due_fee > 0
        ORDER BY due_fee DESC, name
        LIMIT $1`
	rows := []models.Defaulter{}
	if err := r.db.SelectContext(ctx, &rows, query, limit); err != nil {
		return nil, fmt.Errorf("defaulters report: %w", err)
	}
	return rows, nil
}

// DueDistribution is the dashboard breakdown of outstanding balances.
type DueDistribution struct {
	FullyPaid  int   `db:"fully_paid"`
	WithDues   int   `db:"with_dues"`
	AverageDue int64 `db:"average_due"`
	HighestDue int64 `db:"highest_due"`
}

// Distribution computes how dues are spread across active students.
func (r *ReportRepository) Distribution(ctx context.Context) (*DueDistribution, error) {
	const query = `SELECT
        COUNT(*) FILTER (WHERE due_fee <= 0) AS fully_paid,
        COUNT(*) FILTER (WHERE due_fee > 0) AS with_dues,
        COALESCE(ROUND(AVG(due_fee) FILTER (WHERE due_fee > 0)), 0)::BIGINT AS average_due,
        COALESCE(MAX(due_fee), 0) AS highest_due
        FROM students WHERE is_active`
	var dist DueDistribution
	if err := r.db.GetContext(ctx, &dist, query); err != nil {
		return nil, fmt.Errorf("due distribution: %w", err)
	}
	return &dist, nil
}

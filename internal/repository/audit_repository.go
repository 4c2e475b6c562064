package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-fee-ledger/internal/models"
)

const auditColumns = `id, admin_id, admin_name, action, student_name, details, ip_address, created_at`

// AuditRepository appends and reads admin audit entries. Entries are never updated or deleted.
type AuditRepository struct {
	db *sqlx.DB
}

// NewAuditRepository constructs an AuditRepository.
func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Create persists an audit entry.
func (r *AuditRepository) Create(ctx context.Context, entry *models.AuditLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	var details interface{}
	if len(entry.Details) > 0 {
		details = string(entry.Details)
	}
	const query = `INSERT INTO admin_logs (id, admin_id, admin_name, action, student_name, details, ip_address, created_at)
        VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7, $8)`
	if _, err := r.db.ExecContext(ctx, query, entry.ID, entry.AdminID, entry.AdminName, entry.Action, entry.StudentName, details, entry.IPAddress, entry.CreatedAt); err != nil {
		return fmt.Errorf("create audit log: %w", err)
	}
	return nil
}

// List returns entries matching filter, newest first, with the total count.
func (r *AuditRepository) List(ctx context.Context, filter models.AuditFilter) ([]models.AuditLog, int, error) {
	conditions := []string{"1=1"}
	var args []interface{}

	if filter.Action != "" {
		conditions = append(conditions, fmt.Sprintf("action = $%d", len(args)+1))
		args = append(args, filter.Action)
	}
	if filter.AdminID != "" {
		conditions = append(conditions, fmt.Sprintf("admin_id = $%d", len(args)+1))
		args = append(args, filter.AdminID)
	}
	if filter.StudentName != "" {
		conditions = append(conditions, fmt.Sprintf("LOWER(student_name) LIKE $%d", len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.StudentName)+"%")
	}
	if filter.From != nil {
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", len(args)+1))
		args = append(args, *filter.From)
	}
	if filter.To != nil {
		conditions = append(conditions, fmt.Sprintf("created_at <= $%d", len(args)+1))
		args = append(args, *filter.To)
	}

	base := "FROM admin_logs WHERE " + strings.Join(conditions, " AND ")

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 50
	}
	offset := (page - 1) * size

	query := fmt.Sprintf("SELECT %s %s ORDER BY created_at DESC, id LIMIT %d OFFSET %d", auditColumns, base, size, offset)
	logs := []models.AuditLog{}
	if err := r.db.SelectContext(ctx, &logs, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list audit logs: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) "+base, args...); err != nil {
		return nil, 0, fmt.Errorf("count audit logs: %w", err)
	}
	return logs, total, nil
}

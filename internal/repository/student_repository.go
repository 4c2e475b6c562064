package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-fee-ledger/internal/models"
)

const studentColumns = `id, name, phone, class, total_fee, paid_fee, due_fee, is_active, annual_fee_locked, admission_date, created_at, updated_at`

const installmentColumns = `id, student_id, amount, paid_at, confirmed, receipt_url`

// StudentRepository manages persistence for student ledgers.
type StudentRepository struct {
	db *sqlx.DB
}

// NewStudentRepository constructs a StudentRepository.
func NewStudentRepository(db *sqlx.DB) *StudentRepository {
	return &StudentRepository{db: db}
}

// classOrderExpr sorts the class column by grade sequence instead of lexically.
func classOrderExpr(column string) string {
	levels := models.AllClassLevels()
	quoted := make([]string, len(levels))
	for i, level := range levels {
		quoted[i] = "'" + string(level) + "'"
	}
	return fmt.Sprintf("array_position(ARRAY[%s]::text[], %s)", strings.Join(quoted, ","), column)
}

// List returns students matching the provided filters. Installments are not loaded.
func (r *StudentRepository) List(ctx context.Context, filter models.StudentFilter) ([]models.Student, int, error) {
	conditions := []string{"1=1"}
	var args []interface{}

	if filter.Class != "" {
		conditions = append(conditions, fmt.Sprintf("class = $%d", len(args)+1))
		args = append(args, filter.Class)
	}
	if filter.Active != nil {
		conditions = append(conditions, fmt.Sprintf("is_active = $%d", len(args)+1))
		args = append(args, *filter.Active)
	}
	switch filter.PaymentStatus {
	case models.PaymentStatusPaid:
		conditions = append(conditions, "due_fee <= 0")
	case models.PaymentStatusPending:
		conditions = append(conditions, "paid_fee = 0 AND due_fee > 0")
	case models.PaymentStatusPartial:
		conditions = append(conditions, "paid_fee > 0 AND due_fee > 0")
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(LOWER(name) LIKE $%d OR phone LIKE $%d)", len(args)+1, len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}

	base := "FROM students WHERE " + strings.Join(conditions, " AND ")

	allowedSorts := map[string]string{
		"name":       "name",
		"class":      classOrderExpr("class"),
		"due_fee":    "due_fee",
		"paid_fee":   "paid_fee",
		"created_at": "created_at",
	}
	column, ok := allowedSorts[filter.SortBy]
	if !ok {
		column = "created_at"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf("SELECT %s %s ORDER BY %s %s, id LIMIT %d OFFSET %d", studentColumns, base, column, order, size, offset)
	var students []models.Student
	if err := r.db.SelectContext(ctx, &students, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list students: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) "+base, args...); err != nil {
		return nil, 0, fmt.Errorf("count students: %w", err)
	}
	return students, total, nil
}

// FindByID fetches a student with its installment history. sql.ErrNoRows is returned unwrapped.
func (r *StudentRepository) FindByID(ctx context.Context, id string) (*models.Student, error) {
	var student models.Student
	if err := r.db.GetContext(ctx, &student, "SELECT "+studentColumns+" FROM students WHERE id = $1", id); err != nil {
		return nil, err
	}
	installments, err := loadInstallments(ctx, r.db, id)
	if err != nil {
		return nil, err
	}
	student.Installments = installments
	return &student, nil
}

func loadInstallments(ctx context.Context, q sqlx.QueryerContext, studentID string) ([]models.Installment, error) {
	installments := []models.Installment{}
	query := "SELECT " + installmentColumns + " FROM student_installments WHERE student_id = $1 ORDER BY paid_at, created_at"
	if err := sqlx.SelectContext(ctx, q, &installments, query, studentID); err != nil {
		return nil, fmt.Errorf("load installments: %w", err)
	}
	return installments, nil
}

// ExistsByIdentity checks the active (name, phone, class) triple, optionally excluding one student.
func (r *StudentRepository) ExistsByIdentity(ctx context.Context, name, phone string, class models.ClassLevel, excludeID string) (bool, error) {
	query := "SELECT 1 FROM students WHERE name = $1 AND phone = $2 AND class = $3 AND is_active"
	args := []interface{}{name, phone, class}
	if excludeID != "" {
		query += " AND id <> $4"
		args = append(args, excludeID)
	}
	var exists int
	if err := r.db.GetContext(ctx, &exists, query+" LIMIT 1", args...); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check student identity: %w", err)
	}
	return true, nil
}

// Create inserts a new student record. A duplicate identity yields ErrDuplicate.
func (r *StudentRepository) Create(ctx context.Context, student *models.Student) error {
	if student.ID == "" {
		student.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if student.CreatedAt.IsZero() {
		student.CreatedAt = now
	}
	if student.AdmissionDate.IsZero() {
		student.AdmissionDate = now
	}
	student.UpdatedAt = now
	student.Recompute()
	const query = `INSERT INTO students (id, name, phone, class, total_fee, paid_fee, due_fee, is_active, annual_fee_locked, admission_date, created_at, updated_at)
        VALUES (:id, :name, :phone, :class, :total_fee, :paid_fee, :due_fee, :is_active, :annual_fee_locked, :admission_date, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, student); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("create student: %w", err)
	}
	return nil
}

// Mutate serialises a read-modify-write on one student. The row is locked with FOR UPDATE,
// fn sees the locked state including installments, and its changes are written back in the
// same transaction. An error from fn rolls back and is returned unchanged. Installments
// without an ID are inserted.
func (r *StudentRepository) Mutate(ctx context.Context, id string, fn func(*models.Student) error) (student *models.Student, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin student transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var locked models.Student
	if err = tx.GetContext(ctx, &locked, "SELECT "+studentColumns+" FROM students WHERE id = $1 FOR UPDATE", id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("lock student: %w", err)
	}
	if locked.Installments, err = loadInstallments(ctx, tx, id); err != nil {
		return nil, err
	}

	if err = fn(&locked); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	locked.Recompute()
	locked.UpdatedAt = now
	const updateQuery = `UPDATE students SET name = :name, phone = :phone, class = :class, total_fee = :total_fee, paid_fee = :paid_fee,
        due_fee = :due_fee, is_active = :is_active, annual_fee_locked = :annual_fee_locked, updated_at = :updated_at WHERE id = :id`
	if _, err = tx.NamedExecContext(ctx, updateQuery, &locked); err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("update student: %w", err)
	}

	const insertInstallment = `INSERT INTO student_installments (id, student_id, amount, paid_at, confirmed, receipt_url, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)`
	for i := range locked.Installments {
		inst := &locked.Installments[i]
		if inst.ID != "" {
			continue
		}
		inst.ID = uuid.NewString()
		inst.StudentID = locked.ID
		if _, err = tx.ExecContext(ctx, insertInstallment, inst.ID, inst.StudentID, inst.Amount, inst.PaidAt, inst.Confirmed, inst.ReceiptURL, now); err != nil {
			return nil, fmt.Errorf("insert installment: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit student: %w", err)
	}
	return &locked, nil
}

// AttachInstallmentReceipt stores the receipt reference of an already committed installment.
func (r *StudentRepository) AttachInstallmentReceipt(ctx context.Context, installmentID, receiptURL string) error {
	const query = `UPDATE student_installments SET receipt_url = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, installmentID, receiptURL); err != nil {
		return fmt.Errorf("attach installment receipt: %w", err)
	}
	return nil
}

// ListActive returns every active student ordered by grade, highest first. Installments are not loaded.
func (r *StudentRepository) ListActive(ctx context.Context) ([]models.Student, error) {
	query := fmt.Sprintf("SELECT %s FROM students WHERE is_active ORDER BY %s DESC, name", studentColumns, classOrderExpr("class"))
	var students []models.Student
	if err := r.db.SelectContext(ctx, &students, query); err != nil {
		return nil, fmt.Errorf("list active students: %w", err)
	}
	return students, nil
}

// Graduate deactivates a terminal-grade student without touching the fee ledger.
func (r *StudentRepository) Graduate(ctx context.Context, id string) error {
	const query = `UPDATE students SET is_active = false, updated_at = $2 WHERE id = $1 AND is_active`
	res, err := r.db.ExecContext(ctx, query, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("graduate student: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ResetForNewYear promotes a student to next, resets the ledger to totalFee and purges installments, atomically.
func (r *StudentRepository) ResetForNewYear(ctx context.Context, id string, next models.ClassLevel, totalFee int64) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin rollover transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const updateQuery = `UPDATE students SET class = $2, total_fee = $3, paid_fee = 0, due_fee = $3, annual_fee_locked = false, updated_at = $4
        WHERE id = $1 AND is_active`
	res, err := tx.ExecContext(ctx, updateQuery, id, next, totalFee, time.Now().UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("reset student: %w", err)
	}
	if affected, rowsErr := res.RowsAffected(); rowsErr == nil && affected == 0 {
		return sql.ErrNoRows
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM student_installments WHERE student_id = $1`, id); err != nil {
		return fmt.Errorf("purge installments: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit rollover: %w", err)
	}
	return nil
}

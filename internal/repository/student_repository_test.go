package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-fee-ledger/internal/models"
)

func newMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func studentRows() *sqlmock.Rows {
	return sqlmock.NewRows(strings.Split(strings.ReplaceAll(studentColumns, " ", ""), ","))
}

func installmentRows() *sqlmock.Rows {
	return sqlmock.NewRows(strings.Split(strings.ReplaceAll(installmentColumns, " ", ""), ","))
}

func TestStudentRepositoryListFilters(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	now := time.Now()
	active := true
	rows := studentRows().AddRow("s1", "Alice", "9999999999", "1st", 1000, 0, 1000, true, false, now, now, now)
	base := "FROM students WHERE 1=1 AND class = $1 AND is_active = $2 AND paid_fee = 0 AND due_fee > 0"
	mock.ExpectQuery(regexp.QuoteMeta("SELECT " + studentColumns + " " + base + " ORDER BY due_fee DESC, id LIMIT 20 OFFSET 0")).
		WithArgs(models.Class1st, true).
		WillReturnRows(rows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) " + base)).
		WithArgs(models.Class1st, true).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	students, total, err := repo.List(context.Background(), models.StudentFilter{
		Class:         models.Class1st,
		Active:        &active,
		PaymentStatus: models.PaymentStatusPending,
		SortBy:        "due_fee",
	})
	require.NoError(t, err)
	require.Len(t, students, 1)
	assert.Equal(t, 1, total)
	assert.Equal(t, models.Class1st, students[0].Class)
	assert.True(t, students[0].Balanced())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryListSortsClassBySequence(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY array_position(ARRAY['Playgroup','Nursery','KG-1','KG-2','1st'")).
		WillReturnRows(studentRows())
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM students WHERE 1=1")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	_, _, err := repo.List(context.Background(), models.StudentFilter{SortBy: "class", SortOrder: "asc"})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryCreateDuplicate(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectExec("INSERT INTO students").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "students_identity_key"})

	student := &models.Student{Name: "Alice", Phone: "9999999999", Class: models.Class1st, TotalFee: 1000, IsActive: true}
	err := repo.Create(context.Background(), student)
	assert.ErrorIs(t, err, ErrDuplicate)
	assert.NotEmpty(t, student.ID)
	assert.Equal(t, int64(1000), student.DueFee)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryFindByIDLoadsInstallments(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("FROM students WHERE id = $1")).
		WithArgs("s1").
		WillReturnRows(studentRows().AddRow("s1", "Alice", "9999999999", "1st", 1000, 400, 600, true, false, now, now, now))
	mock.ExpectQuery(regexp.QuoteMeta("FROM student_installments WHERE student_id = $1 ORDER BY paid_at")).
		WithArgs("s1").
		WillReturnRows(installmentRows().AddRow("i1", "s1", 400, now, true, ""))

	student, err := repo.FindByID(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, student.Installments, 1)
	assert.Equal(t, int64(400), student.Installments[0].Amount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryMutateCommits(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM students WHERE id = $1 FOR UPDATE")).
		WithArgs("s1").
		WillReturnRows(studentRows().AddRow("s1", "Alice", "9999999999", "1st", 1000, 0, 1000, true, false, now, now, now))
	mock.ExpectQuery("FROM student_installments").
		WithArgs("s1").
		WillReturnRows(installmentRows())
	mock.ExpectExec("UPDATE students SET name").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO student_installments").
		WithArgs(sqlmock.AnyArg(), "s1", int64(400), sqlmock.AnyArg(), true, "", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	student, err := repo.Mutate(context.Background(), "s1", func(s *models.Student) error {
		s.PaidFee += 400
		s.Installments = append(s.Installments, models.Installment{Amount: 400, PaidAt: now, Confirmed: true})
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(600), student.DueFee)
	require.Len(t, student.Installments, 1)
	assert.NotEmpty(t, student.Installments[0].ID)
	assert.Equal(t, "s1", student.Installments[0].StudentID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryMutateRollsBackOnRuleFailure(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	now := time.Now()
	ruleErr := errors.New("exceeds total")
	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").
		WillReturnRows(studentRows().AddRow("s1", "Alice", "9999999999", "1st", 1000, 1000, 0, true, false, now, now, now))
	mock.ExpectQuery("FROM student_installments").WillReturnRows(installmentRows())
	mock.ExpectRollback()

	_, err := repo.Mutate(context.Background(), "s1", func(s *models.Student) error { return ruleErr })
	assert.Same(t, ruleErr, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryMutateNotFound(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	called := false
	_, err := repo.Mutate(context.Background(), "missing", func(s *models.Student) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.False(t, called)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryResetForNewYear(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE students SET class = $2, total_fee = $3, paid_fee = 0, due_fee = $3, annual_fee_locked = false")).
		WithArgs("s1", models.Class2nd, int64(5000), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM student_installments WHERE student_id = $1")).
		WithArgs("s1").
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	require.NoError(t, repo.ResetForNewYear(context.Background(), "s1", models.Class2nd, 5000))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryGraduateInactive(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectExec("UPDATE students SET is_active = false").
		WithArgs("s1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.ErrorIs(t, repo.Graduate(context.Background(), "s1"), sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

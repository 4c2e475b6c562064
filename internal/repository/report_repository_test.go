package repository

import (
	"context"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-fee-ledger/internal/models"
)

func TestReportRepositorySummary(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewReportRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM students WHERE is_active")).
		WillReturnRows(sqlmock.NewRows([]string{"total_students", "total_collected", "total_pending"}).AddRow(3, 1500, 4500))

	summary, err := repo.Summary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, summary.TotalStudents)
	assert.Equal(t, int64(1500), summary.TotalCollected)
	assert.Equal(t, int64(4500), summary.TotalPending)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReportRepositoryClassWiseOrdersBySequence(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewReportRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("GROUP BY class\n        ORDER BY array_position(")).
		WillReturnRows(sqlmock.NewRows([]string{"class", "student_count", "total_paid", "total_due"}).
			AddRow("KG-1", 2, 100, 900).
			AddRow("1st", 1, 0, 1000))

	rows, err := repo.ClassWise(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, models.ClassKG1, rows[0].Class)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReportRepositoryDefaulters(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewReportRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY due_fee DESC, name\n        LIMIT $1")).
		WithArgs(5).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "phone", "class", "due_fee"}).
			AddRow("s2", "Bob", "8888888888", "2nd", 5000).
			AddRow("s1", "Alice", "9999999999", "1st", 600))

	rows, err := repo.Defaulters(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.GreaterOrEqual(t, rows[0].DueFee, rows[1].DueFee)
	assert.NoError(t, mock.ExpectationsWereMet())
}

package repository

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openlingua/school-api/internal/models"
)

func TestAttendanceRepositoryUpsertBatchSingleTransaction(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewAttendanceRepository(db)

	date, _ := time.Parse("2006-01-02", "2026-03-02")
	records := []models.AttendanceRecord{
		{ClassID: "c1", StudentID: "s1", Date: date, Status: models.AttendanceStatusPresent},
		{ClassID: "c1", StudentID: "s2", Date: date, Status: models.AttendanceStatusLate},
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO attendance").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO attendance").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.UpsertBatch(context.Background(), records))
	assert.NotEmpty(t, records[0].ID, "ids are generated for new records")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAttendanceRepositoryUpsertBatchEmptyIsNoop(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewAttendanceRepository(db)

	require.NoError(t, repo.UpsertBatch(context.Background(), nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAttendanceRepositorySessionSummaries(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewAttendanceRepository(db)

	later, _ := time.Parse("2006-01-02", "2026-03-09")
	earlier, _ := time.Parse("2006-01-02", "2026-03-02")
	rows := sqlmock.NewRows([]string{"date", "present", "absent", "late"}).
		AddRow(later, 8, 1, 1).
		AddRow(earlier, 10, 0, 0)
	mock.ExpectQuery("SELECT date,").
		WithArgs("c1", models.AttendanceStatusPresent, models.AttendanceStatusAbsent, models.AttendanceStatusLate).
		WillReturnRows(rows)

	sessions, err := repo.SessionSummaries(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, later, sessions[0].Date)
	assert.Equal(t, 8, sessions[0].Present)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAttendanceRepositorySessionDetail(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewAttendanceRepository(db)

	date, _ := time.Parse("2006-01-02", "2026-03-02")
	rows := sqlmock.NewRows([]string{"student_id", "student_name", "email", "status"}).
		AddRow("s1", "Ana Morales", "ana@example.com", models.AttendanceStatusPresent)
	mock.ExpectQuery("SELECT a.student_id, s.full_name AS student_name, s.email, a.status").
		WithArgs("c1", date).
		WillReturnRows(rows)

	detail, err := repo.SessionDetail(context.Background(), "c1", date)
	require.NoError(t, err)
	require.Len(t, detail, 1)
	assert.Equal(t, "Ana Morales", detail[0].StudentName)
	require.NoError(t, mock.ExpectationsWereMet())
}

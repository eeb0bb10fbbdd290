package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openlingua/school-api/internal/models"
	appErrors "github.com/openlingua/school-api/pkg/errors"
)

func newRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestEnrollmentRepositoryActiveStudentIDs(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	rows := sqlmock.NewRows([]string{"student_id"}).AddRow("s1").AddRow("s2")
	mock.ExpectQuery(regexp.QuoteMeta("SELECT student_id FROM enrollments WHERE class_id = $1 AND status = $2")).
		WithArgs("c1", models.EnrollmentStatusActive).
		WillReturnRows(rows)

	ids, err := repo.ActiveStudentIDs(context.Background(), "c1")
	require.NoError(t, err)
	assert.Len(t, ids, 2)
	assert.Contains(t, ids, "s1")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryAssignStudentsLocksAndRecounts(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT max_students FROM classes WHERE id = $1 FOR UPDATE")).
		WithArgs("c1").
		WillReturnRows(sqlmock.NewRows([]string{"max_students"}).AddRow(2))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT student_id FROM enrollments WHERE class_id = $1 AND status = $2")).
		WithArgs("c1", models.EnrollmentStatusActive).
		WillReturnRows(sqlmock.NewRows([]string{"student_id"}))

	// s1: no previous enrollment elsewhere, then upsert.
	mock.ExpectQuery("UPDATE enrollments SET status = .+ RETURNING class_id").
		WillReturnRows(sqlmock.NewRows([]string{"class_id"}))
	mock.ExpectExec("INSERT INTO enrollments").
		WillReturnResult(sqlmock.NewResult(0, 1))

	// s2: previously active in c0, which must be recounted too.
	mock.ExpectQuery("UPDATE enrollments SET status = .+ RETURNING class_id").
		WillReturnRows(sqlmock.NewRows([]string{"class_id"}).AddRow("c0"))
	mock.ExpectExec("INSERT INTO enrollments").
		WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectExec("UPDATE classes SET current_students").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE classes SET current_students").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	assigned, err := repo.AssignStudents(context.Background(), "c1", []string{"s1", "s2"})
	require.NoError(t, err)
	assert.Equal(t, 2, assigned)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryAssignStudentsRejectsOverCapacity(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT max_students FROM classes WHERE id = $1 FOR UPDATE")).
		WithArgs("c1").
		WillReturnRows(sqlmock.NewRows([]string{"max_students"}).AddRow(2))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT student_id FROM enrollments WHERE class_id = $1 AND status = $2")).
		WithArgs("c1", models.EnrollmentStatusActive).
		WillReturnRows(sqlmock.NewRows([]string{"student_id"}).AddRow("s1").AddRow("s2"))
	mock.ExpectRollback()

	_, err := repo.AssignStudents(context.Background(), "c1", []string{"s3"})
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrCapacityExceeded.Code, appErr.Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryAssignStudentsAllowsReassignWhenFull(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT max_students FROM classes WHERE id = $1 FOR UPDATE")).
		WithArgs("c1").
		WillReturnRows(sqlmock.NewRows([]string{"max_students"}).AddRow(2))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT student_id FROM enrollments WHERE class_id = $1 AND status = $2")).
		WithArgs("c1", models.EnrollmentStatusActive).
		WillReturnRows(sqlmock.NewRows([]string{"student_id"}).AddRow("s1").AddRow("s2"))

	// s1 is already a member: zero newcomers, so the full class accepts the
	// re-assignment as an idempotent overwrite.
	mock.ExpectQuery("UPDATE enrollments SET status = .+ RETURNING class_id").
		WillReturnRows(sqlmock.NewRows([]string{"class_id"}))
	mock.ExpectExec("INSERT INTO enrollments").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE classes SET current_students").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	assigned, err := repo.AssignStudents(context.Background(), "c1", []string{"s1"})
	require.NoError(t, err)
	assert.Equal(t, 1, assigned)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryUnassignMissingRow(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE enrollments SET status =").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := repo.Unassign(context.Background(), "c1", "s1")
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryRosterEntriesOrdered(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	rows := sqlmock.NewRows([]string{"student_id", "full_name", "email", "level", "phone"}).
		AddRow("s1", "Ana Morales", "ana@example.com", "A1", nil).
		AddRow("s2", "Ben Okafor", "ben@example.com", "A1", "555-0102")
	mock.ExpectQuery("SELECT e.student_id, s.full_name, s.email, s.level, s.phone").
		WithArgs("c1", models.EnrollmentStatusActive).
		WillReturnRows(rows)

	entries, err := repo.RosterEntries(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "Ana Morales", entries[0].FullName)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryDeactivateByStudentRecountsTouchedClasses(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE enrollments SET status = .+ RETURNING class_id").
		WillReturnRows(sqlmock.NewRows([]string{"class_id"}).AddRow("c1"))
	mock.ExpectExec("UPDATE classes SET current_students").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.DeactivateByStudent(context.Background(), "s1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/openlingua/school-api/internal/models"
	appErrors "github.com/openlingua/school-api/pkg/errors"
)

// EnrollmentRepository handles persistence of class memberships. All
// mutations run inside a single transaction that locks the class row, so the
// capacity check, the upserts and the derived-count refresh cannot interleave
// with a concurrent assignment against the same class.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

// CountActive returns the number of ACTIVE enrollments for a class.
func (r *EnrollmentRepository) CountActive(ctx context.Context, classID string) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM enrollments WHERE class_id = $1 AND status = $2`, classID, models.EnrollmentStatusActive); err != nil {
		return 0, fmt.Errorf("count active enrollments: %w", err)
	}
	return count, nil
}

// ActiveStudentIDs returns the set of student ids actively enrolled in the
// class. The attendance recorder validates batches against this set.
func (r *EnrollmentRepository) ActiveStudentIDs(ctx context.Context, classID string) (map[string]struct{}, error) {
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, `SELECT student_id FROM enrollments WHERE class_id = $1 AND status = $2`, classID, models.EnrollmentStatusActive); err != nil {
		return nil, fmt.Errorf("list active student ids: %w", err)
	}
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set, nil
}

// Find returns the enrollment row for a (class, student) pair.
func (r *EnrollmentRepository) Find(ctx context.Context, classID, studentID string) (*models.Enrollment, error) {
	const query = `SELECT class_id, student_id, status, created_at, updated_at FROM enrollments WHERE class_id = $1 AND student_id = $2`
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, classID, studentID); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// FindDetail returns the enrollment joined with display fields.
func (r *EnrollmentRepository) FindDetail(ctx context.Context, classID, studentID string) (*models.EnrollmentDetail, error) {
	const query = `SELECT e.class_id, e.student_id, e.status, e.created_at, e.updated_at,
        s.full_name AS student_name, c.name AS class_name
        FROM enrollments e
        JOIN students s ON s.id = e.student_id
        JOIN classes c ON c.id = e.class_id
        WHERE e.class_id = $1 AND e.student_id = $2`
	var detail models.EnrollmentDetail
	if err := r.db.GetContext(ctx, &detail, query, classID, studentID); err != nil {
		return nil, err
	}
	return &detail, nil
}

// FindActiveByStudent returns the student's current active enrollment, if any.
func (r *EnrollmentRepository) FindActiveByStudent(ctx context.Context, studentID string) (*models.Enrollment, error) {
	const query = `SELECT class_id, student_id, status, created_at, updated_at FROM enrollments WHERE student_id = $1 AND status = $2`
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, studentID, models.EnrollmentStatusActive); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// RosterEntries returns active members of a class joined with student
// profile fields, sorted by name.
func (r *EnrollmentRepository) RosterEntries(ctx context.Context, classID string) ([]models.RosterEntry, error) {
	const query = `SELECT e.student_id, s.full_name, s.email, s.level, s.phone
        FROM enrollments e
        JOIN students s ON s.id = e.student_id
        WHERE e.class_id = $1 AND e.status = $2
        ORDER BY s.full_name ASC`
	var entries []models.RosterEntry
	if err := r.db.SelectContext(ctx, &entries, query, classID, models.EnrollmentStatusActive); err != nil {
		return nil, fmt.Errorf("list roster entries: %w", err)
	}
	return entries, nil
}

// AssignStudents enrolls the batch into the class as one all-or-nothing
// transaction. The class row is locked first; the capacity check counts only
// students not already active in the class, so re-assignments stay
// idempotent. Each assigned student's previous active enrollment in another
// class is deactivated, and current_students is recomputed from a fresh count
// for every class touched. Returns the number of students assigned.
func (r *EnrollmentRepository) AssignStudents(ctx context.Context, classID string, studentIDs []string) (int, error) {
	if len(studentIDs) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin assign students: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	var maxStudents int
	if err := tx.GetContext(ctx, &maxStudents, `SELECT max_students FROM classes WHERE id = $1 FOR UPDATE`, classID); err != nil {
		return 0, fmt.Errorf("lock class: %w", err)
	}

	var activeIDs []string
	if err := tx.SelectContext(ctx, &activeIDs, `SELECT student_id FROM enrollments WHERE class_id = $1 AND status = $2`, classID, models.EnrollmentStatusActive); err != nil {
		return 0, fmt.Errorf("load active members: %w", err)
	}
	active := make(map[string]struct{}, len(activeIDs))
	for _, id := range activeIDs {
		active[id] = struct{}{}
	}

	newcomers := 0
	for _, id := range studentIDs {
		if _, ok := active[id]; !ok {
			newcomers++
		}
	}
	if newcomers > maxStudents-len(active) {
		return 0, appErrors.Clone(appErrors.ErrCapacityExceeded,
			fmt.Sprintf("class has %d available spots, %d students requested", maxStudents-len(active), newcomers))
	}

	now := time.Now().UTC()
	touched := map[string]struct{}{classID: {}}

	const deactivate = `UPDATE enrollments SET status = $3, updated_at = $4 WHERE student_id = $1 AND class_id <> $2 AND status = $5 RETURNING class_id`
	const upsert = `INSERT INTO enrollments (class_id, student_id, status, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $4)
        ON CONFLICT (class_id, student_id)
        DO UPDATE SET status = EXCLUDED.status, updated_at = EXCLUDED.updated_at`

	for _, studentID := range studentIDs {
		var previous []string
		if err := tx.SelectContext(ctx, &previous, deactivate, studentID, classID, models.EnrollmentStatusInactive, now, models.EnrollmentStatusActive); err != nil {
			return 0, fmt.Errorf("deactivate previous enrollment: %w", err)
		}
		for _, prev := range previous {
			touched[prev] = struct{}{}
		}
		if _, err := tx.ExecContext(ctx, upsert, classID, studentID, models.EnrollmentStatusActive, now); err != nil {
			return 0, fmt.Errorf("upsert enrollment: %w", err)
		}
	}

	for id := range touched {
		if err := recountClass(ctx, tx, id, now); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit assign students: %w", err)
	}
	committed = true
	return len(studentIDs), nil
}

// Unassign flips the enrollment to INACTIVE and refreshes the class counter.
// Returns false when no active enrollment existed for the pair.
func (r *EnrollmentRepository) Unassign(ctx context.Context, classID, studentID string) (bool, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin unassign: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, `UPDATE enrollments SET status = $3, updated_at = $4 WHERE class_id = $1 AND student_id = $2 AND status = $5`,
		classID, studentID, models.EnrollmentStatusInactive, now, models.EnrollmentStatusActive)
	if err != nil {
		return false, fmt.Errorf("deactivate enrollment: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("unassign rows affected: %w", err)
	}
	if affected == 0 {
		return false, sql.ErrNoRows
	}

	if err := recountClass(ctx, tx, classID, now); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit unassign: %w", err)
	}
	committed = true
	return true, nil
}

// DeactivateByStudent retires the student's active enrollment wherever it is
// and refreshes the affected class counters. Used when a student is marked
// inactive at the directory level.
func (r *EnrollmentRepository) DeactivateByStudent(ctx context.Context, studentID string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin deactivate by student: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	now := time.Now().UTC()
	var classIDs []string
	if err := tx.SelectContext(ctx, &classIDs, `UPDATE enrollments SET status = $2, updated_at = $3 WHERE student_id = $1 AND status = $4 RETURNING class_id`,
		studentID, models.EnrollmentStatusInactive, now, models.EnrollmentStatusActive); err != nil {
		return fmt.Errorf("deactivate student enrollments: %w", err)
	}

	for _, id := range classIDs {
		if err := recountClass(ctx, tx, id, now); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit deactivate by student: %w", err)
	}
	committed = true
	return nil
}

// recountClass rewrites current_students from a fresh count of active
// enrollment rows. Never an increment: the count is the source of truth.
func recountClass(ctx context.Context, tx *sqlx.Tx, classID string, now time.Time) error {
	const query = `UPDATE classes
        SET current_students = (SELECT COUNT(*) FROM enrollments WHERE class_id = classes.id AND status = $2), updated_at = $3
        WHERE id = $1`
	if _, err := tx.ExecContext(ctx, query, classID, models.EnrollmentStatusActive, now); err != nil {
		return fmt.Errorf("recount class %s: %w", classID, err)
	}
	return nil
}

package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/openlingua/school-api/internal/models"
)

// AttendanceRepository handles persistence of per-session attendance marks.
type AttendanceRepository struct {
	db *sqlx.DB
}

// NewAttendanceRepository constructs the repository.
func NewAttendanceRepository(db *sqlx.DB) *AttendanceRepository {
	return &AttendanceRepository{db: db}
}

// UpsertBatch writes all records in one transaction, keyed on
// (class_id, student_id, date). Resubmitting a session overwrites the prior
// marks for the same students instead of appending duplicate history.
func (r *AttendanceRepository) UpsertBatch(ctx context.Context, records []models.AttendanceRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin attendance batch: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	const query = `INSERT INTO attendance (id, class_id, student_id, date, status, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $6)
        ON CONFLICT (class_id, student_id, date)
        DO UPDATE SET status = EXCLUDED.status, updated_at = EXCLUDED.updated_at`

	now := time.Now().UTC()
	for i := range records {
		rec := &records[i]
		if rec.ID == "" {
			rec.ID = uuid.NewString()
		}
		if _, err := tx.ExecContext(ctx, query, rec.ID, rec.ClassID, rec.StudentID, rec.Date, rec.Status, now); err != nil {
			return fmt.Errorf("upsert attendance for %s on %s: %w", rec.StudentID, rec.Date.Format("2006-01-02"), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit attendance batch: %w", err)
	}
	committed = true
	return nil
}

// SessionSummaries groups a class's attendance by session date with
// per-status counts, most recent date first.
func (r *AttendanceRepository) SessionSummaries(ctx context.Context, classID string) ([]models.SessionSummary, error) {
	const query = `SELECT date,
        COUNT(*) FILTER (WHERE status = $2) AS present,
        COUNT(*) FILTER (WHERE status = $3) AS absent,
        COUNT(*) FILTER (WHERE status = $4) AS late
        FROM attendance
        WHERE class_id = $1
        GROUP BY date
        ORDER BY date DESC`
	var sessions []models.SessionSummary
	if err := r.db.SelectContext(ctx, &sessions, query, classID,
		models.AttendanceStatusPresent, models.AttendanceStatusAbsent, models.AttendanceStatusLate); err != nil {
		return nil, fmt.Errorf("list session summaries: %w", err)
	}
	return sessions, nil
}

// SessionDetail returns every mark for the (class, date) pair joined with
// student display fields, sorted by name.
func (r *AttendanceRepository) SessionDetail(ctx context.Context, classID string, date time.Time) ([]models.SessionDetailRow, error) {
	const query = `SELECT a.student_id, s.full_name AS student_name, s.email, a.status
        FROM attendance a
        JOIN students s ON s.id = a.student_id
        WHERE a.class_id = $1 AND a.date = $2
        ORDER BY s.full_name ASC`
	var rows []models.SessionDetailRow
	if err := r.db.SelectContext(ctx, &rows, query, classID, date); err != nil {
		return nil, fmt.Errorf("load session detail: %w", err)
	}
	return rows, nil
}

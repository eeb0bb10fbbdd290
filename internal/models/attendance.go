package models

import "time"

// AttendanceStatus represents the mark recorded for one student at one
// class session.
type AttendanceStatus string

const (
	AttendanceStatusPresent AttendanceStatus = "PRESENT"
	AttendanceStatusAbsent  AttendanceStatus = "ABSENT"
	AttendanceStatusLate    AttendanceStatus = "LATE"
)

// Valid returns true when the status is a supported value.
func (s AttendanceStatus) Valid() bool {
	switch s {
	case AttendanceStatusPresent, AttendanceStatusAbsent, AttendanceStatusLate:
		return true
	default:
		return false
	}
}

// AttendanceRecord is one per-session mark. The (class_id, student_id, date)
// triple is unique; saves are upserts against that key so resubmitting a
// session corrects the earlier marks instead of duplicating them.
type AttendanceRecord struct {
	ID        string           `db:"id" json:"id"`
	ClassID   string           `db:"class_id" json:"class_id"`
	StudentID string           `db:"student_id" json:"student_id"`
	Date      time.Time        `db:"date" json:"date"`
	Status    AttendanceStatus `db:"status" json:"status"`
	CreatedAt time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt time.Time        `db:"updated_at" json:"updated_at"`
}

// SessionSummary aggregates one session date's marks for a class.
type SessionSummary struct {
	Date    time.Time `db:"date" json:"date"`
	Present int       `db:"present" json:"present"`
	Absent  int       `db:"absent" json:"absent"`
	Late    int       `db:"late" json:"late"`
}

// SessionDetailRow is one student's mark within a session, joined with
// display fields.
type SessionDetailRow struct {
	StudentID   string           `db:"student_id" json:"id"`
	StudentName string           `db:"student_name" json:"name"`
	Email       string           `db:"email" json:"email"`
	Status      AttendanceStatus `db:"status" json:"status"`
}

package models

import "time"

// EnrollmentStatus represents the lifecycle of an enrollment.
type EnrollmentStatus string

// Possible enrollment statuses. Rows are never deleted; unassignment flips
// the status to INACTIVE and the row persists as history.
const (
	EnrollmentStatusActive   EnrollmentStatus = "ACTIVE"
	EnrollmentStatusInactive EnrollmentStatus = "INACTIVE"
)

// Enrollment captures a student's membership in a class. The (class_id,
// student_id) pair is unique; assignment writes are upserts against that key,
// which makes re-assigning an already enrolled student idempotent.
type Enrollment struct {
	ClassID   string           `db:"class_id" json:"class_id"`
	StudentID string           `db:"student_id" json:"student_id"`
	Status    EnrollmentStatus `db:"status" json:"status"`
	CreatedAt time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt time.Time        `db:"updated_at" json:"updated_at"`
}

// EnrollmentDetail enriches Enrollment with student and class info.
type EnrollmentDetail struct {
	Enrollment
	StudentName string `db:"student_name" json:"student_name"`
	ClassName   string `db:"class_name" json:"class_name"`
}

// RosterEntry is one active member of a class joined with profile fields.
type RosterEntry struct {
	StudentID string  `db:"student_id" json:"id"`
	FullName  string  `db:"full_name" json:"name"`
	Email     string  `db:"email" json:"email"`
	Level     string  `db:"level" json:"level"`
	Phone     *string `db:"phone" json:"phone,omitempty"`
}

// ClassRoster is the assembled read view for a class.
type ClassRoster struct {
	Class    ClassDetail   `json:"class"`
	Students []RosterEntry `json:"students"`
	Teacher  *Teacher      `json:"teacher,omitempty"`
}

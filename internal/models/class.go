package models

import "time"

// ClassStatus is the lifecycle state of a class.
type ClassStatus string

const (
	ClassStatusActive   ClassStatus = "ACTIVE"
	ClassStatusInactive ClassStatus = "INACTIVE"
)

// Class represents a language class offered by the school.
// CurrentStudents is a derived counter mirroring the number of ACTIVE
// enrollment rows for the class. It is recomputed from a fresh count after
// every enrollment mutation, never incremented in place.
type Class struct {
	ID              string      `db:"id" json:"id"`
	Name            string      `db:"name" json:"name"`
	Language        string      `db:"language" json:"language"`
	Level           string      `db:"level" json:"level"`
	Schedule        string      `db:"schedule" json:"schedule"`
	MaxStudents     int         `db:"max_students" json:"max_students"`
	CurrentStudents int         `db:"current_students" json:"current_students"`
	Status          ClassStatus `db:"status" json:"status"`
	TeacherID       *string     `db:"teacher_id" json:"teacher_id,omitempty"`
	CreatedAt       time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time   `db:"updated_at" json:"updated_at"`
}

// ClassDetail extends Class with the assigned teacher's name.
type ClassDetail struct {
	Class
	TeacherName *string `db:"teacher_name" json:"teacher_name,omitempty"`
}

// ClassFilter defines filter criteria for listing classes.
type ClassFilter struct {
	Language  string
	Level     string
	Status    ClassStatus
	TeacherID string
	Search    string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

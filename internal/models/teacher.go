package models

import "time"

// Teacher represents an instructor's profile row. Its id equals the id of the
// owning user identity.
type Teacher struct {
	ID         string    `db:"id" json:"id"`
	FullName   string    `db:"full_name" json:"full_name"`
	Email      string    `db:"email" json:"email"`
	Phone      *string   `db:"phone" json:"phone,omitempty"`
	Languages  *string   `db:"languages" json:"languages,omitempty"`
	HourlyRate float64   `db:"hourly_rate" json:"hourly_rate"`
	Active     bool      `db:"active" json:"active"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

// TeacherFilter captures filtering options for listing teachers.
type TeacherFilter struct {
	Search    string
	Active    *bool
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

package models

import "time"

// Student represents a learner's profile row. Its id equals the id of the
// owning user identity.
type Student struct {
	ID        string    `db:"id" json:"id"`
	FullName  string    `db:"full_name" json:"full_name"`
	Email     string    `db:"email" json:"email"`
	Phone     *string   `db:"phone" json:"phone,omitempty"`
	Level     string    `db:"level" json:"level"`
	Active    bool      `db:"active" json:"active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// StudentDetail carries the student's current class, resolved by joining
// through the enrollments table rather than a denormalized pointer.
type StudentDetail struct {
	Student
	CurrentClassID   *string `db:"current_class_id" json:"current_class_id,omitempty"`
	CurrentClassName *string `db:"current_class_name" json:"current_class_name,omitempty"`
}

// StudentFilter encapsulates search parameters for listing students.
type StudentFilter struct {
	Search    string
	ClassID   string
	Level     string
	Active    *bool
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

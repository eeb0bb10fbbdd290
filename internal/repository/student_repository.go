package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/openlingua/school-api/internal/models"
)

// StudentRepository manages persistence for student profiles.
type StudentRepository struct {
	db *sqlx.DB
}

// NewStudentRepository constructs the repository.
func NewStudentRepository(db *sqlx.DB) *StudentRepository {
	return &StudentRepository{db: db}
}

// List returns students matching the filter. The current class is resolved by
// joining through active enrollments.
func (r *StudentRepository) List(ctx context.Context, filter models.StudentFilter) ([]models.StudentDetail, int, error) {
	base := `FROM students s
LEFT JOIN enrollments e ON e.student_id = s.id AND e.status = 'ACTIVE'
LEFT JOIN classes c ON c.id = e.class_id`
	where := []string{"1=1"}
	var args []interface{}

	if filter.Search != "" {
		where = append(where, fmt.Sprintf("(LOWER(s.full_name) LIKE $%d OR LOWER(s.email) LIKE $%d)", len(args)+1, len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}
	if filter.ClassID != "" {
		where = append(where, fmt.Sprintf("e.class_id = $%d", len(args)+1))
		args = append(args, filter.ClassID)
	}
	if filter.Level != "" {
		where = append(where, fmt.Sprintf("s.level = $%d", len(args)+1))
		args = append(args, filter.Level)
	}
	if filter.Active != nil {
		where = append(where, fmt.Sprintf("s.active = $%d", len(args)+1))
		args = append(args, *filter.Active)
	}
	whereClause := strings.Join(where, " AND ")

	sortBy := filter.SortBy
	allowedSorts := map[string]string{
		"full_name":  "s.full_name",
		"level":      "s.level",
		"created_at": "s.created_at",
	}
	sortColumn, ok := allowedSorts[sortBy]
	if !ok {
		sortColumn = "s.full_name"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "ASC"
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT s.id, s.full_name, s.email, s.phone, s.level, s.active, s.created_at, s.updated_at,
        e.class_id AS current_class_id, c.name AS current_class_name
        %s WHERE %s ORDER BY %s %s LIMIT %d OFFSET %d`, base, whereClause, sortColumn, order, size, offset)

	var students []models.StudentDetail
	if err := r.db.SelectContext(ctx, &students, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list students: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s WHERE %s", base, whereClause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count students: %w", err)
	}
	return students, total, nil
}

// FindByID returns a student profile by ID.
func (r *StudentRepository) FindByID(ctx context.Context, id string) (*models.Student, error) {
	const query = `SELECT id, full_name, email, phone, level, active, created_at, updated_at FROM students WHERE id = $1`
	var student models.Student
	if err := r.db.GetContext(ctx, &student, query, id); err != nil {
		return nil, err
	}
	return &student, nil
}

// FindDetailByID returns the student with their current class joined in.
func (r *StudentRepository) FindDetailByID(ctx context.Context, id string) (*models.StudentDetail, error) {
	const query = `SELECT s.id, s.full_name, s.email, s.phone, s.level, s.active, s.created_at, s.updated_at,
        e.class_id AS current_class_id, c.name AS current_class_name
        FROM students s
        LEFT JOIN enrollments e ON e.student_id = s.id AND e.status = 'ACTIVE'
        LEFT JOIN classes c ON c.id = e.class_id
        WHERE s.id = $1`
	var detail models.StudentDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// Create persists a student profile row. The id is expected to equal the
// already provisioned user identity's id.
func (r *StudentRepository) Create(ctx context.Context, student *models.Student) error {
	now := time.Now().UTC()
	if student.CreatedAt.IsZero() {
		student.CreatedAt = now
	}
	student.UpdatedAt = now
	const query = `INSERT INTO students (id, full_name, email, phone, level, active, created_at, updated_at)
        VALUES (:id, :full_name, :email, :phone, :level, :active, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, student); err != nil {
		return fmt.Errorf("create student: %w", err)
	}
	return nil
}

// Update modifies a student profile.
func (r *StudentRepository) Update(ctx context.Context, student *models.Student) error {
	student.UpdatedAt = time.Now().UTC()
	const query = `UPDATE students SET full_name = :full_name, email = :email, phone = :phone, level = :level,
        active = :active, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, student); err != nil {
		return fmt.Errorf("update student: %w", err)
	}
	return nil
}

// SetActive toggles a student's active flag.
func (r *StudentRepository) SetActive(ctx context.Context, id string, active bool) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE students SET active = $2, updated_at = $3 WHERE id = $1`, id, active, time.Now().UTC()); err != nil {
		return fmt.Errorf("set student active: %w", err)
	}
	return nil
}

// Delete removes a student profile.
func (r *StudentRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM students WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete student: %w", err)
	}
	return nil
}

package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/openlingua/school-api/internal/models"
)

// ClassRepository manages persistence for classes.
type ClassRepository struct {
	db *sqlx.DB
}

// NewClassRepository constructs a new class repository.
func NewClassRepository(db *sqlx.DB) *ClassRepository {
	return &ClassRepository{db: db}
}

const classColumns = "id, name, language, level, schedule, max_students, current_students, status, teacher_id, created_at, updated_at"

// List returns classes matching filter criteria.
func (r *ClassRepository) List(ctx context.Context, filter models.ClassFilter) ([]models.Class, int, error) {
	base := "FROM classes WHERE 1=1"
	var conditions []string
	var args []interface{}

	if filter.Language != "" {
		conditions = append(conditions, fmt.Sprintf("language = $%d", len(args)+1))
		args = append(args, filter.Language)
	}
	if filter.Level != "" {
		conditions = append(conditions, fmt.Sprintf("level = $%d", len(args)+1))
		args = append(args, filter.Level)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}
	if filter.TeacherID != "" {
		conditions = append(conditions, fmt.Sprintf("teacher_id = $%d", len(args)+1))
		args = append(args, filter.TeacherID)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("LOWER(name) LIKE $%d", len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}

	if len(conditions) > 0 {
		base += " AND " + strings.Join(conditions, " AND ")
	}

	sortBy := filter.SortBy
	allowedSorts := map[string]bool{
		"name":       true,
		"language":   true,
		"level":      true,
		"created_at": true,
		"updated_at": true,
	}
	if !allowedSorts[sortBy] {
		sortBy = "created_at"
	}

	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
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

	query := fmt.Sprintf("SELECT %s %s ORDER BY %s %s LIMIT %d OFFSET %d", classColumns, base, sortBy, order, size, offset)
	var classes []models.Class
	if err := r.db.SelectContext(ctx, &classes, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list classes: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count classes: %w", err)
	}
	return classes, total, nil
}

// FindByID returns a class record by ID.
func (r *ClassRepository) FindByID(ctx context.Context, id string) (*models.Class, error) {
	query := fmt.Sprintf("SELECT %s FROM classes WHERE id = $1", classColumns)
	var class models.Class
	if err := r.db.GetContext(ctx, &class, query, id); err != nil {
		return nil, err
	}
	return &class, nil
}

// FindDetailByID returns a class with the assigned teacher's name joined in.
func (r *ClassRepository) FindDetailByID(ctx context.Context, id string) (*models.ClassDetail, error) {
	const query = `SELECT c.id, c.name, c.language, c.level, c.schedule, c.max_students, c.current_students,
        c.status, c.teacher_id, c.created_at, c.updated_at, t.full_name AS teacher_name
        FROM classes c
        LEFT JOIN teachers t ON t.id = c.teacher_id
        WHERE c.id = $1`
	var detail models.ClassDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// ExistsByName checks if a class with the same name already exists.
func (r *ClassRepository) ExistsByName(ctx context.Context, name string, excludeID string) (bool, error) {
	query := "SELECT 1 FROM classes WHERE LOWER(name) = LOWER($1)"
	args := []interface{}{name}
	if excludeID != "" {
		query += " AND id <> $2"
		args = append(args, excludeID)
	}
	var exists int
	if err := r.db.GetContext(ctx, &exists, query+" LIMIT 1", args...); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check class name: %w", err)
	}
	return true, nil
}

// Create persists a class record.
func (r *ClassRepository) Create(ctx context.Context, class *models.Class) error {
	if class.ID == "" {
		class.ID = uuid.NewString()
	}
	if class.Status == "" {
		class.Status = models.ClassStatusActive
	}
	now := time.Now().UTC()
	if class.CreatedAt.IsZero() {
		class.CreatedAt = now
	}
	class.UpdatedAt = now

	const query = `INSERT INTO classes (id, name, language, level, schedule, max_students, current_students, status, teacher_id, created_at, updated_at)
        VALUES (:id, :name, :language, :level, :schedule, :max_students, :current_students, :status, :teacher_id, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, class); err != nil {
		return fmt.Errorf("create class: %w", err)
	}
	return nil
}

// Update modifies a class's descriptive fields. The derived counter is
// deliberately untouched here; only enrollment mutations rewrite it.
func (r *ClassRepository) Update(ctx context.Context, class *models.Class) error {
	class.UpdatedAt = time.Now().UTC()
	const query = `UPDATE classes SET name = :name, language = :language, level = :level, schedule = :schedule,
        max_students = :max_students, status = :status, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, class); err != nil {
		return fmt.Errorf("update class: %w", err)
	}
	return nil
}

// Delete removes a class record.
func (r *ClassRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM classes WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete class: %w", err)
	}
	return nil
}

// SetTeacher assigns or clears the class's teacher reference.
func (r *ClassRepository) SetTeacher(ctx context.Context, classID string, teacherID *string) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE classes SET teacher_id = $2, updated_at = $3 WHERE id = $1`, classID, teacherID, time.Now().UTC()); err != nil {
		return fmt.Errorf("set class teacher: %w", err)
	}
	return nil
}

package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/openlingua/school-api/internal/models"
	appErrors "github.com/openlingua/school-api/pkg/errors"
)

type classStore interface {
	List(ctx context.Context, filter models.ClassFilter) ([]models.Class, int, error)
	FindByID(ctx context.Context, id string) (*models.Class, error)
	FindDetailByID(ctx context.Context, id string) (*models.ClassDetail, error)
	ExistsByName(ctx context.Context, name string, excludeID string) (bool, error)
	Create(ctx context.Context, class *models.Class) error
	Update(ctx context.Context, class *models.Class) error
	Delete(ctx context.Context, id string) error
}

type enrollmentCounter interface {
	CountActive(ctx context.Context, classID string) (int, error)
}

// CreateClassRequest is the payload for creating a class.
type CreateClassRequest struct {
	Name        string  `json:"name" validate:"required"`
	Language    string  `json:"language" validate:"required"`
	Level       string  `json:"level" validate:"required"`
	Schedule    string  `json:"schedule" validate:"required"`
	MaxStudents int     `json:"max_students" validate:"required,min=1"`
	TeacherID   *string `json:"teacher_id"`
}

// UpdateClassRequest is the payload for updating a class. Omitted fields are
// left untouched.
type UpdateClassRequest struct {
	Name        *string `json:"name"`
	Language    *string `json:"language"`
	Level       *string `json:"level"`
	Schedule    *string `json:"schedule"`
	MaxStudents *int    `json:"max_students" validate:"omitempty,min=1"`
	Status      *string `json:"status" validate:"omitempty,oneof=ACTIVE INACTIVE"`
}

// ClassService manages class records. Enrollment membership and the
// current_students counter are owned by EnrollmentService; this service never
// writes the counter.
type ClassService struct {
	repo        classStore
	enrollments enrollmentCounter
	cache       cacheInvalidator
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewClassService constructs ClassService.
func NewClassService(repo classStore, enrollments enrollmentCounter, cache cacheInvalidator, validate *validator.Validate, logger *zap.Logger) *ClassService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ClassService{repo: repo, enrollments: enrollments, cache: cache, validator: validate, logger: logger}
}

// List returns classes matching the filter plus pagination metadata.
func (s *ClassService) List(ctx context.Context, filter models.ClassFilter) ([]models.Class, *models.Pagination, error) {
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize < 1 || filter.PageSize > 100 {
		filter.PageSize = 20
	}

	classes, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list classes")
	}
	return classes, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}, nil
}

// Get returns one class with its teacher's name resolved.
func (s *ClassService) Get(ctx context.Context, id string) (*models.ClassDetail, error) {
	detail, err := s.repo.FindDetailByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "class not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class")
	}
	return detail, nil
}

// Create registers a new class. Names are unique across the school.
func (s *ClassService) Create(ctx context.Context, req CreateClassRequest) (*models.Class, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid class payload")
	}

	exists, err := s.repo.ExistsByName(ctx, req.Name, "")
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check class name")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrConflict, "class name already in use")
	}

	now := time.Now().UTC()
	class := &models.Class{
		ID:          uuid.NewString(),
		Name:        req.Name,
		Language:    req.Language,
		Level:       req.Level,
		Schedule:    req.Schedule,
		MaxStudents: req.MaxStudents,
		Status:      models.ClassStatusActive,
		TeacherID:   req.TeacherID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.Create(ctx, class); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create class")
	}

	s.logger.Info("class created", zap.String("class_id", class.ID), zap.String("name", class.Name))
	return class, nil
}

// Update applies a partial update. Shrinking max_students below the current
// active membership is rejected so the capacity invariant keeps holding.
func (s *ClassService) Update(ctx context.Context, id string, req UpdateClassRequest) (*models.Class, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid class payload")
	}

	class, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "class not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class")
	}

	if req.Name != nil && *req.Name != class.Name {
		exists, err := s.repo.ExistsByName(ctx, *req.Name, id)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check class name")
		}
		if exists {
			return nil, appErrors.Clone(appErrors.ErrConflict, "class name already in use")
		}
		class.Name = *req.Name
	}
	if req.Language != nil {
		class.Language = *req.Language
	}
	if req.Level != nil {
		class.Level = *req.Level
	}
	if req.Schedule != nil {
		class.Schedule = *req.Schedule
	}
	if req.MaxStudents != nil {
		active, err := s.enrollments.CountActive(ctx, id)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count enrollments")
		}
		if *req.MaxStudents < active {
			return nil, appErrors.Clone(appErrors.ErrValidation, "max_students cannot be below current enrollment")
		}
		class.MaxStudents = *req.MaxStudents
	}
	if req.Status != nil {
		class.Status = models.ClassStatus(*req.Status)
	}
	class.UpdatedAt = time.Now().UTC()

	if err := s.repo.Update(ctx, class); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update class")
	}

	if err := s.cache.Invalidate(ctx, "roster:"+id); err != nil {
		s.logger.Warn("failed to invalidate roster cache", zap.Error(err))
	}
	return class, nil
}

// Delete removes a class. Classes with active members must be emptied first.
func (s *ClassService) Delete(ctx context.Context, id string) error {
	if _, err := s.repo.FindByID(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "class not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class")
	}

	active, err := s.enrollments.CountActive(ctx, id)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count enrollments")
	}
	if active > 0 {
		return appErrors.Clone(appErrors.ErrConflict, "class still has active students")
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete class")
	}

	if err := s.cache.Invalidate(ctx, "roster:"+id); err != nil {
		s.logger.Warn("failed to invalidate roster cache", zap.Error(err))
	}
	s.logger.Info("class deleted", zap.String("class_id", id))
	return nil
}

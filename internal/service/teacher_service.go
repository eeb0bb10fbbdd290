package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/openlingua/school-api/internal/models"
	appErrors "github.com/openlingua/school-api/pkg/errors"
)

type teacherStore interface {
	List(ctx context.Context, filter models.TeacherFilter) ([]models.Teacher, int, error)
	FindByID(ctx context.Context, id string) (*models.Teacher, error)
	Create(ctx context.Context, teacher *models.Teacher) error
	Update(ctx context.Context, teacher *models.Teacher) error
	Delete(ctx context.Context, id string) error
}

type teacherClassLister interface {
	List(ctx context.Context, filter models.ClassFilter) ([]models.Class, int, error)
}

// CreateTeacherRequest is the payload for registering a teacher account.
type CreateTeacherRequest struct {
	FullName   string  `json:"full_name" validate:"required"`
	Email      string  `json:"email" validate:"required,email"`
	Password   string  `json:"password" validate:"required,min=8"`
	Phone      *string `json:"phone"`
	Languages  *string `json:"languages"`
	HourlyRate float64 `json:"hourly_rate" validate:"min=0"`
}

// UpdateTeacherRequest is the payload for a partial profile update.
type UpdateTeacherRequest struct {
	FullName   *string  `json:"full_name"`
	Phone      *string  `json:"phone"`
	Languages  *string  `json:"languages"`
	HourlyRate *float64 `json:"hourly_rate" validate:"omitempty,min=0"`
	Active     *bool    `json:"active"`
}

// TeacherService manages teacher accounts with the same two-step creation
// saga as StudentService.
type TeacherService struct {
	repo      teacherStore
	users     directoryUserStore
	classes   teacherClassLister
	cache     cacheInvalidator
	validator *validator.Validate
	logger    *zap.Logger
}

// NewTeacherService constructs TeacherService.
func NewTeacherService(repo teacherStore, users directoryUserStore, classes teacherClassLister, cache cacheInvalidator, validate *validator.Validate, logger *zap.Logger) *TeacherService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TeacherService{repo: repo, users: users, classes: classes, cache: cache, validator: validate, logger: logger}
}

// List returns teachers matching the filter plus pagination metadata.
func (s *TeacherService) List(ctx context.Context, filter models.TeacherFilter) ([]models.Teacher, *models.Pagination, error) {
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize < 1 || filter.PageSize > 100 {
		filter.PageSize = 20
	}

	teachers, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list teachers")
	}
	return teachers, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}, nil
}

// Get returns one teacher by id.
func (s *TeacherService) Get(ctx context.Context, id string) (*models.Teacher, error) {
	teacher, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "teacher not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load teacher")
	}
	return teacher, nil
}

// Create registers a teacher account: identity row first, profile second,
// with the identity deleted when the profile write fails.
func (s *TeacherService) Create(ctx context.Context, req CreateTeacherRequest) (*models.Teacher, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid teacher payload")
	}

	exists, err := s.users.ExistsByEmail(ctx, req.Email)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check email")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrConflict, "email already in use")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}

	now := time.Now().UTC()
	user := &models.User{
		ID:           uuid.NewString(),
		Email:        req.Email,
		PasswordHash: string(hash),
		FullName:     req.FullName,
		Role:         models.RoleTeacher,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create user account")
	}

	teacher := &models.Teacher{
		ID:         user.ID,
		FullName:   req.FullName,
		Email:      req.Email,
		Phone:      req.Phone,
		Languages:  req.Languages,
		HourlyRate: req.HourlyRate,
		Active:     true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.repo.Create(ctx, teacher); err != nil {
		if delErr := s.users.Delete(ctx, user.ID); delErr != nil {
			s.logger.Error("failed to roll back user account after profile failure",
				zap.String("user_id", user.ID), zap.Error(delErr))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create teacher profile")
	}

	s.logger.Info("teacher created", zap.String("teacher_id", teacher.ID))
	return teacher, nil
}

// Update applies a partial profile update.
func (s *TeacherService) Update(ctx context.Context, id string, req UpdateTeacherRequest) (*models.Teacher, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid teacher payload")
	}

	teacher, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "teacher not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load teacher")
	}

	if req.FullName != nil {
		teacher.FullName = *req.FullName
	}
	if req.Phone != nil {
		teacher.Phone = req.Phone
	}
	if req.Languages != nil {
		teacher.Languages = req.Languages
	}
	if req.HourlyRate != nil {
		teacher.HourlyRate = *req.HourlyRate
	}
	if req.Active != nil {
		teacher.Active = *req.Active
		if err := s.users.SetActive(ctx, id, *req.Active, time.Now().UTC()); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update user account")
		}
	}
	teacher.UpdatedAt = time.Now().UTC()

	if err := s.repo.Update(ctx, teacher); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update teacher")
	}

	// cached rosters embed the teacher profile
	if err := s.cache.Invalidate(ctx, "roster:*"); err != nil {
		s.logger.Warn("failed to invalidate roster cache", zap.Error(err))
	}
	return teacher, nil
}

// Delete removes a teacher. Teachers still assigned to a class must be
// unassigned first.
func (s *TeacherService) Delete(ctx context.Context, id string) error {
	if _, err := s.repo.FindByID(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "teacher not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load teacher")
	}

	_, assigned, err := s.classes.List(ctx, models.ClassFilter{TeacherID: id, Page: 1, PageSize: 1})
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check class assignments")
	}
	if assigned > 0 {
		return appErrors.Clone(appErrors.ErrConflict, "teacher is still assigned to a class")
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete teacher")
	}
	if err := s.users.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete user account")
	}

	s.logger.Info("teacher deleted", zap.String("teacher_id", id))
	return nil
}

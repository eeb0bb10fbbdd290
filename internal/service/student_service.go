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

type studentStore interface {
	List(ctx context.Context, filter models.StudentFilter) ([]models.StudentDetail, int, error)
	FindByID(ctx context.Context, id string) (*models.Student, error)
	FindDetailByID(ctx context.Context, id string) (*models.StudentDetail, error)
	Create(ctx context.Context, student *models.Student) error
	Update(ctx context.Context, student *models.Student) error
	SetActive(ctx context.Context, id string, active bool) error
	Delete(ctx context.Context, id string) error
}

// directoryUserStore is the slice of the user repository the directory
// services need to run the two-step account creation and its compensation.
type directoryUserStore interface {
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	Create(ctx context.Context, user *models.User) error
	Delete(ctx context.Context, id string) error
	SetActive(ctx context.Context, id string, active bool, updatedAt time.Time) error
}

type enrollmentDeactivator interface {
	DeactivateByStudent(ctx context.Context, studentID string) error
	FindActiveByStudent(ctx context.Context, studentID string) (*models.Enrollment, error)
}

// CreateStudentRequest is the payload for registering a student account.
type CreateStudentRequest struct {
	FullName string  `json:"full_name" validate:"required"`
	Email    string  `json:"email" validate:"required,email"`
	Password string  `json:"password" validate:"required,min=8"`
	Phone    *string `json:"phone"`
	Level    string  `json:"level" validate:"required"`
}

// UpdateStudentRequest is the payload for a partial profile update.
type UpdateStudentRequest struct {
	FullName *string `json:"full_name"`
	Phone    *string `json:"phone"`
	Level    *string `json:"level"`
}

// StudentService manages student accounts. Creation is a two-step saga: the
// user identity row is written first, then the profile row under the same id.
// When the profile write fails the identity row is deleted so no orphaned
// login remains.
type StudentService struct {
	repo        studentStore
	users       directoryUserStore
	enrollments enrollmentDeactivator
	cache       cacheInvalidator
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewStudentService constructs StudentService.
func NewStudentService(repo studentStore, users directoryUserStore, enrollments enrollmentDeactivator, cache cacheInvalidator, validate *validator.Validate, logger *zap.Logger) *StudentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StudentService{repo: repo, users: users, enrollments: enrollments, cache: cache, validator: validate, logger: logger}
}

// List returns students matching the filter plus pagination metadata.
func (s *StudentService) List(ctx context.Context, filter models.StudentFilter) ([]models.StudentDetail, *models.Pagination, error) {
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize < 1 || filter.PageSize > 100 {
		filter.PageSize = 20
	}

	students, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list students")
	}
	return students, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}, nil
}

// Get returns one student with their current class resolved.
func (s *StudentService) Get(ctx context.Context, id string) (*models.StudentDetail, error) {
	detail, err := s.repo.FindDetailByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	return detail, nil
}

// Create registers a student account: identity row first, profile second,
// with the identity deleted when the profile write fails.
func (s *StudentService) Create(ctx context.Context, req CreateStudentRequest) (*models.Student, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid student payload")
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
		Role:         models.RoleStudent,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create user account")
	}

	student := &models.Student{
		ID:        user.ID,
		FullName:  req.FullName,
		Email:     req.Email,
		Phone:     req.Phone,
		Level:     req.Level,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Create(ctx, student); err != nil {
		if delErr := s.users.Delete(ctx, user.ID); delErr != nil {
			s.logger.Error("failed to roll back user account after profile failure",
				zap.String("user_id", user.ID), zap.Error(delErr))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create student profile")
	}

	s.logger.Info("student created", zap.String("student_id", student.ID))
	return student, nil
}

// Update applies a partial profile update.
func (s *StudentService) Update(ctx context.Context, id string, req UpdateStudentRequest) (*models.Student, error) {
	student, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}

	if req.FullName != nil {
		student.FullName = *req.FullName
	}
	if req.Phone != nil {
		student.Phone = req.Phone
	}
	if req.Level != nil {
		student.Level = *req.Level
	}
	student.UpdatedAt = time.Now().UTC()

	if err := s.repo.Update(ctx, student); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update student")
	}

	if err := s.cache.Invalidate(ctx, "roster:*"); err != nil {
		s.logger.Warn("failed to invalidate roster cache", zap.Error(err))
	}
	return student, nil
}

// Deactivate marks a student inactive, disables their login, and releases
// their active enrollment so class counters stay truthful.
func (s *StudentService) Deactivate(ctx context.Context, id string) error {
	if _, err := s.repo.FindByID(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}

	if err := s.repo.SetActive(ctx, id, false); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to deactivate student")
	}
	if err := s.users.SetActive(ctx, id, false, time.Now().UTC()); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to disable user account")
	}
	if err := s.enrollments.DeactivateByStudent(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to release enrollment")
	}

	if err := s.cache.Invalidate(ctx, "roster:*"); err != nil {
		s.logger.Warn("failed to invalidate roster cache", zap.Error(err))
	}
	s.logger.Info("student deactivated", zap.String("student_id", id))
	return nil
}

// Delete removes a student profile and its login identity. Deactivation is
// the routine off-boarding path; delete is refused while an active enrollment
// still references the student.
func (s *StudentService) Delete(ctx context.Context, id string) error {
	if _, err := s.repo.FindByID(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}

	if _, err := s.enrollments.FindActiveByStudent(ctx, id); err == nil {
		return appErrors.Clone(appErrors.ErrConflict, "student still has an active enrollment")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check enrollment")
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete student")
	}
	if err := s.users.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete user account")
	}

	s.logger.Info("student deleted", zap.String("student_id", id))
	return nil
}

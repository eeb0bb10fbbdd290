package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/openlingua/school-api/internal/models"
	appErrors "github.com/openlingua/school-api/pkg/errors"
)

type enrollmentRepository interface {
	CountActive(ctx context.Context, classID string) (int, error)
	AssignStudents(ctx context.Context, classID string, studentIDs []string) (int, error)
	Unassign(ctx context.Context, classID, studentID string) (bool, error)
	Find(ctx context.Context, classID, studentID string) (*models.Enrollment, error)
	FindDetail(ctx context.Context, classID, studentID string) (*models.EnrollmentDetail, error)
}

type classRepository interface {
	FindByID(ctx context.Context, id string) (*models.Class, error)
	FindDetailByID(ctx context.Context, id string) (*models.ClassDetail, error)
	SetTeacher(ctx context.Context, classID string, teacherID *string) error
}

type studentReader interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
}

type teacherReader interface {
	FindByID(ctx context.Context, id string) (*models.Teacher, error)
}

type cacheInvalidator interface {
	Invalidate(ctx context.Context, pattern string) error
}

// AssignStudentsRequest describes the batch assignment payload.
type AssignStudentsRequest struct {
	StudentIDs []string `json:"student_ids" validate:"required,min=1,dive,required"`
}

// AssignSingleStudentRequest describes the single assign/move payload.
type AssignSingleStudentRequest struct {
	StudentID string `json:"student_id" validate:"required"`
	ClassID   string `json:"class_id" validate:"required"`
}

// AssignTeacherRequest describes the teacher assignment payload.
type AssignTeacherRequest struct {
	TeacherID string `json:"teacher_id" validate:"required"`
}

// EnrollmentService is the authoritative ledger of student-class membership.
// It enforces capacity on batch assignment, keeps assignment idempotent, and
// relies on the repository's transaction to keep current_students equal to
// the count of active enrollment rows.
type EnrollmentService struct {
	repo      enrollmentRepository
	classes   classRepository
	students  studentReader
	teachers  teacherReader
	cache     cacheInvalidator
	validator *validator.Validate
	logger    *zap.Logger
}

// NewEnrollmentService constructs EnrollmentService.
func NewEnrollmentService(repo enrollmentRepository, classes classRepository, students studentReader, teachers teacherReader, cache cacheInvalidator, validate *validator.Validate, logger *zap.Logger) *EnrollmentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EnrollmentService{repo: repo, classes: classes, students: students, teachers: teachers, cache: cache, validator: validate, logger: logger}
}

// AssignStudents enrolls a batch of students into a class. The whole batch is
// validated first; nothing is written when any student is unknown or
// inactive, or when the newcomers would push the class past max_students.
func (s *EnrollmentService) AssignStudents(ctx context.Context, classID string, req AssignStudentsRequest) (int, error) {
	if err := s.validator.Struct(req); err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid assignment payload")
	}

	if _, err := s.classes.FindByID(ctx, classID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, appErrors.Clone(appErrors.ErrNotFound, "class not found")
		}
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class")
	}

	seen := make(map[string]struct{}, len(req.StudentIDs))
	for _, studentID := range req.StudentIDs {
		if _, ok := seen[studentID]; ok {
			return 0, appErrors.Clone(appErrors.ErrValidation, "duplicate student in payload")
		}
		seen[studentID] = struct{}{}

		student, err := s.students.FindByID(ctx, studentID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return 0, appErrors.Clone(appErrors.ErrNotFound, "student "+studentID+" not found")
			}
			return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
		}
		if !student.Active {
			return 0, appErrors.Clone(appErrors.ErrValidation, "student "+studentID+" is inactive")
		}
	}

	assigned, err := s.repo.AssignStudents(ctx, classID, req.StudentIDs)
	if err != nil {
		var appErr *appErrors.Error
		if errors.As(err, &appErr) {
			return 0, appErr
		}
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to assign students")
	}

	s.invalidateRoster(ctx)
	return assigned, nil
}

// AssignSingle moves one student into a class through the same transactional
// path as the batch operation. Re-assigning an already enrolled student is a
// no-op rather than an error.
func (s *EnrollmentService) AssignSingle(ctx context.Context, req AssignSingleStudentRequest) (*models.EnrollmentDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid assignment payload")
	}

	if _, err := s.AssignStudents(ctx, req.ClassID, AssignStudentsRequest{StudentIDs: []string{req.StudentID}}); err != nil {
		return nil, err
	}

	detail, err := s.repo.FindDetail(ctx, req.ClassID, req.StudentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment detail")
	}
	return detail, nil
}

// Unassign retires the student's membership in the class. The class counter
// is recomputed inside the repository transaction.
func (s *EnrollmentService) Unassign(ctx context.Context, classID, studentID string) (*models.EnrollmentDetail, error) {
	if _, err := s.repo.Unassign(ctx, classID, studentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "active enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to unassign student")
	}

	s.invalidateRoster(ctx)

	detail, err := s.repo.FindDetail(ctx, classID, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment detail")
	}
	return detail, nil
}

// AssignTeacher sets the class's teacher reference. No counter implications.
func (s *EnrollmentService) AssignTeacher(ctx context.Context, classID string, req AssignTeacherRequest) (*models.ClassDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid teacher payload")
	}

	if _, err := s.classes.FindByID(ctx, classID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "class not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class")
	}

	teacher, err := s.teachers.FindByID(ctx, req.TeacherID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "teacher not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load teacher")
	}
	if !teacher.Active {
		return nil, appErrors.Clone(appErrors.ErrValidation, "teacher is inactive")
	}

	if err := s.classes.SetTeacher(ctx, classID, &teacher.ID); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to assign teacher")
	}

	s.invalidateRoster(ctx)
	return s.classDetail(ctx, classID)
}

// UnassignTeacher clears the class's teacher reference.
func (s *EnrollmentService) UnassignTeacher(ctx context.Context, classID string) (*models.ClassDetail, error) {
	if _, err := s.classes.FindByID(ctx, classID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "class not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class")
	}

	if err := s.classes.SetTeacher(ctx, classID, nil); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to unassign teacher")
	}

	s.invalidateRoster(ctx)
	return s.classDetail(ctx, classID)
}

func (s *EnrollmentService) classDetail(ctx context.Context, classID string) (*models.ClassDetail, error) {
	detail, err := s.classes.FindDetailByID(ctx, classID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class detail")
	}
	return detail, nil
}

func (s *EnrollmentService) invalidateRoster(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, "roster:*"); err != nil {
		s.logger.Warn("roster cache invalidation failed", zap.Error(err))
	}
}

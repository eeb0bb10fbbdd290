package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/openlingua/school-api/internal/models"
	appErrors "github.com/openlingua/school-api/pkg/errors"
)

type attendanceRepository interface {
	UpsertBatch(ctx context.Context, records []models.AttendanceRecord) error
	SessionSummaries(ctx context.Context, classID string) ([]models.SessionSummary, error)
	SessionDetail(ctx context.Context, classID string, date time.Time) ([]models.SessionDetailRow, error)
}

type rosterReader interface {
	ActiveStudentIDs(ctx context.Context, classID string) (map[string]struct{}, error)
}

// AttendanceRecordInput is one mark inside a save batch.
type AttendanceRecordInput struct {
	StudentID   string `json:"student_id" validate:"required"`
	SessionDate string `json:"session_date" validate:"required"`
	Status      string `json:"status" validate:"required,attendance_status"`
	ClassID     string `json:"class_id" validate:"required"`
}

// SaveAttendanceRequest describes a teacher's save action for one session.
type SaveAttendanceRequest struct {
	Records []AttendanceRecordInput `json:"records" validate:"required,min=1,dive"`
}

// AttendanceService records per-session marks for a class, validated against
// the live roster. The whole batch is validated before any write; a single
// failing record rejects every record.
type AttendanceService struct {
	repo      attendanceRepository
	roster    rosterReader
	classes   classRepository
	cache     cacheInvalidator
	validator *validator.Validate
	logger    *zap.Logger
}

// NewAttendanceService constructs the attendance service.
func NewAttendanceService(repo attendanceRepository, roster rosterReader, classes classRepository, cache cacheInvalidator, validate *validator.Validate, logger *zap.Logger) *AttendanceService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &AttendanceService{repo: repo, roster: roster, classes: classes, cache: cache, validator: validate, logger: logger}
	svc.validator.RegisterValidation("attendance_status", func(fl validator.FieldLevel) bool {
		return models.AttendanceStatus(strings.ToUpper(fl.Field().String())).Valid()
	})
	return svc
}

// Save validates and persists a session's marks. The caller must be an admin
// or the teacher assigned to the class; holding the teacher role for some
// other class is not enough.
func (s *AttendanceService) Save(ctx context.Context, classID string, caller *models.JWTClaims, req SaveAttendanceRequest) error {
	if caller == nil {
		return appErrors.ErrUnauthorized
	}

	class, err := s.classes.FindByID(ctx, classID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "class not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class")
	}

	if err := authorizeClassAccess(caller, class); err != nil {
		return err
	}

	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid attendance payload")
	}

	enrolled, err := s.roster.ActiveStudentIDs(ctx, classID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class roster")
	}

	records := make([]models.AttendanceRecord, len(req.Records))
	seen := make(map[string]struct{}, len(req.Records))
	for i, input := range req.Records {
		if input.ClassID != classID {
			return appErrors.Clone(appErrors.ErrValidation, "record class id does not match target class")
		}
		date, err := time.Parse("2006-01-02", input.SessionDate)
		if err != nil {
			return appErrors.Clone(appErrors.ErrValidation, "invalid session date, expected YYYY-MM-DD")
		}
		if _, ok := enrolled[input.StudentID]; !ok {
			return appErrors.Clone(appErrors.ErrNotEnrolled,
				fmt.Sprintf("student %s is not actively enrolled in class %s", input.StudentID, classID))
		}
		key := input.StudentID + "|" + input.SessionDate
		if _, ok := seen[key]; ok {
			return appErrors.Clone(appErrors.ErrValidation, "duplicate student and date in payload")
		}
		seen[key] = struct{}{}

		records[i] = models.AttendanceRecord{
			ClassID:   classID,
			StudentID: input.StudentID,
			Date:      date,
			Status:    models.AttendanceStatus(strings.ToUpper(input.Status)),
		}
	}

	if err := s.repo.UpsertBatch(ctx, records); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save attendance")
	}

	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, "sessions:"+classID+":*"); err != nil {
			s.logger.Warn("session cache invalidation failed", zap.Error(err))
		}
	}
	return nil
}

// authorizeClassAccess allows admins unconditionally and teachers only for a
// class they are assigned to.
func authorizeClassAccess(caller *models.JWTClaims, class *models.Class) error {
	if caller == nil {
		return appErrors.ErrUnauthorized
	}
	switch caller.Role {
	case models.RoleAdmin:
		return nil
	case models.RoleTeacher:
		if class.TeacherID != nil && *class.TeacherID == caller.UserID {
			return nil
		}
		return appErrors.Clone(appErrors.ErrForbidden, "not the assigned teacher for this class")
	default:
		return appErrors.ErrForbidden
	}
}

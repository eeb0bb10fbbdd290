package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/openlingua/school-api/internal/models"
	appErrors "github.com/openlingua/school-api/pkg/errors"
	"github.com/openlingua/school-api/pkg/export"
)

type rosterEnrollmentReader interface {
	RosterEntries(ctx context.Context, classID string) ([]models.RosterEntry, error)
	FindActiveByStudent(ctx context.Context, studentID string) (*models.Enrollment, error)
}

// RosterService assembles read views over the enrollment and attendance
// ledgers. It adds no policy beyond the admin-or-owning-teacher check and
// surfaces ledger state faithfully.
type RosterService struct {
	attendance attendanceRepository
	enrollment rosterEnrollmentReader
	classes    classRepository
	teachers   teacherReader
	cache      *CacheService
	cacheTTL   time.Duration
	logger     *zap.Logger
}

// NewRosterService constructs the roster query service.
func NewRosterService(attendance attendanceRepository, enrollment rosterEnrollmentReader, classes classRepository, teachers teacherReader, cache *CacheService, cacheTTL time.Duration, logger *zap.Logger) *RosterService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RosterService{attendance: attendance, enrollment: enrollment, classes: classes, teachers: teachers, cache: cache, cacheTTL: cacheTTL, logger: logger}
}

// ListSessions groups the class's attendance records by session date with
// per-status counts, most recent first.
func (s *RosterService) ListSessions(ctx context.Context, classID string, caller *models.JWTClaims) ([]models.SessionSummary, error) {
	if _, err := s.authorizedClass(ctx, classID, caller); err != nil {
		return nil, err
	}

	cacheKey := "sessions:" + classID + ":list"
	var cached []models.SessionSummary
	if hit, _ := s.cache.Get(ctx, cacheKey, &cached); hit {
		return cached, nil
	}

	sessions, err := s.attendance.SessionSummaries(ctx, classID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list sessions")
	}

	if err := s.cache.Set(ctx, cacheKey, sessions, s.cacheTTL); err != nil {
		s.logger.Warn("failed to cache session list", zap.Error(err))
	}
	return sessions, nil
}

// SessionDetail returns every mark for the (class, date) pair joined with
// student display fields, sorted by name.
func (s *RosterService) SessionDetail(ctx context.Context, classID, dateStr string, caller *models.JWTClaims) ([]models.SessionDetailRow, error) {
	if _, err := s.authorizedClass(ctx, classID, caller); err != nil {
		return nil, err
	}

	date, err := time.Parse("2006-01-02", dateStr)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid date, expected YYYY-MM-DD")
	}

	cacheKey := "sessions:" + classID + ":" + dateStr
	var cached []models.SessionDetailRow
	if hit, _ := s.cache.Get(ctx, cacheKey, &cached); hit {
		return cached, nil
	}

	rows, err := s.attendance.SessionDetail(ctx, classID, date)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load session detail")
	}

	if err := s.cache.Set(ctx, cacheKey, rows, s.cacheTTL); err != nil {
		s.logger.Warn("failed to cache session detail", zap.Error(err))
	}
	return rows, nil
}

// ClassRoster returns the class, its active members sorted by name, and the
// assigned teacher's profile when present.
func (s *RosterService) ClassRoster(ctx context.Context, classID string, caller *models.JWTClaims) (*models.ClassRoster, error) {
	class, err := s.authorizedClass(ctx, classID, caller)
	if err != nil {
		return nil, err
	}

	cacheKey := "roster:" + classID
	var cached models.ClassRoster
	if hit, _ := s.cache.Get(ctx, cacheKey, &cached); hit {
		return &cached, nil
	}

	detail, err := s.classes.FindDetailByID(ctx, classID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class detail")
	}

	entries, err := s.enrollment.RosterEntries(ctx, classID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load roster")
	}

	roster := &models.ClassRoster{Class: *detail, Students: entries}
	if class.TeacherID != nil {
		teacher, err := s.teachers.FindByID(ctx, *class.TeacherID)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load teacher")
		}
		roster.Teacher = teacher
	}

	if err := s.cache.Set(ctx, cacheKey, roster, s.cacheTTL); err != nil {
		s.logger.Warn("failed to cache roster", zap.Error(err))
	}
	return roster, nil
}

// MyClass resolves a student's current class from their active enrollment.
func (s *RosterService) MyClass(ctx context.Context, studentID string) (*models.ClassDetail, error) {
	enrollment, err := s.enrollment.FindActiveByStudent(ctx, studentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "no current class assignment")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}

	detail, err := s.classes.FindDetailByID(ctx, enrollment.ClassID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class detail")
	}
	return detail, nil
}

// SessionExport is a rendered attendance report ready to stream.
type SessionExport struct {
	Content     []byte
	ContentType string
	Filename    string
}

// ExportSession renders the session detail for a (class, date) pair as CSV
// or PDF.
func (s *RosterService) ExportSession(ctx context.Context, classID, dateStr, format string, caller *models.JWTClaims) (*SessionExport, error) {
	rows, err := s.SessionDetail(ctx, classID, dateStr, caller)
	if err != nil {
		return nil, err
	}

	dataset := export.Dataset{
		Headers: []string{"Student", "Email", "Status"},
		Rows:    make([]map[string]string, len(rows)),
	}
	for i, row := range rows {
		dataset.Rows[i] = map[string]string{
			"Student": row.StudentName,
			"Email":   row.Email,
			"Status":  string(row.Status),
		}
	}

	base := fmt.Sprintf("attendance-%s-%s", classID, dateStr)
	switch format {
	case "", "csv":
		content, err := export.NewCSVExporter().Render(dataset)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv")
		}
		return &SessionExport{Content: content, ContentType: "text/csv", Filename: base + ".csv"}, nil
	case "pdf":
		content, err := export.NewPDFExporter().Render(dataset, "Attendance "+dateStr)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render pdf")
		}
		return &SessionExport{Content: content, ContentType: "application/pdf", Filename: base + ".pdf"}, nil
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "unsupported export format")
	}
}

func (s *RosterService) authorizedClass(ctx context.Context, classID string, caller *models.JWTClaims) (*models.Class, error) {
	class, err := s.classes.FindByID(ctx, classID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "class not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class")
	}
	if err := authorizeClassAccess(caller, class); err != nil {
		return nil, err
	}
	return class, nil
}

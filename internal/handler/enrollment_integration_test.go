package handler

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	internalmiddleware "github.com/openlingua/school-api/internal/middleware"
	"github.com/openlingua/school-api/internal/models"
	"github.com/openlingua/school-api/internal/service"
	appErrors "github.com/openlingua/school-api/pkg/errors"
)

// In-memory fixtures backing the services under the routes. The enrollment
// store mirrors the repository's transactional semantics: capacity counts
// newcomers only and the batch is all-or-nothing.
type fakeEnrollmentStore struct {
	maxStudents map[string]int
	active      map[string]map[string]struct{}
}

func (f *fakeEnrollmentStore) CountActive(ctx context.Context, classID string) (int, error) {
	return len(f.active[classID]), nil
}

func (f *fakeEnrollmentStore) ActiveStudentIDs(ctx context.Context, classID string) (map[string]struct{}, error) {
	return f.active[classID], nil
}

func (f *fakeEnrollmentStore) AssignStudents(ctx context.Context, classID string, studentIDs []string) (int, error) {
	members := f.active[classID]
	if members == nil {
		members = make(map[string]struct{})
		f.active[classID] = members
	}
	newcomers := 0
	for _, id := range studentIDs {
		if _, ok := members[id]; !ok {
			newcomers++
		}
	}
	if newcomers > f.maxStudents[classID]-len(members) {
		return 0, appErrors.Clone(appErrors.ErrCapacityExceeded,
			fmt.Sprintf("class has %d available spots, %d students requested", f.maxStudents[classID]-len(members), newcomers))
	}
	for _, id := range studentIDs {
		members[id] = struct{}{}
	}
	return len(studentIDs), nil
}

func (f *fakeEnrollmentStore) Unassign(ctx context.Context, classID, studentID string) (bool, error) {
	if _, ok := f.active[classID][studentID]; !ok {
		return false, sql.ErrNoRows
	}
	delete(f.active[classID], studentID)
	return true, nil
}

func (f *fakeEnrollmentStore) Find(ctx context.Context, classID, studentID string) (*models.Enrollment, error) {
	return &models.Enrollment{ClassID: classID, StudentID: studentID, Status: models.EnrollmentStatusActive}, nil
}

func (f *fakeEnrollmentStore) FindDetail(ctx context.Context, classID, studentID string) (*models.EnrollmentDetail, error) {
	return &models.EnrollmentDetail{Enrollment: models.Enrollment{ClassID: classID, StudentID: studentID, Status: models.EnrollmentStatusActive}}, nil
}

type fakeClassStore struct {
	classes map[string]*models.Class
}

func (f *fakeClassStore) FindByID(ctx context.Context, id string) (*models.Class, error) {
	class, ok := f.classes[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return class, nil
}

func (f *fakeClassStore) FindDetailByID(ctx context.Context, id string) (*models.ClassDetail, error) {
	class, err := f.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return &models.ClassDetail{Class: *class}, nil
}

func (f *fakeClassStore) SetTeacher(ctx context.Context, classID string, teacherID *string) error {
	f.classes[classID].TeacherID = teacherID
	return nil
}

type fakeStudentReader struct {
	students map[string]*models.Student
}

func (f *fakeStudentReader) FindByID(ctx context.Context, id string) (*models.Student, error) {
	student, ok := f.students[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return student, nil
}

type fakeTeacherReader struct{}

func (f *fakeTeacherReader) FindByID(ctx context.Context, id string) (*models.Teacher, error) {
	return &models.Teacher{ID: id, FullName: "Prof", Active: true}, nil
}

type fakeAttendanceStore struct {
	saved []models.AttendanceRecord
}

func (f *fakeAttendanceStore) UpsertBatch(ctx context.Context, records []models.AttendanceRecord) error {
	f.saved = append(f.saved, records...)
	return nil
}

func (f *fakeAttendanceStore) SessionSummaries(ctx context.Context, classID string) ([]models.SessionSummary, error) {
	return []models.SessionSummary{}, nil
}

func (f *fakeAttendanceStore) SessionDetail(ctx context.Context, classID string, date time.Time) ([]models.SessionDetailRow, error) {
	return []models.SessionDetailRow{}, nil
}

func testAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		role := c.GetHeader("X-Test-Role")
		if role == "" {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		c.Set(internalmiddleware.ContextUserKey, &models.JWTClaims{
			UserID: c.GetHeader("X-Test-User"),
			Role:   models.UserRole(role),
		})
		c.Next()
	}
}

func buildEnrollmentRouter(t *testing.T) (*gin.Engine, *fakeEnrollmentStore, *fakeAttendanceStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	teacherID := "t1"
	enrollments := &fakeEnrollmentStore{
		maxStudents: map[string]int{"c1": 2},
		active:      map[string]map[string]struct{}{"c1": {}},
	}
	classes := &fakeClassStore{classes: map[string]*models.Class{
		"c1": {ID: "c1", Name: "Spanish A1", MaxStudents: 2, TeacherID: &teacherID, Status: models.ClassStatusActive},
	}}
	students := &fakeStudentReader{students: map[string]*models.Student{
		"s1": {ID: "s1", Active: true},
		"s2": {ID: "s2", Active: true},
		"s3": {ID: "s3", Active: true},
	}}
	attendance := &fakeAttendanceStore{}

	enrollmentSvc := service.NewEnrollmentService(enrollments, classes, students, &fakeTeacherReader{}, nil, nil, nil)
	attendanceSvc := service.NewAttendanceService(attendance, enrollments, classes, nil, nil, nil)

	enrollmentHandler := NewEnrollmentHandler(enrollmentSvc)
	attendanceHandler := NewAttendanceHandler(attendanceSvc, nil)

	router := gin.New()
	api := router.Group("", testAuth())
	api.POST("/classes/:id/students", internalmiddleware.RequireRoles(models.RoleAdmin), enrollmentHandler.AssignStudents)
	api.DELETE("/classes/:id/students/:studentId", internalmiddleware.RequireRoles(models.RoleAdmin), enrollmentHandler.Unassign)
	api.POST("/classes/:id/attendance", internalmiddleware.RequireRoles(models.RoleAdmin, models.RoleTeacher), attendanceHandler.Save)
	return router, enrollments, attendance
}

func performRequest(router *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestEnrollmentRoutes(t *testing.T) {
	router, enrollments, attendance := buildEnrollmentRouter(t)

	t.Run("assign requires auth", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodPost, "/classes/c1/students", bytes.NewBufferString(`{"student_ids":["s1"]}`))
		req.Header.Set("Content-Type", "application/json")
		resp := performRequest(router, req)
		require.Equal(t, http.StatusUnauthorized, resp.Code)
	})

	t.Run("assign forbidden for students", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodPost, "/classes/c1/students", bytes.NewBufferString(`{"student_ids":["s1"]}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Test-Role", string(models.RoleStudent))
		resp := performRequest(router, req)
		require.Equal(t, http.StatusForbidden, resp.Code)
	})

	t.Run("assign batch success", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodPost, "/classes/c1/students", bytes.NewBufferString(`{"student_ids":["s1","s2"]}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Test-Role", string(models.RoleAdmin))
		resp := performRequest(router, req)
		require.Equal(t, http.StatusOK, resp.Code)
		require.Contains(t, resp.Body.String(), `"assigned_count":2`)
	})

	t.Run("assign over capacity", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodPost, "/classes/c1/students", bytes.NewBufferString(`{"student_ids":["s3"]}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Test-Role", string(models.RoleAdmin))
		resp := performRequest(router, req)
		require.Equal(t, http.StatusBadRequest, resp.Code)
		require.Contains(t, resp.Body.String(), "CAPACITY_EXCEEDED")
		require.NotContains(t, enrollments.active["c1"], "s3")
	})

	t.Run("attendance save by assigned teacher", func(t *testing.T) {
		body := `{"records":[{"student_id":"s1","class_id":"c1","session_date":"2026-03-02","status":"PRESENT"}]}`
		req, _ := http.NewRequest(http.MethodPost, "/classes/c1/attendance", bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Test-Role", string(models.RoleTeacher))
		req.Header.Set("X-Test-User", "t1")
		resp := performRequest(router, req)
		require.Equal(t, http.StatusOK, resp.Code)
		require.Contains(t, resp.Body.String(), `"ok":true`)
		require.Len(t, attendance.saved, 1)
	})

	t.Run("attendance save by other teacher is forbidden", func(t *testing.T) {
		body := `{"records":[{"student_id":"s1","class_id":"c1","session_date":"2026-03-02","status":"PRESENT"}]}`
		req, _ := http.NewRequest(http.MethodPost, "/classes/c1/attendance", bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Test-Role", string(models.RoleTeacher))
		req.Header.Set("X-Test-User", "t-other")
		resp := performRequest(router, req)
		require.Equal(t, http.StatusForbidden, resp.Code)
	})

	t.Run("attendance rejects unenrolled student", func(t *testing.T) {
		body := `{"records":[{"student_id":"ghost","class_id":"c1","session_date":"2026-03-02","status":"PRESENT"}]}`
		req, _ := http.NewRequest(http.MethodPost, "/classes/c1/attendance", bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Test-Role", string(models.RoleAdmin))
		resp := performRequest(router, req)
		require.Equal(t, http.StatusBadRequest, resp.Code)
		require.Contains(t, resp.Body.String(), "NOT_ENROLLED")
	})

	t.Run("unassign missing enrollment", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodDelete, "/classes/c1/students/ghost", nil)
		req.Header.Set("X-Test-Role", string(models.RoleAdmin))
		resp := performRequest(router, req)
		require.Equal(t, http.StatusNotFound, resp.Code)
	})
}

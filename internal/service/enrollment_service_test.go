package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openlingua/school-api/internal/models"
	appErrors "github.com/openlingua/school-api/pkg/errors"
)

type mockEnrollmentRepo struct {
	maxStudents map[string]int
	// active[classID] holds the set of actively enrolled student ids.
	active map[string]map[string]struct{}
}

func newMockEnrollmentRepo() *mockEnrollmentRepo {
	return &mockEnrollmentRepo{
		maxStudents: make(map[string]int),
		active:      make(map[string]map[string]struct{}),
	}
}

func (m *mockEnrollmentRepo) CountActive(ctx context.Context, classID string) (int, error) {
	return len(m.active[classID]), nil
}

func (m *mockEnrollmentRepo) AssignStudents(ctx context.Context, classID string, studentIDs []string) (int, error) {
	max := m.maxStudents[classID]
	members := m.active[classID]
	if members == nil {
		members = make(map[string]struct{})
		m.active[classID] = members
	}

	newcomers := 0
	for _, id := range studentIDs {
		if _, ok := members[id]; !ok {
			newcomers++
		}
	}
	if newcomers > max-len(members) {
		return 0, appErrors.Clone(appErrors.ErrCapacityExceeded,
			fmt.Sprintf("class has %d available spots, %d students requested", max-len(members), newcomers))
	}

	for _, id := range studentIDs {
		for otherClass, otherMembers := range m.active {
			if otherClass != classID {
				delete(otherMembers, id)
			}
		}
		members[id] = struct{}{}
	}
	return len(studentIDs), nil
}

func (m *mockEnrollmentRepo) Unassign(ctx context.Context, classID, studentID string) (bool, error) {
	members := m.active[classID]
	if _, ok := members[studentID]; !ok {
		return false, sql.ErrNoRows
	}
	delete(members, studentID)
	return true, nil
}

func (m *mockEnrollmentRepo) Find(ctx context.Context, classID, studentID string) (*models.Enrollment, error) {
	status := models.EnrollmentStatusInactive
	if _, ok := m.active[classID][studentID]; ok {
		status = models.EnrollmentStatusActive
	}
	return &models.Enrollment{ClassID: classID, StudentID: studentID, Status: status}, nil
}

func (m *mockEnrollmentRepo) FindDetail(ctx context.Context, classID, studentID string) (*models.EnrollmentDetail, error) {
	enrollment, _ := m.Find(ctx, classID, studentID)
	return &models.EnrollmentDetail{Enrollment: *enrollment}, nil
}

type mockClassRepo struct {
	classes  map[string]*models.Class
	teachers map[string]*string
}

func (m *mockClassRepo) FindByID(ctx context.Context, id string) (*models.Class, error) {
	class, ok := m.classes[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return class, nil
}

func (m *mockClassRepo) FindDetailByID(ctx context.Context, id string) (*models.ClassDetail, error) {
	class, err := m.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return &models.ClassDetail{Class: *class}, nil
}

func (m *mockClassRepo) SetTeacher(ctx context.Context, classID string, teacherID *string) error {
	if m.teachers == nil {
		m.teachers = make(map[string]*string)
	}
	m.teachers[classID] = teacherID
	m.classes[classID].TeacherID = teacherID
	return nil
}

type mockStudentReader struct {
	students map[string]*models.Student
}

func (m *mockStudentReader) FindByID(ctx context.Context, id string) (*models.Student, error) {
	student, ok := m.students[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return student, nil
}

type mockTeacherReader struct {
	teachers map[string]*models.Teacher
}

func (m *mockTeacherReader) FindByID(ctx context.Context, id string) (*models.Teacher, error) {
	teacher, ok := m.teachers[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return teacher, nil
}

type mockCache struct {
	invalidated []string
}

func (m *mockCache) Invalidate(ctx context.Context, pattern string) error {
	m.invalidated = append(m.invalidated, pattern)
	return nil
}

func newEnrollmentFixture() (*EnrollmentService, *mockEnrollmentRepo, *mockClassRepo, *mockStudentReader, *mockCache) {
	repo := newMockEnrollmentRepo()
	repo.maxStudents["c1"] = 2
	classes := &mockClassRepo{classes: map[string]*models.Class{
		"c1": {ID: "c1", Name: "Spanish A1 Morning", MaxStudents: 2, Status: models.ClassStatusActive},
	}}
	students := &mockStudentReader{students: map[string]*models.Student{
		"s1": {ID: "s1", FullName: "Ana", Active: true},
		"s2": {ID: "s2", FullName: "Ben", Active: true},
		"s3": {ID: "s3", FullName: "Cleo", Active: true},
		"s4": {ID: "s4", FullName: "Dria", Active: false},
	}}
	teachers := &mockTeacherReader{teachers: map[string]*models.Teacher{
		"t1": {ID: "t1", FullName: "Prof Ruiz", Active: true},
		"t2": {ID: "t2", FullName: "Prof Idle", Active: false},
	}}
	cache := &mockCache{}
	svc := NewEnrollmentService(repo, classes, students, teachers, cache, nil, nil)
	return svc, repo, classes, students, cache
}

func TestAssignStudentsFillsToCapacity(t *testing.T) {
	svc, repo, _, _, cache := newEnrollmentFixture()

	assigned, err := svc.AssignStudents(context.Background(), "c1", AssignStudentsRequest{StudentIDs: []string{"s1", "s2"}})
	require.NoError(t, err)
	assert.Equal(t, 2, assigned)
	assert.Len(t, repo.active["c1"], 2)
	assert.Contains(t, cache.invalidated, "roster:*")
}

func TestAssignStudentsRejectsOverCapacity(t *testing.T) {
	svc, repo, _, _, _ := newEnrollmentFixture()

	_, err := svc.AssignStudents(context.Background(), "c1", AssignStudentsRequest{StudentIDs: []string{"s1", "s2"}})
	require.NoError(t, err)

	_, err = svc.AssignStudents(context.Background(), "c1", AssignStudentsRequest{StudentIDs: []string{"s3"}})
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrCapacityExceeded.Code, appErr.Code)
	// Nothing was written.
	assert.Len(t, repo.active["c1"], 2)
	assert.NotContains(t, repo.active["c1"], "s3")
}

func TestAssignStudentsReassignIsIdempotent(t *testing.T) {
	svc, repo, _, _, _ := newEnrollmentFixture()

	_, err := svc.AssignStudents(context.Background(), "c1", AssignStudentsRequest{StudentIDs: []string{"s1", "s2"}})
	require.NoError(t, err)

	// The class is full, but s1 is already a member, so this counts zero
	// newcomers and succeeds.
	assigned, err := svc.AssignStudents(context.Background(), "c1", AssignStudentsRequest{StudentIDs: []string{"s1"}})
	require.NoError(t, err)
	assert.Equal(t, 1, assigned)
	assert.Len(t, repo.active["c1"], 2)
}

func TestAssignStudentsRejectsWholeBatchOverCapacity(t *testing.T) {
	svc, repo, _, _, _ := newEnrollmentFixture()

	// Three students into a class of two: all-or-nothing, so none get in.
	_, err := svc.AssignStudents(context.Background(), "c1", AssignStudentsRequest{StudentIDs: []string{"s1", "s2", "s3"}})
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrCapacityExceeded.Code, appErr.Code)
	assert.Empty(t, repo.active["c1"])
}

func TestAssignStudentsRejectsDuplicateBatch(t *testing.T) {
	svc, _, _, _, _ := newEnrollmentFixture()

	_, err := svc.AssignStudents(context.Background(), "c1", AssignStudentsRequest{StudentIDs: []string{"s1", "s1"}})
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
}

func TestAssignStudentsRejectsUnknownAndInactiveStudents(t *testing.T) {
	svc, repo, _, _, _ := newEnrollmentFixture()

	_, err := svc.AssignStudents(context.Background(), "c1", AssignStudentsRequest{StudentIDs: []string{"ghost"}})
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrNotFound.Code, appErr.Code)

	_, err = svc.AssignStudents(context.Background(), "c1", AssignStudentsRequest{StudentIDs: []string{"s4"}})
	require.Error(t, err)
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
	assert.Empty(t, repo.active["c1"])
}

func TestAssignSingleMovesStudentBetweenClasses(t *testing.T) {
	svc, repo, classes, _, _ := newEnrollmentFixture()
	repo.maxStudents["c2"] = 5
	classes.classes["c2"] = &models.Class{ID: "c2", Name: "Spanish A2 Evening", MaxStudents: 5, Status: models.ClassStatusActive}

	_, err := svc.AssignSingle(context.Background(), AssignSingleStudentRequest{StudentID: "s1", ClassID: "c1"})
	require.NoError(t, err)

	detail, err := svc.AssignSingle(context.Background(), AssignSingleStudentRequest{StudentID: "s1", ClassID: "c2"})
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusActive, detail.Status)
	assert.NotContains(t, repo.active["c1"], "s1")
	assert.Contains(t, repo.active["c2"], "s1")
}

func TestUnassignMissingEnrollmentIsNotFound(t *testing.T) {
	svc, _, _, _, _ := newEnrollmentFixture()

	_, err := svc.Unassign(context.Background(), "c1", "s1")
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrNotFound.Code, appErr.Code)
}

func TestAssignTeacherRequiresActiveTeacher(t *testing.T) {
	svc, _, classes, _, _ := newEnrollmentFixture()

	detail, err := svc.AssignTeacher(context.Background(), "c1", AssignTeacherRequest{TeacherID: "t1"})
	require.NoError(t, err)
	require.NotNil(t, detail.TeacherID)
	assert.Equal(t, "t1", *detail.TeacherID)

	_, err = svc.AssignTeacher(context.Background(), "c1", AssignTeacherRequest{TeacherID: "t2"})
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)

	_, err = svc.UnassignTeacher(context.Background(), "c1")
	require.NoError(t, err)
	assert.Nil(t, classes.classes["c1"].TeacherID)
}

package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openlingua/school-api/internal/models"
	appErrors "github.com/openlingua/school-api/pkg/errors"
)

type mockStudentStore struct {
	students   map[string]*models.Student
	failCreate bool
}

func (m *mockStudentStore) List(ctx context.Context, filter models.StudentFilter) ([]models.StudentDetail, int, error) {
	var result []models.StudentDetail
	for _, s := range m.students {
		result = append(result, models.StudentDetail{Student: *s})
	}
	return result, len(result), nil
}

func (m *mockStudentStore) FindByID(ctx context.Context, id string) (*models.Student, error) {
	student, ok := m.students[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return student, nil
}

func (m *mockStudentStore) FindDetailByID(ctx context.Context, id string) (*models.StudentDetail, error) {
	student, err := m.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return &models.StudentDetail{Student: *student}, nil
}

func (m *mockStudentStore) Create(ctx context.Context, student *models.Student) error {
	if m.failCreate {
		return errors.New("profile insert failed")
	}
	if m.students == nil {
		m.students = make(map[string]*models.Student)
	}
	m.students[student.ID] = student
	return nil
}

func (m *mockStudentStore) Update(ctx context.Context, student *models.Student) error {
	m.students[student.ID] = student
	return nil
}

func (m *mockStudentStore) SetActive(ctx context.Context, id string, active bool) error {
	student, ok := m.students[id]
	if !ok {
		return sql.ErrNoRows
	}
	student.Active = active
	return nil
}

func (m *mockStudentStore) Delete(ctx context.Context, id string) error {
	if _, ok := m.students[id]; !ok {
		return sql.ErrNoRows
	}
	delete(m.students, id)
	return nil
}

type mockUserStore struct {
	users   map[string]*models.User
	emails  map[string]struct{}
	deleted []string
}

func newMockUserStore() *mockUserStore {
	return &mockUserStore{users: make(map[string]*models.User), emails: make(map[string]struct{})}
}

func (m *mockUserStore) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	_, ok := m.emails[email]
	return ok, nil
}

func (m *mockUserStore) Create(ctx context.Context, user *models.User) error {
	m.users[user.ID] = user
	m.emails[user.Email] = struct{}{}
	return nil
}

func (m *mockUserStore) Delete(ctx context.Context, id string) error {
	user, ok := m.users[id]
	if !ok {
		return sql.ErrNoRows
	}
	delete(m.emails, user.Email)
	delete(m.users, id)
	m.deleted = append(m.deleted, id)
	return nil
}

func (m *mockUserStore) SetActive(ctx context.Context, id string, active bool, updatedAt time.Time) error {
	user, ok := m.users[id]
	if !ok {
		return sql.ErrNoRows
	}
	user.Active = active
	return nil
}

type mockEnrollmentDeactivator struct {
	released []string
	current  map[string]*models.Enrollment
}

func (m *mockEnrollmentDeactivator) DeactivateByStudent(ctx context.Context, studentID string) error {
	m.released = append(m.released, studentID)
	delete(m.current, studentID)
	return nil
}

func (m *mockEnrollmentDeactivator) FindActiveByStudent(ctx context.Context, studentID string) (*models.Enrollment, error) {
	enrollment, ok := m.current[studentID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return enrollment, nil
}

func newStudentFixture() (*StudentService, *mockStudentStore, *mockUserStore, *mockEnrollmentDeactivator) {
	store := &mockStudentStore{students: make(map[string]*models.Student)}
	users := newMockUserStore()
	enrollments := &mockEnrollmentDeactivator{current: make(map[string]*models.Enrollment)}
	svc := NewStudentService(store, users, enrollments, &mockCache{}, nil, nil)
	return svc, store, users, enrollments
}

func TestCreateStudentCreatesIdentityAndProfile(t *testing.T) {
	svc, store, users, _ := newStudentFixture()

	student, err := svc.Create(context.Background(), CreateStudentRequest{
		FullName: "Ana Morales",
		Email:    "ana@example.com",
		Password: "correct-horse",
		Level:    "A1",
	})
	require.NoError(t, err)

	user, ok := users.users[student.ID]
	require.True(t, ok, "profile and identity must share the same id")
	assert.Equal(t, models.RoleStudent, user.Role)
	assert.NotEqual(t, "correct-horse", user.PasswordHash)
	assert.True(t, store.students[student.ID].Active)
}

func TestCreateStudentRollsBackIdentityOnProfileFailure(t *testing.T) {
	svc, store, users, _ := newStudentFixture()
	store.failCreate = true

	_, err := svc.Create(context.Background(), CreateStudentRequest{
		FullName: "Ana Morales",
		Email:    "ana@example.com",
		Password: "correct-horse",
		Level:    "A1",
	})
	require.Error(t, err)

	assert.Empty(t, users.users, "orphaned identity must be removed")
	assert.Len(t, users.deleted, 1)

	// The email is usable again after the rollback.
	store.failCreate = false
	_, err = svc.Create(context.Background(), CreateStudentRequest{
		FullName: "Ana Morales",
		Email:    "ana@example.com",
		Password: "correct-horse",
		Level:    "A1",
	})
	require.NoError(t, err)
}

func TestCreateStudentRejectsDuplicateEmail(t *testing.T) {
	svc, _, _, _ := newStudentFixture()

	req := CreateStudentRequest{FullName: "Ana", Email: "ana@example.com", Password: "correct-horse", Level: "A1"}
	_, err := svc.Create(context.Background(), req)
	require.NoError(t, err)

	_, err = svc.Create(context.Background(), req)
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrConflict.Code, appErr.Code)
}

func TestDeactivateStudentDisablesLoginAndReleasesEnrollment(t *testing.T) {
	svc, store, users, enrollments := newStudentFixture()

	student, err := svc.Create(context.Background(), CreateStudentRequest{
		FullName: "Ben Okafor",
		Email:    "ben@example.com",
		Password: "correct-horse",
		Level:    "B2",
	})
	require.NoError(t, err)

	require.NoError(t, svc.Deactivate(context.Background(), student.ID))

	assert.False(t, store.students[student.ID].Active)
	assert.False(t, users.users[student.ID].Active)
	assert.Equal(t, []string{student.ID}, enrollments.released)
}

func TestDeactivateUnknownStudentIsNotFound(t *testing.T) {
	svc, _, _, _ := newStudentFixture()

	err := svc.Deactivate(context.Background(), "ghost")
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrNotFound.Code, appErr.Code)
}

func TestDeleteStudentGuardedByActiveEnrollment(t *testing.T) {
	svc, store, users, enrollments := newStudentFixture()

	student, err := svc.Create(context.Background(), CreateStudentRequest{
		FullName: "Lea Fischer",
		Email:    "lea@example.com",
		Password: "correct-horse",
		Level:    "C1",
	})
	require.NoError(t, err)
	enrollments.current[student.ID] = &models.Enrollment{ClassID: "c1", StudentID: student.ID, Status: models.EnrollmentStatusActive}

	err = svc.Delete(context.Background(), student.ID)
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrConflict.Code, appErr.Code)
	assert.Contains(t, store.students, student.ID)

	require.NoError(t, svc.Deactivate(context.Background(), student.ID))
	require.NoError(t, svc.Delete(context.Background(), student.ID))
	assert.NotContains(t, store.students, student.ID)
	assert.NotContains(t, users.users, student.ID)
}

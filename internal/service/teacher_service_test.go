package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openlingua/school-api/internal/models"
	appErrors "github.com/openlingua/school-api/pkg/errors"
)

type mockTeacherStore struct {
	teachers   map[string]*models.Teacher
	failCreate bool
}

func (m *mockTeacherStore) List(ctx context.Context, filter models.TeacherFilter) ([]models.Teacher, int, error) {
	var result []models.Teacher
	for _, teacher := range m.teachers {
		result = append(result, *teacher)
	}
	return result, len(result), nil
}

func (m *mockTeacherStore) FindByID(ctx context.Context, id string) (*models.Teacher, error) {
	teacher, ok := m.teachers[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return teacher, nil
}

func (m *mockTeacherStore) Create(ctx context.Context, teacher *models.Teacher) error {
	if m.failCreate {
		return errors.New("profile insert failed")
	}
	m.teachers[teacher.ID] = teacher
	return nil
}

func (m *mockTeacherStore) Update(ctx context.Context, teacher *models.Teacher) error {
	m.teachers[teacher.ID] = teacher
	return nil
}

func (m *mockTeacherStore) Delete(ctx context.Context, id string) error {
	if _, ok := m.teachers[id]; !ok {
		return sql.ErrNoRows
	}
	delete(m.teachers, id)
	return nil
}

type mockClassLister struct {
	assigned map[string]int
}

func (m *mockClassLister) List(ctx context.Context, filter models.ClassFilter) ([]models.Class, int, error) {
	return nil, m.assigned[filter.TeacherID], nil
}

func newTeacherFixture() (*TeacherService, *mockTeacherStore, *mockUserStore, *mockClassLister, *mockCache) {
	store := &mockTeacherStore{teachers: make(map[string]*models.Teacher)}
	users := newMockUserStore()
	classes := &mockClassLister{assigned: make(map[string]int)}
	cache := &mockCache{}
	svc := NewTeacherService(store, users, classes, cache, nil, nil)
	return svc, store, users, classes, cache
}

func TestCreateTeacherCreatesIdentityAndProfile(t *testing.T) {
	svc, store, users, _, _ := newTeacherFixture()

	teacher, err := svc.Create(context.Background(), CreateTeacherRequest{
		FullName:   "Marta Kovacs",
		Email:      "marta@example.com",
		Password:   "correct-horse",
		HourlyRate: 35,
	})
	require.NoError(t, err)

	user, ok := users.users[teacher.ID]
	require.True(t, ok, "profile and identity must share the same id")
	assert.Equal(t, models.RoleTeacher, user.Role)
	assert.True(t, teacher.Active)
	assert.Contains(t, store.teachers, teacher.ID)
}

func TestCreateTeacherRollsBackIdentityOnProfileFailure(t *testing.T) {
	svc, store, users, _, _ := newTeacherFixture()
	store.failCreate = true

	_, err := svc.Create(context.Background(), CreateTeacherRequest{
		FullName: "Marta Kovacs",
		Email:    "marta@example.com",
		Password: "correct-horse",
	})
	require.Error(t, err)

	assert.Empty(t, users.users, "identity row must be compensated away")
	assert.Len(t, users.deleted, 1)

	// the email is free again after compensation
	exists, err := users.ExistsByEmail(context.Background(), "marta@example.com")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestCreateTeacherRejectsDuplicateEmail(t *testing.T) {
	svc, _, _, _, _ := newTeacherFixture()

	_, err := svc.Create(context.Background(), CreateTeacherRequest{
		FullName: "Marta Kovacs",
		Email:    "marta@example.com",
		Password: "correct-horse",
	})
	require.NoError(t, err)

	_, err = svc.Create(context.Background(), CreateTeacherRequest{
		FullName: "Other Marta",
		Email:    "marta@example.com",
		Password: "correct-horse",
	})
	require.Error(t, err)

	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrConflict.Code, appErr.Code)
}

func TestUpdateTeacherSyncsActiveFlagToIdentity(t *testing.T) {
	svc, _, users, _, _ := newTeacherFixture()

	teacher, err := svc.Create(context.Background(), CreateTeacherRequest{
		FullName: "Marta Kovacs",
		Email:    "marta@example.com",
		Password: "correct-horse",
	})
	require.NoError(t, err)

	inactive := false
	updated, err := svc.Update(context.Background(), teacher.ID, UpdateTeacherRequest{Active: &inactive})
	require.NoError(t, err)

	assert.False(t, updated.Active)
	assert.False(t, users.users[teacher.ID].Active, "login must be disabled with the profile")
}

func TestUpdateTeacherInvalidatesCachedRosters(t *testing.T) {
	svc, _, _, _, cache := newTeacherFixture()

	teacher, err := svc.Create(context.Background(), CreateTeacherRequest{
		FullName: "Marta Kovacs",
		Email:    "marta@example.com",
		Password: "correct-horse",
	})
	require.NoError(t, err)
	require.Empty(t, cache.invalidated)

	name := "Marta Horvath"
	_, err = svc.Update(context.Background(), teacher.ID, UpdateTeacherRequest{FullName: &name})
	require.NoError(t, err)

	assert.Contains(t, cache.invalidated, "roster:*", "renamed teacher must not linger in cached rosters")
}

func TestDeleteTeacherGuardedByClassAssignment(t *testing.T) {
	svc, store, users, classes, _ := newTeacherFixture()

	teacher, err := svc.Create(context.Background(), CreateTeacherRequest{
		FullName: "Marta Kovacs",
		Email:    "marta@example.com",
		Password: "correct-horse",
	})
	require.NoError(t, err)

	classes.assigned[teacher.ID] = 1
	err = svc.Delete(context.Background(), teacher.ID)
	require.Error(t, err)
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrConflict.Code, appErr.Code)
	assert.Contains(t, store.teachers, teacher.ID)

	classes.assigned[teacher.ID] = 0
	require.NoError(t, svc.Delete(context.Background(), teacher.ID))
	assert.NotContains(t, store.teachers, teacher.ID)
	assert.Empty(t, users.users)
}

func TestDeleteTeacherMissing(t *testing.T) {
	svc, _, _, _, _ := newTeacherFixture()

	err := svc.Delete(context.Background(), "nope")
	require.Error(t, err)
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErr.Code)
}

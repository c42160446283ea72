package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campusdesk/grievance-api/internal/models"
	appErrors "github.com/campusdesk/grievance-api/pkg/errors"
)

type mockUserRepo struct {
	users   map[string]models.User
	emails  map[string]bool
	deleted []string
}

func newMockUserRepo() *mockUserRepo {
	return &mockUserRepo{users: make(map[string]models.User), emails: make(map[string]bool)}
}

func (m *mockUserRepo) Create(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		user.ID = "u1"
	}
	m.users[user.ID] = *user
	m.emails[user.Email] = true
	return nil
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*models.User, error) {
	if u, ok := m.users[id]; ok {
		return &u, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockUserRepo) ExistsByEmail(ctx context.Context, email, excludeID string) (bool, error) {
	return m.emails[email], nil
}

func (m *mockUserRepo) List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error) {
	var out []models.User
	for _, u := range m.users {
		out = append(out, u)
	}
	return out, len(out), nil
}

func (m *mockUserRepo) Update(ctx context.Context, user *models.User) error {
	m.users[user.ID] = *user
	return nil
}

func (m *mockUserRepo) UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error {
	u, ok := m.users[id]
	if !ok {
		return sql.ErrNoRows
	}
	u.PasswordHash = passwordHash
	m.users[id] = u
	return nil
}

func (m *mockUserRepo) Delete(ctx context.Context, id string) error {
	if _, ok := m.users[id]; !ok {
		return sql.ErrNoRows
	}
	delete(m.users, id)
	m.deleted = append(m.deleted, id)
	return nil
}

type mockGrievanceCounter struct {
	counts map[string]int
}

func (m *mockGrievanceCounter) CountByStudent(ctx context.Context, studentID string) (int, error) {
	return m.counts[studentID], nil
}

func newUserService(repo *mockUserRepo, counter *mockGrievanceCounter) *UserService {
	if counter == nil {
		counter = &mockGrievanceCounter{counts: map[string]int{}}
	}
	return NewUserService(repo, counter, NewAuthorizationService(), nil, nil)
}

func TestUserDeleteBlockedByGrievances(t *testing.T) {
	repo := newMockUserRepo()
	repo.users["u1"] = models.User{ID: "u1", Email: "s@example.com", Role: models.RoleStudent}
	counter := &mockGrievanceCounter{counts: map[string]int{"u1": 2}}
	svc := newUserService(repo, counter)

	err := svc.Delete(context.Background(), adminCaller, "u1")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrConflict))
	assert.Empty(t, repo.deleted)
}

func TestUserDeleteWithoutGrievances(t *testing.T) {
	repo := newMockUserRepo()
	repo.users["u1"] = models.User{ID: "u1", Email: "s@example.com", Role: models.RoleStudent}
	svc := newUserService(repo, nil)

	err := svc.Delete(context.Background(), adminCaller, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, repo.deleted)
}

func TestUserGetSelfOnly(t *testing.T) {
	repo := newMockUserRepo()
	repo.users["u1"] = models.User{ID: "u1", Email: "s@example.com", Role: models.RoleStudent}
	svc := newUserService(repo, nil)

	_, err := svc.Get(context.Background(), models.Caller{ID: "u2", Role: models.RoleStudent}, "u1")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))

	user, err := svc.Get(context.Background(), models.Caller{ID: "u1", Role: models.RoleStudent}, "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", user.ID)
}

func TestUserCreateDuplicateEmail(t *testing.T) {
	repo := newMockUserRepo()
	repo.emails["taken@example.com"] = true
	svc := newUserService(repo, nil)

	_, err := svc.Create(context.Background(), adminCaller, CreateUserRequest{
		Email:       "taken@example.com",
		Password:    "supersecret",
		DisplayName: "Dup",
		Role:        models.RoleStudent,
	})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrConflict))
}

func TestUserManagementRequiresAdmin(t *testing.T) {
	svc := newUserService(newMockUserRepo(), nil)
	student := models.Caller{ID: "u1", Role: models.RoleStudent}

	_, _, err := svc.List(context.Background(), student, models.UserFilter{})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))

	err = svc.Delete(context.Background(), student, "u2")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))
}

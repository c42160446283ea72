package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/campusdesk/grievance-api/internal/models"
	appErrors "github.com/campusdesk/grievance-api/pkg/errors"
)

type mockAuthRepo struct {
	byEmail map[string]models.User
	created *models.User
}

func (m *mockAuthRepo) Create(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		user.ID = "u-new"
	}
	m.created = user
	return nil
}

func (m *mockAuthRepo) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	if u, ok := m.byEmail[email]; ok {
		return &u, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockAuthRepo) FindByID(ctx context.Context, id string) (*models.User, error) {
	for _, u := range m.byEmail {
		if u.ID == id {
			return &u, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockAuthRepo) ExistsByEmail(ctx context.Context, email, excludeID string) (bool, error) {
	_, ok := m.byEmail[email]
	return ok, nil
}

func (m *mockAuthRepo) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	return nil
}

func newAuthService(repo *mockAuthRepo) *AuthService {
	return NewAuthService(repo, nil, nil, AuthConfig{
		AccessTokenSecret: "test-secret",
		AccessTokenExpiry: time.Hour,
		Issuer:            "grievance-api",
	})
}

func TestLoginIssuesValidToken(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("correct horse"), bcrypt.DefaultCost)
	require.NoError(t, err)
	repo := &mockAuthRepo{byEmail: map[string]models.User{
		"s@example.com": {ID: "u1", Email: "s@example.com", PasswordHash: string(hash), Role: models.RoleStudent},
	}}
	svc := newAuthService(repo)

	resp, err := svc.Login(context.Background(), models.LoginRequest{Email: "s@example.com", Password: "correct horse"})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.AccessToken)
	assert.Equal(t, models.RoleStudent, resp.User.Role)

	claims, err := svc.ValidateToken(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, models.Caller{ID: "u1", Role: models.RoleStudent}, claims.Caller())
}

func TestLoginWrongPassword(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("right"), bcrypt.DefaultCost)
	require.NoError(t, err)
	repo := &mockAuthRepo{byEmail: map[string]models.User{
		"s@example.com": {ID: "u1", Email: "s@example.com", PasswordHash: string(hash)},
	}}
	svc := newAuthService(repo)

	_, err = svc.Login(context.Background(), models.LoginRequest{Email: "s@example.com", Password: "wrong"})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidCredentials))
}

func TestLoginUnknownEmail(t *testing.T) {
	svc := newAuthService(&mockAuthRepo{byEmail: map[string]models.User{}})

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "missing@example.com", Password: "whatever"})
	require.Error(t, err)
	// same error as wrong password, no account enumeration
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidCredentials))
}

func TestRegisterAlwaysStudent(t *testing.T) {
	repo := &mockAuthRepo{byEmail: map[string]models.User{}}
	svc := newAuthService(repo)

	info, err := svc.Register(context.Background(), models.RegisterRequest{
		Email:       "new@example.com",
		Password:    "longenough",
		DisplayName: "New Student",
	})
	require.NoError(t, err)
	assert.Equal(t, models.RoleStudent, info.Role)
	require.NotNil(t, repo.created)
	assert.NotEqual(t, "longenough", repo.created.PasswordHash)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	repo := &mockAuthRepo{byEmail: map[string]models.User{
		"taken@example.com": {ID: "u1", Email: "taken@example.com"},
	}}
	svc := newAuthService(repo)

	_, err := svc.Register(context.Background(), models.RegisterRequest{
		Email:       "taken@example.com",
		Password:    "longenough",
		DisplayName: "Dup",
	})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrConflict))
}

func TestValidateTokenRejectsGarbage(t *testing.T) {
	svc := newAuthService(&mockAuthRepo{})

	_, err := svc.ValidateToken("not-a-token")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrUnauthorized))
}

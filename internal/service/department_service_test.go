package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campusdesk/grievance-api/internal/models"
	"github.com/campusdesk/grievance-api/internal/repository"
	appErrors "github.com/campusdesk/grievance-api/pkg/errors"
)

type mockDepartmentRepo struct {
	departments map[string]models.Department
	names       map[string]bool
	cascadeErr  error
	cascaded    []string
	blobPaths   []string
}

func newMockDepartmentRepo() *mockDepartmentRepo {
	return &mockDepartmentRepo{
		departments: make(map[string]models.Department),
		names:       make(map[string]bool),
	}
}

func (m *mockDepartmentRepo) Create(ctx context.Context, dept *models.Department) error {
	if dept.ID == "" {
		dept.ID = "d1"
	}
	m.departments[dept.ID] = *dept
	m.names[dept.Name] = true
	return nil
}

func (m *mockDepartmentRepo) FindByID(ctx context.Context, id string) (*models.Department, error) {
	if d, ok := m.departments[id]; ok {
		return &d, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockDepartmentRepo) ExistsByName(ctx context.Context, name, excludeID string) (bool, error) {
	return m.names[name], nil
}

func (m *mockDepartmentRepo) List(ctx context.Context) ([]models.Department, error) {
	var out []models.Department
	for _, d := range m.departments {
		out = append(out, d)
	}
	return out, nil
}

func (m *mockDepartmentRepo) Update(ctx context.Context, dept *models.Department) error {
	if _, ok := m.departments[dept.ID]; !ok {
		return sql.ErrNoRows
	}
	m.departments[dept.ID] = *dept
	return nil
}

func (m *mockDepartmentRepo) DeleteCascade(ctx context.Context, id string) ([]string, error) {
	if m.cascadeErr != nil {
		return nil, m.cascadeErr
	}
	if _, ok := m.departments[id]; !ok {
		return nil, sql.ErrNoRows
	}
	delete(m.departments, id)
	m.cascaded = append(m.cascaded, id)
	return m.blobPaths, nil
}

type mockBlobRemover struct {
	removed []string
}

func (m *mockBlobRemover) Delete(ref string) error {
	m.removed = append(m.removed, ref)
	return nil
}

func newDepartmentService(repo *mockDepartmentRepo, remover *mockBlobRemover) *DepartmentService {
	return NewDepartmentService(repo, remover, NewAuthorizationService(), nil, nil, nil)
}

var adminCaller = models.Caller{ID: "a1", Role: models.RoleAdmin}

func TestDepartmentCreateAndDuplicate(t *testing.T) {
	repo := newMockDepartmentRepo()
	svc := newDepartmentService(repo, &mockBlobRemover{})

	dept, err := svc.Create(context.Background(), adminCaller, DepartmentRequest{Name: "Library", Description: "Books and study rooms"})
	require.NoError(t, err)
	assert.NotEmpty(t, dept.ID)

	_, err = svc.Create(context.Background(), adminCaller, DepartmentRequest{Name: "Library"})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrConflict))
}

func TestDepartmentCreateRequiresAdmin(t *testing.T) {
	svc := newDepartmentService(newMockDepartmentRepo(), &mockBlobRemover{})

	_, err := svc.Create(context.Background(), models.Caller{ID: "u1", Role: models.RoleStudent}, DepartmentRequest{Name: "Library"})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))
}

func TestDepartmentDeleteBlockedByOpenGrievances(t *testing.T) {
	repo := newMockDepartmentRepo()
	repo.cascadeErr = repository.ErrOpenGrievances
	svc := newDepartmentService(repo, &mockBlobRemover{})

	err := svc.Delete(context.Background(), adminCaller, "d1")
	require.Error(t, err)
	// the rule binds admins too
	assert.True(t, appErrors.Is(err, appErrors.ErrConflict))
}

func TestDepartmentDeleteRemovesBlobs(t *testing.T) {
	repo := newMockDepartmentRepo()
	repo.blobPaths = []string{"g1/a.pdf", "g2/b.pdf"}
	remover := &mockBlobRemover{}
	svc := newDepartmentService(repo, remover)

	_, err := svc.Create(context.Background(), adminCaller, DepartmentRequest{Name: "Hostel Affairs"})
	require.NoError(t, err)

	err = svc.Delete(context.Background(), adminCaller, "d1")
	require.NoError(t, err)
	assert.Equal(t, []string{"g1/a.pdf", "g2/b.pdf"}, remover.removed)
}

func TestDepartmentDeleteNotFound(t *testing.T) {
	svc := newDepartmentService(newMockDepartmentRepo(), &mockBlobRemover{})

	err := svc.Delete(context.Background(), adminCaller, "ghost")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
}

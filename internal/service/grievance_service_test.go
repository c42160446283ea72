package service

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campusdesk/grievance-api/internal/dto"
	"github.com/campusdesk/grievance-api/internal/models"
	appErrors "github.com/campusdesk/grievance-api/pkg/errors"
)

type mockGrievanceRepo struct {
	grievances  map[string]models.Grievance
	history     map[string][]models.StatusUpdate
	attachments map[string][]models.Attachment
	attachErr   error
}

func newMockGrievanceRepo() *mockGrievanceRepo {
	return &mockGrievanceRepo{
		grievances:  make(map[string]models.Grievance),
		history:     make(map[string][]models.StatusUpdate),
		attachments: make(map[string][]models.Attachment),
	}
}

func (m *mockGrievanceRepo) CreateWithTrail(ctx context.Context, grievance *models.Grievance) error {
	if grievance.ID == "" {
		grievance.ID = fmt.Sprintf("g%d", len(m.grievances)+1)
	}
	grievance.Status = models.StatusPending
	m.grievances[grievance.ID] = *grievance
	note := models.SeedStatusNote
	m.history[grievance.ID] = []models.StatusUpdate{{
		ID:          grievance.ID + "-s1",
		GrievanceID: grievance.ID,
		Status:      models.StatusPending,
		Note:        &note,
	}}
	return nil
}

func (m *mockGrievanceRepo) FindByID(ctx context.Context, id string) (*models.Grievance, error) {
	if g, ok := m.grievances[id]; ok {
		return &g, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockGrievanceRepo) FindDetail(ctx context.Context, id string) (*models.GrievanceDetail, error) {
	g, err := m.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return &models.GrievanceDetail{Grievance: *g, History: m.history[id], Attachments: m.attachments[id]}, nil
}

func (m *mockGrievanceRepo) List(ctx context.Context, filter models.GrievanceFilter) ([]models.Grievance, int, error) {
	var out []models.Grievance
	for _, g := range m.grievances {
		if filter.StudentID != "" && g.StudentID != filter.StudentID {
			continue
		}
		if filter.OpenOnly && g.Status == models.StatusResolved {
			continue
		}
		if filter.ResolvedOnly && g.Status != models.StatusResolved {
			continue
		}
		out = append(out, g)
	}
	return out, len(out), nil
}

func (m *mockGrievanceRepo) TransitionStatus(ctx context.Context, id string, status models.GrievanceStatus, note *string) (*models.Grievance, error) {
	g, ok := m.grievances[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	g.Status = status
	m.grievances[id] = g
	m.history[id] = append(m.history[id], models.StatusUpdate{GrievanceID: id, Status: status, Note: note})
	return &g, nil
}

func (m *mockGrievanceRepo) AddAttachment(ctx context.Context, attachment *models.Attachment) error {
	if m.attachErr != nil {
		return m.attachErr
	}
	if attachment.ID == "" {
		attachment.ID = fmt.Sprintf("a%d", len(m.attachments[attachment.GrievanceID])+1)
	}
	m.attachments[attachment.GrievanceID] = append(m.attachments[attachment.GrievanceID], *attachment)
	return nil
}

func (m *mockGrievanceRepo) ListAttachments(ctx context.Context, grievanceID string) ([]models.Attachment, error) {
	return m.attachments[grievanceID], nil
}

func (m *mockGrievanceRepo) ListHistory(ctx context.Context, grievanceID string) ([]models.StatusUpdate, error) {
	return m.history[grievanceID], nil
}

type mockDepartmentFinder struct {
	departments map[string]models.Department
}

func (m *mockDepartmentFinder) FindByID(ctx context.Context, id string) (*models.Department, error) {
	if d, ok := m.departments[id]; ok {
		return &d, nil
	}
	return nil, sql.ErrNoRows
}

type mockBlobStore struct {
	saved   []string
	removed []string
	blobs   map[string][]byte
	failFor map[string]bool
	openErr error
}

func (m *mockBlobStore) SaveStream(ref string, r io.Reader) (string, error) {
	for name := range m.failFor {
		if strings.Contains(ref, name) {
			return "", fmt.Errorf("disk full")
		}
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	if m.blobs == nil {
		m.blobs = make(map[string][]byte)
	}
	m.blobs[ref] = data
	m.saved = append(m.saved, ref)
	return ref, nil
}

func (m *mockBlobStore) Open(ref string) (io.ReadCloser, error) {
	if m.openErr != nil {
		return nil, m.openErr
	}
	data, ok := m.blobs[ref]
	if !ok {
		return nil, fmt.Errorf("no blob at %s", ref)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *mockBlobStore) Delete(ref string) error {
	delete(m.blobs, ref)
	m.removed = append(m.removed, ref)
	return nil
}

type mockNotifier struct {
	created []models.Grievance
	changed []models.Grievance
}

func (m *mockNotifier) GrievanceCreated(g models.Grievance) {
	m.created = append(m.created, g)
}

func (m *mockNotifier) GrievanceStatusChanged(g models.Grievance, note *string) {
	m.changed = append(m.changed, g)
}

func newGrievanceService(repo *mockGrievanceRepo, store *mockBlobStore, notifier *mockNotifier) *GrievanceService {
	departments := &mockDepartmentFinder{departments: map[string]models.Department{
		"d1": {ID: "d1", Name: "Hostel Affairs"},
	}}
	return NewGrievanceService(repo, departments, store, NewAuthorizationService(), notifier, nil, nil, nil, nil, 5)
}

func validCreateRequest() CreateGrievanceRequest {
	return CreateGrievanceRequest{
		Title:         "Broken ceiling fan",
		Description:   "The ceiling fan in room 214 has not worked for two weeks despite repeated complaints.",
		QueryCategory: "maintenance",
		StudentID:     "u1",
		DepartmentID:  "d1",
	}
}

func upload(name string) AttachmentUpload {
	return AttachmentUpload{Filename: name, Content: strings.NewReader("content of " + name)}
}

func TestCreateSeedsTrail(t *testing.T) {
	repo := newMockGrievanceRepo()
	notifier := &mockNotifier{}
	svc := newGrievanceService(repo, &mockBlobStore{}, notifier)
	student := models.Caller{ID: "u1", Role: models.RoleStudent}

	resp, err := svc.Create(context.Background(), student, validCreateRequest(), nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, resp.Grievance.Status)

	history := repo.history[resp.Grievance.ID]
	require.Len(t, history, 1)
	assert.Equal(t, models.StatusPending, history[0].Status)
	require.NotNil(t, history[0].Note)
	assert.Equal(t, models.SeedStatusNote, *history[0].Note)

	require.Len(t, notifier.created, 1)
}

func TestCreateDescriptionBounds(t *testing.T) {
	svc := newGrievanceService(newMockGrievanceRepo(), &mockBlobStore{}, &mockNotifier{})
	student := models.Caller{ID: "u1", Role: models.RoleStudent}

	short := validCreateRequest()
	short.Description = "too short"
	_, err := svc.Create(context.Background(), student, short, nil)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))

	almost := validCreateRequest()
	almost.Description = strings.Repeat("x", 19)
	_, err = svc.Create(context.Background(), student, almost, nil)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))

	minimum := validCreateRequest()
	minimum.Description = strings.Repeat("x", 20)
	_, err = svc.Create(context.Background(), student, minimum, nil)
	assert.NoError(t, err)

	long := validCreateRequest()
	long.Description = strings.Repeat("x", 3001)
	_, err = svc.Create(context.Background(), student, long, nil)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))

	exact := validCreateRequest()
	exact.Description = strings.Repeat("x", 3000)
	_, err = svc.Create(context.Background(), student, exact, nil)
	assert.NoError(t, err)
}

func TestCreateForOtherStudentForbidden(t *testing.T) {
	svc := newGrievanceService(newMockGrievanceRepo(), &mockBlobStore{}, &mockNotifier{})

	req := validCreateRequest()
	req.StudentID = "u2"
	_, err := svc.Create(context.Background(), models.Caller{ID: "u1", Role: models.RoleStudent}, req, nil)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))
}

func TestCreateUnknownDepartment(t *testing.T) {
	svc := newGrievanceService(newMockGrievanceRepo(), &mockBlobStore{}, &mockNotifier{})

	req := validCreateRequest()
	req.DepartmentID = "ghost"
	_, err := svc.Create(context.Background(), models.Caller{ID: "u1", Role: models.RoleStudent}, req, nil)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
}

func TestCreateAttachmentBatchLimit(t *testing.T) {
	repo := newMockGrievanceRepo()
	store := &mockBlobStore{}
	svc := newGrievanceService(repo, store, &mockNotifier{})
	student := models.Caller{ID: "u1", Role: models.RoleStudent}

	files := make([]AttachmentUpload, 0, 7)
	for i := 1; i <= 7; i++ {
		files = append(files, upload(fmt.Sprintf("file%d.pdf", i)))
	}

	resp, err := svc.Create(context.Background(), student, validCreateRequest(), files)
	require.NoError(t, err)
	require.Len(t, resp.Attachments, 7)

	uploaded := 0
	rejected := 0
	for _, outcome := range resp.Attachments {
		if outcome.Uploaded {
			uploaded++
			assert.NotEmpty(t, outcome.AttachmentID)
		} else {
			rejected++
			assert.Contains(t, outcome.Reason, "limit")
		}
	}
	assert.Equal(t, 5, uploaded)
	assert.Equal(t, 2, rejected)
	assert.Len(t, store.saved, 5)
}

func TestCreateSurvivesAttachmentFailure(t *testing.T) {
	repo := newMockGrievanceRepo()
	store := &mockBlobStore{failFor: map[string]bool{"bad.pdf": true}}
	svc := newGrievanceService(repo, store, &mockNotifier{})
	student := models.Caller{ID: "u1", Role: models.RoleStudent}

	resp, err := svc.Create(context.Background(), student, validCreateRequest(), []AttachmentUpload{
		upload("good.pdf"),
		upload("bad.pdf"),
	})
	require.NoError(t, err)
	require.Len(t, resp.Attachments, 2)
	assert.True(t, resp.Attachments[0].Uploaded)
	assert.False(t, resp.Attachments[1].Uploaded)
	assert.NotEmpty(t, resp.Attachments[1].Reason)
}

func TestCreateRemovesBlobWhenRecordFails(t *testing.T) {
	repo := newMockGrievanceRepo()
	repo.attachErr = fmt.Errorf("constraint violation")
	store := &mockBlobStore{}
	svc := newGrievanceService(repo, store, &mockNotifier{})
	student := models.Caller{ID: "u1", Role: models.RoleStudent}

	resp, err := svc.Create(context.Background(), student, validCreateRequest(), []AttachmentUpload{upload("receipt.pdf")})
	require.NoError(t, err)
	require.Len(t, resp.Attachments, 1)
	assert.False(t, resp.Attachments[0].Uploaded)

	// the written blob must not outlive its failed database record
	require.Len(t, store.saved, 1)
	require.Len(t, store.removed, 1)
	assert.Equal(t, store.saved[0], store.removed[0])
	assert.Empty(t, store.blobs)
}

func TestDownloadStreamsOwnedAttachment(t *testing.T) {
	repo := newMockGrievanceRepo()
	store := &mockBlobStore{}
	svc := newGrievanceService(repo, store, &mockNotifier{})
	owner := models.Caller{ID: "u1", Role: models.RoleStudent}

	resp, err := svc.Create(context.Background(), owner, validCreateRequest(), []AttachmentUpload{upload("photo.jpg")})
	require.NoError(t, err)
	require.True(t, resp.Attachments[0].Uploaded)
	id := resp.Grievance.ID
	attachmentID := resp.Attachments[0].AttachmentID

	file, attachment, err := svc.Download(context.Background(), owner, id, attachmentID)
	require.NoError(t, err)
	defer file.Close() //nolint:errcheck
	assert.Equal(t, "photo.jpg", attachment.Filename)
	data, err := io.ReadAll(file)
	require.NoError(t, err)
	assert.Equal(t, "content of photo.jpg", string(data))
}

func TestDownloadEnforcesOwnership(t *testing.T) {
	repo := newMockGrievanceRepo()
	svc := newGrievanceService(repo, &mockBlobStore{}, &mockNotifier{})
	owner := models.Caller{ID: "u1", Role: models.RoleStudent}

	resp, err := svc.Create(context.Background(), owner, validCreateRequest(), []AttachmentUpload{upload("photo.jpg")})
	require.NoError(t, err)

	_, _, err = svc.Download(context.Background(), models.Caller{ID: "u2", Role: models.RoleStudent}, resp.Grievance.ID, resp.Attachments[0].AttachmentID)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))
}

func TestDownloadUnknownAttachment(t *testing.T) {
	repo := newMockGrievanceRepo()
	svc := newGrievanceService(repo, &mockBlobStore{}, &mockNotifier{})
	owner := models.Caller{ID: "u1", Role: models.RoleStudent}

	resp, err := svc.Create(context.Background(), owner, validCreateRequest(), nil)
	require.NoError(t, err)

	_, _, err = svc.Download(context.Background(), owner, resp.Grievance.ID, "ghost")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
}

func TestDownloadStorageFailure(t *testing.T) {
	repo := newMockGrievanceRepo()
	store := &mockBlobStore{}
	svc := newGrievanceService(repo, store, &mockNotifier{})
	owner := models.Caller{ID: "u1", Role: models.RoleStudent}

	resp, err := svc.Create(context.Background(), owner, validCreateRequest(), []AttachmentUpload{upload("photo.jpg")})
	require.NoError(t, err)

	store.openErr = fmt.Errorf("volume unmounted")
	_, _, err = svc.Download(context.Background(), owner, resp.Grievance.ID, resp.Attachments[0].AttachmentID)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrExternalIO))
}

func TestTransitionAppendsTrail(t *testing.T) {
	repo := newMockGrievanceRepo()
	notifier := &mockNotifier{}
	svc := newGrievanceService(repo, &mockBlobStore{}, notifier)
	admin := models.Caller{ID: "a1", Role: models.RoleAdmin}

	resp, err := svc.Create(context.Background(), admin, validCreateRequest(), nil)
	require.NoError(t, err)
	id := resp.Grievance.ID

	note := "Forwarded to maintenance crew"
	updated, err := svc.Transition(context.Background(), admin, id, dto.TransitionRequest{Status: "in_progress", Note: &note})
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, updated.Status)

	// a closed ticket can be reopened; no edge is forbidden
	_, err = svc.Transition(context.Background(), admin, id, dto.TransitionRequest{Status: "closed"})
	require.NoError(t, err)
	_, err = svc.Transition(context.Background(), admin, id, dto.TransitionRequest{Status: "pending"})
	require.NoError(t, err)

	require.Len(t, repo.history[id], 4)
	require.Len(t, notifier.changed, 3)
}

func TestTransitionRejectsUnknownStatus(t *testing.T) {
	repo := newMockGrievanceRepo()
	svc := newGrievanceService(repo, &mockBlobStore{}, &mockNotifier{})
	admin := models.Caller{ID: "a1", Role: models.RoleAdmin}

	resp, err := svc.Create(context.Background(), admin, validCreateRequest(), nil)
	require.NoError(t, err)

	_, err = svc.Transition(context.Background(), admin, resp.Grievance.ID, dto.TransitionRequest{Status: "escalated"})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
	require.Len(t, repo.history[resp.Grievance.ID], 1)
}

func TestStudentCannotTransition(t *testing.T) {
	repo := newMockGrievanceRepo()
	svc := newGrievanceService(repo, &mockBlobStore{}, &mockNotifier{})
	student := models.Caller{ID: "u1", Role: models.RoleStudent}

	resp, err := svc.Create(context.Background(), student, validCreateRequest(), nil)
	require.NoError(t, err)

	_, err = svc.Transition(context.Background(), student, resp.Grievance.ID, dto.TransitionRequest{Status: "resolved"})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))
}

func TestGetEnforcesOwnership(t *testing.T) {
	repo := newMockGrievanceRepo()
	svc := newGrievanceService(repo, &mockBlobStore{}, &mockNotifier{})
	owner := models.Caller{ID: "u1", Role: models.RoleStudent}

	resp, err := svc.Create(context.Background(), owner, validCreateRequest(), nil)
	require.NoError(t, err)

	_, err = svc.Get(context.Background(), models.Caller{ID: "u2", Role: models.RoleStudent}, resp.Grievance.ID)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))

	detail, err := svc.Get(context.Background(), owner, resp.Grievance.ID)
	require.NoError(t, err)
	assert.Equal(t, resp.Grievance.ID, detail.ID)
}

func TestListOpenExcludesOnlyResolved(t *testing.T) {
	repo := newMockGrievanceRepo()
	svc := newGrievanceService(repo, &mockBlobStore{}, &mockNotifier{})
	admin := models.Caller{ID: "a1", Role: models.RoleAdmin}

	first, err := svc.Create(context.Background(), admin, validCreateRequest(), nil)
	require.NoError(t, err)
	second, err := svc.Create(context.Background(), admin, validCreateRequest(), nil)
	require.NoError(t, err)

	_, err = svc.Transition(context.Background(), admin, first.Grievance.ID, dto.TransitionRequest{Status: "resolved"})
	require.NoError(t, err)
	_, err = svc.Transition(context.Background(), admin, second.Grievance.ID, dto.TransitionRequest{Status: "closed"})
	require.NoError(t, err)

	open, total, err := svc.ListOpen(context.Background(), admin, models.GrievanceFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, open, 1)
	assert.Equal(t, second.Grievance.ID, open[0].ID)
}

func TestAttachToClosedGrievance(t *testing.T) {
	repo := newMockGrievanceRepo()
	store := &mockBlobStore{}
	svc := newGrievanceService(repo, store, &mockNotifier{})
	admin := models.Caller{ID: "a1", Role: models.RoleAdmin}
	owner := models.Caller{ID: "u1", Role: models.RoleStudent}

	resp, err := svc.Create(context.Background(), owner, validCreateRequest(), nil)
	require.NoError(t, err)
	_, err = svc.Transition(context.Background(), admin, resp.Grievance.ID, dto.TransitionRequest{Status: "closed"})
	require.NoError(t, err)

	outcomes, err := svc.Attach(context.Background(), owner, resp.Grievance.ID, []AttachmentUpload{upload("followup.pdf")})
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].Uploaded)

	_, err = svc.Attach(context.Background(), models.Caller{ID: "u2", Role: models.RoleStudent}, resp.Grievance.ID, []AttachmentUpload{upload("sneaky.pdf")})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))
}

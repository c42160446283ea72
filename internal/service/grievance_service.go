package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/campusdesk/grievance-api/internal/dto"
	"github.com/campusdesk/grievance-api/internal/models"
	appErrors "github.com/campusdesk/grievance-api/pkg/errors"
)

const (
	descriptionMinLen = 20
	descriptionMaxLen = 3000

	defaultAttachmentBatchLimit = 5
)

type grievanceRepository interface {
	CreateWithTrail(ctx context.Context, grievance *models.Grievance) error
	FindByID(ctx context.Context, id string) (*models.Grievance, error)
	FindDetail(ctx context.Context, id string) (*models.GrievanceDetail, error)
	List(ctx context.Context, filter models.GrievanceFilter) ([]models.Grievance, int, error)
	TransitionStatus(ctx context.Context, id string, status models.GrievanceStatus, note *string) (*models.Grievance, error)
	AddAttachment(ctx context.Context, attachment *models.Attachment) error
	ListAttachments(ctx context.Context, grievanceID string) ([]models.Attachment, error)
	ListHistory(ctx context.Context, grievanceID string) ([]models.StatusUpdate, error)
}

type grievanceDepartmentFinder interface {
	FindByID(ctx context.Context, id string) (*models.Department, error)
}

// blobStore is the slice of pkg/storage the grievance flow needs.
type blobStore interface {
	SaveStream(ref string, r io.Reader) (string, error)
	Open(ref string) (io.ReadCloser, error)
	Delete(ref string) error
}

type grievanceNotifier interface {
	GrievanceCreated(grievance models.Grievance)
	GrievanceStatusChanged(grievance models.Grievance, note *string)
}

// AttachmentUpload is one file offered during creation or later attachment.
type AttachmentUpload struct {
	Filename string
	Content  io.Reader
}

// CreateGrievanceRequest is the submission payload.
type CreateGrievanceRequest struct {
	Title         string `json:"title" validate:"max=200"`
	Description   string `json:"description" validate:"required"`
	QueryCategory string `json:"query_category" validate:"required"`
	StudentID     string `json:"student_id" validate:"required"`
	DepartmentID  string `json:"department_id" validate:"required"`
}

// GrievanceService implements the grievance lifecycle.
type GrievanceService struct {
	repo        grievanceRepository
	departments grievanceDepartmentFinder
	storage     blobStore
	gate        *AuthorizationService
	notifier    grievanceNotifier
	cache       *CacheService
	metrics     *MetricsService
	validator   *validator.Validate
	logger      *zap.Logger
	batchLimit  int
}

// NewGrievanceService constructs the service. batchLimit caps how many files
// a single submission may carry; zero falls back to the default of five.
func NewGrievanceService(
	repo grievanceRepository,
	departments grievanceDepartmentFinder,
	storage blobStore,
	gate *AuthorizationService,
	notifier grievanceNotifier,
	cache *CacheService,
	metrics *MetricsService,
	validate *validator.Validate,
	logger *zap.Logger,
	batchLimit int,
) *GrievanceService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if batchLimit <= 0 {
		batchLimit = defaultAttachmentBatchLimit
	}
	return &GrievanceService{
		repo:        repo,
		departments: departments,
		storage:     storage,
		gate:        gate,
		notifier:    notifier,
		cache:       cache,
		metrics:     metrics,
		validator:   validate,
		logger:      logger,
		batchLimit:  batchLimit,
	}
}

// Create submits a new grievance and stores its attachment batch. The ticket
// and its seed trail entry commit atomically; attachments are then persisted
// one by one, and each file's outcome is reported individually. Files beyond
// the batch limit are not attempted. A failed attachment never fails the
// submission.
func (s *GrievanceService) Create(ctx context.Context, caller models.Caller, req CreateGrievanceRequest, files []AttachmentUpload) (*dto.CreateGrievanceResponse, error) {
	if err := s.gate.CanSubmitGrievance(caller, req.StudentID); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid grievance payload")
	}
	if n := utf8.RuneCountInString(req.Description); n < descriptionMinLen || n > descriptionMaxLen {
		return nil, appErrors.Clone(appErrors.ErrValidation,
			fmt.Sprintf("description must be between %d and %d characters", descriptionMinLen, descriptionMaxLen))
	}

	if _, err := s.departments.FindByID(ctx, req.DepartmentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "department not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load department")
	}

	grievance := &models.Grievance{
		Title:         req.Title,
		Description:   req.Description,
		QueryCategory: req.QueryCategory,
		StudentID:     req.StudentID,
		DepartmentID:  req.DepartmentID,
	}
	if err := s.repo.CreateWithTrail(ctx, grievance); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create grievance")
	}

	outcomes := s.storeAttachmentBatch(ctx, grievance.ID, files)

	if s.metrics != nil {
		s.metrics.RecordGrievanceCreated()
	}
	if s.notifier != nil {
		s.notifier.GrievanceCreated(*grievance)
	}
	s.invalidateReportCache(ctx)

	return &dto.CreateGrievanceResponse{Grievance: *grievance, Attachments: outcomes}, nil
}

// storeAttachmentBatch persists up to batchLimit files and reports every
// offered file. Excess files are reported as rejected without being read.
func (s *GrievanceService) storeAttachmentBatch(ctx context.Context, grievanceID string, files []AttachmentUpload) []dto.AttachmentOutcome {
	if len(files) == 0 {
		return nil
	}
	outcomes := make([]dto.AttachmentOutcome, 0, len(files))
	for i, file := range files {
		if i >= s.batchLimit {
			outcomes = append(outcomes, dto.AttachmentOutcome{
				Filename: file.Filename,
				Uploaded: false,
				Reason:   fmt.Sprintf("attachment limit is %d files per submission", s.batchLimit),
			})
			continue
		}
		outcomes = append(outcomes, s.storeAttachment(ctx, grievanceID, file))
	}
	return outcomes
}

func (s *GrievanceService) storeAttachment(ctx context.Context, grievanceID string, file AttachmentUpload) dto.AttachmentOutcome {
	ref := path.Join(grievanceID, uuid.NewString()+"_"+filepath.Base(file.Filename))
	storedPath, err := s.storage.SaveStream(ref, file.Content)
	if err != nil {
		s.logger.Warn("failed to store attachment file",
			zap.String("grievance_id", grievanceID),
			zap.String("filename", file.Filename),
			zap.Error(err))
		return dto.AttachmentOutcome{Filename: file.Filename, Uploaded: false, Reason: "failed to store file"}
	}

	attachment := &models.Attachment{
		GrievanceID: grievanceID,
		Filename:    file.Filename,
		FilePath:    storedPath,
	}
	if err := s.repo.AddAttachment(ctx, attachment); err != nil {
		s.logger.Warn("failed to record attachment",
			zap.String("grievance_id", grievanceID),
			zap.String("filename", file.Filename),
			zap.Error(err))
		// The blob has no database record; remove it so nothing orphaned
		// lingers in the store.
		if delErr := s.storage.Delete(storedPath); delErr != nil {
			s.logger.Warn("failed to remove orphaned attachment blob",
				zap.String("path", storedPath),
				zap.Error(delErr))
		}
		return dto.AttachmentOutcome{Filename: file.Filename, Uploaded: false, Reason: "failed to record attachment"}
	}
	return dto.AttachmentOutcome{Filename: file.Filename, Uploaded: true, AttachmentID: attachment.ID}
}

// Get returns one grievance with its trail and attachments. Students only
// see their own tickets; a mismatch is forbidden, not hidden as missing.
func (s *GrievanceService) Get(ctx context.Context, caller models.Caller, id string) (*models.GrievanceDetail, error) {
	detail, err := s.repo.FindDetail(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "grievance not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load grievance")
	}
	if err := s.gate.CanViewGrievance(caller, &detail.Grievance); err != nil {
		return nil, err
	}
	return detail, nil
}

// List returns grievances matching the filter. Students are pinned to their
// own tickets regardless of the requested filter.
func (s *GrievanceService) List(ctx context.Context, caller models.Caller, filter models.GrievanceFilter) ([]models.Grievance, int, error) {
	if caller.Role != models.RoleAdmin {
		filter.StudentID = caller.ID
	}
	grievances, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list grievances")
	}
	return grievances, total, nil
}

// ListOpen returns grievances still awaiting resolution. Anything not in
// resolved counts as open, including closed tickets awaiting archival review.
func (s *GrievanceService) ListOpen(ctx context.Context, caller models.Caller, filter models.GrievanceFilter) ([]models.Grievance, int, error) {
	filter.OpenOnly = true
	filter.ResolvedOnly = false
	filter.Status = nil
	return s.List(ctx, caller, filter)
}

// ListResolved returns grievances in the resolved status.
func (s *GrievanceService) ListResolved(ctx context.Context, caller models.Caller, filter models.GrievanceFilter) ([]models.Grievance, int, error) {
	filter.ResolvedOnly = true
	filter.OpenOnly = false
	filter.Status = nil
	return s.List(ctx, caller, filter)
}

// Transition moves a grievance to a new status and appends the trail entry.
// Any valid status may follow any other; there is no transition table.
func (s *GrievanceService) Transition(ctx context.Context, caller models.Caller, id string, req dto.TransitionRequest) (*models.Grievance, error) {
	if err := s.gate.CanTransitionGrievance(caller); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid transition payload")
	}
	status := models.GrievanceStatus(req.Status)
	if !status.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown status %q", req.Status))
	}

	grievance, err := s.repo.TransitionStatus(ctx, id, status, req.Note)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "grievance not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update status")
	}

	if s.metrics != nil {
		s.metrics.RecordStatusTransition(status)
	}
	if s.notifier != nil {
		s.notifier.GrievanceStatusChanged(*grievance, req.Note)
	}
	s.invalidateReportCache(ctx)

	return grievance, nil
}

// Attach adds files to an existing grievance. The owner or an admin may
// attach in any status, resolved and closed included.
func (s *GrievanceService) Attach(ctx context.Context, caller models.Caller, id string, files []AttachmentUpload) ([]dto.AttachmentOutcome, error) {
	if len(files) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "no files provided")
	}

	grievance, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "grievance not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load grievance")
	}
	if err := s.gate.CanAttachToGrievance(caller, grievance); err != nil {
		return nil, err
	}

	return s.storeAttachmentBatch(ctx, id, files), nil
}

// Download opens the stored content of one attachment. The same visibility
// rule as Get applies: only the owner or an admin may fetch a file.
func (s *GrievanceService) Download(ctx context.Context, caller models.Caller, grievanceID, attachmentID string) (io.ReadCloser, *models.Attachment, error) {
	grievance, err := s.repo.FindByID(ctx, grievanceID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "grievance not found")
		}
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load grievance")
	}
	if err := s.gate.CanViewGrievance(caller, grievance); err != nil {
		return nil, nil, err
	}

	attachments, err := s.repo.ListAttachments(ctx, grievanceID)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load attachments")
	}
	for _, attachment := range attachments {
		if attachment.ID != attachmentID {
			continue
		}
		file, err := s.storage.Open(attachment.FilePath)
		if err != nil {
			return nil, nil, appErrors.Wrap(err, appErrors.ErrExternalIO.Code, appErrors.ErrExternalIO.Status, "failed to open attachment file")
		}
		return file, &attachment, nil
	}
	return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "attachment not found")
}

// History returns the status trail for a grievance, oldest first.
func (s *GrievanceService) History(ctx context.Context, caller models.Caller, id string) ([]models.StatusUpdate, error) {
	grievance, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "grievance not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load grievance")
	}
	if err := s.gate.CanViewGrievance(caller, grievance); err != nil {
		return nil, err
	}
	history, err := s.repo.ListHistory(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load status history")
	}
	return history, nil
}

func (s *GrievanceService) invalidateReportCache(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, reportCachePattern); err != nil {
		s.logger.Warn("failed to invalidate report cache", zap.Error(err))
	}
}

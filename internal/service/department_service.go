package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/campusdesk/grievance-api/internal/models"
	"github.com/campusdesk/grievance-api/internal/repository"
	appErrors "github.com/campusdesk/grievance-api/pkg/errors"
)

type departmentRepository interface {
	Create(ctx context.Context, dept *models.Department) error
	FindByID(ctx context.Context, id string) (*models.Department, error)
	ExistsByName(ctx context.Context, name string, excludeID string) (bool, error)
	List(ctx context.Context) ([]models.Department, error)
	Update(ctx context.Context, dept *models.Department) error
	DeleteCascade(ctx context.Context, id string) ([]string, error)
}

type blobRemover interface {
	Delete(ref string) error
}

// DepartmentService manages the department directory.
type DepartmentService struct {
	repo      departmentRepository
	storage   blobRemover
	gate      *AuthorizationService
	cache     *CacheService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewDepartmentService constructs a DepartmentService.
func NewDepartmentService(repo departmentRepository, storage blobRemover, gate *AuthorizationService, cache *CacheService, validate *validator.Validate, logger *zap.Logger) *DepartmentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &DepartmentService{repo: repo, storage: storage, gate: gate, cache: cache, validator: validate, logger: logger}
}

// DepartmentRequest is the create/update payload.
type DepartmentRequest struct {
	Name        string `json:"name" validate:"required,min=2,max=120"`
	Description string `json:"description" validate:"max=500"`
}

// Create registers a new department.
func (s *DepartmentService) Create(ctx context.Context, caller models.Caller, req DepartmentRequest) (*models.Department, error) {
	if err := s.gate.CanManageDepartments(caller); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid department payload")
	}

	taken, err := s.repo.ExistsByName(ctx, req.Name, "")
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check department name")
	}
	if taken {
		return nil, appErrors.Clone(appErrors.ErrConflict, "department name already exists")
	}

	dept := &models.Department{Name: req.Name, Description: req.Description}
	if err := s.repo.Create(ctx, dept); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create department")
	}
	s.invalidateReportCache(ctx)
	return dept, nil
}

// Get returns one department. Any authenticated caller may read the
// directory; students need it to route their grievances.
func (s *DepartmentService) Get(ctx context.Context, id string) (*models.Department, error) {
	dept, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "department not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load department")
	}
	return dept, nil
}

// List returns every department ordered by name.
func (s *DepartmentService) List(ctx context.Context) ([]models.Department, error) {
	depts, err := s.repo.List(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list departments")
	}
	return depts, nil
}

// Update modifies a department's name or description.
func (s *DepartmentService) Update(ctx context.Context, caller models.Caller, id string, req DepartmentRequest) (*models.Department, error) {
	if err := s.gate.CanManageDepartments(caller); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid department payload")
	}

	dept, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "department not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load department")
	}

	taken, err := s.repo.ExistsByName(ctx, req.Name, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check department name")
	}
	if taken {
		return nil, appErrors.Clone(appErrors.ErrConflict, "department name already exists")
	}

	dept.Name = req.Name
	dept.Description = req.Description
	if err := s.repo.Update(ctx, dept); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "department not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update department")
	}
	s.invalidateReportCache(ctx)
	return dept, nil
}

// Delete removes a department and everything routed to it. The deletion is
// refused while any of the department's grievances is still outside
// resolved/closed; this rule binds administrators too. Database rows go in
// one transaction; stored attachment files are removed best-effort after
// commit.
func (s *DepartmentService) Delete(ctx context.Context, caller models.Caller, id string) error {
	if err := s.gate.CanManageDepartments(caller); err != nil {
		return err
	}

	paths, err := s.repo.DeleteCascade(ctx, id)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrOpenGrievances):
			return appErrors.Clone(appErrors.ErrConflict, "department still has open grievances")
		case errors.Is(err, sql.ErrNoRows):
			return appErrors.Clone(appErrors.ErrNotFound, "department not found")
		default:
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete department")
		}
	}

	if s.storage != nil {
		for _, path := range paths {
			if err := s.storage.Delete(path); err != nil {
				s.logger.Warn("failed to remove attachment file", zap.String("path", path), zap.Error(err))
			}
		}
	}

	s.invalidateReportCache(ctx)
	s.logger.Info("department deleted", zap.String("department_id", id), zap.Int("attachments_removed", len(paths)))
	return nil
}

func (s *DepartmentService) invalidateReportCache(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, reportCachePattern); err != nil {
		s.logger.Warn("failed to invalidate report cache", zap.Error(err))
	}
}

package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/campusdesk/grievance-api/internal/models"
)

// ErrOpenGrievances is returned when a department deletion is attempted while
// any referencing grievance is still in a non-terminal status.
var ErrOpenGrievances = errors.New("department has grievances outside resolved/closed")

// DepartmentRepository manages persistence for departments.
type DepartmentRepository struct {
	db *sqlx.DB
}

// NewDepartmentRepository constructs a DepartmentRepository.
func NewDepartmentRepository(db *sqlx.DB) *DepartmentRepository {
	return &DepartmentRepository{db: db}
}

// Create inserts a new department row.
func (r *DepartmentRepository) Create(ctx context.Context, dept *models.Department) error {
	if dept.ID == "" {
		dept.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if dept.CreatedAt.IsZero() {
		dept.CreatedAt = now
	}
	dept.UpdatedAt = now
	const query = `INSERT INTO departments (id, name, description, created_at, updated_at)
        VALUES (:id, :name, :description, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, dept); err != nil {
		return fmt.Errorf("create department: %w", err)
	}
	return nil
}

// FindByID fetches a department by ID.
func (r *DepartmentRepository) FindByID(ctx context.Context, id string) (*models.Department, error) {
	const query = `SELECT id, name, description, created_at, updated_at FROM departments WHERE id = $1`
	var dept models.Department
	if err := r.db.GetContext(ctx, &dept, query, id); err != nil {
		return nil, err
	}
	return &dept, nil
}

// ExistsByName checks whether a department with the given name exists,
// optionally excluding an ID.
func (r *DepartmentRepository) ExistsByName(ctx context.Context, name string, excludeID string) (bool, error) {
	query := "SELECT 1 FROM departments WHERE LOWER(name) = LOWER($1)"
	args := []interface{}{name}
	if excludeID != "" {
		query += " AND id <> $2"
		args = append(args, excludeID)
	}
	var exists int
	if err := r.db.GetContext(ctx, &exists, query+" LIMIT 1", args...); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check department name: %w", err)
	}
	return true, nil
}

// List returns every department ordered by name.
func (r *DepartmentRepository) List(ctx context.Context) ([]models.Department, error) {
	const query = `SELECT id, name, description, created_at, updated_at FROM departments ORDER BY name ASC`
	var depts []models.Department
	if err := r.db.SelectContext(ctx, &depts, query); err != nil {
		return nil, fmt.Errorf("list departments: %w", err)
	}
	return depts, nil
}

// Update modifies an existing department.
func (r *DepartmentRepository) Update(ctx context.Context, dept *models.Department) error {
	dept.UpdatedAt = time.Now().UTC()
	const query = `UPDATE departments SET name = :name, description = :description, updated_at = :updated_at WHERE id = :id`
	result, err := r.db.NamedExecContext(ctx, query, dept)
	if err != nil {
		return fmt.Errorf("update department: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check updated department rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// DeleteCascade removes a department together with its grievances and their
// owned status updates and attachments, as one transaction. The precondition
// is checked first under lock: if any referencing grievance is in a
// non-terminal status the transaction is rolled back untouched and
// ErrOpenGrievances is returned. The stored file paths of removed attachments
// are returned so the caller can clean up the blob store afterwards.
func (r *DepartmentRepository) DeleteCascade(ctx context.Context, id string) (filePaths []string, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin department delete transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var deptExists int
	if err = tx.GetContext(ctx, &deptExists, `SELECT 1 FROM departments WHERE id = $1 FOR UPDATE`, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("lock department: %w", err)
	}

	var statuses []models.GrievanceStatus
	if err = tx.SelectContext(ctx, &statuses, `SELECT status FROM grievances WHERE department_id = $1 FOR UPDATE`, id); err != nil {
		return nil, fmt.Errorf("load department grievance statuses: %w", err)
	}
	for _, status := range statuses {
		if !status.Terminal() {
			err = ErrOpenGrievances
			return nil, err
		}
	}

	if err = tx.SelectContext(ctx, &filePaths,
		`SELECT a.file_path FROM attachments a JOIN grievances g ON g.id = a.grievance_id WHERE g.department_id = $1`, id); err != nil {
		return nil, fmt.Errorf("load attachment paths: %w", err)
	}

	// Explicit child-first delete order: trail rows, attachments, grievances,
	// then the department itself.
	if _, err = tx.ExecContext(ctx,
		`DELETE FROM status_updates WHERE grievance_id IN (SELECT id FROM grievances WHERE department_id = $1)`, id); err != nil {
		return nil, fmt.Errorf("delete status updates: %w", err)
	}
	if _, err = tx.ExecContext(ctx,
		`DELETE FROM attachments WHERE grievance_id IN (SELECT id FROM grievances WHERE department_id = $1)`, id); err != nil {
		return nil, fmt.Errorf("delete attachments: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM grievances WHERE department_id = $1`, id); err != nil {
		return nil, fmt.Errorf("delete grievances: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM departments WHERE id = $1`, id); err != nil {
		return nil, fmt.Errorf("delete department: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit department delete: %w", err)
	}
	return filePaths, nil
}

package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/campusdesk/grievance-api/internal/models"
)

// GrievanceRepository owns persistence for grievances and their append-only
// status trail and attachments.
type GrievanceRepository struct {
	db *sqlx.DB
}

// NewGrievanceRepository constructs the repository.
func NewGrievanceRepository(db *sqlx.DB) *GrievanceRepository {
	return &GrievanceRepository{db: db}
}

const grievanceColumns = `id, title, description, query_category, status, student_id, department_id, created_at, updated_at`

// CreateWithTrail inserts a grievance and its seed trail entry in one
// transaction. The grievance always starts in pending with a system note.
func (r *GrievanceRepository) CreateWithTrail(ctx context.Context, grievance *models.Grievance) (err error) {
	if grievance.ID == "" {
		grievance.ID = uuid.NewString()
	}
	grievance.Status = models.StatusPending
	now := time.Now().UTC()
	if grievance.CreatedAt.IsZero() {
		grievance.CreatedAt = now
	}
	grievance.UpdatedAt = grievance.CreatedAt

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin grievance create transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const insertGrievance = `INSERT INTO grievances (id, title, description, query_category, status, student_id, department_id, created_at, updated_at)
        VALUES (:id, :title, :description, :query_category, :status, :student_id, :department_id, :created_at, :updated_at)`
	if _, err = tx.NamedExecContext(ctx, insertGrievance, grievance); err != nil {
		return fmt.Errorf("insert grievance: %w", err)
	}

	seedNote := models.SeedStatusNote
	const insertSeed = `INSERT INTO status_updates (id, grievance_id, status, note, created_at)
        VALUES ($1, $2, $3, $4, $5)`
	if _, err = tx.ExecContext(ctx, insertSeed, uuid.NewString(), grievance.ID, models.StatusPending, seedNote, grievance.CreatedAt); err != nil {
		return fmt.Errorf("insert seed status update: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit grievance create: %w", err)
	}
	return nil
}

// FindByID fetches a grievance by identifier.
func (r *GrievanceRepository) FindByID(ctx context.Context, id string) (*models.Grievance, error) {
	query := fmt.Sprintf(`SELECT %s FROM grievances WHERE id = $1`, grievanceColumns)
	var grievance models.Grievance
	if err := r.db.GetContext(ctx, &grievance, query, id); err != nil {
		return nil, err
	}
	return &grievance, nil
}

// FindDetail loads a grievance together with its trail and attachments.
func (r *GrievanceRepository) FindDetail(ctx context.Context, id string) (*models.GrievanceDetail, error) {
	grievance, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	history, err := r.ListHistory(ctx, id)
	if err != nil {
		return nil, err
	}
	attachments, err := r.ListAttachments(ctx, id)
	if err != nil {
		return nil, err
	}
	return &models.GrievanceDetail{Grievance: *grievance, History: history, Attachments: attachments}, nil
}

// List returns grievances matching the filter together with a total count.
func (r *GrievanceRepository) List(ctx context.Context, filter models.GrievanceFilter) ([]models.Grievance, int, error) {
	baseQuery := `FROM grievances WHERE 1=1`
	var conditions []string
	var args []interface{}

	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.DepartmentID != "" {
		conditions = append(conditions, fmt.Sprintf("department_id = $%d", len(args)+1))
		args = append(args, filter.DepartmentID)
	}
	if filter.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, *filter.Status)
	}
	if filter.OpenOnly {
		conditions = append(conditions, fmt.Sprintf("status <> $%d", len(args)+1))
		args = append(args, models.StatusResolved)
	}
	if filter.ResolvedOnly {
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, models.StatusResolved)
	}
	if len(conditions) > 0 {
		baseQuery += " AND " + strings.Join(conditions, " AND ")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf("SELECT %s %s ORDER BY created_at DESC LIMIT %d OFFSET %d", grievanceColumns, baseQuery, size, offset)

	var grievances []models.Grievance
	if err := r.db.SelectContext(ctx, &grievances, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list grievances: %w", err)
	}

	countQuery := "SELECT COUNT(*) " + baseQuery
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count grievances: %w", err)
	}
	return grievances, total, nil
}

// TransitionStatus updates the grievance status and appends the matching
// trail row in one transaction. Concurrent transitions each append their own
// row; the status column itself is last-committed-wins.
func (r *GrievanceRepository) TransitionStatus(ctx context.Context, id string, status models.GrievanceStatus, note *string) (grievance *models.Grievance, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transition transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var current models.Grievance
	selectQuery := fmt.Sprintf(`SELECT %s FROM grievances WHERE id = $1 FOR UPDATE`, grievanceColumns)
	if err = tx.GetContext(ctx, &current, selectQuery, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("lock grievance: %w", err)
	}

	now := time.Now().UTC()
	if _, err = tx.ExecContext(ctx, `UPDATE grievances SET status = $2, updated_at = $3 WHERE id = $1`, id, status, now); err != nil {
		return nil, fmt.Errorf("update grievance status: %w", err)
	}

	const insertUpdate = `INSERT INTO status_updates (id, grievance_id, status, note, created_at)
        VALUES ($1, $2, $3, $4, $5)`
	if _, err = tx.ExecContext(ctx, insertUpdate, uuid.NewString(), id, status, note, now); err != nil {
		return nil, fmt.Errorf("insert status update: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transition: %w", err)
	}

	current.Status = status
	current.UpdatedAt = now
	return &current, nil
}

// AddAttachment records one stored file against a grievance.
func (r *GrievanceRepository) AddAttachment(ctx context.Context, attachment *models.Attachment) error {
	if attachment.ID == "" {
		attachment.ID = uuid.NewString()
	}
	if attachment.UploadedAt.IsZero() {
		attachment.UploadedAt = time.Now().UTC()
	}
	const query = `INSERT INTO attachments (id, grievance_id, filename, file_path, uploaded_at)
        VALUES (:id, :grievance_id, :filename, :file_path, :uploaded_at)`
	if _, err := r.db.NamedExecContext(ctx, query, attachment); err != nil {
		return fmt.Errorf("insert attachment: %w", err)
	}
	return nil
}

// ListAttachments returns a grievance's attachments oldest first.
func (r *GrievanceRepository) ListAttachments(ctx context.Context, grievanceID string) ([]models.Attachment, error) {
	const query = `SELECT id, grievance_id, filename, file_path, uploaded_at FROM attachments WHERE grievance_id = $1 ORDER BY uploaded_at ASC, id ASC`
	var attachments []models.Attachment
	if err := r.db.SelectContext(ctx, &attachments, query, grievanceID); err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	return attachments, nil
}

// ListHistory returns the full status trail oldest first. Ties on created_at
// break by insertion order.
func (r *GrievanceRepository) ListHistory(ctx context.Context, grievanceID string) ([]models.StatusUpdate, error) {
	const query = `SELECT id, grievance_id, status, note, created_at FROM status_updates WHERE grievance_id = $1 ORDER BY created_at ASC, ctid ASC`
	var history []models.StatusUpdate
	if err := r.db.SelectContext(ctx, &history, query, grievanceID); err != nil {
		return nil, fmt.Errorf("list status history: %w", err)
	}
	return history, nil
}

// CountByStudent reports how many grievances a student owns.
func (r *GrievanceRepository) CountByStudent(ctx context.Context, studentID string) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM grievances WHERE student_id = $1`, studentID); err != nil {
		return 0, fmt.Errorf("count grievances by student: %w", err)
	}
	return count, nil
}

// CountByStatus aggregates grievances per status. Statuses with no rows are
// absent here; the service layer zero-fills the full range.
func (r *GrievanceRepository) CountByStatus(ctx context.Context) ([]models.StatusCount, error) {
	const query = `SELECT status, COUNT(*) AS count FROM grievances GROUP BY status`
	var counts []models.StatusCount
	if err := r.db.SelectContext(ctx, &counts, query); err != nil {
		return nil, fmt.Errorf("count grievances by status: %w", err)
	}
	return counts, nil
}

// CountByDepartment aggregates grievances per department name; grievances
// whose department row is missing bucket under "Unknown".
func (r *GrievanceRepository) CountByDepartment(ctx context.Context) ([]models.DepartmentCount, error) {
	const query = `SELECT COALESCE(d.name, 'Unknown') AS department, COUNT(*) AS count
        FROM grievances g LEFT JOIN departments d ON d.id = g.department_id
        GROUP BY COALESCE(d.name, 'Unknown')
        ORDER BY count DESC, department ASC`
	var counts []models.DepartmentCount
	if err := r.db.SelectContext(ctx, &counts, query); err != nil {
		return nil, fmt.Errorf("count grievances by department: %w", err)
	}
	return counts, nil
}

// CountByMonth aggregates grievances per creation month, ascending.
func (r *GrievanceRepository) CountByMonth(ctx context.Context) ([]models.MonthCount, error) {
	const query = `SELECT TO_CHAR(created_at, 'YYYY-MM') AS month, COUNT(*) AS count
        FROM grievances GROUP BY TO_CHAR(created_at, 'YYYY-MM') ORDER BY month ASC`
	var counts []models.MonthCount
	if err := r.db.SelectContext(ctx, &counts, query); err != nil {
		return nil, fmt.Errorf("count grievances by month: %w", err)
	}
	return counts, nil
}

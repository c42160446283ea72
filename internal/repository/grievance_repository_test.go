package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campusdesk/grievance-api/internal/models"
)

func TestGrievanceCreateWithTrail(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewGrievanceRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO grievances").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO status_updates").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), string(models.StatusPending), models.SeedStatusNote, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	grievance := &models.Grievance{
		Title:         "Broken ceiling fan",
		Description:   "The ceiling fan in room 214 has not worked for two weeks despite complaints.",
		QueryCategory: "maintenance",
		StudentID:     "u1",
		DepartmentID:  "d1",
	}
	err := repo.CreateWithTrail(context.Background(), grievance)
	require.NoError(t, err)
	assert.NotEmpty(t, grievance.ID)
	assert.Equal(t, models.StatusPending, grievance.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGrievanceCreateWithTrailRollsBackOnSeedFailure(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewGrievanceRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO grievances").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO status_updates").WillReturnError(sql.ErrConnDone)
	mock.ExpectRollback()

	grievance := &models.Grievance{
		Title:         "Broken ceiling fan",
		Description:   "The ceiling fan in room 214 has not worked for two weeks despite complaints.",
		QueryCategory: "maintenance",
		StudentID:     "u1",
		DepartmentID:  "d1",
	}
	err := repo.CreateWithTrail(context.Background(), grievance)
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGrievanceTransitionStatus(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewGrievanceRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "title", "description", "query_category", "status", "student_id", "department_id", "created_at", "updated_at"}).
		AddRow("g1", "Broken fan", "The ceiling fan in room 214 has not worked for weeks.", "maintenance", string(models.StatusPending), "u1", "d1", now, now)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .+ FROM grievances WHERE id = .+ FOR UPDATE").
		WithArgs("g1").
		WillReturnRows(rows)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE grievances SET status = $2, updated_at = $3 WHERE id = $1")).
		WithArgs("g1", string(models.StatusInProgress), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	note := "Forwarded to maintenance crew"
	mock.ExpectExec("INSERT INTO status_updates").
		WithArgs(sqlmock.AnyArg(), "g1", string(models.StatusInProgress), &note, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	grievance, err := repo.TransitionStatus(context.Background(), "g1", models.StatusInProgress, &note)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, grievance.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGrievanceTransitionStatusNotFound(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewGrievanceRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .+ FROM grievances WHERE id = .+ FOR UPDATE").
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err := repo.TransitionStatus(context.Background(), "ghost", models.StatusClosed, nil)
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGrievanceListOpenOnly(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewGrievanceRepository(db)

	now := time.Now()
	listRows := sqlmock.NewRows([]string{"id", "title", "description", "query_category", "status", "student_id", "department_id", "created_at", "updated_at"}).
		AddRow("g1", "Broken fan", "The ceiling fan in room 214 has not worked for weeks.", "maintenance", string(models.StatusClosed), "u1", "d1", now, now)
	mock.ExpectQuery("SELECT .+ FROM grievances WHERE 1=1 AND status <>").
		WithArgs(string(models.StatusResolved)).
		WillReturnRows(listRows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM grievances WHERE 1=1 AND status <> $1")).
		WithArgs(string(models.StatusResolved)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	grievances, total, err := repo.List(context.Background(), models.GrievanceFilter{OpenOnly: true})
	require.NoError(t, err)
	assert.Len(t, grievances, 1)
	assert.Equal(t, 1, total)
	// closed is still "open" for listing purposes; only resolved is excluded
	assert.Equal(t, models.StatusClosed, grievances[0].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGrievanceCountByStudent(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewGrievanceRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM grievances WHERE student_id = $1")).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	count, err := repo.CountByStudent(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGrievanceCountByDepartment(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewGrievanceRepository(db)

	rows := sqlmock.NewRows([]string{"department", "count"}).
		AddRow("Hostel Affairs", 4).
		AddRow("Unknown", 1)
	mock.ExpectQuery("SELECT COALESCE").WillReturnRows(rows)

	counts, err := repo.CountByDepartment(context.Background())
	require.NoError(t, err)
	require.Len(t, counts, 2)
	assert.Equal(t, "Unknown", counts[1].Department)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGrievanceCountByMonth(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewGrievanceRepository(db)

	rows := sqlmock.NewRows([]string{"month", "count"}).
		AddRow("2026-01", 2).
		AddRow("2026-02", 5)
	mock.ExpectQuery("SELECT TO_CHAR").WillReturnRows(rows)

	counts, err := repo.CountByMonth(context.Background())
	require.NoError(t, err)
	require.Len(t, counts, 2)
	assert.Equal(t, "2026-01", counts[0].Month)
	assert.NoError(t, mock.ExpectationsWereMet())
}

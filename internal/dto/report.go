package dto

import "github.com/campusdesk/grievance-api/internal/models"

// ReportSummaryResponse aggregates the ledger for the admin reports view.
// ByStatus always contains all six statuses; ByMonth is sorted ascending by
// month key.
type ReportSummaryResponse struct {
	ByStatus     []models.StatusCount     `json:"by_status"`
	ByDepartment []models.DepartmentCount `json:"by_department"`
	ByMonth      []models.MonthCount      `json:"by_month"`
	Total        int                      `json:"total"`
}

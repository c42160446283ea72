package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/campusdesk/grievance-api/internal/dto"
	"github.com/campusdesk/grievance-api/internal/models"
	appErrors "github.com/campusdesk/grievance-api/pkg/errors"
	"github.com/campusdesk/grievance-api/pkg/export"
)

const (
	reportCachePattern = "reports:*"
	reportSummaryKey   = "reports:summary"
)

// ExportFormat selects the rendering of a report download.
type ExportFormat string

const (
	ExportCSV ExportFormat = "csv"
	ExportPDF ExportFormat = "pdf"
)

type reportRepository interface {
	CountByStatus(ctx context.Context) ([]models.StatusCount, error)
	CountByDepartment(ctx context.Context) ([]models.DepartmentCount, error)
	CountByMonth(ctx context.Context) ([]models.MonthCount, error)
}

type reportExporter interface {
	Render(data export.Dataset) ([]byte, error)
}

// ReportService aggregates the grievance ledger for administrators.
type ReportService struct {
	repo     reportRepository
	gate     *AuthorizationService
	cache    *CacheService
	csv      reportExporter
	pdf      reportExporter
	cacheTTL time.Duration
	logger   *zap.Logger
}

// NewReportService constructs a ReportService.
func NewReportService(repo reportRepository, gate *AuthorizationService, cache *CacheService, csv, pdf reportExporter, cacheTTL time.Duration, logger *zap.Logger) *ReportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReportService{repo: repo, gate: gate, cache: cache, csv: csv, pdf: pdf, cacheTTL: cacheTTL, logger: logger}
}

// Summary computes the three standard aggregations over the whole ledger.
// The by-status section always lists all six statuses, zero counts included;
// by-month buckets come back sorted ascending by YYYY-MM key.
func (s *ReportService) Summary(ctx context.Context, caller models.Caller) (*dto.ReportSummaryResponse, error) {
	if err := s.gate.CanViewReports(caller); err != nil {
		return nil, err
	}

	var cached dto.ReportSummaryResponse
	if s.cache != nil {
		if hit, err := s.cache.Get(ctx, reportSummaryKey, &cached); err == nil && hit {
			return &cached, nil
		}
	}

	byStatus, err := s.repo.CountByStatus(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to aggregate by status")
	}
	byDepartment, err := s.repo.CountByDepartment(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to aggregate by department")
	}
	byMonth, err := s.repo.CountByMonth(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to aggregate by month")
	}

	summary := &dto.ReportSummaryResponse{
		ByStatus:     zeroFillStatuses(byStatus),
		ByDepartment: byDepartment,
		ByMonth:      byMonth,
	}
	for _, bucket := range summary.ByStatus {
		summary.Total += bucket.Count
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, reportSummaryKey, summary, s.cacheTTL); err != nil {
			s.logger.Warn("failed to cache report summary", zap.Error(err))
		}
	}
	return summary, nil
}

// Export renders the summary as a downloadable document.
func (s *ReportService) Export(ctx context.Context, caller models.Caller, format ExportFormat) ([]byte, string, error) {
	summary, err := s.Summary(ctx, caller)
	if err != nil {
		return nil, "", err
	}

	dataset := summaryDataset(summary)
	switch format {
	case ExportCSV:
		payload, err := s.csv.Render(dataset)
		if err != nil {
			return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv")
		}
		return payload, "text/csv", nil
	case ExportPDF:
		payload, err := s.pdf.Render(dataset)
		if err != nil {
			return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render pdf")
		}
		return payload, "application/pdf", nil
	default:
		return nil, "", appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export format %q", format))
	}
}

// zeroFillStatuses maps sparse aggregation rows onto the full status range
// in display order.
func zeroFillStatuses(rows []models.StatusCount) []models.StatusCount {
	byStatus := make(map[models.GrievanceStatus]int, len(rows))
	for _, row := range rows {
		byStatus[row.Status] = row.Count
	}
	out := make([]models.StatusCount, 0, 6)
	for _, status := range models.AllStatuses() {
		out = append(out, models.StatusCount{Status: status, Count: byStatus[status]})
	}
	return out
}

func summaryDataset(summary *dto.ReportSummaryResponse) export.Dataset {
	headers := []string{"Section", "Bucket", "Count"}
	rows := make([]map[string]string, 0, len(summary.ByStatus)+len(summary.ByDepartment)+len(summary.ByMonth)+1)
	for _, bucket := range summary.ByStatus {
		rows = append(rows, map[string]string{
			"Section": "By Status",
			"Bucket":  bucket.Status.Label(),
			"Count":   strconv.Itoa(bucket.Count),
		})
	}
	for _, bucket := range summary.ByDepartment {
		rows = append(rows, map[string]string{
			"Section": "By Department",
			"Bucket":  bucket.Department,
			"Count":   strconv.Itoa(bucket.Count),
		})
	}
	for _, bucket := range summary.ByMonth {
		rows = append(rows, map[string]string{
			"Section": "By Month",
			"Bucket":  bucket.Month,
			"Count":   strconv.Itoa(bucket.Count),
		})
	}
	rows = append(rows, map[string]string{
		"Section": "Total",
		"Bucket":  "All",
		"Count":   strconv.Itoa(summary.Total),
	})
	return export.Dataset{
		Title:   "Grievance Report Summary",
		Headers: headers,
		Rows:    rows,
	}
}

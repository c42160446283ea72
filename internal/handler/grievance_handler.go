package handler

import (
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/campusdesk/grievance-api/internal/dto"
	"github.com/campusdesk/grievance-api/internal/models"
	"github.com/campusdesk/grievance-api/internal/service"
	appErrors "github.com/campusdesk/grievance-api/pkg/errors"
	"github.com/campusdesk/grievance-api/pkg/response"
)

// GrievanceHandler exposes grievance lifecycle endpoints.
type GrievanceHandler struct {
	grievances *service.GrievanceService
}

// NewGrievanceHandler constructs GrievanceHandler.
func NewGrievanceHandler(grievances *service.GrievanceService) *GrievanceHandler {
	return &GrievanceHandler{grievances: grievances}
}

// Create godoc
// @Summary Submit a grievance
// @Description Multipart submission carrying the ticket fields plus up to five files under "attachments". Each file's outcome is reported individually; a failed file never fails the ticket.
// @Tags Grievances
// @Accept mpfd
// @Produce json
// @Security BearerAuth
// @Param title formData string false "Title"
// @Param description formData string true "Description (20-3000 characters)"
// @Param query_category formData string true "Category"
// @Param department_id formData string true "Target department"
// @Param student_id formData string false "Owner (defaults to the caller)"
// @Param attachments formData file false "Attachment files"
// @Success 201 {object} response.Envelope
// @Router /grievances [post]
func (h *GrievanceHandler) Create(c *gin.Context) {
	caller := callerFromContext(c)

	req := service.CreateGrievanceRequest{
		Title:         c.PostForm("title"),
		Description:   c.PostForm("description"),
		QueryCategory: c.PostForm("query_category"),
		StudentID:     c.PostForm("student_id"),
		DepartmentID:  c.PostForm("department_id"),
	}
	if req.StudentID == "" {
		req.StudentID = caller.ID
	}

	files, closeFiles, err := formUploads(c)
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid attachment upload"))
		return
	}
	defer closeFiles()

	resp, err := h.grievances.Create(c.Request.Context(), caller, req, files)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, resp)
}

// Get godoc
// @Summary Get a grievance with trail and attachments
// @Tags Grievances
// @Produce json
// @Security BearerAuth
// @Param id path string true "Grievance ID"
// @Success 200 {object} response.Envelope
// @Router /grievances/{id} [get]
func (h *GrievanceHandler) Get(c *gin.Context) {
	detail, err := h.grievances.Get(c.Request.Context(), callerFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, detail, nil)
}

// List godoc
// @Summary List grievances
// @Tags Grievances
// @Produce json
// @Security BearerAuth
// @Param status query string false "Filter by status"
// @Param studentId query string false "Filter by student (admins only; students always see their own)"
// @Param departmentId query string false "Filter by department"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /grievances [get]
func (h *GrievanceHandler) List(c *gin.Context) {
	filter := grievanceFilterFromQuery(c)
	h.respondList(c, h.grievances.List, filter)
}

// ListOpen godoc
// @Summary List open grievances
// @Description Open means any status other than resolved; closed grievances still appear here.
// @Tags Grievances
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /grievances/open [get]
func (h *GrievanceHandler) ListOpen(c *gin.Context) {
	filter := grievanceFilterFromQuery(c)
	h.respondList(c, h.grievances.ListOpen, filter)
}

// ListResolved godoc
// @Summary List resolved grievances
// @Tags Grievances
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /grievances/resolved [get]
func (h *GrievanceHandler) ListResolved(c *gin.Context) {
	filter := grievanceFilterFromQuery(c)
	h.respondList(c, h.grievances.ListResolved, filter)
}

// Transition godoc
// @Summary Change grievance status
// @Description Appends a trail entry; any valid status may follow any other.
// @Tags Grievances
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Grievance ID"
// @Param payload body dto.TransitionRequest true "Target status and optional note"
// @Success 200 {object} response.Envelope
// @Router /grievances/{id}/status [post]
func (h *GrievanceHandler) Transition(c *gin.Context) {
	var req dto.TransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	grievance, err := h.grievances.Transition(c.Request.Context(), callerFromContext(c), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.NewGrievanceView(*grievance), nil)
}

// Attach godoc
// @Summary Add attachments to a grievance
// @Tags Grievances
// @Accept mpfd
// @Produce json
// @Security BearerAuth
// @Param id path string true "Grievance ID"
// @Param attachments formData file true "Attachment files"
// @Success 200 {object} response.Envelope
// @Router /grievances/{id}/attachments [post]
func (h *GrievanceHandler) Attach(c *gin.Context) {
	files, closeFiles, err := formUploads(c)
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid attachment upload"))
		return
	}
	defer closeFiles()

	outcomes, err := h.grievances.Attach(c.Request.Context(), callerFromContext(c), c.Param("id"), files)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, outcomes, nil)
}

// DownloadAttachment godoc
// @Summary Download one attachment of a grievance
// @Tags Grievances
// @Produce octet-stream
// @Security BearerAuth
// @Param id path string true "Grievance ID"
// @Param attachmentId path string true "Attachment ID"
// @Success 200 {file} file
// @Router /grievances/{id}/attachments/{attachmentId} [get]
func (h *GrievanceHandler) DownloadAttachment(c *gin.Context) {
	file, attachment, err := h.grievances.Download(c.Request.Context(), callerFromContext(c), c.Param("id"), c.Param("attachmentId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	defer file.Close() //nolint:errcheck

	headers := map[string]string{
		"Content-Disposition": fmt.Sprintf("attachment; filename=%q", attachment.Filename),
	}
	c.DataFromReader(http.StatusOK, -1, "application/octet-stream", file, headers)
}

// History godoc
// @Summary Get the status trail of a grievance
// @Tags Grievances
// @Produce json
// @Security BearerAuth
// @Param id path string true "Grievance ID"
// @Success 200 {object} response.Envelope
// @Router /grievances/{id}/history [get]
func (h *GrievanceHandler) History(c *gin.Context) {
	history, err := h.grievances.History(c.Request.Context(), callerFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, history, nil)
}

func (h *GrievanceHandler) respondList(c *gin.Context, list func(ctx context.Context, caller models.Caller, filter models.GrievanceFilter) ([]models.Grievance, int, error), filter models.GrievanceFilter) {
	grievances, total, err := list(c.Request.Context(), callerFromContext(c), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	views := make([]dto.GrievanceView, 0, len(grievances))
	for _, g := range grievances {
		views = append(views, dto.NewGrievanceView(g))
	}
	response.JSON(c, http.StatusOK, views, &models.Pagination{
		Page:       filter.Page,
		PageSize:   filter.PageSize,
		TotalCount: total,
	})
}

func grievanceFilterFromQuery(c *gin.Context) models.GrievanceFilter {
	var filter models.GrievanceFilter
	if status := c.Query("status"); status != "" {
		s := models.GrievanceStatus(status)
		filter.Status = &s
	}
	filter.StudentID = c.Query("studentId")
	filter.DepartmentID = c.Query("departmentId")
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}
	return filter
}

// formUploads opens every file posted under the "attachments" field. The
// returned closer releases the handles after the service has streamed them.
func formUploads(c *gin.Context) ([]service.AttachmentUpload, func(), error) {
	form, err := c.MultipartForm()
	if err != nil {
		if err == http.ErrNotMultipart {
			return nil, func() {}, nil
		}
		return nil, func() {}, err
	}

	fileHeaders := form.File["attachments"]
	if len(fileHeaders) == 0 {
		return nil, func() {}, nil
	}

	uploads := make([]service.AttachmentUpload, 0, len(fileHeaders))
	opened := make([]multipart.File, 0, len(fileHeaders))
	closeAll := func() {
		for _, f := range opened {
			_ = f.Close()
		}
	}

	for _, header := range fileHeaders {
		file, err := header.Open()
		if err != nil {
			closeAll()
			return nil, func() {}, err
		}
		opened = append(opened, file)
		uploads = append(uploads, service.AttachmentUpload{Filename: header.Filename, Content: file})
	}
	return uploads, closeAll, nil
}

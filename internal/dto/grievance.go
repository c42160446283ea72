package dto

import "github.com/campusdesk/grievance-api/internal/models"

// AttachmentOutcome reports the result of persisting one file from a batch.
type AttachmentOutcome struct {
	Filename     string `json:"filename"`
	Uploaded     bool   `json:"uploaded"`
	AttachmentID string `json:"attachment_id,omitempty"`
	Reason       string `json:"reason,omitempty"`
}

// CreateGrievanceResponse is the structured result of ticket creation: the
// ticket itself plus a per-file report of the attachment batch.
type CreateGrievanceResponse struct {
	Grievance   models.Grievance    `json:"grievance"`
	Attachments []AttachmentOutcome `json:"attachments,omitempty"`
}

// TransitionRequest is the payload for a status transition.
type TransitionRequest struct {
	Status string  `json:"status" validate:"required"`
	Note   *string `json:"note,omitempty"`
}

// GrievanceView decorates a grievance with its display label.
type GrievanceView struct {
	models.Grievance
	StatusLabel string `json:"status_label"`
}

// NewGrievanceView builds the labelled view.
func NewGrievanceView(g models.Grievance) GrievanceView {
	return GrievanceView{Grievance: g, StatusLabel: g.Status.Label()}
}

package models

import "time"

// GrievanceStatus enumerates the lifecycle states of a grievance.
type GrievanceStatus string

const (
	StatusPending     GrievanceStatus = "pending"
	StatusInProgress  GrievanceStatus = "in_progress"
	StatusAssigned    GrievanceStatus = "assigned"
	StatusUnderReview GrievanceStatus = "under_review"
	StatusResolved    GrievanceStatus = "resolved"
	StatusClosed      GrievanceStatus = "closed"
)

// AllStatuses lists every status in display order.
func AllStatuses() []GrievanceStatus {
	return []GrievanceStatus{
		StatusPending,
		StatusInProgress,
		StatusAssigned,
		StatusUnderReview,
		StatusResolved,
		StatusClosed,
	}
}

var statusLabels = map[GrievanceStatus]string{
	StatusPending:     "Pending",
	StatusInProgress:  "In Progress",
	StatusAssigned:    "Assigned to Department",
	StatusUnderReview: "Under Review",
	StatusResolved:    "Resolved",
	StatusClosed:      "Closed",
}

// Valid reports whether the status is one of the six enumerated values.
// Any valid status may transition to any other valid status; there is no
// forbidden-edge table.
func (s GrievanceStatus) Valid() bool {
	_, ok := statusLabels[s]
	return ok
}

// Label returns the external display label for the status.
func (s GrievanceStatus) Label() string {
	if label, ok := statusLabels[s]; ok {
		return label
	}
	return string(s)
}

// Terminal reports whether the status permits department deletion. The data
// layer itself never blocks further transitions out of these states.
func (s GrievanceStatus) Terminal() bool {
	return s == StatusResolved || s == StatusClosed
}

// SeedStatusNote is the system-generated note attached to the first trail
// entry of every grievance.
const SeedStatusNote = "Grievance submitted"

// Grievance is a ticket raised by a student against a department. StudentID
// and DepartmentID are set at creation and never change.
type Grievance struct {
	ID            string          `db:"id" json:"id"`
	Title         string          `db:"title" json:"title"`
	Description   string          `db:"description" json:"description"`
	QueryCategory string          `db:"query_category" json:"query_category"`
	Status        GrievanceStatus `db:"status" json:"status"`
	StudentID     string          `db:"student_id" json:"student_id"`
	DepartmentID  string          `db:"department_id" json:"department_id"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updated_at"`
}

// StatusUpdate is an immutable audit-trail entry recording one status
// transition. Rows are only ever appended, and only removed when the owning
// grievance is deleted.
type StatusUpdate struct {
	ID          string          `db:"id" json:"id"`
	GrievanceID string          `db:"grievance_id" json:"grievance_id"`
	Status      GrievanceStatus `db:"status" json:"status"`
	Note        *string         `db:"note" json:"note,omitempty"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
}

// Attachment records a stored file reference belonging to a grievance.
type Attachment struct {
	ID          string    `db:"id" json:"id"`
	GrievanceID string    `db:"grievance_id" json:"grievance_id"`
	Filename    string    `db:"filename" json:"filename"`
	FilePath    string    `db:"file_path" json:"file_path"`
	UploadedAt  time.Time `db:"uploaded_at" json:"uploaded_at"`
}

// GrievanceDetail is a grievance together with its owned collections.
type GrievanceDetail struct {
	Grievance
	History     []StatusUpdate `json:"history"`
	Attachments []Attachment   `json:"attachments"`
}

// GrievanceFilter captures listing criteria for grievances.
type GrievanceFilter struct {
	StudentID    string
	DepartmentID string
	Status       *GrievanceStatus
	OpenOnly     bool
	ResolvedOnly bool
	Page         int
	PageSize     int
}

// StatusCount is one bucket of the by-status aggregation.
type StatusCount struct {
	Status GrievanceStatus `db:"status" json:"status"`
	Count  int             `db:"count" json:"count"`
}

// DepartmentCount is one bucket of the by-department aggregation.
type DepartmentCount struct {
	Department string `db:"department" json:"department"`
	Count      int    `db:"count" json:"count"`
}

// MonthCount is one bucket of the by-month aggregation, keyed YYYY-MM.
type MonthCount struct {
	Month string `db:"month" json:"month"`
	Count int    `db:"count" json:"count"`
}

package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/campusdesk/grievance-api/internal/models"
	"github.com/campusdesk/grievance-api/pkg/jobs"
	"github.com/campusdesk/grievance-api/pkg/mailer"
)

const (
	jobGrievanceCreated       = "grievance.created"
	jobGrievanceStatusChanged = "grievance.status_changed"
)

type notificationUserFinder interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

type notificationPayload struct {
	Grievance models.Grievance
	Note      *string
}

// NotificationService delivers email notifications about grievance events
// through a background worker pool. Delivery is strictly fire-and-forget:
// enqueueing and sending failures are logged and counted, never returned to
// the grievance flow.
type NotificationService struct {
	queue   *jobs.Queue
	mailer  *mailer.Mailer
	users   notificationUserFinder
	metrics *MetricsService
	logger  *zap.Logger
}

// NewNotificationService constructs the service and its queue. Call Start
// before enqueueing events and Stop during shutdown.
func NewNotificationService(m *mailer.Mailer, users notificationUserFinder, metrics *MetricsService, logger *zap.Logger, cfg jobs.QueueConfig) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &NotificationService{mailer: m, users: users, metrics: metrics, logger: logger}
	if cfg.Logger == nil {
		cfg.Logger = logger
	}
	s.queue = jobs.NewQueue("notifications", s.handle, cfg)
	return s
}

// Start launches the delivery workers.
func (s *NotificationService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains the workers.
func (s *NotificationService) Stop() {
	s.queue.Stop()
}

// GrievanceCreated queues a submission acknowledgement for the owner.
func (s *NotificationService) GrievanceCreated(grievance models.Grievance) {
	s.enqueue(jobGrievanceCreated, notificationPayload{Grievance: grievance})
}

// GrievanceStatusChanged queues a status-change notice for the owner.
func (s *NotificationService) GrievanceStatusChanged(grievance models.Grievance, note *string) {
	s.enqueue(jobGrievanceStatusChanged, notificationPayload{Grievance: grievance, Note: note})
}

func (s *NotificationService) enqueue(jobType string, payload notificationPayload) {
	err := s.queue.Enqueue(jobs.Job{
		ID:      uuid.NewString(),
		Type:    jobType,
		Payload: payload,
	})
	if err != nil {
		if s.metrics != nil {
			s.metrics.RecordNotification("dropped")
		}
		s.logger.Warn("failed to enqueue notification",
			zap.String("type", jobType),
			zap.String("grievance_id", payload.Grievance.ID),
			zap.Error(err))
	}
}

func (s *NotificationService) handle(ctx context.Context, job jobs.Job) error {
	payload, ok := job.Payload.(notificationPayload)
	if !ok {
		s.logger.Error("unexpected notification payload", zap.String("job_id", job.ID), zap.String("type", job.Type))
		return nil
	}

	if !s.mailer.Enabled() {
		s.logger.Debug("mailer disabled, skipping notification", zap.String("grievance_id", payload.Grievance.ID))
		return nil
	}

	user, err := s.users.FindByID(ctx, payload.Grievance.StudentID)
	if err != nil {
		return fmt.Errorf("resolve notification recipient: %w", err)
	}

	subject, body := s.compose(job.Type, payload, user.DisplayName)
	if err := s.mailer.Send(user.Email, subject, body); err != nil {
		if s.metrics != nil {
			s.metrics.RecordNotification("failed")
		}
		return fmt.Errorf("send notification mail: %w", err)
	}

	if s.metrics != nil {
		s.metrics.RecordNotification("sent")
	}
	s.logger.Info("notification sent",
		zap.String("type", job.Type),
		zap.String("grievance_id", payload.Grievance.ID))
	return nil
}

func (s *NotificationService) compose(jobType string, payload notificationPayload, displayName string) (string, string) {
	grievance := payload.Grievance
	switch jobType {
	case jobGrievanceStatusChanged:
		subject := fmt.Sprintf("Your grievance %q is now %s", grievance.Title, grievance.Status.Label())
		body := fmt.Sprintf("Hello %s,\n\nThe status of your grievance %q has changed to %s.",
			displayName, grievance.Title, grievance.Status.Label())
		if payload.Note != nil && *payload.Note != "" {
			body += fmt.Sprintf("\n\nNote from the handling team: %s", *payload.Note)
		}
		body += "\n\nGrievance Desk"
		return subject, body
	default:
		subject := fmt.Sprintf("Grievance received: %s", grievance.Title)
		body := fmt.Sprintf("Hello %s,\n\nYour grievance %q has been received and is %s.\nWe will keep you posted as it progresses.\n\nGrievance Desk",
			displayName, grievance.Title, grievance.Status.Label())
		return subject, body
	}
}

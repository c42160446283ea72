package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campusdesk/grievance-api/internal/models"
	"github.com/campusdesk/grievance-api/pkg/config"
	"github.com/campusdesk/grievance-api/pkg/jobs"
	"github.com/campusdesk/grievance-api/pkg/mailer"
)

type stubUserFinder struct {
	user *models.User
	err  error
}

func (f *stubUserFinder) FindByID(_ context.Context, _ string) (*models.User, error) {
	return f.user, f.err
}

func newNotificationService(users notificationUserFinder) *NotificationService {
	// Zero SMTP config keeps the mailer disabled so no delivery is attempted.
	return NewNotificationService(mailer.New(config.SMTPConfig{}), users, nil, nil, jobs.QueueConfig{})
}

func TestNotificationComposeStatusChange(t *testing.T) {
	svc := newNotificationService(&stubUserFinder{})
	note := "Forwarded to the hostel warden"
	payload := notificationPayload{
		Grievance: models.Grievance{ID: "g1", Title: "Leaking roof", Status: models.StatusAssigned, StudentID: "u1"},
		Note:      &note,
	}

	subject, body := svc.compose(jobGrievanceStatusChanged, payload, "Ada")

	assert.Equal(t, `Your grievance "Leaking roof" is now Assigned to Department`, subject)
	assert.Contains(t, body, "Hello Ada")
	assert.Contains(t, body, "Assigned to Department")
	assert.Contains(t, body, note)
}

func TestNotificationComposeCreated(t *testing.T) {
	svc := newNotificationService(&stubUserFinder{})
	payload := notificationPayload{
		Grievance: models.Grievance{ID: "g1", Title: "Leaking roof", Status: models.StatusPending, StudentID: "u1"},
	}

	subject, body := svc.compose(jobGrievanceCreated, payload, "Ada")

	assert.Equal(t, "Grievance received: Leaking roof", subject)
	assert.Contains(t, body, "Pending")
	assert.NotContains(t, body, "Note from the handling team")
}

func TestNotificationHandleSkipsWhenMailerDisabled(t *testing.T) {
	// The recipient lookup would fail, but a disabled mailer short-circuits
	// before it is consulted.
	svc := newNotificationService(&stubUserFinder{err: errors.New("db down")})

	err := svc.handle(context.Background(), jobs.Job{
		ID:      "j1",
		Type:    jobGrievanceCreated,
		Payload: notificationPayload{Grievance: models.Grievance{ID: "g1", StudentID: "u1"}},
	})

	require.NoError(t, err)
}

func TestNotificationHandleIgnoresForeignPayload(t *testing.T) {
	svc := newNotificationService(&stubUserFinder{})

	err := svc.handle(context.Background(), jobs.Job{ID: "j1", Type: jobGrievanceCreated, Payload: "bogus"})

	require.NoError(t, err)
}

func TestNotificationEnqueueBeforeStartIsSwallowed(t *testing.T) {
	svc := newNotificationService(&stubUserFinder{})

	// The queue has not been started, so enqueueing fails internally. The
	// producer-facing methods must absorb that without panicking.
	assert.NotPanics(t, func() {
		svc.GrievanceCreated(models.Grievance{ID: "g1", StudentID: "u1"})
		svc.GrievanceStatusChanged(models.Grievance{ID: "g1", StudentID: "u1"}, nil)
	})
}

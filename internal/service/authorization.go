package service

import (
	"fmt"

	"github.com/campusdesk/grievance-api/internal/models"
	appErrors "github.com/campusdesk/grievance-api/pkg/errors"
)

// AuthorizationService answers capability questions about a caller. Every
// decision takes the caller explicitly; the service holds no request state
// and is usable from any transport.
//
// Ownership mismatches uniformly yield ErrForbidden rather than ErrNotFound,
// so a student probing another student's grievance IDs learns nothing about
// whether they exist.
type AuthorizationService struct{}

// NewAuthorizationService constructs the gate.
func NewAuthorizationService() *AuthorizationService {
	return &AuthorizationService{}
}

// CanSubmitGrievance decides whether caller may create a grievance owned by
// studentID. Students may only file for themselves; admins may file on a
// student's behalf.
func (s *AuthorizationService) CanSubmitGrievance(caller models.Caller, studentID string) error {
	switch caller.Role {
	case models.RoleAdmin:
		return nil
	case models.RoleStudent:
		if caller.ID == studentID {
			return nil
		}
		return appErrors.Clone(appErrors.ErrForbidden, "students may only submit grievances for themselves")
	default:
		return appErrors.Clone(appErrors.ErrForbidden, fmt.Sprintf("unknown role %q", caller.Role))
	}
}

// CanViewGrievance decides whether caller may read the grievance, its trail,
// or its attachments. Admins see everything; students only their own.
func (s *AuthorizationService) CanViewGrievance(caller models.Caller, grievance *models.Grievance) error {
	if caller.Role == models.RoleAdmin {
		return nil
	}
	if caller.Role == models.RoleStudent && grievance.StudentID == caller.ID {
		return nil
	}
	return appErrors.Clone(appErrors.ErrForbidden, "not allowed to access this grievance")
}

// CanAttachToGrievance decides whether caller may add files to the grievance.
// Same rule as viewing: the owning student or an admin. Attaching is allowed
// in every status, including resolved and closed.
func (s *AuthorizationService) CanAttachToGrievance(caller models.Caller, grievance *models.Grievance) error {
	return s.CanViewGrievance(caller, grievance)
}

// CanTransitionGrievance decides whether caller may change grievance status.
// Only admins move grievances through the lifecycle; owners cannot.
func (s *AuthorizationService) CanTransitionGrievance(caller models.Caller) error {
	if caller.Role == models.RoleAdmin {
		return nil
	}
	return appErrors.Clone(appErrors.ErrForbidden, "only administrators may change grievance status")
}

// CanManageDepartments decides whether caller may create, update, or delete
// departments. The open-grievance deletion rule is enforced in the data
// layer and binds admins too.
func (s *AuthorizationService) CanManageDepartments(caller models.Caller) error {
	if caller.Role == models.RoleAdmin {
		return nil
	}
	return appErrors.Clone(appErrors.ErrForbidden, "only administrators may manage departments")
}

// CanManageUsers decides whether caller may administer user accounts.
func (s *AuthorizationService) CanManageUsers(caller models.Caller) error {
	if caller.Role == models.RoleAdmin {
		return nil
	}
	return appErrors.Clone(appErrors.ErrForbidden, "only administrators may manage users")
}

// CanViewReports decides whether caller may read ledger-wide aggregates.
func (s *AuthorizationService) CanViewReports(caller models.Caller) error {
	if caller.Role == models.RoleAdmin {
		return nil
	}
	return appErrors.Clone(appErrors.ErrForbidden, "only administrators may view reports")
}

// CanViewUser decides whether caller may read a user profile. Users may read
// their own profile; admins may read any.
func (s *AuthorizationService) CanViewUser(caller models.Caller, userID string) error {
	if caller.Role == models.RoleAdmin || caller.ID == userID {
		return nil
	}
	return appErrors.Clone(appErrors.ErrForbidden, "not allowed to access this user")
}

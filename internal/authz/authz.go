// Package authz defines the Permission Oracle capability (§1, §4.C): an
// external collaborator that resolves a user's effective role on a
// project, honoring group memberships and an admin short-circuit. This
// package defines the contract and a deterministic-fingerprint API key
// index (Design Note §9); the slow per-key verification and the
// user/role directory themselves are non-goals, implemented elsewhere.
package authz

import (
	"context"

	"github.com/edgeserve/edgeserve/internal/model"
)

// AuthContext is the caller identity attached to an incoming request by
// the (external, non-goal) authentication layer.
type AuthContext struct {
	UserID          model.ID
	IsAdmin         bool
	Role            model.Role
	APIKeyProjectID *model.ID
}

// Oracle resolves effective project roles. Implementations may consult a
// group-membership directory and short-circuit for platform admins; none
// of that is specified here.
type Oracle interface {
	// ProjectRole returns the effective role userID holds on projectID, or
	// false if the user has no access at all.
	ProjectRole(ctx context.Context, userID model.ID, projectID model.ID) (model.Role, bool)
}

// Authorize reports whether auth satisfies requiredRole on projectID.
// Admins are always authorized; an API-key-scoped AuthContext is
// authorized only for the project its key belongs to; every other caller
// is judged by the role oracle returns. auth.Role is not consulted.
func Authorize(ctx context.Context, oracle Oracle, auth AuthContext, projectID model.ID, requiredRole model.Role) bool {
	if auth.IsAdmin {
		return true
	}
	if auth.APIKeyProjectID != nil {
		return *auth.APIKeyProjectID == projectID
	}
	role, ok := oracle.ProjectRole(ctx, auth.UserID, projectID)
	if !ok {
		return false
	}
	return role.Satisfies(requiredRole)
}

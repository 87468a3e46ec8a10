package permission

import (
	"context"

	"github.com/xray/xray/internal/platform/auth"
)

// DefaultGrants maps roles to the codenames they hold when no remote
// authorization service is configured. "admin" holds every permission.
func DefaultGrants() map[string][]string {
	return map[string][]string{
		"radiologist": {ViewXRay, AddXRay, ChangeXRay, DeleteXRay},
		"technician":  {ViewXRay, AddXRay, ChangeXRay},
		"physician":   {ViewXRay},
		"viewer":      {ViewXRay},
	}
}

// RoleChecker decides from the roles carried on the request context.
type RoleChecker struct {
	grants map[string]map[string]bool
}

func NewRoleChecker(grants map[string][]string) *RoleChecker {
	idx := make(map[string]map[string]bool, len(grants))
	for role, codes := range grants {
		set := make(map[string]bool, len(codes))
		for _, c := range codes {
			set[c] = true
		}
		idx[role] = set
	}
	return &RoleChecker{grants: idx}
}

func (r *RoleChecker) HasPermission(ctx context.Context, codename string) (bool, error) {
	roles := auth.RolesFromContext(ctx)
	if len(roles) == 0 && auth.UserIDFromContext(ctx) == "" {
		return false, ErrUnauthenticated
	}
	for _, role := range roles {
		if role == "admin" || r.grants[role][codename] {
			return true, nil
		}
	}
	return false, nil
}

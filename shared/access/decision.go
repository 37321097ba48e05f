// Package access decides whether a resolved request may act, and composes the
// per-request resolution pipeline that feeds the decision.
package access

import (
	"github.com/pavitra93/thinkats-access/shared/elevation"
	"github.com/pavitra93/thinkats-access/shared/identity"
	"github.com/pavitra93/thinkats-access/shared/models"
)

// Reason is the machine-readable code carried by every deny
type Reason string

const (
	ReasonUnauthenticated   Reason = "unauthenticated"
	ReasonNotProvisioned    Reason = "not_provisioned"
	ReasonNoTenant          Reason = "no_tenant"
	ReasonTenantInactive    Reason = "tenant_inactive"
	ReasonElevationRequired Reason = "elevation_required"
	ReasonNoAccess          Reason = "no_access"
	ReasonInsufficientRole  Reason = "insufficient_role"

	// ReasonTenantNotFound is the integrity outcome for a host naming no tenant.
	// It is not a policy deny and is answered with 404.
	ReasonTenantNotFound Reason = "tenant_not_found"
)

// Rule is what a route demands of the caller. Roles empty means any member.
type Rule struct {
	RequireTenant    bool
	RequireElevation bool
	Roles            []models.Role
}

// Decision is allow(effectiveRole) or deny(reason)
type Decision struct {
	Allowed       bool        `json:"allowed"`
	Reason        Reason      `json:"reason,omitempty"`
	EffectiveRole models.Role `json:"effective_role,omitempty"`
	Bypass        bool        `json:"bypass,omitempty"`
}

// Allow grants with role
func Allow(role models.Role) Decision {
	return Decision{Allowed: true, EffectiveRole: role}
}

// Deny refuses with reason
func Deny(reason Reason) Decision {
	return Decision{Reason: reason}
}

// Outcome is "allow" or "deny", for metrics labels
func (d Decision) Outcome() string {
	if d.Allowed {
		return "allow"
	}
	return "deny"
}

// CheckAccess evaluates rule for principal acting in tenant. Memberships are read from
// the principal, which is loaded from the store on every request.
//
// Tenant lifecycle applies to super-admins too; their bypass covers membership only.
// A rule without RequireTenant ignores tenant entirely.
func CheckAccess(p *identity.Principal, tenant *models.Tenant, elevated elevation.State, rule Rule, superAdminRole models.Role) Decision {
	if p == nil {
		return Deny(ReasonUnauthenticated)
	}
	if !p.Provisioned() && !p.IsSuperAdmin {
		return Deny(ReasonNotProvisioned)
	}

	if !rule.RequireTenant {
		tenant = nil
	} else if tenant == nil {
		return Deny(ReasonNoTenant)
	}
	if tenant != nil && !tenant.IsActive() {
		return Deny(ReasonTenantInactive)
	}

	if rule.RequireElevation && !elevated.Elevated {
		return Deny(ReasonElevationRequired)
	}

	if p.IsSuperAdmin {
		d := Allow(superAdminRole)
		d.Bypass = true
		return d
	}

	if tenant == nil {
		return Allow("")
	}

	membership, ok := p.Membership(tenant.ID)
	if !ok {
		return Deny(ReasonNoAccess)
	}
	if len(rule.Roles) > 0 && !hasRole(rule.Roles, membership.Role) {
		return Deny(ReasonInsufficientRole)
	}
	return Allow(membership.Role)
}

func hasRole(roles []models.Role, role models.Role) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

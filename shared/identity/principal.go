package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/pavitra93/thinkats-access/shared/models"
	"github.com/pavitra93/thinkats-access/shared/store"
)

// ErrProvisioningDenied is returned when the provisioning policy refuses an email
var ErrProvisioningDenied = errors.New("provisioning not allowed for this email")

// Principal is the resolved (user, super-admin flag, memberships) triple of a request
type Principal struct {
	Identity     Identity                `json:"identity"`
	User         *models.User            `json:"user,omitempty"`
	IsSuperAdmin bool                    `json:"is_super_admin"`
	Memberships  []models.UserTenantRole `json:"memberships"`
}

// Provisioned reports whether the identity has a user row
func (p *Principal) Provisioned() bool {
	return p != nil && p.User != nil
}

// UserID returns the user's id, or uuid.Nil before provisioning
func (p *Principal) UserID() uuid.UUID {
	if !p.Provisioned() {
		return uuid.Nil
	}
	return p.User.ID
}

// Membership returns the caller's membership in tenantID
func (p *Principal) Membership(tenantID uuid.UUID) (*models.UserTenantRole, bool) {
	if p == nil {
		return nil, false
	}
	for i := range p.Memberships {
		if p.Memberships[i].TenantID == tenantID {
			return &p.Memberships[i], true
		}
	}
	return nil, false
}

// DefaultMembership returns the membership a tenant-less request falls back to: the
// primary one, or the only one.
func (p *Principal) DefaultMembership() (*models.UserTenantRole, bool) {
	if p == nil || len(p.Memberships) == 0 {
		return nil, false
	}
	for i := range p.Memberships {
		if p.Memberships[i].IsPrimary {
			return &p.Memberships[i], true
		}
	}
	if len(p.Memberships) == 1 {
		return &p.Memberships[0], true
	}
	return nil, false
}

// UserStore is the slice of the persistent store the principal resolver needs
type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	CreateUserIfAbsent(ctx context.Context, user *models.User) (*models.User, bool, error)
	ListMembershipsByUser(ctx context.Context, userID uuid.UUID) ([]models.UserTenantRole, error)
}

// PrincipalResolver maps a verified identity to the internal user and memberships
type PrincipalResolver struct {
	store       UserStore
	superAdmins map[string]bool
	policy      ProvisionPolicy
}

// NewPrincipalResolver creates a resolver. superAdminEmails is the bootstrap override
// list consulted before any database role exists.
func NewPrincipalResolver(store UserStore, superAdminEmails []string, policy ProvisionPolicy) *PrincipalResolver {
	admins := make(map[string]bool, len(superAdminEmails))
	for _, email := range superAdminEmails {
		admins[models.NormalizeEmail(email)] = true
	}
	return &PrincipalResolver{store: store, superAdmins: admins, policy: policy}
}

// Resolve loads the principal for id. It never writes: a verified identity without a
// user row comes back with a nil User.
func (r *PrincipalResolver) Resolve(ctx context.Context, id *Identity) (*Principal, error) {
	if id == nil {
		return nil, nil
	}

	email := models.NormalizeEmail(id.Email)
	principal := &Principal{
		Identity:     Identity{ExternalID: id.ExternalID, Email: email},
		IsSuperAdmin: r.superAdmins[email],
		Memberships:  []models.UserTenantRole{},
	}

	user, err := r.store.GetUserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return principal, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	return r.withUser(ctx, principal, user)
}

// Provision creates the user row for id if absent and returns the refreshed principal.
// Duplicate concurrent attempts resolve to the same row.
func (r *PrincipalResolver) Provision(ctx context.Context, id *Identity) (*Principal, error) {
	if id == nil {
		return nil, nil
	}

	email := models.NormalizeEmail(id.Email)
	if !r.superAdmins[email] && !r.policy.Allows(email) {
		return nil, ErrProvisioningDenied
	}

	user, _, err := r.store.CreateUserIfAbsent(ctx, &models.User{
		Email:      email,
		ExternalID: id.ExternalID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to provision user: %w", err)
	}

	principal := &Principal{
		Identity:     Identity{ExternalID: id.ExternalID, Email: email},
		IsSuperAdmin: r.superAdmins[email],
	}
	return r.withUser(ctx, principal, user)
}

// CanProvision reports whether Provision would accept id
func (r *PrincipalResolver) CanProvision(id *Identity) bool {
	if id == nil {
		return false
	}
	email := models.NormalizeEmail(id.Email)
	return r.superAdmins[email] || r.policy.Allows(email)
}

func (r *PrincipalResolver) withUser(ctx context.Context, principal *Principal, user *models.User) (*Principal, error) {
	memberships, err := r.store.ListMembershipsByUser(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load memberships: %w", err)
	}
	principal.User = user
	principal.IsSuperAdmin = principal.IsSuperAdmin || user.IsSuperAdmin()
	principal.Memberships = memberships
	return principal, nil
}

// MissingPolicy decides what an unconfigured allow-list means
type MissingPolicy string

const (
	// PolicyOpen treats an empty allow-list as "allow everyone"
	PolicyOpen MissingPolicy = "open"
	// PolicyClosed treats an empty allow-list as "allow no one"
	PolicyClosed MissingPolicy = "closed"
)

// ProvisionPolicy gates self-provisioning by email domain
type ProvisionPolicy struct {
	AllowedDomains []string
	OnMissing      MissingPolicy
}

// Allows reports whether email may be provisioned
func (p ProvisionPolicy) Allows(email string) bool {
	if len(p.AllowedDomains) == 0 {
		return p.OnMissing == PolicyOpen
	}
	at := strings.LastIndexByte(email, '@')
	if at < 0 {
		return false
	}
	domain := strings.ToLower(email[at+1:])
	for _, allowed := range p.AllowedDomains {
		if domain == strings.ToLower(allowed) {
			return true
		}
	}
	return false
}

package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GlobalRole is a platform-wide role independent of any tenant
type GlobalRole string

const (
	GlobalRoleNone       GlobalRole = ""
	GlobalRoleSuperAdmin GlobalRole = "SUPER_ADMIN"
)

// Role is a tenant-scoped role held through a membership
type Role string

const (
	RoleOwner     Role = "owner"
	RoleAdmin     Role = "admin"
	RoleRecruiter Role = "recruiter"
	RoleViewer    Role = "viewer"
)

// Valid reports whether r is a known tenant role
func (r Role) Valid() bool {
	switch r {
	case RoleOwner, RoleAdmin, RoleRecruiter, RoleViewer:
		return true
	}
	return false
}

var roleRank = map[Role]int{
	RoleViewer:    1,
	RoleRecruiter: 2,
	RoleAdmin:     3,
	RoleOwner:     4,
}

// Covers reports whether a holder of r may grant other
func (r Role) Covers(other Role) bool {
	return other.Valid() && roleRank[r] >= roleRank[other]
}

// User represents a platform user. Email is the only link to the external identity.
type User struct {
	ID                   uuid.UUID  `json:"id" gorm:"type:uuid;primary_key"`
	Email                string     `json:"email" gorm:"type:varchar(320);not null;uniqueIndex"`
	ExternalID           string     `json:"external_id" gorm:"type:varchar(255);index"`
	Name                 *string    `json:"name,omitempty"`
	GlobalRole           GlobalRole `json:"global_role,omitempty" gorm:"type:varchar(20);default:''"`
	CredentialsChangedAt *time.Time `json:"credentials_changed_at,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`

	Memberships []UserTenantRole `json:"memberships,omitempty" gorm:"foreignKey:UserID"`
}

func (User) TableName() string {
	return "users"
}

// BeforeCreate normalizes the email and assigns an id
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	u.Email = NormalizeEmail(u.Email)
	return nil
}

func (u *User) IsSuperAdmin() bool {
	return u.GlobalRole == GlobalRoleSuperAdmin
}

// NormalizeEmail lowercases and trims an email for lookups
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// UserTenantRole is a membership granting a user a role in a tenant
type UserTenantRole struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primary_key"`
	UserID    uuid.UUID `json:"user_id" gorm:"type:uuid;not null;uniqueIndex:idx_membership_user_tenant"`
	TenantID  uuid.UUID `json:"tenant_id" gorm:"type:uuid;not null;uniqueIndex:idx_membership_user_tenant;index"`
	Role      Role      `json:"role" gorm:"type:varchar(20);not null;default:'viewer'"`
	IsPrimary bool      `json:"is_primary" gorm:"not null;default:false"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Tenant *Tenant `json:"tenant,omitempty" gorm:"foreignKey:TenantID"`
}

func (UserTenantRole) TableName() string {
	return "user_tenant_roles"
}

func (m *UserTenantRole) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}

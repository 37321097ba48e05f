package main

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/pavitra93/thinkats-access/shared/middleware"
	"github.com/pavitra93/thinkats-access/shared/models"
	"github.com/pavitra93/thinkats-access/shared/store"
	"github.com/pavitra93/thinkats-access/shared/tenancy"
	"github.com/pavitra93/thinkats-access/shared/utils"
)

// CreateTenantRequest represents the create tenant request
type CreateTenantRequest struct {
	Slug string `json:"slug" binding:"required"`
	Name string `json:"name" binding:"required"`
	Plan string `json:"plan"`
}

// SelectTenantRequest represents a tenant picker choice
type SelectTenantRequest struct {
	TenantID string `json:"tenant_id" binding:"required"`
}

// UpdateStatusRequest represents a tenant lifecycle change
type UpdateStatusRequest struct {
	Status models.TenantStatus `json:"status" binding:"required"`
}

// AddMemberRequest grants an existing user a role in the current tenant. The primary
// tenant stays the member's own choice.
type AddMemberRequest struct {
	Email string      `json:"email" binding:"required"`
	Role  models.Role `json:"role" binding:"required"`
}

// TenantOption is one entry of the tenant picker
type TenantOption struct {
	ID       uuid.UUID           `json:"id"`
	Slug     string              `json:"slug"`
	Name     string              `json:"name"`
	Status   models.TenantStatus `json:"status"`
	Role     models.Role         `json:"role,omitempty"`
	Primary  bool                `json:"primary"`
	Selected bool                `json:"selected"`
}

// handleListTenants returns the tenants the caller can pick from. Super-admins see all
// tenants; everyone else sees their memberships.
func handleListTenants(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		rc, _ := middleware.GetRequestContext(c)
		p := rc.Principal

		var selected uuid.UUID
		if rc.Tenant.Tenant != nil {
			selected = rc.Tenant.Tenant.ID
		}

		options := make([]TenantOption, 0, len(p.Memberships))
		if p.IsSuperAdmin {
			tenants, err := st.ListTenants(c.Request.Context())
			if err != nil {
				utils.InternalServerErrorResponse(c, "Failed to fetch tenants")
				return
			}
			for _, t := range tenants {
				opt := TenantOption{ID: t.ID, Slug: t.Slug, Name: t.Name, Status: t.Status, Selected: t.ID == selected}
				if m, ok := p.Membership(t.ID); ok {
					opt.Role = m.Role
					opt.Primary = m.IsPrimary
				}
				options = append(options, opt)
			}
		} else {
			for _, m := range p.Memberships {
				if m.Tenant == nil {
					continue
				}
				options = append(options, TenantOption{
					ID:       m.Tenant.ID,
					Slug:     m.Tenant.Slug,
					Name:     m.Tenant.Name,
					Status:   m.Tenant.Status,
					Role:     m.Role,
					Primary:  m.IsPrimary,
					Selected: m.TenantID == selected,
				})
			}
		}

		utils.OKResponse(c, "Tenants retrieved successfully", options)
	}
}

// handleSelectTenant records an explicit tenant choice in the tenant cookie. The choice
// must name a tenant the caller belongs to; a host subdomain still wins over it.
func handleSelectTenant(st *store.Store, cookies middleware.Cookies) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req SelectTenantRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.BadRequestResponse(c, "Invalid request format")
			return
		}
		tenantID, err := uuid.Parse(req.TenantID)
		if err != nil {
			utils.BadRequestResponse(c, "Invalid tenant ID")
			return
		}

		tenant, err := st.GetTenantByID(c.Request.Context(), tenantID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				utils.NotFoundResponse(c, "Tenant not found")
				return
			}
			utils.InternalServerErrorResponse(c, "Failed to fetch tenant")
			return
		}

		p := middleware.GetPrincipal(c)
		if _, member := p.Membership(tenant.ID); !member && !p.IsSuperAdmin {
			utils.ForbiddenResponse(c, "You are not a member of this tenant")
			return
		}

		cookies.SetTenant(c, tenant.ID)
		utils.OKResponse(c, "Tenant selected", tenant)
	}
}

// handleGetCurrentTenant returns the tenant the request resolved to and the caller's role in it
func handleGetCurrentTenant() gin.HandlerFunc {
	return func(c *gin.Context) {
		rc, _ := middleware.GetRequestContext(c)
		d, _ := middleware.GetDecision(c)

		utils.OKResponse(c, "Current tenant", gin.H{
			"tenant": rc.Tenant.Tenant,
			"source": rc.Tenant.Source,
			"role":   d.EffectiveRole,
			"bypass": d.Bypass,
		})
	}
}

// handleSetPrimary makes one of the caller's memberships the primary one
func handleSetPrimary(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID, err := uuid.Parse(c.Param("id"))
		if err != nil {
			utils.BadRequestResponse(c, "Invalid tenant ID")
			return
		}
		p := middleware.GetPrincipal(c)

		if err := st.SetPrimaryMembership(c.Request.Context(), p.UserID(), tenantID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				utils.NotFoundResponse(c, "Membership not found")
				return
			}
			utils.InternalServerErrorResponse(c, "Failed to update primary tenant")
			return
		}

		utils.OKResponse(c, "Primary tenant updated", gin.H{"tenant_id": tenantID})
	}
}

// handleCreateTenant handles tenant creation (super-admin only)
func handleCreateTenant(st *store.Store, log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateTenantRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.BadRequestResponse(c, "Invalid request format")
			return
		}
		slug := strings.ToLower(strings.TrimSpace(req.Slug))
		if !tenancy.ValidSlug(slug) {
			utils.BadRequestResponse(c, "Slug must be a valid subdomain label")
			return
		}

		tenant := models.Tenant{
			Slug:   slug,
			Name:   req.Name,
			Status: models.TenantStatusActive,
			Plan:   req.Plan,
		}
		if tenant.Plan == "" {
			tenant.Plan = "starter"
		}

		if err := st.CreateTenant(c.Request.Context(), &tenant); err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				utils.ErrorResponse(c, http.StatusConflict, "Slug already exists")
				return
			}
			log.WithError(err).Error("Failed to create tenant")
			utils.InternalServerErrorResponse(c, "Failed to create tenant")
			return
		}

		utils.CreatedResponse(c, "Tenant created successfully", tenant)
	}
}

// handleUpdateStatus moves a tenant through its lifecycle (super-admin only)
func handleUpdateStatus(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID, err := uuid.Parse(c.Param("id"))
		if err != nil {
			utils.BadRequestResponse(c, "Invalid tenant ID")
			return
		}
		var req UpdateStatusRequest
		if err := c.ShouldBindJSON(&req); err != nil || !req.Status.Valid() {
			utils.BadRequestResponse(c, "Status must be one of active, trial, suspended, archived")
			return
		}

		tenant, err := st.UpdateTenantStatus(c.Request.Context(), tenantID, req.Status)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				utils.NotFoundResponse(c, "Tenant not found")
				return
			}
			utils.InternalServerErrorResponse(c, "Failed to update tenant")
			return
		}

		utils.OKResponse(c, "Tenant updated successfully", tenant)
	}
}

// handleDeleteTenant deletes a tenant that no membership or application record references
func handleDeleteTenant(st *store.Store, log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID, err := uuid.Parse(c.Param("id"))
		if err != nil {
			utils.BadRequestResponse(c, "Invalid tenant ID")
			return
		}

		if err := st.DeleteTenant(c.Request.Context(), tenantID); err != nil {
			switch {
			case errors.Is(err, store.ErrNotFound):
				utils.NotFoundResponse(c, "Tenant not found")
			case errors.Is(err, store.ErrTenantHasDependents):
				utils.ErrorResponse(c, http.StatusConflict, err.Error())
			default:
				log.WithFields(logrus.Fields{
					"tenant_id": tenantID,
					"error":     err,
				}).Error("Failed to delete tenant")
				utils.InternalServerErrorResponse(c, "Failed to delete tenant")
			}
			return
		}

		utils.OKResponse(c, "Tenant deleted successfully", nil)
	}
}

// handleAddMember grants a provisioned user a role in the current tenant
func handleAddMember(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req AddMemberRequest
		if err := c.ShouldBindJSON(&req); err != nil || !req.Role.Valid() {
			utils.BadRequestResponse(c, "Invalid request format")
			return
		}
		rc, _ := middleware.GetRequestContext(c)
		tenant := rc.Tenant.Tenant

		decision, _ := middleware.GetDecision(c)
		if !decision.EffectiveRole.Covers(req.Role) {
			utils.ForbiddenResponse(c, "Cannot grant a role above your own")
			return
		}

		user, err := st.GetUserByEmail(c.Request.Context(), req.Email)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				utils.NotFoundResponse(c, "User has not signed up yet")
				return
			}
			utils.InternalServerErrorResponse(c, "Failed to fetch user")
			return
		}

		membership := models.UserTenantRole{
			UserID:   user.ID,
			TenantID: tenant.ID,
			Role:     req.Role,
		}
		if err := st.AddMembership(c.Request.Context(), &membership); err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				utils.ErrorResponse(c, http.StatusConflict, "User is already a member of this tenant")
				return
			}
			utils.InternalServerErrorResponse(c, "Failed to add member")
			return
		}

		utils.CreatedResponse(c, "Member added successfully", membership)
	}
}

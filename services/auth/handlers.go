package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/cognitoidentityprovider"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/pavitra93/thinkats-access/shared/access"
	"github.com/pavitra93/thinkats-access/shared/audit"
	"github.com/pavitra93/thinkats-access/shared/elevation"
	"github.com/pavitra93/thinkats-access/shared/identity"
	"github.com/pavitra93/thinkats-access/shared/middleware"
	"github.com/pavitra93/thinkats-access/shared/utils"
)

// accountService is the part of the identity provider the auth service drives directly
type accountService interface {
	ChangePassword(ctx context.Context, accessToken, previous, proposed string) error
	SignOut(ctx context.Context, accessToken string) error
}

type credentialStore interface {
	MarkCredentialsChanged(ctx context.Context, userID uuid.UUID, at time.Time) error
}

type authHandlers struct {
	pipeline    *access.Pipeline
	elevation   *elevation.Manager
	accounts    accountService
	credentials credentialStore
	cookies     middleware.Cookies
	audit       audit.Publisher
	log         logrus.FieldLogger
}

// VerifyRequest carries a submitted elevation code
type VerifyRequest struct {
	Code string `json:"code" binding:"required"`
}

// ChangePasswordRequest carries the caller's current and new password
type ChangePasswordRequest struct {
	PreviousPassword string `json:"previous_password" binding:"required"`
	ProposedPassword string `json:"proposed_password" binding:"required,min=8"`
}

// MembershipView is one tenant the caller belongs to
type MembershipView struct {
	TenantID string `json:"tenant_id"`
	Role     string `json:"role"`
	Primary  bool   `json:"primary"`
}

// MeResponse describes the resolved caller
type MeResponse struct {
	Email        string           `json:"email"`
	UserID       string           `json:"user_id,omitempty"`
	Provisioned  bool             `json:"provisioned"`
	IsSuperAdmin bool             `json:"is_super_admin"`
	Memberships  []MembershipView `json:"memberships"`
	TenantID     string           `json:"tenant_id,omitempty"`
	TenantSource string           `json:"tenant_source"`
	Elevated     bool             `json:"elevated"`
	VerifiedAt   *time.Time       `json:"verified_at,omitempty"`
}

// handleMe returns who the caller is as the pipeline sees them
func (h *authHandlers) handleMe(c *gin.Context) {
	rc, _ := middleware.GetRequestContext(c)
	p := rc.Principal

	resp := MeResponse{
		Email:        p.Identity.Email,
		Provisioned:  p.Provisioned(),
		IsSuperAdmin: p.IsSuperAdmin,
		Memberships:  make([]MembershipView, 0, len(p.Memberships)),
		TenantSource: string(rc.Tenant.Source),
		Elevated:     rc.Elevation.Elevated,
	}
	if p.Provisioned() {
		resp.UserID = p.UserID().String()
	}
	for _, m := range p.Memberships {
		resp.Memberships = append(resp.Memberships, MembershipView{
			TenantID: m.TenantID.String(),
			Role:     string(m.Role),
			Primary:  m.IsPrimary,
		})
	}
	if rc.Tenant.Tenant != nil {
		resp.TenantID = rc.Tenant.Tenant.ID.String()
	}
	if rc.Elevation.Elevated {
		at := rc.Elevation.VerifiedAt
		resp.VerifiedAt = &at
	}

	utils.OKResponse(c, "Session resolved", resp)
}

// handleProvision creates the user row for a verified identity that has none
func (h *authHandlers) handleProvision(c *gin.Context) {
	rc, _ := middleware.GetRequestContext(c)

	if rc.Principal.Provisioned() {
		utils.OKResponse(c, "User already provisioned", gin.H{"user_id": rc.Principal.UserID()})
		return
	}

	if err := h.pipeline.Provision(c.Request.Context(), rc); err != nil {
		if errors.Is(err, identity.ErrProvisioningDenied) {
			utils.ForbiddenResponse(c, "Your email domain is not allowed to sign up")
			return
		}
		h.log.WithFields(logrus.Fields{
			"email": rc.Principal.Identity.Email,
			"error": err,
		}).Error("Failed to provision user")
		utils.ServiceUnavailableResponse(c, "Failed to provision user, please retry")
		return
	}

	h.audit.Publish(audit.Event{
		Type:   audit.EventProvisioned,
		UserID: rc.Principal.UserID().String(),
		Email:  rc.Principal.Identity.Email,
		Host:   c.Request.Host,
		Method: c.Request.Method,
		Path:   c.Request.URL.Path,
	})
	h.log.WithField("user_id", rc.Principal.UserID()).Info("User provisioned")

	utils.CreatedResponse(c, "User provisioned", gin.H{"user_id": rc.Principal.UserID()})
}

// handleRequestElevation sends a code to the caller's email. The code itself is never
// part of the response.
func (h *authHandlers) handleRequestElevation(c *gin.Context) {
	p := middleware.GetPrincipal(c)

	code, err := h.elevation.Issue(c.Request.Context(), p.UserID())
	if err != nil {
		if errors.Is(err, elevation.ErrNoUser) {
			utils.ErrorResponse(c, http.StatusConflict, "Provision your account before requesting a code")
			return
		}
		h.log.WithFields(logrus.Fields{
			"user_id": p.UserID(),
			"error":   err,
		}).Error("Failed to issue elevation code")
		utils.ServiceUnavailableResponse(c, "Failed to issue verification code, please retry")
		return
	}

	utils.SuccessResponse(c, http.StatusAccepted, "Verification code sent", gin.H{"expires_at": code.ExpiresAt})
}

// handleVerifyElevation consumes a code and sets the elevation marker
func (h *authHandlers) handleVerifyElevation(c *gin.Context) {
	var req VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, "Invalid request format")
		return
	}
	p := middleware.GetPrincipal(c)

	result, err := h.elevation.Verify(c.Request.Context(), p.UserID(), req.Code)
	if err != nil {
		h.log.WithFields(logrus.Fields{
			"user_id": p.UserID(),
			"error":   err,
		}).Error("Failed to verify elevation code")
		utils.ServiceUnavailableResponse(c, "Failed to verify code, please retry")
		return
	}
	if result != elevation.VerifyOK {
		utils.BadRequestResponse(c, "Invalid or expired code")
		return
	}

	now := h.pipeline.Now()
	marker, err := h.pipeline.Markers.Issue(p.UserID(), now)
	if err != nil {
		h.log.WithError(err).Error("Failed to sign elevation marker")
		utils.InternalServerErrorResponse(c, "Failed to complete verification")
		return
	}
	h.cookies.SetElevation(c, marker, h.pipeline.Markers.MaxAge())

	h.audit.Publish(audit.Event{
		Type:   audit.EventElevated,
		UserID: p.UserID().String(),
		Email:  p.Identity.Email,
		Host:   c.Request.Host,
		Method: c.Request.Method,
		Path:   c.Request.URL.Path,
	})

	utils.OKResponse(c, "Verification complete", gin.H{"verified_at": now})
}

// handleChangePassword changes the password at the provider, then invalidates every
// elevation marker issued before now
func (h *authHandlers) handleChangePassword(c *gin.Context) {
	var req ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, "Invalid request format")
		return
	}
	p := middleware.GetPrincipal(c)
	token := h.pipeline.Sessions.Credential(c.Request)

	if err := h.accounts.ChangePassword(c.Request.Context(), token, req.PreviousPassword, req.ProposedPassword); err != nil {
		if errors.Is(err, utils.ErrCircuitOpen) {
			utils.ServiceUnavailableResponse(c, "Identity provider temporarily unavailable")
			return
		}
		if aerr, ok := err.(awserr.Error); ok {
			switch aerr.Code() {
			case cognitoidentityprovider.ErrCodeNotAuthorizedException:
				utils.UnauthorizedResponse(c, "Current password is incorrect")
				return
			case cognitoidentityprovider.ErrCodeInvalidPasswordException,
				cognitoidentityprovider.ErrCodeInvalidParameterException:
				utils.BadRequestResponse(c, aerr.Message())
				return
			case cognitoidentityprovider.ErrCodeLimitExceededException,
				cognitoidentityprovider.ErrCodeTooManyRequestsException:
				utils.ErrorResponse(c, http.StatusTooManyRequests, "Too many attempts, try again later")
				return
			}
		}
		h.log.WithFields(logrus.Fields{
			"user_id": p.UserID(),
			"error":   err,
		}).Error("Failed to change password")
		utils.InternalServerErrorResponse(c, "Failed to change password")
		return
	}

	if err := h.credentials.MarkCredentialsChanged(c.Request.Context(), p.UserID(), h.pipeline.Now()); err != nil {
		h.log.WithFields(logrus.Fields{
			"user_id": p.UserID(),
			"error":   err,
		}).Error("Password changed but credentials timestamp was not recorded")
		utils.InternalServerErrorResponse(c, "Password changed, but the session could not be updated")
		return
	}
	h.cookies.ClearElevation(c)

	utils.OKResponse(c, "Password changed", nil)
}

// handleLogout revokes the provider tokens and clears every access cookie. Cookies are
// cleared even when revocation fails.
func (h *authHandlers) handleLogout(c *gin.Context) {
	token := h.pipeline.Sessions.Credential(c.Request)
	if err := h.accounts.SignOut(c.Request.Context(), token); err != nil {
		h.log.WithError(err).Warn("Failed to revoke tokens at the identity provider")
	}

	h.cookies.ClearSession(c)
	h.cookies.ClearElevation(c)
	h.cookies.ClearTenant(c)

	utils.OKResponse(c, "Logged out successfully", nil)
}

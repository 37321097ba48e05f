package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Identity headers trusted by services behind the gateway
const (
	HeaderUserID        = "X-User-ID"
	HeaderUserEmail     = "X-User-Email"
	HeaderTenantID      = "X-Tenant-ID"
	HeaderEffectiveRole = "X-Effective-Role"
)

// ForwardIdentity replaces any client-supplied identity headers in h with the values
// resolved for this request. Nothing is set for an anonymous request.
func ForwardIdentity(c *gin.Context, h http.Header) {
	h.Del(HeaderUserID)
	h.Del(HeaderUserEmail)
	h.Del(HeaderTenantID)
	h.Del(HeaderEffectiveRole)

	rc, ok := GetRequestContext(c)
	if !ok || rc.Principal == nil {
		return
	}
	h.Set(HeaderUserEmail, rc.Principal.Identity.Email)
	if rc.Principal.Provisioned() {
		h.Set(HeaderUserID, rc.Principal.UserID().String())
	}
	if rc.Tenant.Tenant != nil {
		h.Set(HeaderTenantID, rc.Tenant.Tenant.ID.String())
	}
	if d, ok := GetDecision(c); ok && d.EffectiveRole != "" {
		h.Set(HeaderEffectiveRole, string(d.EffectiveRole))
	}
}

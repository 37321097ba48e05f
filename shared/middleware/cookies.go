package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/pavitra93/thinkats-access/shared/config"
)

// Cookies writes the cookies the access pipeline reads. All are httponly and scoped to
// the root domain so tenant subdomains see them.
type Cookies struct {
	Session      string
	Tenant       string
	Elevation    string
	Domain       string
	Secure       bool
	TenantMaxAge time.Duration
}

// NewCookies reads cookie names and flags from cfg
func NewCookies(cfg *config.AccessConfig) Cookies {
	return Cookies{
		Session:      cfg.SessionCookie,
		Tenant:       cfg.TenantCookie,
		Elevation:    cfg.ElevationCookie,
		Domain:       cfg.RootDomain,
		Secure:       cfg.CookieSecure,
		TenantMaxAge: cfg.TenantCookieMaxAge,
	}
}

// SetTenant records an explicit tenant selection
func (k Cookies) SetTenant(c *gin.Context, tenantID uuid.UUID) {
	k.set(c, k.Tenant, tenantID.String(), k.TenantMaxAge)
}

// ClearTenant forgets the tenant selection
func (k Cookies) ClearTenant(c *gin.Context) {
	k.set(c, k.Tenant, "", -1)
}

// SetElevation stores a marker living as long as its freshness window
func (k Cookies) SetElevation(c *gin.Context, marker string, maxAge time.Duration) {
	k.set(c, k.Elevation, marker, maxAge)
}

// ClearElevation drops the marker, forcing re-verification
func (k Cookies) ClearElevation(c *gin.Context) {
	k.set(c, k.Elevation, "", -1)
}

// ClearSession drops the session credential
func (k Cookies) ClearSession(c *gin.Context) {
	k.set(c, k.Session, "", -1)
}

func (k Cookies) set(c *gin.Context, name, value string, maxAge time.Duration) {
	seconds := int(maxAge / time.Second)
	if maxAge < 0 {
		seconds = -1
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(name, value, seconds, "/", k.Domain, k.Secure, true)
}

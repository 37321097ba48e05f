package middleware

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/pavitra93/thinkats-access/shared/access"
	"github.com/pavitra93/thinkats-access/shared/audit"
	"github.com/pavitra93/thinkats-access/shared/identity"
	"github.com/pavitra93/thinkats-access/shared/metrics"
	"github.com/pavitra93/thinkats-access/shared/utils"
)

const (
	requestContextKey = "access_request"
	decisionKey       = "access_decision"
)

// AccessMiddleware runs the access pipeline once per request and enforces decisions
type AccessMiddleware struct {
	pipeline     *access.Pipeline
	remediations access.Remediations
	audit        audit.Publisher
	log          logrus.FieldLogger
}

// NewAccessMiddleware creates the middleware
func NewAccessMiddleware(pipeline *access.Pipeline, remediations access.Remediations, publisher audit.Publisher, log logrus.FieldLogger) *AccessMiddleware {
	if publisher == nil {
		publisher = audit.Nop{}
	}
	return &AccessMiddleware{
		pipeline:     pipeline,
		remediations: remediations,
		audit:        publisher,
		log:          log,
	}
}

// Pipeline returns the pipeline the middleware runs
func (am *AccessMiddleware) Pipeline() *access.Pipeline {
	return am.pipeline
}

// Resolve resolves the request and stores it in the context. A host naming a missing
// tenant is answered with 404 whatever the session; an infrastructure failure with 503.
func (am *AccessMiddleware) Resolve() gin.HandlerFunc {
	return func(c *gin.Context) {
		rc, err := am.pipeline.Resolve(c.Request.Context(), c.Request)
		if err != nil {
			metrics.AccessErrors.Inc()
			am.log.WithFields(logrus.Fields{
				"error": err,
				"host":  c.Request.Host,
				"path":  c.Request.URL.Path,
			}).Error("Access pipeline failed")
			am.audit.Publish(am.event(c, nil, audit.EventError, "", err.Error()))
			utils.ServiceUnavailableResponse(c, "Service temporarily unavailable, please retry")
			c.Abort()
			return
		}

		c.Set(requestContextKey, rc)

		if rc.Provisioned {
			am.audit.Publish(am.event(c, rc, audit.EventProvisioned, "", ""))
		}
		if rc.Tenant.NotFound {
			am.enforce(c, rc, access.Deny(access.ReasonTenantNotFound))
			return
		}

		c.Next()
	}
}

// RequireSession admits any verified identity, provisioned or not
func (am *AccessMiddleware) RequireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		rc, ok := am.requestContext(c)
		if !ok {
			return
		}
		if rc.Principal == nil {
			am.enforce(c, rc, access.Deny(access.ReasonUnauthenticated))
			return
		}
		c.Next()
	}
}

// RequireAccess admits the request only if rule allows it
func (am *AccessMiddleware) RequireAccess(rule access.Rule) gin.HandlerFunc {
	return func(c *gin.Context) {
		rc, ok := am.requestContext(c)
		if !ok {
			return
		}
		if !am.enforce(c, rc, rc.Decide(rule)) {
			return
		}
		c.Next()
	}
}

// RequireSuperAdmin admits super-admins only. The tenant is not required.
func (am *AccessMiddleware) RequireSuperAdmin(requireElevation bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		rc, ok := am.requestContext(c)
		if !ok {
			return
		}
		d := rc.Decide(access.Rule{RequireElevation: requireElevation})
		if d.Allowed && !rc.Principal.IsSuperAdmin {
			d = access.Deny(access.ReasonNoAccess)
		}
		if !am.enforce(c, rc, d) {
			return
		}
		c.Next()
	}
}

// enforce records d and, for a deny, aborts with the remediation. It reports whether
// the request may continue.
func (am *AccessMiddleware) enforce(c *gin.Context, rc *access.RequestContext, d access.Decision) bool {
	metrics.AccessDecisions.WithLabelValues(d.Outcome(), string(d.Reason)).Inc()

	eventType := audit.EventAllow
	switch {
	case d.Reason == access.ReasonTenantNotFound:
		eventType = audit.EventNotFound
	case !d.Allowed:
		eventType = audit.EventDeny
	}
	event := am.event(c, rc, eventType, string(d.Reason), "")
	event.Role = string(d.EffectiveRole)
	am.audit.Publish(event)

	if d.Allowed {
		c.Set(decisionKey, d)
		return true
	}

	rem := am.remediations.For(d.Reason)
	target := rem.Redirect
	if d.Reason == access.ReasonUnauthenticated || d.Reason == access.ReasonElevationRequired {
		target = withNext(target, c.Request.URL.RequestURI())
	}

	am.log.WithFields(logrus.Fields{
		"reason": d.Reason,
		"host":   c.Request.Host,
		"path":   c.Request.URL.Path,
	}).Debug("Access denied")

	if wantsHTML(c.Request) {
		c.Redirect(http.StatusFound, target)
		c.Abort()
		return false
	}
	utils.DenyResponse(c, rem.Status, string(d.Reason), target)
	return false
}

func (am *AccessMiddleware) requestContext(c *gin.Context) (*access.RequestContext, bool) {
	rc, ok := GetRequestContext(c)
	if !ok {
		am.log.WithField("path", c.Request.URL.Path).Error("Access check without Resolve middleware")
		utils.InternalServerErrorResponse(c, "Access context missing")
		c.Abort()
		return nil, false
	}
	return rc, true
}

func (am *AccessMiddleware) event(c *gin.Context, rc *access.RequestContext, eventType audit.EventType, reason, errMsg string) audit.Event {
	event := audit.Event{
		Type:   eventType,
		Reason: reason,
		Host:   c.Request.Host,
		Method: c.Request.Method,
		Path:   c.Request.URL.Path,
		Error:  errMsg,
	}
	if rc == nil {
		return event
	}
	if rc.Principal != nil {
		event.Email = rc.Principal.Identity.Email
		if rc.Principal.Provisioned() {
			event.UserID = rc.Principal.UserID().String()
		}
	}
	if rc.Tenant.Tenant != nil {
		event.TenantID = rc.Tenant.Tenant.ID.String()
	}
	return event
}

// wantsHTML reports whether the client is a browser navigation that can follow a redirect
func wantsHTML(req *http.Request) bool {
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		return false
	}
	return strings.Contains(req.Header.Get("Accept"), "text/html")
}

func withNext(target, next string) string {
	u, err := url.Parse(target)
	if err != nil {
		return target
	}
	q := u.Query()
	q.Set("next", next)
	u.RawQuery = q.Encode()
	return u.String()
}

// GetRequestContext returns the resolved request stored by Resolve
func GetRequestContext(c *gin.Context) (*access.RequestContext, bool) {
	v, ok := c.Get(requestContextKey)
	if !ok {
		return nil, false
	}
	rc, ok := v.(*access.RequestContext)
	return rc, ok
}

// GetDecision returns the allow decision stored by RequireAccess or RequireSuperAdmin
func GetDecision(c *gin.Context) (access.Decision, bool) {
	v, ok := c.Get(decisionKey)
	if !ok {
		return access.Decision{}, false
	}
	d, ok := v.(access.Decision)
	return d, ok
}

// GetPrincipal returns the resolved principal, nil when anonymous
func GetPrincipal(c *gin.Context) *identity.Principal {
	rc, ok := GetRequestContext(c)
	if !ok {
		return nil
	}
	return rc.Principal
}

package access

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pavitra93/thinkats-access/shared/config"
	"github.com/pavitra93/thinkats-access/shared/elevation"
	"github.com/pavitra93/thinkats-access/shared/identity"
	"github.com/pavitra93/thinkats-access/shared/models"
	"github.com/pavitra93/thinkats-access/shared/store"
	"github.com/pavitra93/thinkats-access/shared/tenancy"
)

// RequestContext is everything resolved about one request
type RequestContext struct {
	Host      tenancy.HostContext
	Session   identity.SessionResult
	Principal *identity.Principal
	Tenant    tenancy.Resolution
	Elevation elevation.State

	// Provisioned is set when this request created the user row
	Provisioned bool

	superAdminRole models.Role
}

// Decide evaluates rule against the resolved request
func (rc *RequestContext) Decide(rule Rule) Decision {
	if rc.Tenant.NotFound {
		return Deny(ReasonTenantNotFound)
	}
	return CheckAccess(rc.Principal, rc.Tenant.Tenant, rc.Elevation, rule, rc.superAdminRole)
}

// Pipeline runs host, session, principal, tenant and elevation resolution for a
// request. It holds no per-request state and is safe for concurrent use.
type Pipeline struct {
	Hosts      *tenancy.HostResolver
	Sessions   *identity.SessionResolver
	Principals *identity.PrincipalResolver
	Tenants    *tenancy.Resolver
	Markers    *elevation.MarkerCodec

	TenantCookie    string
	ElevationCookie string
	AutoProvision   bool
	SuperAdminRole  models.Role

	Log logrus.FieldLogger
	Now func() time.Time
}

// NewPipeline wires a pipeline from cfg over the given provider and store
func NewPipeline(cfg *config.AccessConfig, provider identity.Provider, st *store.Store, log logrus.FieldLogger) *Pipeline {
	return &Pipeline{
		Hosts:    tenancy.NewHostResolver(cfg.RootDomain, cfg.ReservedSubdomains),
		Sessions: identity.NewSessionResolver(provider, cfg.SessionCookie, log),
		Principals: identity.NewPrincipalResolver(st, cfg.SuperAdminEmails, identity.ProvisionPolicy{
			AllowedDomains: cfg.AllowedEmailDomains,
			OnMissing:      identity.MissingPolicy(cfg.OnMissingPolicy),
		}),
		Tenants:         tenancy.NewResolver(st),
		Markers:         elevation.NewMarkerCodec(cfg.ElevationSecret, cfg.ElevationFreshness),
		TenantCookie:    cfg.TenantCookie,
		ElevationCookie: cfg.ElevationCookie,
		AutoProvision:   cfg.AutoProvision,
		SuperAdminRole:  models.Role(cfg.SuperAdminRole),
		Log:             log,
		Now:             func() time.Time { return time.Now().UTC() },
	}
}

// Resolve resolves req. A host naming a missing tenant returns early with
// Tenant.NotFound set, before the session is looked at. Errors are infrastructure
// failures only.
func (p *Pipeline) Resolve(ctx context.Context, req *http.Request) (*RequestContext, error) {
	rc := &RequestContext{
		Host:           p.Hosts.Resolve(req.Host),
		superAdminRole: p.SuperAdminRole,
	}

	if rc.Host.HasSlug() {
		res, err := p.Tenants.Resolve(ctx, rc.Host, nil, "")
		if err != nil {
			return nil, err
		}
		rc.Tenant = res
		if res.NotFound {
			return rc, nil
		}
	}

	rc.Session = p.Sessions.Resolve(ctx, req)
	id, _ := rc.Session.VerifiedIdentity()

	principal, err := p.Principals.Resolve(ctx, id)
	if err != nil {
		return nil, err
	}
	if principal != nil && !principal.Provisioned() && p.AutoProvision && p.Principals.CanProvision(id) {
		provisioned, err := p.Principals.Provision(ctx, id)
		if err != nil && !errors.Is(err, identity.ErrProvisioningDenied) {
			return nil, err
		}
		if provisioned != nil {
			principal = provisioned
			rc.Provisioned = true
			p.Log.WithFields(logrus.Fields{
				"user_id": principal.UserID(),
				"email":   principal.Identity.Email,
			}).Info("Provisioned user on first sight")
		}
	}
	rc.Principal = principal

	if !rc.Host.HasSlug() {
		res, err := p.Tenants.Resolve(ctx, rc.Host, principal, cookieValue(req, p.TenantCookie))
		if err != nil {
			return nil, err
		}
		rc.Tenant = res
	}

	if principal.Provisioned() {
		rc.Elevation = p.Markers.State(cookieValue(req, p.ElevationCookie), principal.User, p.Now())
	}

	return rc, nil
}

// Provision explicitly creates the user row for an unprovisioned request
func (p *Pipeline) Provision(ctx context.Context, rc *RequestContext) error {
	if rc.Principal == nil {
		return fmt.Errorf("no verified identity to provision")
	}
	if rc.Principal.Provisioned() {
		return nil
	}
	provisioned, err := p.Principals.Provision(ctx, &rc.Principal.Identity)
	if err != nil {
		return err
	}
	rc.Principal = provisioned
	rc.Provisioned = true
	return nil
}

func cookieValue(req *http.Request, name string) string {
	if c, err := req.Cookie(name); err == nil {
		return c.Value
	}
	return ""
}

package tenancy

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/pavitra93/thinkats-access/shared/identity"
	"github.com/pavitra93/thinkats-access/shared/metrics"
	"github.com/pavitra93/thinkats-access/shared/models"
	"github.com/pavitra93/thinkats-access/shared/store"
)

// Source names the signal a tenant was resolved from
type Source string

const (
	SourceHost     Source = "host"
	SourceCookie   Source = "cookie"
	SourcePrimary  Source = "primary"
	SourceNone     Source = "none"
	SourceNotFound Source = "not_found"
)

// Resolution is the outcome of tenant resolution. NotFound is set only when the host
// named a slug with no tenant behind it.
type Resolution struct {
	Tenant     *models.Tenant
	HostForced bool
	NotFound   bool
	Source     Source
}

// Resolved reports whether a tenant was picked
func (r Resolution) Resolved() bool {
	return r.Tenant != nil
}

// TenantStore is the slice of the persistent store tenant resolution needs
type TenantStore interface {
	GetTenantByID(ctx context.Context, id uuid.UUID) (*models.Tenant, error)
	GetTenantBySlug(ctx context.Context, slug string) (*models.Tenant, error)
}

// Resolver picks the tenant a request acts in. It never checks membership; that is
// the access decision's job.
type Resolver struct {
	store TenantStore
}

// NewResolver creates a tenant resolver
func NewResolver(store TenantStore) *Resolver {
	return &Resolver{store: store}
}

// Resolve applies host slug, then selection cookie, then the principal's default
// membership. A super-admin without host or cookie signal is left unresolved.
func (r *Resolver) Resolve(ctx context.Context, host HostContext, principal *identity.Principal, selection string) (Resolution, error) {
	res, err := r.resolve(ctx, host, principal, selection)
	if err != nil {
		return Resolution{}, err
	}
	metrics.TenantResolutions.WithLabelValues(string(res.Source)).Inc()
	return res, nil
}

func (r *Resolver) resolve(ctx context.Context, host HostContext, principal *identity.Principal, selection string) (Resolution, error) {
	if host.HasSlug() {
		tenant, err := r.store.GetTenantBySlug(ctx, host.TenantSlug)
		if errors.Is(err, store.ErrNotFound) {
			return Resolution{HostForced: true, NotFound: true, Source: SourceNotFound}, nil
		}
		if err != nil {
			return Resolution{}, fmt.Errorf("failed to resolve tenant %q: %w", host.TenantSlug, err)
		}
		return Resolution{Tenant: tenant, HostForced: true, Source: SourceHost}, nil
	}

	if id, err := uuid.Parse(selection); err == nil && id != uuid.Nil {
		tenant, err := r.store.GetTenantByID(ctx, id)
		switch {
		case err == nil:
			return Resolution{Tenant: tenant, Source: SourceCookie}, nil
		case !errors.Is(err, store.ErrNotFound):
			return Resolution{}, fmt.Errorf("failed to load selected tenant: %w", err)
		}
	}

	if principal == nil || principal.IsSuperAdmin {
		return Resolution{Source: SourceNone}, nil
	}

	membership, ok := principal.DefaultMembership()
	if !ok {
		return Resolution{Source: SourceNone}, nil
	}
	if membership.Tenant != nil {
		return Resolution{Tenant: membership.Tenant, Source: SourcePrimary}, nil
	}

	tenant, err := r.store.GetTenantByID(ctx, membership.TenantID)
	if errors.Is(err, store.ErrNotFound) {
		return Resolution{Source: SourceNone}, nil
	}
	if err != nil {
		return Resolution{}, fmt.Errorf("failed to load primary tenant: %w", err)
	}
	return Resolution{Tenant: tenant, Source: SourcePrimary}, nil
}

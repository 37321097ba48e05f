package tenancy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavitra93/thinkats-access/shared/identity"
	"github.com/pavitra93/thinkats-access/shared/models"
	"github.com/pavitra93/thinkats-access/shared/store"
	"github.com/pavitra93/thinkats-access/shared/store/storetest"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type resolverFixture struct {
	store    *store.Store
	resolver *Resolver
	acme     *models.Tenant
	globex   *models.Tenant
	user     *models.User
}

func newResolverFixture(t *testing.T) *resolverFixture {
	s := storetest.New(t)
	f := &resolverFixture{
		store:    s,
		resolver: NewResolver(s),
		acme:     storetest.Tenant(t, s, "acme", models.TenantStatusActive),
		globex:   storetest.Tenant(t, s, "globex", models.TenantStatusActive),
		user:     storetest.User(t, s, "ada@acme.io", models.GlobalRoleNone),
	}
	storetest.Membership(t, s, f.user, f.acme, models.RoleAdmin, true, t0)
	return f
}

func (f *resolverFixture) principal(t *testing.T) *identity.Principal {
	memberships, err := f.store.ListMembershipsByUser(context.Background(), f.user.ID)
	require.NoError(t, err)
	return &identity.Principal{User: f.user, Memberships: memberships}
}

func TestResolver_HostWinsOverCookie(t *testing.T) {
	f := newResolverFixture(t)

	res, err := f.resolver.Resolve(context.Background(), HostContext{TenantSlug: "acme"}, f.principal(t), f.globex.ID.String())
	require.NoError(t, err)

	require.True(t, res.Resolved())
	assert.Equal(t, f.acme.ID, res.Tenant.ID)
	assert.True(t, res.HostForced)
	assert.Equal(t, SourceHost, res.Source)
}

func TestResolver_MissingSlugIsNotFoundRegardlessOfCookie(t *testing.T) {
	f := newResolverFixture(t)

	for _, selection := range []string{"", f.acme.ID.String(), "garbage"} {
		res, err := f.resolver.Resolve(context.Background(), HostContext{TenantSlug: "ghost"}, f.principal(t), selection)
		require.NoError(t, err)
		assert.True(t, res.NotFound)
		assert.Nil(t, res.Tenant)
	}
}

func TestResolver_HostTenantReturnedWithoutMembership(t *testing.T) {
	f := newResolverFixture(t)

	res, err := f.resolver.Resolve(context.Background(), HostContext{TenantSlug: "globex"}, f.principal(t), "")
	require.NoError(t, err)
	require.True(t, res.Resolved())
	assert.Equal(t, f.globex.ID, res.Tenant.ID)
}

func TestResolver_CookieSelection(t *testing.T) {
	f := newResolverFixture(t)
	primary := HostContext{IsPrimaryHost: true}

	res, err := f.resolver.Resolve(context.Background(), primary, f.principal(t), f.globex.ID.String())
	require.NoError(t, err)
	assert.Equal(t, f.globex.ID, res.Tenant.ID)
	assert.False(t, res.HostForced)
	assert.Equal(t, SourceCookie, res.Source)

	// A cookie naming a tenant that does not exist falls back to the primary membership.
	res, err = f.resolver.Resolve(context.Background(), primary, f.principal(t), uuid.NewString())
	require.NoError(t, err)
	assert.Equal(t, f.acme.ID, res.Tenant.ID)
	assert.Equal(t, SourcePrimary, res.Source)

	res, err = f.resolver.Resolve(context.Background(), primary, f.principal(t), "not-a-uuid")
	require.NoError(t, err)
	assert.Equal(t, SourcePrimary, res.Source)
}

func TestResolver_SuperAdminWithoutSignalStaysUnresolved(t *testing.T) {
	f := newResolverFixture(t)
	p := f.principal(t)
	p.IsSuperAdmin = true

	res, err := f.resolver.Resolve(context.Background(), HostContext{IsPrimaryHost: true}, p, "")
	require.NoError(t, err)
	assert.False(t, res.Resolved())
	assert.Equal(t, SourceNone, res.Source)

	res, err = f.resolver.Resolve(context.Background(), HostContext{IsPrimaryHost: true}, p, f.globex.ID.String())
	require.NoError(t, err)
	assert.Equal(t, f.globex.ID, res.Tenant.ID)
}

func TestResolver_NoMembershipsStaysUnresolved(t *testing.T) {
	f := newResolverFixture(t)

	res, err := f.resolver.Resolve(context.Background(), HostContext{IsPrimaryHost: true}, &identity.Principal{}, "")
	require.NoError(t, err)
	assert.False(t, res.Resolved())

	res, err = f.resolver.Resolve(context.Background(), HostContext{IsPrimaryHost: true}, nil, "")
	require.NoError(t, err)
	assert.False(t, res.Resolved())
}

type failingTenantStore struct{}

func (failingTenantStore) GetTenantByID(context.Context, uuid.UUID) (*models.Tenant, error) {
	return nil, errors.New("connection refused")
}

func (failingTenantStore) GetTenantBySlug(context.Context, string) (*models.Tenant, error) {
	return nil, errors.New("connection refused")
}

func TestResolver_StoreFailureIsAnError(t *testing.T) {
	r := NewResolver(failingTenantStore{})

	_, err := r.Resolve(context.Background(), HostContext{TenantSlug: "acme"}, nil, "")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, store.ErrNotFound)

	_, err = r.Resolve(context.Background(), HostContext{IsPrimaryHost: true}, nil, uuid.NewString())
	assert.Error(t, err)
}

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavitra93/thinkats-access/shared/access"
	"github.com/pavitra93/thinkats-access/shared/audit"
	"github.com/pavitra93/thinkats-access/shared/config"
	"github.com/pavitra93/thinkats-access/shared/identity"
	"github.com/pavitra93/thinkats-access/shared/middleware"
	"github.com/pavitra93/thinkats-access/shared/models"
	"github.com/pavitra93/thinkats-access/shared/store"
	"github.com/pavitra93/thinkats-access/shared/store/storetest"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type sessions map[string]identity.SessionResult

func (s sessions) VerifySession(_ context.Context, credential string) identity.SessionResult {
	if r, ok := s[credential]; ok {
		return r
	}
	return identity.Absent()
}

type fixture struct {
	store    *store.Store
	router   *gin.Engine
	pipeline *access.Pipeline
	acme     *models.Tenant
	globex   *models.Tenant
	ada      *models.User
	boot     *models.User
}

func newFixture(t *testing.T) *fixture {
	cfg := &config.AccessConfig{
		RootDomain:         "thinkats.com",
		ReservedSubdomains: []string{"www", "app"},
		SuperAdminEmails:   []string{"boot@thinkats.com"},
		SuperAdminRole:     "owner",
		OnMissingPolicy:    "closed",
		SessionCookie:      "thinkats_session",
		TenantCookie:       "thinkats_tenant",
		ElevationCookie:    "thinkats_elevated",
		ElevationSecret:    "0123456789abcdef0123456789abcdef",
		ElevationFreshness: 24 * time.Hour,
		TenantCookieMaxAge: 30 * 24 * time.Hour,
		LoginURL:           "/login",
		TenantPickerURL:    "/select-tenant",
		ElevationURL:       "/verify",
		AccessDeniedURL:    "/access-denied",
	}
	provider := sessions{
		"ada":  identity.Verified(identity.Identity{ExternalID: "ext-ada", Email: "ada@acme.io"}),
		"boot": identity.Verified(identity.Identity{ExternalID: "ext-boot", Email: "boot@thinkats.com"}),
		"cleo": identity.Verified(identity.Identity{ExternalID: "ext-cleo", Email: "cleo@acme.io"}),
	}

	s := storetest.New(t)
	log, _ := logtest.NewNullLogger()
	pipeline := access.NewPipeline(cfg, provider, s, log)
	pipeline.Now = func() time.Time { return t0.Add(time.Hour) }
	am := middleware.NewAccessMiddleware(pipeline, access.NewRemediations(cfg), audit.Nop{}, log)

	f := &fixture{
		store:    s,
		pipeline: pipeline,
		acme:     storetest.Tenant(t, s, "acme", models.TenantStatusActive),
		globex:   storetest.Tenant(t, s, "globex", models.TenantStatusActive),
		ada:      storetest.User(t, s, "ada@acme.io", models.GlobalRoleNone),
		boot:     storetest.User(t, s, "boot@thinkats.com", models.GlobalRoleNone),
	}
	storetest.Membership(t, s, f.ada, f.acme, models.RoleOwner, true, t0)

	f.router = gin.New()
	registerRoutes(f.router, s, am, middleware.NewCookies(cfg), log)
	return f
}

type request struct {
	method, host, path, session string
	body                        interface{}
	cookies                     []*http.Cookie
}

func (f *fixture) do(t *testing.T, r request) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if r.body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(r.body))
	}
	host := r.host
	if host == "" {
		host = "thinkats.com"
	}
	req := httptest.NewRequest(r.method, r.path, &buf)
	req.Host = host
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if r.session != "" {
		req.AddCookie(&http.Cookie{Name: "thinkats_session", Value: r.session})
	}
	for _, c := range r.cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *fixture) elevated(t *testing.T, user *models.User) *http.Cookie {
	t.Helper()
	marker, err := f.pipeline.Markers.Issue(user.ID, t0)
	require.NoError(t, err)
	return &http.Cookie{Name: "thinkats_elevated", Value: marker}
}

func decodeOptions(t *testing.T, w *httptest.ResponseRecorder) []TenantOption {
	t.Helper()
	var resp struct {
		Data []TenantOption `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Data
}

func TestListTenants_MemberSeesMemberships(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, request{method: http.MethodGet, path: "/tenants", session: "ada"})

	require.Equal(t, http.StatusOK, w.Code)
	options := decodeOptions(t, w)
	require.Len(t, options, 1)
	assert.Equal(t, f.acme.ID, options[0].ID)
	assert.Equal(t, models.RoleOwner, options[0].Role)
	assert.True(t, options[0].Primary)
	assert.True(t, options[0].Selected)
}

func TestListTenants_SuperAdminSeesAll(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, request{method: http.MethodGet, path: "/tenants", session: "boot"})

	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeOptions(t, w), 2)
}

func TestSelectTenant(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, request{method: http.MethodPost, path: "/tenants/select", session: "ada", body: SelectTenantRequest{TenantID: f.acme.ID.String()}})
	require.Equal(t, http.StatusOK, w.Code)
	var selected *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == "thinkats_tenant" {
			selected = c
		}
	}
	require.NotNil(t, selected)
	assert.Equal(t, f.acme.ID.String(), selected.Value)
	assert.Equal(t, 30*24*3600, selected.MaxAge)

	w = f.do(t, request{method: http.MethodPost, path: "/tenants/select", session: "ada", body: SelectTenantRequest{TenantID: f.globex.ID.String()}})
	assert.Equal(t, http.StatusForbidden, w.Code, "non-members cannot select a tenant")

	w = f.do(t, request{method: http.MethodPost, path: "/tenants/select", session: "boot", body: SelectTenantRequest{TenantID: f.globex.ID.String()}})
	assert.Equal(t, http.StatusOK, w.Code, "super-admins can select any tenant")

	w = f.do(t, request{method: http.MethodPost, path: "/tenants/select", session: "ada", body: SelectTenantRequest{TenantID: "not-a-uuid"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetCurrentTenant(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, request{method: http.MethodGet, path: "/tenants/current", session: "ada"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"source":"primary"`)
	assert.Contains(t, w.Body.String(), `"role":"owner"`)

	w = f.do(t, request{method: http.MethodGet, host: "globex.thinkats.com", path: "/tenants/current", session: "ada"})
	assert.Equal(t, http.StatusForbidden, w.Code, "host tenant without membership")

	w = f.do(t, request{method: http.MethodGet, path: "/tenants/current", session: "boot"})
	assert.Equal(t, http.StatusConflict, w.Code, "super-admin without a selection goes to the picker")
}

func TestSetPrimary(t *testing.T) {
	f := newFixture(t)
	storetest.Membership(t, f.store, f.ada, f.globex, models.RoleViewer, false, t0.Add(time.Minute))

	w := f.do(t, request{method: http.MethodPost, path: "/tenants/" + f.globex.ID.String() + "/primary", session: "ada"})
	require.Equal(t, http.StatusOK, w.Code)

	memberships, err := f.store.ListMembershipsByUser(context.Background(), f.ada.ID)
	require.NoError(t, err)
	assert.Equal(t, f.globex.ID, memberships[0].TenantID)
	assert.True(t, memberships[0].IsPrimary)
	assert.False(t, memberships[1].IsPrimary)

	other := storetest.Tenant(t, f.store, "initech", models.TenantStatusActive)
	w = f.do(t, request{method: http.MethodPost, path: "/tenants/" + other.ID.String() + "/primary", session: "ada"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdminRoutes_RequireSuperAdminAndElevation(t *testing.T) {
	f := newFixture(t)
	path := "/tenants/" + f.globex.ID.String() + "/status"
	body := UpdateStatusRequest{Status: models.TenantStatusSuspended}

	w := f.do(t, request{method: http.MethodPut, path: path, session: "ada", body: body, cookies: []*http.Cookie{f.elevated(t, f.ada)}})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = f.do(t, request{method: http.MethodPut, path: path, session: "boot", body: body})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "elevation_required")

	w = f.do(t, request{method: http.MethodPut, path: path, session: "boot", body: body, cookies: []*http.Cookie{f.elevated(t, f.boot)}})
	require.Equal(t, http.StatusOK, w.Code)
	tenant, err := f.store.GetTenantByID(context.Background(), f.globex.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TenantStatusSuspended, tenant.Status)
}

func TestUpdateStatus_RejectsUnknownStatus(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, request{
		method:  http.MethodPut,
		path:    "/tenants/" + f.globex.ID.String() + "/status",
		session: "boot",
		body:    UpdateStatusRequest{Status: "deleted"},
		cookies: []*http.Cookie{f.elevated(t, f.boot)},
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDeleteTenant(t *testing.T) {
	f := newFixture(t)
	marker := []*http.Cookie{f.elevated(t, f.boot)}

	w := f.do(t, request{method: http.MethodDelete, path: "/tenants/" + f.acme.ID.String(), session: "boot", cookies: marker})
	assert.Equal(t, http.StatusConflict, w.Code, "tenant with memberships")

	w = f.do(t, request{method: http.MethodDelete, path: "/tenants/" + f.globex.ID.String(), session: "boot", cookies: marker})
	require.Equal(t, http.StatusOK, w.Code)
	_, err := f.store.GetTenantByID(context.Background(), f.globex.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	w = f.do(t, request{method: http.MethodDelete, path: "/tenants/" + f.globex.ID.String(), session: "boot", cookies: marker})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateTenant(t *testing.T) {
	f := newFixture(t)
	marker := []*http.Cookie{f.elevated(t, f.boot)}

	w := f.do(t, request{method: http.MethodPost, path: "/tenants", session: "boot", body: CreateTenantRequest{Slug: "Initech", Name: "Initech"}, cookies: marker})
	require.Equal(t, http.StatusCreated, w.Code)
	tenant, err := f.store.GetTenantBySlug(context.Background(), "initech")
	require.NoError(t, err)
	assert.Equal(t, "starter", tenant.Plan)

	w = f.do(t, request{method: http.MethodPost, path: "/tenants", session: "boot", body: CreateTenantRequest{Slug: "bad_slug", Name: "Bad"}, cookies: marker})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAddMember(t *testing.T) {
	f := newFixture(t)
	bob := storetest.User(t, f.store, "bob@acme.io", models.GlobalRoleNone)

	w := f.do(t, request{
		method:  http.MethodPost,
		host:    "acme.thinkats.com",
		path:    "/tenants/current/members",
		session: "ada",
		body:    AddMemberRequest{Email: "bob@acme.io", Role: models.RoleRecruiter},
	})
	assert.Equal(t, http.StatusForbidden, w.Code, "owner must be elevated")

	w = f.do(t, request{
		method:  http.MethodPost,
		host:    "acme.thinkats.com",
		path:    "/tenants/current/members",
		session: "ada",
		body:    AddMemberRequest{Email: "bob@acme.io", Role: models.RoleRecruiter},
		cookies: []*http.Cookie{f.elevated(t, f.ada)},
	})
	require.Equal(t, http.StatusCreated, w.Code)

	m, err := f.store.GetMembership(context.Background(), bob.ID, f.acme.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RoleRecruiter, m.Role)
}

func TestAddMember_AdminCannotGrantAboveOwnRoleOrMovePrimary(t *testing.T) {
	f := newFixture(t)
	cleo := storetest.User(t, f.store, "cleo@acme.io", models.GlobalRoleNone)
	storetest.Membership(t, f.store, cleo, f.acme, models.RoleAdmin, true, t0)
	dana := storetest.User(t, f.store, "dana@globex.io", models.GlobalRoleNone)
	storetest.Membership(t, f.store, dana, f.globex, models.RoleViewer, true, t0)
	marker := []*http.Cookie{f.elevated(t, cleo)}

	w := f.do(t, request{
		method:  http.MethodPost,
		host:    "acme.thinkats.com",
		path:    "/tenants/current/members",
		session: "cleo",
		body:    AddMemberRequest{Email: "dana@globex.io", Role: models.RoleOwner},
		cookies: marker,
	})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = f.do(t, request{
		method:  http.MethodPost,
		host:    "acme.thinkats.com",
		path:    "/tenants/current/members",
		session: "cleo",
		body:    map[string]interface{}{"email": "dana@globex.io", "role": "admin", "primary": true},
		cookies: marker,
	})
	require.Equal(t, http.StatusCreated, w.Code)

	memberships, err := f.store.ListMembershipsByUser(context.Background(), dana.ID)
	require.NoError(t, err)
	require.Len(t, memberships, 2)
	assert.Equal(t, f.globex.ID, memberships[0].TenantID)
	assert.True(t, memberships[0].IsPrimary)
	assert.Equal(t, models.RoleAdmin, memberships[1].Role)
	assert.False(t, memberships[1].IsPrimary)
}

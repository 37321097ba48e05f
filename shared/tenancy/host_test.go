package tenancy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func newTestHostResolver() *HostResolver {
	return NewHostResolver("thinkats.com", []string{"www", "app"})
}

func TestHostResolver_PrimaryHosts(t *testing.T) {
	r := newTestHostResolver()
	for _, host := range []string{
		"thinkats.com",
		"www.thinkats.com",
		"ThinkATS.com",
		"thinkats.com:443",
		"www.thinkats.com:8080",
		"thinkats.com.",
	} {
		hc := r.Resolve(host)
		assert.True(t, hc.IsPrimaryHost, host)
		assert.Empty(t, hc.TenantSlug, host)
		assert.False(t, hc.HasSlug(), host)
	}
}

func TestHostResolver_TenantSubdomains(t *testing.T) {
	r := newTestHostResolver()
	cases := map[string]string{
		"acme.thinkats.com":          "acme",
		"ACME.thinkats.com:3000":     "acme",
		"globex-corp.thinkats.com":   "globex-corp",
		"a1.thinkats.com":            "a1",
		"careers.acme.thinkats.com":  "careers",
		"initech.thinkats.com.":      "initech",
		"umbrella.thinkats.com:8443": "umbrella",
	}
	for host, slug := range cases {
		hc := r.Resolve(host)
		assert.False(t, hc.IsPrimaryHost, host)
		assert.Equal(t, slug, hc.TenantSlug, host)
	}
}

func TestHostResolver_ReservedLabelsArePrimaryEquivalent(t *testing.T) {
	r := newTestHostResolver()
	for _, host := range []string{"app.thinkats.com", "www.thinkats.com", "app.thinkats.com:443"} {
		hc := r.Resolve(host)
		assert.True(t, hc.IsPrimaryHost, host)
		assert.Empty(t, hc.TenantSlug, host)
	}
}

func TestHostResolver_ForeignHostsAreUnresolvable(t *testing.T) {
	r := newTestHostResolver()
	for _, host := range []string{
		"",
		"localhost",
		"localhost:8080",
		"127.0.0.1:8080",
		"[::1]:8080",
		"evilthinkats.com",
		"acme.thinkats.com.evil.io",
		"thinkats.co",
	} {
		assert.Equal(t, HostContext{}, r.Resolve(host), host)
	}
}

func TestHostResolver_InvalidSlugLabel(t *testing.T) {
	r := newTestHostResolver()
	assert.Equal(t, HostContext{}, r.Resolve("-acme.thinkats.com"))
	assert.Equal(t, HostContext{}, r.Resolve("acme_corp.thinkats.com"))
}

func TestValidSlug(t *testing.T) {
	assert.True(t, ValidSlug("acme"))
	assert.True(t, ValidSlug("acme-2"))
	assert.False(t, ValidSlug(""))
	assert.False(t, ValidSlug("Acme"))
	assert.False(t, ValidSlug("acme-"))
}

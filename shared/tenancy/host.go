// Package tenancy turns the request host and the caller's selection into one tenant.
package tenancy

import (
	"net"
	"regexp"
	"strings"
)

var slugPattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)

// HostContext is what the host header implies about the tenant
type HostContext struct {
	IsPrimaryHost bool   `json:"is_primary_host"`
	TenantSlug    string `json:"tenant_slug,omitempty"`
}

// HasSlug reports whether the host forces a tenant
func (h HostContext) HasSlug() bool {
	return h.TenantSlug != ""
}

// HostResolver parses host headers against the deployment's root domain
type HostResolver struct {
	rootDomain string
	reserved   map[string]bool
}

// NewHostResolver creates a resolver for rootDomain. Reserved labels never name a tenant.
func NewHostResolver(rootDomain string, reserved []string) *HostResolver {
	r := &HostResolver{
		rootDomain: normalizeHost(rootDomain),
		reserved:   make(map[string]bool, len(reserved)),
	}
	for _, label := range reserved {
		r.reserved[strings.ToLower(strings.TrimSpace(label))] = true
	}
	return r
}

// Resolve classifies a raw host header. Hosts outside the root domain imply no tenant
// and are not primary; that is not an error.
func (r *HostResolver) Resolve(hostHeader string) HostContext {
	host := normalizeHost(stripPort(hostHeader))
	if host == "" || r.rootDomain == "" {
		return HostContext{}
	}

	if host == r.rootDomain || host == "www."+r.rootDomain {
		return HostContext{IsPrimaryHost: true}
	}

	suffix := "." + r.rootDomain
	if !strings.HasSuffix(host, suffix) {
		return HostContext{}
	}

	prefix := strings.TrimSuffix(host, suffix)
	label := prefix
	if i := strings.IndexByte(prefix, '.'); i >= 0 {
		label = prefix[:i]
	}

	if r.reserved[label] {
		return HostContext{IsPrimaryHost: true}
	}
	if !slugPattern.MatchString(label) {
		return HostContext{}
	}
	return HostContext{TenantSlug: label}
}

// ValidSlug reports whether slug can name a tenant subdomain
func ValidSlug(slug string) bool {
	return slugPattern.MatchString(slug)
}

func stripPort(host string) string {
	host = strings.TrimSpace(host)
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
}

func normalizeHost(host string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(host)), ".")
}

// Package identity resolves who is calling: the external session identity and the
// internal principal behind it.
package identity

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/pavitra93/thinkats-access/shared/metrics"
)

var errMissingEmail = errors.New("verified session carries no email")

// Identity is a verified external identity
type Identity struct {
	ExternalID string `json:"external_id"`
	Email      string `json:"email"`
}

// SessionStatus tags the outcome of session verification
type SessionStatus int

const (
	// SessionAbsent means no credential, or the provider reports it missing or expired
	SessionAbsent SessionStatus = iota
	// SessionVerified means the credential was verified
	SessionVerified
	// SessionError means verification failed unexpectedly
	SessionError
)

func (s SessionStatus) String() string {
	switch s {
	case SessionVerified:
		return "verified"
	case SessionError:
		return "error"
	default:
		return "absent"
	}
}

// SessionResult is Absent | Verified(identity) | Error(cause)
type SessionResult struct {
	Status   SessionStatus
	Identity *Identity
	Err      error
}

// Absent returns the no-session result
func Absent() SessionResult {
	return SessionResult{Status: SessionAbsent}
}

// Verified returns a verified result for id
func Verified(id Identity) SessionResult {
	return SessionResult{Status: SessionVerified, Identity: &id}
}

// Failed returns an unexpected verification failure
func Failed(err error) SessionResult {
	return SessionResult{Status: SessionError, Err: err}
}

// VerifiedIdentity returns the identity only when verification succeeded. Errors are
// reported as no identity so a failure is never mistaken for a grant.
func (r SessionResult) VerifiedIdentity() (*Identity, bool) {
	if r.Status != SessionVerified || r.Identity == nil {
		return nil, false
	}
	return r.Identity, true
}

// Provider verifies an opaque session credential with the external identity provider
type Provider interface {
	VerifySession(ctx context.Context, credential string) SessionResult
}

// SessionResolver reads the credential off the request and asks the provider about it.
// It never touches the database.
type SessionResolver struct {
	provider   Provider
	cookieName string
	log        logrus.FieldLogger
}

// NewSessionResolver creates a session resolver reading cookieName
func NewSessionResolver(provider Provider, cookieName string, log logrus.FieldLogger) *SessionResolver {
	return &SessionResolver{provider: provider, cookieName: cookieName, log: log}
}

// Resolve verifies the request's session credential
func (r *SessionResolver) Resolve(ctx context.Context, req *http.Request) SessionResult {
	credential := r.Credential(req)
	if credential == "" {
		metrics.SessionResolutions.WithLabelValues(SessionAbsent.String()).Inc()
		return Absent()
	}

	result := r.provider.VerifySession(ctx, credential)
	if result.Status == SessionVerified && (result.Identity == nil || result.Identity.Email == "") {
		result = Failed(errMissingEmail)
	}
	if result.Status == SessionError {
		r.log.WithFields(logrus.Fields{
			"error": result.Err,
			"path":  req.URL.Path,
		}).Warn("Session verification failed, treating request as anonymous")
	}

	metrics.SessionResolutions.WithLabelValues(result.Status.String()).Inc()
	return result
}

// Credential extracts the session credential from the session cookie, falling back to
// an Authorization bearer token for API clients.
func (r *SessionResolver) Credential(req *http.Request) string {
	if cookie, err := req.Cookie(r.cookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}

	authHeader := req.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	}
	return ""
}

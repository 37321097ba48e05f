package elevation

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/pavitra93/thinkats-access/shared/models"
)

const markerAudience = "thinkats-elevation"

// State is the caller's elevation as read from the marker cookie
type State struct {
	Elevated   bool
	VerifiedAt time.Time
}

// NotElevated is the zero state
var NotElevated = State{}

// markerClaims carries the verification time in microseconds; iat only has
// second precision and cannot be ordered against a credential change.
type markerClaims struct {
	jwt.RegisteredClaims
	VerifiedAt int64 `json:"vat"`
}

// MarkerCodec signs and reads the elevation marker. The marker is an HS256 token whose
// vat claim is the verification time; it only counts while younger than the freshness window.
type MarkerCodec struct {
	secret    []byte
	freshness time.Duration
}

// NewMarkerCodec creates a codec signing with secret
func NewMarkerCodec(secret string, freshness time.Duration) *MarkerCodec {
	return &MarkerCodec{secret: []byte(secret), freshness: freshness}
}

// MaxAge is the cookie lifetime matching the freshness window
func (c *MarkerCodec) MaxAge() time.Duration {
	return c.freshness
}

// Issue returns a marker for userID verified at at
func (c *MarkerCodec) Issue(userID uuid.UUID, at time.Time) (string, error) {
	claims := markerClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			Audience:  jwt.ClaimStrings{markerAudience},
			IssuedAt:  jwt.NewNumericDate(at),
			ExpiresAt: jwt.NewNumericDate(at.Add(c.freshness)),
		},
		VerifiedAt: at.UnixMicro(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign elevation marker: %w", err)
	}
	return signed, nil
}

// State reads value for user at now. Absent, tampered, stale, foreign and
// pre-credential-change markers all read as not elevated.
func (c *MarkerCodec) State(value string, user *models.User, now time.Time) State {
	if value == "" || user == nil {
		return NotElevated
	}

	var claims markerClaims
	_, err := jwt.ParseWithClaims(value, &claims, func(*jwt.Token) (interface{}, error) {
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(markerAudience),
		jwt.WithSubject(user.ID.String()),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil || claims.VerifiedAt == 0 {
		return NotElevated
	}

	verifiedAt := time.UnixMicro(claims.VerifiedAt).UTC()
	if verifiedAt.After(now) || now.Sub(verifiedAt) >= c.freshness {
		return NotElevated
	}
	// a verification in the same microsecond as the change does not survive it
	if user.CredentialsChangedAt != nil && !verifiedAt.After(user.CredentialsChangedAt.Truncate(time.Microsecond)) {
		return NotElevated
	}

	return State{Elevated: true, VerifiedAt: verifiedAt}
}

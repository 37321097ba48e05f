package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/cognitoidentityprovider"
	"github.com/aws/aws-sdk-go/service/cognitoidentityprovider/cognitoidentityprovideriface"
	"github.com/golang-jwt/jwt/v5"

	"github.com/pavitra93/thinkats-access/shared/models"
	"github.com/pavitra93/thinkats-access/shared/utils"
)

// CognitoConfig configures the Cognito session provider
type CognitoConfig struct {
	Region     string
	UserPoolID string
	ClientID   string
	Timeout    time.Duration
	// Issuer overrides the pool issuer; tests point it at a local key server.
	Issuer string
}

// CognitoProvider verifies Cognito access or ID tokens. Signatures are checked against
// the pool's JWKS; access tokens carry no email, so it is fetched with AdminGetUser.
type CognitoProvider struct {
	client     cognitoidentityprovideriface.CognitoIdentityProviderAPI
	validator  *utils.JWKSValidator
	breaker    *utils.CircuitBreaker
	userPoolID string
	clientID   string
	issuer     string
	timeout    time.Duration
}

// NewCognitoProvider creates a provider. client may be nil when only ID tokens are used.
func NewCognitoProvider(cfg CognitoConfig, client cognitoidentityprovideriface.CognitoIdentityProviderAPI, validator *utils.JWKSValidator) *CognitoProvider {
	issuer := cfg.Issuer
	if issuer == "" {
		issuer = utils.CognitoIssuer(cfg.Region, cfg.UserPoolID)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &CognitoProvider{
		client:     client,
		validator:  validator,
		breaker:    utils.NewCircuitBreaker(5, 30*time.Second),
		userPoolID: cfg.UserPoolID,
		clientID:   cfg.ClientID,
		issuer:     issuer,
		timeout:    timeout,
	}
}

// VerifySession implements Provider. Expired tokens and users the pool no longer knows
// are Absent; everything else that fails is an Error for the caller to log.
func (p *CognitoProvider) VerifySession(ctx context.Context, credential string) SessionResult {
	if credential == "" {
		return Absent()
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	token, err := p.validator.ValidateToken(ctx, credential,
		jwt.WithIssuer(p.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Absent()
		}
		return Failed(err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Failed(fmt.Errorf("invalid token claims format"))
	}

	tokenUse := getClaimString(claims, "token_use")
	switch tokenUse {
	case "id":
		if p.clientID != "" && !audienceContains(claims, p.clientID) {
			return Failed(fmt.Errorf("id token issued for another client"))
		}
	case "access":
		if p.clientID != "" && getClaimString(claims, "client_id") != p.clientID {
			return Failed(fmt.Errorf("access token issued for another client"))
		}
	default:
		return Failed(fmt.Errorf("invalid token use: expected 'access' or 'id', got '%s'", tokenUse))
	}

	sub := getClaimString(claims, "sub")
	if sub == "" {
		return Failed(fmt.Errorf("token has no subject"))
	}

	email := getClaimString(claims, "email")
	if email == "" {
		username := getClaimString(claims, "username")
		if username == "" {
			username = getClaimString(claims, "cognito:username")
		}
		if username == "" {
			username = sub
		}
		var missing bool
		email, missing, err = p.lookupEmail(ctx, username)
		if missing {
			return Absent()
		}
		if err != nil {
			return Failed(err)
		}
	}

	return Verified(Identity{ExternalID: sub, Email: models.NormalizeEmail(email)})
}

// lookupEmail asks the pool for the user's email attribute
func (p *CognitoProvider) lookupEmail(ctx context.Context, username string) (email string, missing bool, err error) {
	if p.client == nil {
		return "", false, fmt.Errorf("token has no email and no Cognito client is configured")
	}

	var out *cognitoidentityprovider.AdminGetUserOutput
	err = p.breaker.CallContext(ctx, func(ctx context.Context) error {
		var callErr error
		out, callErr = p.client.AdminGetUserWithContext(ctx, &cognitoidentityprovider.AdminGetUserInput{
			UserPoolId: aws.String(p.userPoolID),
			Username:   aws.String(username),
		})
		if isUserNotFound(callErr) {
			return nil
		}
		return callErr
	})
	if err != nil {
		return "", false, fmt.Errorf("failed to get user from Cognito: %w", err)
	}
	if out == nil {
		return "", true, nil
	}

	for _, attr := range out.UserAttributes {
		if aws.StringValue(attr.Name) == "email" {
			return aws.StringValue(attr.Value), false, nil
		}
	}
	return "", false, fmt.Errorf("cognito user %s has no email attribute", username)
}

// ChangePassword changes the caller's password with their access token
func (p *CognitoProvider) ChangePassword(ctx context.Context, accessToken, previous, proposed string) error {
	if p.client == nil {
		return fmt.Errorf("no Cognito client is configured")
	}
	return p.breaker.CallContext(ctx, func(ctx context.Context) error {
		_, err := p.client.ChangePasswordWithContext(ctx, &cognitoidentityprovider.ChangePasswordInput{
			AccessToken:      aws.String(accessToken),
			PreviousPassword: aws.String(previous),
			ProposedPassword: aws.String(proposed),
		})
		return err
	})
}

// SignOut revokes every token issued to the caller
func (p *CognitoProvider) SignOut(ctx context.Context, accessToken string) error {
	if p.client == nil {
		return nil
	}
	return p.breaker.CallContext(ctx, func(ctx context.Context) error {
		_, err := p.client.GlobalSignOutWithContext(ctx, &cognitoidentityprovider.GlobalSignOutInput{
			AccessToken: aws.String(accessToken),
		})
		return err
	})
}

func isUserNotFound(err error) bool {
	var aerr awserr.Error
	return errors.As(err, &aerr) && aerr.Code() == cognitoidentityprovider.ErrCodeUserNotFoundException
}

// getClaimString safely extracts a string claim from JWT claims
func getClaimString(claims jwt.MapClaims, key string) string {
	if val, ok := claims[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}

func audienceContains(claims jwt.MapClaims, clientID string) bool {
	aud, err := claims.GetAudience()
	if err != nil {
		return false
	}
	for _, a := range aud {
		if a == clientID {
			return true
		}
	}
	return false
}

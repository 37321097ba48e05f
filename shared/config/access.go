package config

import (
	"fmt"
	"time"
)

const (
	minCodeTTL = 10 * time.Minute
	maxCodeTTL = 15 * time.Minute
)

// AccessConfig holds everything the access pipeline needs. It is built once in main
// and passed down to the resolvers.
type AccessConfig struct {
	RootDomain         string
	ReservedSubdomains []string

	SuperAdminEmails    []string
	SuperAdminRole      string
	AllowedEmailDomains []string
	OnMissingPolicy     string
	AutoProvision       bool

	SessionCookie      string
	TenantCookie       string
	ElevationCookie    string
	CookieSecure       bool
	TenantCookieMaxAge time.Duration

	ElevationSecret      string
	ElevationFreshness   time.Duration
	ElevationCodeTTL     time.Duration
	ElevationReuseWindow time.Duration

	AWSRegion         string
	CognitoUserPoolID string
	CognitoClientID   string
	IdPTimeout        time.Duration

	SESSender string

	RedisHost string
	RedisPort string

	KafkaBroker string
	AuditTopic  string

	LoginURL        string
	TenantPickerURL string
	ElevationURL    string
	AccessDeniedURL string
	ProvisionURL    string
}

// GetAccessConfig reads the access configuration from environment variables
func GetAccessConfig() *AccessConfig {
	return &AccessConfig{
		RootDomain:         getEnv("ROOT_DOMAIN", "thinkats.com"),
		ReservedSubdomains: getEnvList("RESERVED_SUBDOMAINS", "www,app"),

		SuperAdminEmails:    getEnvList("SUPER_ADMIN_EMAILS", ""),
		SuperAdminRole:      getEnv("SUPER_ADMIN_ROLE", "owner"),
		AllowedEmailDomains: getEnvList("ALLOWED_EMAIL_DOMAINS", ""),
		OnMissingPolicy:     getEnv("ON_MISSING_POLICY", "closed"),
		AutoProvision:       getEnvBool("AUTO_PROVISION", true),

		SessionCookie:      getEnv("SESSION_COOKIE", "thinkats_session"),
		TenantCookie:       getEnv("TENANT_COOKIE", "thinkats_tenant"),
		ElevationCookie:    getEnv("ELEVATION_COOKIE", "thinkats_elevated"),
		CookieSecure:       getEnvBool("COOKIE_SECURE", true),
		TenantCookieMaxAge: getEnvDuration("TENANT_COOKIE_MAX_AGE", 30*24*time.Hour),

		ElevationSecret:      getEnv("ELEVATION_SECRET", ""),
		ElevationFreshness:   getEnvDuration("ELEVATION_FRESHNESS", 24*time.Hour),
		ElevationCodeTTL:     clampCodeTTL(getEnvDuration("ELEVATION_CODE_TTL", minCodeTTL)),
		ElevationReuseWindow: getEnvDuration("ELEVATION_REUSE_WINDOW", 60*time.Second),

		AWSRegion:         getEnv("AWS_REGION", "us-east-1"),
		CognitoUserPoolID: getEnv("COGNITO_USER_POOL_ID", ""),
		CognitoClientID:   getEnv("COGNITO_CLIENT_ID", ""),
		IdPTimeout:        getEnvDuration("IDP_TIMEOUT", 3*time.Second),

		SESSender: getEnv("SES_SENDER", "no-reply@thinkats.com"),

		RedisHost: getEnv("REDIS_HOST", ""),
		RedisPort: getEnv("REDIS_PORT", "6379"),

		KafkaBroker: getEnv("KAFKA_BROKER", ""),
		AuditTopic:  getEnv("AUDIT_TOPIC", "access-audit"),

		LoginURL:        getEnv("LOGIN_URL", "/login"),
		TenantPickerURL: getEnv("TENANT_PICKER_URL", "/select-tenant"),
		ElevationURL:    getEnv("ELEVATION_URL", "/verify"),
		AccessDeniedURL: getEnv("ACCESS_DENIED_URL", "/access-denied"),
		ProvisionURL:    getEnv("PROVISION_URL", "/onboarding"),
	}
}

// Validate checks the settings that have no safe default
func (c *AccessConfig) Validate() error {
	if c.RootDomain == "" {
		return fmt.Errorf("ROOT_DOMAIN must be set")
	}
	if len(c.ElevationSecret) < 32 {
		return fmt.Errorf("ELEVATION_SECRET must be at least 32 bytes")
	}
	if c.OnMissingPolicy != "open" && c.OnMissingPolicy != "closed" {
		return fmt.Errorf("ON_MISSING_POLICY must be \"open\" or \"closed\", got %q", c.OnMissingPolicy)
	}
	if c.CognitoUserPoolID == "" {
		return fmt.Errorf("COGNITO_USER_POOL_ID must be set")
	}
	return nil
}

// RedisAddr returns the redis address, or "" when redis is not configured
func (c *AccessConfig) RedisAddr() string {
	if c.RedisHost == "" {
		return ""
	}
	return fmt.Sprintf("%s:%s", c.RedisHost, c.RedisPort)
}

func clampCodeTTL(ttl time.Duration) time.Duration {
	if ttl < minCodeTTL {
		return minCodeTTL
	}
	if ttl > maxCodeTTL {
		return maxCodeTTL
	}
	return ttl
}

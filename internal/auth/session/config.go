package session

import (
	"time"

	"pulse/internal/identity"
)

// Config defines all runtime configuration for the session subsystem.
//
// It controls access-token TTL policy, refresh-token lifetime, clock skew
// tolerance, refresh entropy size, and the shared signing secret.
type Config struct {
	// Issuer is the value set in the "iss" claim of access tokens.
	Issuer string `env:"ISSUER" envDefault:"pulse"`

	// AccessTokenTTL is the lifetime of access tokens for operational roles
	// (admin, manager, staff, checkin, distribution).
	AccessTokenTTL time.Duration `env:"ACCESS_TTL" envDefault:"15m"`

	// AccessTokenTTLLowRisk is the lifetime of access tokens for lower-risk
	// roles (attendee, speaker) whose devices re-authenticate rarely.
	AccessTokenTTLLowRisk time.Duration `env:"ACCESS_TTL_LOW_RISK" envDefault:"24h"`

	// RefreshTTL is the lifetime of refresh sessions.
	RefreshTTL time.Duration `env:"REFRESH_TTL" envDefault:"168h"`

	// ClockSkew is the allowed time skew during token validation.
	ClockSkew time.Duration `env:"CLOCK_SKEW" envDefault:"30s"`

	// RefreshTokenBytes is the number of random bytes in opaque refresh tokens.
	RefreshTokenBytes int `env:"REFRESH_TOKEN_BYTES" envDefault:"32"`

	// LookupTimeout bounds every session-store call made by the service.
	LookupTimeout time.Duration `env:"LOOKUP_TIMEOUT" envDefault:"3s"`

	// SigningSecret is the shared HMAC secret for access tokens. Required;
	// there is no shipped default.
	SigningSecret string `env:"SIGNING_SECRET"`
}

// DefaultConfig returns a configuration suitable for development.
//
// SigningSecret is intentionally left empty: production secrets come from the
// environment, never from code.
func DefaultConfig() Config {
	return Config{
		Issuer:                "pulse",
		AccessTokenTTL:        15 * time.Minute,
		AccessTokenTTLLowRisk: 24 * time.Hour,
		RefreshTTL:            7 * 24 * time.Hour,
		ClockSkew:             30 * time.Second,
		RefreshTokenBytes:     32,
		LookupTimeout:         3 * time.Second,
	}
}

// Validate checks config invariants, returning ErrConfig on violation.
func (c Config) Validate() error {
	if c.Issuer == "" || len(c.SigningSecret) < 32 {
		return ErrConfig
	}
	if c.AccessTokenTTL <= 0 || c.AccessTokenTTLLowRisk <= 0 || c.RefreshTTL <= 0 {
		return ErrConfig
	}
	if c.AccessTokenTTL > c.RefreshTTL {
		return ErrConfig
	}
	if c.ClockSkew < 0 || c.LookupTimeout <= 0 {
		return ErrConfig
	}
	if c.RefreshTokenBytes < 32 || c.RefreshTokenBytes > 64 {
		return ErrConfig
	}
	return nil
}

// AccessTTLFor returns the access-token lifetime policy for a role.
func (c Config) AccessTTLFor(role identity.Role) time.Duration {
	switch role {
	case identity.RoleAttendee, identity.RoleSpeaker:
		return c.AccessTokenTTLLowRisk
	default:
		return c.AccessTokenTTL
	}
}

package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"pulse/internal/identity"
)

// Claims is the identity envelope carried by a signed access token.
//
// A claims value always carries exactly one role. It is a value, not an
// entity: nothing here is persisted.
type Claims struct {
	PrincipalID string
	Email       string
	Role        identity.Role
	Permissions []string
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

// Codec signs and verifies access-token claims with a shared HMAC secret.
//
// Signature comparison is constant-time (HS256 verification uses hmac.Equal
// internally), so verification leaks no timing information about the secret.
type Codec struct {
	secret    []byte
	issuer    string
	clockSkew time.Duration
}

type wireClaims struct {
	jwt.RegisteredClaims
	Email       string   `json:"email,omitempty"`
	Role        string   `json:"role"`
	Permissions []string `json:"perms,omitempty"`
}

const minSecretBytes = 32

// NewCodec builds a Codec. It fails with ErrSigningConfig when the secret is
// missing or shorter than 32 bytes; a valid codec never fails at issue time
// for valid input.
func NewCodec(secret []byte, issuer string, clockSkew time.Duration) (*Codec, error) {
	if len(secret) < minSecretBytes {
		return nil, ErrSigningConfig
	}
	if issuer == "" {
		return nil, ErrSigningConfig
	}
	if clockSkew < 0 {
		clockSkew = 0
	}
	return &Codec{secret: secret, issuer: issuer, clockSkew: clockSkew}, nil
}

// Issue signs claims with the given ttl. The expiry is strictly in the future
// at issuance.
func (c *Codec) Issue(principal identity.Principal, ttl time.Duration, now time.Time) (string, time.Time, error) {
	if ttl <= 0 {
		return "", time.Time{}, ErrSigningConfig
	}
	now = now.UTC()
	exp := now.Add(ttl)

	wc := wireClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   principal.ID,
			Issuer:    c.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Email:       principal.Email,
		Role:        string(principal.Role),
		Permissions: principal.Permissions,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, wc).SignedString(c.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// Verify parses and validates a signed token against the shared secret.
//
// Failure taxonomy:
//   - ErrMalformed: the token cannot be parsed at all.
//   - ErrSignatureInvalid: parsed, but not signed with our secret.
//   - ErrExpired: signature valid, expiry in the past.
func (c *Codec) Verify(tokenString string, now time.Time) (Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &wireClaims{},
		func(t *jwt.Token) (any, error) { return c.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(c.issuer),
		jwt.WithTimeFunc(func() time.Time { return now.UTC().Add(-c.clockSkew) }),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return Claims{}, ErrExpired
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return Claims{}, ErrSignatureInvalid
		default:
			return Claims{}, ErrMalformed
		}
	}

	wc, ok := parsed.Claims.(*wireClaims)
	if !ok || !parsed.Valid {
		return Claims{}, ErrMalformed
	}

	role, roleErr := identity.ParseRole(wc.Role)
	if roleErr != nil || wc.Subject == "" {
		return Claims{}, ErrMalformed
	}

	claims := Claims{
		PrincipalID: wc.Subject,
		Email:       wc.Email,
		Role:        role,
		Permissions: wc.Permissions,
	}
	if wc.IssuedAt != nil {
		claims.IssuedAt = wc.IssuedAt.Time
	}
	if wc.ExpiresAt != nil {
		claims.ExpiresAt = wc.ExpiresAt.Time
	}
	return claims, nil
}

// PrincipalHint extracts the claimed principal id without trusting expiry.
//
// Refresh uses this only as a fast-path lookup hint; the refresh token is the
// trust anchor and is validated independently against the session store. A
// bad signature still fails: an expired-but-authentic token is the only
// tolerated degradation.
func (c *Codec) PrincipalHint(tokenString string, now time.Time) (string, bool) {
	claims, err := c.Verify(tokenString, now)
	if err == nil {
		return claims.PrincipalID, true
	}
	if !errors.Is(err, ErrExpired) {
		return "", false
	}

	// Re-parse with expiry validation disabled; signature is still enforced.
	parsed, err := jwt.ParseWithClaims(tokenString, &wireClaims{},
		func(t *jwt.Token) (any, error) { return c.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(c.issuer),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return "", false
	}
	wc, ok := parsed.Claims.(*wireClaims)
	if !ok || wc.Subject == "" {
		return "", false
	}
	return wc.Subject, true
}

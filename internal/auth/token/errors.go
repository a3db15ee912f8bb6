package token

import "errors"

var (
	// ErrSigningConfig is returned for codec misconfiguration (missing or
	// short secret, empty issuer, non-positive ttl). Valid input never
	// produces it at issue time.
	ErrSigningConfig = errors.New("token signing misconfigured")

	// ErrMalformed is returned when a token cannot be parsed.
	ErrMalformed = errors.New("token malformed")

	// ErrSignatureInvalid is returned when the signature does not verify.
	ErrSignatureInvalid = errors.New("token signature invalid")

	// ErrExpired is returned when an otherwise valid token has expired.
	ErrExpired = errors.New("token expired")
)

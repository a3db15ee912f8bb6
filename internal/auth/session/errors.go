package session

import "errors"

var (
	// ErrInvalidCredentials is returned when login fails for an unknown
	// principal or a wrong password. Callers never learn which field was
	// wrong.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrForbiddenRole is returned when a principal authenticates against a
	// login flow restricted to other roles.
	ErrForbiddenRole = errors.New("role not allowed for this login")

	// ErrSessionNotFound is returned when a refresh token does not match any session.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionExpired is returned when the session is expired.
	ErrSessionExpired = errors.New("session expired")

	// ErrSessionRevoked is returned when the session has been revoked.
	ErrSessionRevoked = errors.New("session revoked")

	// ErrRefreshReuseDetected is returned when a rotated (replaced) refresh
	// token is presented again. All sessions for the principal are revoked
	// before this is returned.
	ErrRefreshReuseDetected = errors.New("refresh token reuse detected")

	// ErrPrincipalGone is returned when the principal behind a valid session
	// no longer exists in the directory.
	ErrPrincipalGone = errors.New("principal no longer exists")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)

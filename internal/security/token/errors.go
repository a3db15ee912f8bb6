package token

import "errors"

// Sentinel errors for HMAC key configuration, matched by startup
// validation with errors.Is.
var (
	ErrHMACKeyMissing  = errors.New("security/token: hmac key not configured")
	ErrHMACKeyTooShort = errors.New("security/token: hmac key below minimum length")
)

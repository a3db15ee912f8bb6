// Package token implements the Pulse access-token codec.
//
// Access tokens are HS256-signed JWTs carrying principal id, email, one role,
// and capability strings. They are short-lived values, never persisted, and
// verified on every request by the authorization guard.
//
// Refresh tokens are NOT handled here: they are opaque random strings owned
// by internal/auth/session and stored only as hashes.
package token

// Package session implements Pulse's refresh-session subsystem.
//
// It provides a multi-device session model with refresh-token rotation,
// reuse detection, and per-session/per-principal revocation.
//
// Access tokens are HS256-signed JWTs (internal/auth/token) and are
// short-lived. Refresh tokens are opaque random strings and are stored hashed
// (HMAC-SHA256 when PULSE_TOKEN_HMAC_KEY is set; otherwise SHA-256 for
// dev/back-compat). Postgres, Redis, and in-memory stores satisfy the same
// Store contract, each with atomic rotation.
//
// Transport (HTTP cookies, WS) integration is intentionally out of scope here.
package session

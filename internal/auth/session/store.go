package session

import (
	"context"
	"net"
	"time"
)

// DeviceContext carries optional audit attributes for a session.
type DeviceContext struct {
	UserAgent string
	IP        net.IP
}

// Row mirrors the pulse.sessions record used by the session subsystem.
type Row struct {
	ID                  string
	PrincipalID         string
	RefreshTokenHash    string
	CreatedAt           time.Time
	LastUsedAt          *time.Time
	ExpiresAt           time.Time
	RevokedAt           *time.Time
	ReplacedBySessionID *string
	UserAgent           string
}

// Active reports whether the row is neither revoked nor expired at now.
func (r Row) Active(now time.Time) bool {
	return r.RevokedAt == nil && r.ExpiresAt.After(now)
}

// Rotation is the result of an atomic refresh rotation in a Store.
type Rotation struct {
	// Old is the session row matched by the presented refresh hash, as it
	// was before rotation.
	Old Row
	// NewSessionID is the id of the replacement session. Empty when the
	// rotation was refused (reuse, revoked, expired).
	NewSessionID string
}

// Store abstracts persistence for refresh sessions.
//
// Implementations must make Rotate atomic with respect to concurrent calls
// presenting the same refresh hash: exactly one such call may succeed; the
// rest observe the already-rotated row. No implementation ever sees a
// plaintext refresh token.
type Store interface {
	// Create inserts a new session row keyed by refreshHash.
	Create(ctx context.Context, now time.Time, principalID string, dev DeviceContext, refreshHash string, expiresAt time.Time) (sessionID string, err error)

	// GetByID loads a session row by ID.
	GetByID(ctx context.Context, sessionID string) (Row, error)

	// Rotate atomically replaces the session matching refreshHash with a new
	// session. Failure taxonomy, in order of checks:
	//   - ErrSessionNotFound: no row matches refreshHash.
	//   - ErrSessionExpired: the matched row is past its expiry.
	//   - ErrRefreshReuseDetected: the row was already rotated (revoked with
	//     a replacement); all sessions for its principal are revoked first.
	//   - ErrSessionRevoked: the row was revoked without replacement (logout).
	Rotate(ctx context.Context, now time.Time, refreshHash string, newHash string, newExpiresAt time.Time, dev DeviceContext) (Rotation, error)

	// RevokeByRefreshHash revokes the session matching refreshHash.
	// Idempotent: revoking an unknown or already-revoked token is not an error.
	RevokeByRefreshHash(ctx context.Context, now time.Time, refreshHash string, reason string) error

	// Revoke revokes a single session by id (idempotent).
	Revoke(ctx context.Context, now time.Time, sessionID string, reason string) error

	// RevokeAll revokes all sessions for a principal (idempotent).
	RevokeAll(ctx context.Context, now time.Time, principalID string, reason string) error
}

package session

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
)

// PostgresStore implements Store using PostgreSQL (pulse.sessions).
//
// Rotation safety comes from a per-row SELECT ... FOR UPDATE inside a single
// transaction, so contention is per-record, never global.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a Postgres-backed session store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const sessionColumns = `
	id, principal_id, refresh_token_hash,
	created_at, last_used_at, expires_at, revoked_at,
	replaced_by_session_id, user_agent`

// Create inserts a new session row and returns its ULID.
func (s *PostgresStore) Create(ctx context.Context, now time.Time, principalID string, dev DeviceContext, refreshHash string, expiresAt time.Time) (string, error) {
	id := ulid.Make().String()

	var ip net.IP
	if dev.IP != nil {
		ip = dev.IP
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO pulse.sessions (
			id, principal_id, refresh_token_hash,
			created_at, last_used_at, expires_at, revoked_at,
			replaced_by_session_id, user_agent, ip, revocation_reason
		) VALUES (
			$1, $2, $3,
			$4, $4, $5, NULL,
			NULL, $6, $7, NULL
		)
	`, id, principalID, refreshHash, now, expiresAt, nullIfEmpty(dev.UserAgent), ip)
	if err != nil {
		return "", err
	}

	return id, nil
}

// GetByID loads a session row by ID.
func (s *PostgresStore) GetByID(ctx context.Context, sessionID string) (Row, error) {
	return scanSessionRow(s.pool.QueryRow(ctx, `
		SELECT `+sessionColumns+`
		FROM pulse.sessions
		WHERE id = $1
	`, sessionID))
}

// Rotate performs the atomic rotation protocol:
// lock the row by refresh hash, classify it, then create the replacement and
// mark the old row rotated inside the same transaction.
func (s *PostgresStore) Rotate(ctx context.Context, now time.Time, refreshHash string, newHash string, newExpiresAt time.Time, dev DeviceContext) (Rotation, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Rotation{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	old, err := getByRefreshHashForUpdateTx(ctx, tx, refreshHash)
	if err != nil {
		return Rotation{}, err
	}

	if !old.ExpiresAt.After(now) {
		return Rotation{}, ErrSessionExpired
	}

	// Reuse detection: a rotated refresh token presented again. Revoking every
	// session for the principal is deliberate; this is a security incident.
	if old.RevokedAt != nil && old.ReplacedBySessionID != nil {
		if err := revokeAllTx(ctx, tx, now, old.PrincipalID); err != nil {
			return Rotation{}, err
		}
		if err := tx.Commit(ctx); err != nil {
			return Rotation{}, err
		}
		return Rotation{Old: old}, ErrRefreshReuseDetected
	}

	// Revoked without replacement: plain logout.
	if old.RevokedAt != nil {
		return Rotation{}, ErrSessionRevoked
	}

	newID, err := createTx(ctx, tx, now, old.PrincipalID, dev, newHash, newExpiresAt)
	if err != nil {
		return Rotation{}, err
	}
	if err := markRotatedTx(ctx, tx, now, old.ID, newID); err != nil {
		return Rotation{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Rotation{}, err
	}

	return Rotation{Old: old, NewSessionID: newID}, nil
}

// RevokeByRefreshHash revokes the session matching refreshHash (idempotent).
func (s *PostgresStore) RevokeByRefreshHash(ctx context.Context, now time.Time, refreshHash string, reason string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE pulse.sessions
		SET revoked_at = COALESCE(revoked_at, $2),
		    revocation_reason = COALESCE(revocation_reason, $3)
		WHERE refresh_token_hash = $1
	`, refreshHash, now, reason)
	return err
}

// Revoke revokes a single session (idempotent).
func (s *PostgresStore) Revoke(ctx context.Context, now time.Time, sessionID string, reason string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE pulse.sessions
		SET revoked_at = COALESCE(revoked_at, $2),
		    revocation_reason = COALESCE(revocation_reason, $3)
		WHERE id = $1
	`, sessionID, now, reason)
	return err
}

// RevokeAll revokes all sessions for a principal (idempotent).
func (s *PostgresStore) RevokeAll(ctx context.Context, now time.Time, principalID string, reason string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE pulse.sessions
		SET revoked_at = COALESCE(revoked_at, $2),
		    revocation_reason = COALESCE(revocation_reason, $3)
		WHERE principal_id = $1
	`, principalID, now, reason)
	return err
}

func scanSessionRow(row pgx.Row) (Row, error) {
	var r Row
	var ua *string

	err := row.Scan(
		&r.ID,
		&r.PrincipalID,
		&r.RefreshTokenHash,
		&r.CreatedAt,
		&r.LastUsedAt,
		&r.ExpiresAt,
		&r.RevokedAt,
		&r.ReplacedBySessionID,
		&ua,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Row{}, ErrSessionNotFound
	}
	if err != nil {
		return Row{}, err
	}
	if ua != nil {
		r.UserAgent = *ua
	}
	return r, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

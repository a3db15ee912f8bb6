package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store on Redis for deployments without Postgres.
//
// Layout:
//   - <prefix>id:<session id>      -> JSON row, TTL = time to refresh expiry
//   - <prefix>hash:<refresh hash>  -> session id, same TTL
//   - <prefix>principal:<id>       -> set of session ids
//
// Rotated rows are kept (revoked + replaced_by) until their natural expiry so
// that a replayed refresh token is classified as reuse, not as unknown.
// Rotation atomicity relies on WATCH on the hash key: a concurrent rotation
// of the same token aborts the transaction and the loser re-reads the
// already-rotated row.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore creates a Redis-backed session store.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client, prefix: "pulse:session:"}
}

// NewRedisStoreWithPrefix creates a Redis session store with a custom key prefix.
func NewRedisStoreWithPrefix(client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

type redisRow struct {
	ID                  string     `json:"id"`
	PrincipalID         string     `json:"principal_id"`
	RefreshTokenHash    string     `json:"refresh_token_hash"`
	CreatedAt           time.Time  `json:"created_at"`
	LastUsedAt          *time.Time `json:"last_used_at,omitempty"`
	ExpiresAt           time.Time  `json:"expires_at"`
	RevokedAt           *time.Time `json:"revoked_at,omitempty"`
	ReplacedBySessionID *string    `json:"replaced_by_session_id,omitempty"`
	UserAgent           string     `json:"user_agent,omitempty"`
}

func (rr redisRow) row() Row {
	return Row{
		ID:                  rr.ID,
		PrincipalID:         rr.PrincipalID,
		RefreshTokenHash:    rr.RefreshTokenHash,
		CreatedAt:           rr.CreatedAt,
		LastUsedAt:          rr.LastUsedAt,
		ExpiresAt:           rr.ExpiresAt,
		RevokedAt:           rr.RevokedAt,
		ReplacedBySessionID: rr.ReplacedBySessionID,
		UserAgent:           rr.UserAgent,
	}
}

func fromRow(r Row) redisRow {
	return redisRow{
		ID:                  r.ID,
		PrincipalID:         r.PrincipalID,
		RefreshTokenHash:    r.RefreshTokenHash,
		CreatedAt:           r.CreatedAt,
		LastUsedAt:          r.LastUsedAt,
		ExpiresAt:           r.ExpiresAt,
		RevokedAt:           r.RevokedAt,
		ReplacedBySessionID: r.ReplacedBySessionID,
		UserAgent:           r.UserAgent,
	}
}

func (s *RedisStore) idKey(id string) string         { return s.prefix + "id:" + id }
func (s *RedisStore) hashKey(hash string) string     { return s.prefix + "hash:" + hash }
func (s *RedisStore) principalKey(pid string) string { return s.prefix + "principal:" + pid }

func (s *RedisStore) Create(ctx context.Context, now time.Time, principalID string, dev DeviceContext, refreshHash string, expiresAt time.Time) (string, error) {
	ttl := expiresAt.Sub(now)
	if ttl <= 0 {
		return "", ErrSessionExpired
	}

	id := ulid.Make().String()
	last := now
	rr := redisRow{
		ID:               id,
		PrincipalID:      principalID,
		RefreshTokenHash: refreshHash,
		CreatedAt:        now,
		LastUsedAt:       &last,
		ExpiresAt:        expiresAt,
		UserAgent:        dev.UserAgent,
	}

	data, err := json.Marshal(rr)
	if err != nil {
		return "", fmt.Errorf("marshal session: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.idKey(id), data, ttl)
		pipe.Set(ctx, s.hashKey(refreshHash), id, ttl)
		pipe.SAdd(ctx, s.principalKey(principalID), id)
		pipe.Expire(ctx, s.principalKey(principalID), ttl)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("redis create session: %w", err)
	}
	return id, nil
}

func (s *RedisStore) GetByID(ctx context.Context, sessionID string) (Row, error) {
	data, err := s.client.Get(ctx, s.idKey(sessionID)).Result()
	if errors.Is(err, redis.Nil) {
		return Row{}, ErrSessionNotFound
	}
	if err != nil {
		return Row{}, fmt.Errorf("redis get session: %w", err)
	}

	var rr redisRow
	if err := json.Unmarshal([]byte(data), &rr); err != nil {
		return Row{}, fmt.Errorf("unmarshal session: %w", err)
	}
	return rr.row(), nil
}

func (s *RedisStore) Rotate(ctx context.Context, now time.Time, refreshHash string, newHash string, newExpiresAt time.Time, dev DeviceContext) (Rotation, error) {
	var result Rotation
	var classify error

	txn := func(tx *redis.Tx) error {
		classify = nil
		result = Rotation{}

		id, err := tx.Get(ctx, s.hashKey(refreshHash)).Result()
		if errors.Is(err, redis.Nil) {
			classify = ErrSessionNotFound
			return nil
		}
		if err != nil {
			return err
		}

		data, err := tx.Get(ctx, s.idKey(id)).Result()
		if errors.Is(err, redis.Nil) {
			classify = ErrSessionNotFound
			return nil
		}
		if err != nil {
			return err
		}

		var old redisRow
		if err := json.Unmarshal([]byte(data), &old); err != nil {
			return fmt.Errorf("unmarshal session: %w", err)
		}

		if !old.ExpiresAt.After(now) {
			classify = ErrSessionExpired
			return nil
		}
		if old.RevokedAt != nil && old.ReplacedBySessionID != nil {
			result.Old = old.row()
			classify = ErrRefreshReuseDetected
			return nil
		}
		if old.RevokedAt != nil {
			classify = ErrSessionRevoked
			return nil
		}

		result.Old = old.row()

		newID := ulid.Make().String()
		last := now
		next := redisRow{
			ID:               newID,
			PrincipalID:      old.PrincipalID,
			RefreshTokenHash: newHash,
			CreatedAt:        now,
			LastUsedAt:       &last,
			ExpiresAt:        newExpiresAt,
			UserAgent:        dev.UserAgent,
		}
		nextData, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("marshal session: %w", err)
		}

		revoked := now
		old.RevokedAt = &revoked
		old.LastUsedAt = &revoked
		old.ReplacedBySessionID = &newID
		oldData, err := json.Marshal(old)
		if err != nil {
			return fmt.Errorf("marshal session: %w", err)
		}
		oldTTL := old.ExpiresAt.Sub(now)
		newTTL := newExpiresAt.Sub(now)

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, s.idKey(old.ID), oldData, oldTTL)
			pipe.Set(ctx, s.idKey(newID), nextData, newTTL)
			pipe.Set(ctx, s.hashKey(newHash), newID, newTTL)
			// Rewrite the watched key so a concurrent rotation of the
			// same token fails its EXEC. The mapping still points at the
			// old row, which keeps replay classified as reuse.
			pipe.Set(ctx, s.hashKey(refreshHash), old.ID, oldTTL)
			pipe.SAdd(ctx, s.principalKey(old.PrincipalID), newID)
			pipe.Expire(ctx, s.principalKey(old.PrincipalID), newTTL)
			return nil
		})
		if err != nil {
			return err
		}

		result.NewSessionID = newID
		return nil
	}

	// WATCH loop: a concurrent rotation of the same hash aborts the tx; the
	// retry then observes the already-rotated row and classifies it as reuse.
	for attempt := 0; attempt < 3; attempt++ {
		err := s.client.Watch(ctx, txn, s.hashKey(refreshHash))
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return Rotation{}, fmt.Errorf("redis rotate: %w", err)
		}
		if errors.Is(classify, ErrRefreshReuseDetected) {
			if revokeErr := s.RevokeAll(ctx, now, result.Old.PrincipalID, "reuse_detected"); revokeErr != nil {
				return Rotation{}, revokeErr
			}
		}
		return result, classify
	}
	return Rotation{}, redis.TxFailedErr
}

func (s *RedisStore) RevokeByRefreshHash(ctx context.Context, now time.Time, refreshHash string, reason string) error {
	id, err := s.client.Get(ctx, s.hashKey(refreshHash)).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("redis revoke: %w", err)
	}
	return s.Revoke(ctx, now, id, reason)
}

func (s *RedisStore) Revoke(ctx context.Context, now time.Time, sessionID string, _ string) error {
	data, err := s.client.Get(ctx, s.idKey(sessionID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("redis revoke: %w", err)
	}

	var rr redisRow
	if err := json.Unmarshal([]byte(data), &rr); err != nil {
		return fmt.Errorf("unmarshal session: %w", err)
	}
	if rr.RevokedAt != nil {
		return nil
	}
	revoked := now
	rr.RevokedAt = &revoked

	out, err := json.Marshal(rr)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	ttl := rr.ExpiresAt.Sub(now)
	if ttl <= 0 {
		return nil
	}
	return s.client.Set(ctx, s.idKey(sessionID), out, ttl).Err()
}

func (s *RedisStore) RevokeAll(ctx context.Context, now time.Time, principalID string, reason string) error {
	ids, err := s.client.SMembers(ctx, s.principalKey(principalID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis revoke all: %w", err)
	}
	for _, id := range ids {
		if err := s.Revoke(ctx, now, id, reason); err != nil {
			return err
		}
	}
	return nil
}


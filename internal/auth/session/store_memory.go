package session

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// MemoryStore is an in-memory Store for tests and single-process dev mode.
//
// A single mutex guards all maps; rotation atomicity follows directly.
type MemoryStore struct {
	mu     sync.Mutex
	byID   map[string]*Row
	byHash map[string]string // refresh hash -> session id
}

// NewMemoryStore creates an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:   make(map[string]*Row),
		byHash: make(map[string]string),
	}
}

func (s *MemoryStore) Create(_ context.Context, now time.Time, principalID string, dev DeviceContext, refreshHash string, expiresAt time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createLocked(now, principalID, dev, refreshHash, expiresAt), nil
}

func (s *MemoryStore) createLocked(now time.Time, principalID string, dev DeviceContext, refreshHash string, expiresAt time.Time) string {
	id := ulid.Make().String()
	last := now
	s.byID[id] = &Row{
		ID:               id,
		PrincipalID:      principalID,
		RefreshTokenHash: refreshHash,
		CreatedAt:        now,
		LastUsedAt:       &last,
		ExpiresAt:        expiresAt,
		UserAgent:        dev.UserAgent,
	}
	s.byHash[refreshHash] = id
	return id
}

func (s *MemoryStore) GetByID(_ context.Context, sessionID string) (Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.byID[sessionID]
	if !ok {
		return Row{}, ErrSessionNotFound
	}
	return *r, nil
}

func (s *MemoryStore) Rotate(_ context.Context, now time.Time, refreshHash string, newHash string, newExpiresAt time.Time, dev DeviceContext) (Rotation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byHash[refreshHash]
	if !ok {
		return Rotation{}, ErrSessionNotFound
	}
	old := s.byID[id]

	if !old.ExpiresAt.After(now) {
		return Rotation{}, ErrSessionExpired
	}

	if old.RevokedAt != nil && old.ReplacedBySessionID != nil {
		s.revokeAllLocked(now, old.PrincipalID, "reuse_detected")
		return Rotation{Old: *old}, ErrRefreshReuseDetected
	}
	if old.RevokedAt != nil {
		return Rotation{}, ErrSessionRevoked
	}

	snapshot := *old

	newID := s.createLocked(now, old.PrincipalID, dev, newHash, newExpiresAt)

	revoked := now
	old.RevokedAt = &revoked
	old.LastUsedAt = &revoked
	old.ReplacedBySessionID = &newID

	return Rotation{Old: snapshot, NewSessionID: newID}, nil
}

func (s *MemoryStore) RevokeByRefreshHash(_ context.Context, now time.Time, refreshHash string, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byHash[refreshHash]
	if !ok {
		return nil
	}
	s.revokeLocked(now, id)
	return nil
}

func (s *MemoryStore) Revoke(_ context.Context, now time.Time, sessionID string, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revokeLocked(now, sessionID)
	return nil
}

func (s *MemoryStore) RevokeAll(_ context.Context, now time.Time, principalID string, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revokeAllLocked(now, principalID, reason)
	return nil
}

func (s *MemoryStore) revokeLocked(now time.Time, sessionID string) {
	r, ok := s.byID[sessionID]
	if !ok || r.RevokedAt != nil {
		return
	}
	revoked := now
	r.RevokedAt = &revoked
}

func (s *MemoryStore) revokeAllLocked(now time.Time, principalID string, _ string) {
	for _, r := range s.byID {
		if r.PrincipalID == principalID && r.RevokedAt == nil {
			revoked := now
			r.RevokedAt = &revoked
		}
	}
}

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	authtoken "pulse/internal/auth/token"
	"pulse/internal/identity"
)

// Service implements the high-level session operations for Pulse.
//
// It orchestrates login, refresh rotation with reuse detection, logout, and
// per-principal revocation over a Store and the principal directory. The
// refresh token is the trust anchor on every path; access tokens are values
// minted and verified by the codec.
type Service struct {
	cfg       Config
	codec     *authtoken.Codec
	store     Store
	directory identity.Directory
	log       *slog.Logger

	// dummyHash makes login timing independent of principal existence.
	dummyHash string
}

// Issued is the result of issuing or rotating a session.
// It includes a short-lived access token and an opaque refresh token.
type Issued struct {
	SessionID    string
	Principal    identity.Principal
	AccessToken  string
	AccessExp    time.Time
	RefreshToken string
	RefreshExp   time.Time
}

// NewService constructs a Service.
func NewService(cfg Config, store Store, directory identity.Directory, log *slog.Logger) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if store == nil || directory == nil {
		return nil, ErrConfig
	}
	if log == nil {
		log = slog.Default()
	}

	codec, err := authtoken.NewCodec([]byte(cfg.SigningSecret), cfg.Issuer, cfg.ClockSkew)
	if err != nil {
		return nil, err
	}

	s := &Service{
		cfg:       cfg,
		codec:     codec,
		store:     store,
		directory: directory,
		log:       log,
	}

	if hash, err := identity.HashPassword("dummy-password-for-timing-only", identity.DefaultArgon2idParams()); err == nil {
		s.dummyHash = hash
	}

	return s, nil
}

// Codec exposes the access-token codec for guard wiring.
func (s *Service) Codec() *authtoken.Codec { return s.codec }

// Login validates credentials against the directory and issues a session.
//
// When allowedRoles is non-empty the login flow is restricted to those roles
// (e.g. a staff console rejecting attendee principals). Identity failures
// collapse to ErrInvalidCredentials; the caller never learns whether the
// email or the password was wrong.
func (s *Service) Login(ctx context.Context, now time.Time, email, password string, dev DeviceContext, allowedRoles ...identity.Role) (Issued, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return Issued{}, ErrInvalidCredentials
	}

	principal, err := s.directory.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			s.burnPasswordCheck(password)
			return Issued{}, ErrInvalidCredentials
		}
		return Issued{}, fmt.Errorf("principal lookup: %w", err)
	}

	if principal.PasswordHash == "" {
		s.burnPasswordCheck(password)
		return Issued{}, ErrInvalidCredentials
	}
	ok, err := identity.VerifyPassword(password, principal.PasswordHash)
	if err != nil || !ok {
		return Issued{}, ErrInvalidCredentials
	}

	if len(allowedRoles) > 0 && !roleAllowed(principal.Role, allowedRoles) {
		return Issued{}, ErrForbiddenRole
	}

	return s.IssueSession(ctx, now, principal, dev)
}

// IssueSession creates a new refresh session and mints both tokens for an
// already-authenticated principal.
//
// Refresh tokens are opaque random strings and must never be persisted in
// plaintext; only their hash reaches the store.
func (s *Service) IssueSession(ctx context.Context, now time.Time, principal identity.Principal, dev DeviceContext) (Issued, error) {
	refreshPlain, refreshHash, err := newOpaqueRefreshToken(s.cfg.RefreshTokenBytes)
	if err != nil {
		return Issued{}, err
	}
	refreshExp := now.Add(s.cfg.RefreshTTL)

	storeCtx, cancel := s.storeCtx(ctx)
	defer cancel()

	sessionID, err := s.store.Create(storeCtx, now, principal.ID, dev, refreshHash, refreshExp)
	if err != nil {
		return Issued{}, fmt.Errorf("create session: %w", err)
	}

	accessToken, accessExp, err := s.codec.Issue(principal, s.cfg.AccessTTLFor(principal.Role), now)
	if err != nil {
		return Issued{}, err
	}

	return Issued{
		SessionID:    sessionID,
		Principal:    principal,
		AccessToken:  accessToken,
		AccessExp:    accessExp,
		RefreshToken: refreshPlain,
		RefreshExp:   refreshExp,
	}, nil
}

// Refresh rotates a refresh session and mints fresh tokens.
//
// accessToken may be expired or empty: it is only a principal-id hint for
// logging; the refresh token independently validates against the store, and
// its absence never blocks the refresh path. Rotation is single-use: the old
// session is invalidated in the same atomic store operation that creates the
// new one, so a concurrent second use of the same refresh token observes an
// invalid session.
func (s *Service) Refresh(ctx context.Context, now time.Time, accessToken, refreshPlain string, dev DeviceContext) (Issued, error) {
	refreshPlain = strings.TrimSpace(refreshPlain)
	// Sanity bounds to avoid pathological inputs.
	if refreshPlain == "" || len(refreshPlain) > 4096 {
		return Issued{}, ErrSessionNotFound
	}

	refreshHash := hashRefreshTokenHex(refreshPlain)

	newPlain, newHash, err := newOpaqueRefreshToken(s.cfg.RefreshTokenBytes)
	if err != nil {
		return Issued{}, err
	}
	newExp := now.Add(s.cfg.RefreshTTL)

	storeCtx, cancel := s.storeCtx(ctx)
	defer cancel()

	rotation, err := s.store.Rotate(storeCtx, now, refreshHash, newHash, newExp, dev)
	if err != nil {
		if errors.Is(err, ErrRefreshReuseDetected) {
			s.log.Warn("session.refresh.reuse_detected", "principal_id", rotation.Old.PrincipalID)
		}
		return Issued{}, err
	}

	if hint, ok := s.codec.PrincipalHint(accessToken, now); ok && hint != rotation.Old.PrincipalID {
		s.log.Warn("session.refresh.hint_mismatch",
			"hint", hint, "principal_id", rotation.Old.PrincipalID)
	}

	principal, err := s.directory.FindByID(ctx, rotation.Old.PrincipalID)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			// The principal vanished since issuance; the freshly created
			// session must not survive it.
			_ = s.store.Revoke(storeCtx, now, rotation.NewSessionID, "principal_gone")
			return Issued{}, ErrPrincipalGone
		}
		return Issued{}, fmt.Errorf("principal lookup: %w", err)
	}

	accessTokenNew, accessExp, err := s.codec.Issue(principal, s.cfg.AccessTTLFor(principal.Role), now)
	if err != nil {
		return Issued{}, err
	}

	return Issued{
		SessionID:    rotation.NewSessionID,
		Principal:    principal,
		AccessToken:  accessTokenNew,
		AccessExp:    accessExp,
		RefreshToken: newPlain,
		RefreshExp:   newExp,
	}, nil
}

// Logout revokes the session matching the presented refresh token.
//
// Idempotent by contract: an unknown, expired, or already-revoked token
// succeeds the same way a live one does, so session existence never leaks.
func (s *Service) Logout(ctx context.Context, now time.Time, refreshPlain string) error {
	refreshPlain = strings.TrimSpace(refreshPlain)
	if refreshPlain == "" || len(refreshPlain) > 4096 {
		return nil
	}

	storeCtx, cancel := s.storeCtx(ctx)
	defer cancel()

	return s.store.RevokeByRefreshHash(storeCtx, now, hashRefreshTokenHex(refreshPlain), "logout")
}

// RevokeAll revokes every session for a principal (logout everywhere).
func (s *Service) RevokeAll(ctx context.Context, now time.Time, principalID string) error {
	storeCtx, cancel := s.storeCtx(ctx)
	defer cancel()

	return s.store.RevokeAll(storeCtx, now, principalID, "logout_all")
}

// storeCtx bounds a store call so a slow backend fails the request instead of
// hanging it.
func (s *Service) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.cfg.LookupTimeout)
}

func (s *Service) burnPasswordCheck(password string) {
	if s.dummyHash != "" {
		_, _ = identity.VerifyPassword(password, s.dummyHash)
	}
}

func roleAllowed(role identity.Role, allowed []identity.Role) bool {
	for _, a := range allowed {
		if role == a {
			return true
		}
	}
	return false
}

// Package authapi exposes the session lifecycle over HTTP.
package authapi

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"pulse/internal/auth/guard"
	"pulse/internal/auth/session"
	authtoken "pulse/internal/auth/token"
	"pulse/internal/identity"
	"pulse/internal/metrics"
)

// Handler wires HTTP auth endpoints to the session service.
type Handler struct {
	log *slog.Logger
	cfg Config

	sessions  *session.Service
	directory identity.Directory
	guard     *guard.Guard
	metrics   *metrics.Metrics
}

func NewHandler(log *slog.Logger, cfg Config, sessions *session.Service, directory identity.Directory, m *metrics.Metrics) (*Handler, error) {
	if log == nil {
		log = slog.Default()
	}
	if sessions == nil {
		return nil, errors.New("authapi: nil session service")
	}
	if directory == nil {
		return nil, errors.New("authapi: nil identity directory")
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultConfig().MaxBodyBytes
	}
	return &Handler{
		log:       log,
		cfg:       cfg,
		sessions:  sessions,
		directory: directory,
		guard:     guard.New(sessions.Codec()),
		metrics:   m,
	}, nil
}

// Register wires auth routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("/auth/login", h.handleLogin)
	mux.HandleFunc("/auth/refresh", h.handleRefresh)
	mux.HandleFunc("/auth/logout", h.handleLogout)
	mux.HandleFunc("/auth/logout_all", h.handleLogoutAll)
	mux.HandleFunc("/me", h.handleMe)
}

// Guard returns the admission guard built over the session codec, for
// other transports (websocket gateway, broadcast endpoint) to share.
func (h *Handler) Guard() *guard.Guard {
	return h.guard
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	email := strings.TrimSpace(req.Email)
	if email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "email and password are required")
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()
	dev := session.DeviceContext{
		UserAgent: strings.TrimSpace(r.UserAgent()),
		IP:        clientIP(r, h.cfg.TrustProxy),
	}

	issued, err := h.sessions.Login(ctx, now, email, req.Password, dev)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrInvalidCredentials):
			h.metrics.LoginOutcome("invalid_credentials")
			writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
		case errors.Is(err, session.ErrForbiddenRole):
			h.metrics.LoginOutcome("forbidden_role")
			writeError(w, http.StatusForbidden, "forbidden", "role not permitted")
		default:
			h.metrics.LoginOutcome("error")
			h.log.Error("auth.login.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		}
		return
	}

	h.metrics.LoginOutcome("success")
	h.setSessionCookies(w, issued)
	writeJSON(w, http.StatusOK, loginResponse{
		Principal: toPrincipalResponse(issued.Principal),
		Session:   toSessionResponse(issued),
	})
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req refreshRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
			return
		}
	}
	refreshToken := strings.TrimSpace(req.RefreshToken)
	if refreshToken == "" {
		refreshToken = refreshTokenFromCookie(r)
	}
	if refreshToken == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "refresh_token is required")
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()
	dev := session.DeviceContext{
		UserAgent: strings.TrimSpace(r.UserAgent()),
		IP:        clientIP(r, h.cfg.TrustProxy),
	}
	// The access token is only a hint for anomaly logging. The refresh
	// token alone decides the outcome.
	accessHint := guard.TokenFromRequest(r, AccessTokenCookie)

	issued, err := h.sessions.Refresh(ctx, now, accessHint, refreshToken, dev)
	if err != nil {
		h.clearSessionCookies(w)
		switch {
		case errors.Is(err, session.ErrRefreshReuseDetected):
			h.metrics.RotationOutcome("reuse")
			h.metrics.ReuseDetected()
			h.log.Warn("auth.refresh.reuse_detected",
				"ip", dev.IP, "user_agent", dev.UserAgent)
			writeError(w, http.StatusUnauthorized, "refresh_reuse_detected", "refresh token reuse detected")
		case errors.Is(err, session.ErrSessionExpired),
			errors.Is(err, session.ErrSessionRevoked),
			errors.Is(err, session.ErrSessionNotFound),
			errors.Is(err, session.ErrPrincipalGone):
			h.metrics.RotationOutcome("rejected")
			writeError(w, http.StatusUnauthorized, "session_not_active", "session not active")
		default:
			h.metrics.RotationOutcome("error")
			h.log.Error("auth.refresh.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		}
		return
	}

	h.metrics.RotationOutcome("success")
	h.setSessionCookies(w, issued)
	writeJSON(w, http.StatusOK, refreshResponse{Session: toSessionResponse(issued)})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req logoutRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
			return
		}
	}
	refreshToken := strings.TrimSpace(req.RefreshToken)
	if refreshToken == "" {
		refreshToken = refreshTokenFromCookie(r)
	}

	// Logout is idempotent: unknown or already-revoked tokens still get
	// a 204 and cleared cookies.
	if refreshToken != "" {
		if err := h.sessions.Logout(r.Context(), time.Now().UTC(), refreshToken); err != nil {
			h.log.Error("auth.logout.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "server_error", "internal error")
			return
		}
	}

	h.clearSessionCookies(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	claims, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	if err := h.sessions.RevokeAll(r.Context(), time.Now().UTC(), claims.PrincipalID); err != nil {
		h.log.Error("auth.logout_all.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.clearSessionCookies(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	claims, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	p, err := h.directory.FindByID(r.Context(), claims.PrincipalID)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			writeError(w, http.StatusUnauthorized, "unauthorized", "principal not found")
			return
		}
		h.log.Error("auth.me.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	writeJSON(w, http.StatusOK, meResponse{Principal: toPrincipalResponse(p)})
}

func (h *Handler) requireAuth(w http.ResponseWriter, r *http.Request) (authtoken.Claims, bool) {
	d := h.guard.CheckRequest(r, AccessTokenCookie)
	if !d.Admit {
		h.metrics.GuardDenied(string(d.Reason))
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid token")
		return authtoken.Claims{}, false
	}
	return d.Claims, true
}

func clientIP(r *http.Request, trustProxy bool) net.IP {
	if trustProxy {
		if ip := parseForwardedIP(r.Header.Get("X-Forwarded-For")); ip != nil {
			return ip
		}
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil {
		if ip := net.ParseIP(host); ip != nil {
			return ip
		}
	}
	return nil
}

func parseForwardedIP(header string) net.IP {
	first, _, _ := strings.Cut(header, ",")
	return net.ParseIP(strings.TrimSpace(first))
}

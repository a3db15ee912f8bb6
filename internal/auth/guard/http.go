package guard

import (
	"context"
	"net/http"
	"strings"
	"time"

	authtoken "pulse/internal/auth/token"
	"pulse/internal/identity"
)

type claimsKey struct{}

// WithClaims attaches admitted claims to a request context.
func WithClaims(ctx context.Context, claims authtoken.Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, claims)
}

// ClaimsFromContext returns claims previously attached by WithClaims.
func ClaimsFromContext(ctx context.Context) (authtoken.Claims, bool) {
	claims, ok := ctx.Value(claimsKey{}).(authtoken.Claims)
	return claims, ok
}

// TokenFromRequest extracts the access token from the Authorization
// bearer header, falling back to the named cookie. Returns "" when
// neither carries a token.
func TokenFromRequest(r *http.Request, cookieName string) string {
	if token := bearerToken(r); token != "" {
		return token
	}
	if cookieName == "" {
		return ""
	}
	c, err := r.Cookie(cookieName)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(c.Value)
}

// CheckRequest runs Check against the token carried by an HTTP request.
func (g *Guard) CheckRequest(r *http.Request, cookieName string, required ...identity.Role) Decision {
	token := TokenFromRequest(r, cookieName)
	return g.Check(time.Now().UTC(), token, required...)
}

func bearerToken(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if raw == "" {
		return ""
	}
	parts := strings.SplitN(raw, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

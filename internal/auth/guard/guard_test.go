package guard

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	authtoken "pulse/internal/auth/token"
	"pulse/internal/identity"
)

func testCodec(t *testing.T) *authtoken.Codec {
	t.Helper()
	codec, err := authtoken.NewCodec([]byte("0123456789abcdef0123456789abcdef"), "pulse-test", 0)
	require.NoError(t, err)
	return codec
}

func issueToken(t *testing.T, codec *authtoken.Codec, role identity.Role, ttl time.Duration, now time.Time) string {
	t.Helper()
	token, _, err := codec.Issue(identity.Principal{
		ID:    "p-1",
		Email: "p1@example.com",
		Role:  role,
	}, ttl, now)
	require.NoError(t, err)
	return token
}

func TestCheck_AdmitsValidToken(t *testing.T) {
	codec := testCodec(t)
	g := New(codec)
	now := time.Now().UTC()
	token := issueToken(t, codec, identity.RoleStaff, time.Minute, now)

	d := g.Check(now, token)
	require.True(t, d.Admit)
	require.Equal(t, "p-1", d.Claims.PrincipalID)
	require.Equal(t, identity.RoleStaff, d.Claims.Role)

	d = g.Check(now, token, identity.RoleStaff, identity.RoleAdmin)
	require.True(t, d.Admit)
}

func TestCheck_Forbidden(t *testing.T) {
	codec := testCodec(t)
	g := New(codec)
	now := time.Now().UTC()
	token := issueToken(t, codec, identity.RoleAttendee, time.Minute, now)

	d := g.Check(now, token, identity.RoleAdmin, identity.RoleManager)
	require.False(t, d.Admit)
	require.Equal(t, ReasonForbidden, d.Reason)
	// Forbidden still identifies who asked, for audit logging.
	require.Equal(t, "p-1", d.Claims.PrincipalID)
}

func TestCheck_AllTokenFailuresCollapseToUnauthenticated(t *testing.T) {
	codec := testCodec(t)
	g := New(codec)
	now := time.Now().UTC()

	expired := issueToken(t, codec, identity.RoleStaff, time.Minute, now.Add(-time.Hour))

	otherCodec, err := authtoken.NewCodec([]byte("ffffffffffffffffffffffffffffffff"), "pulse-test", 0)
	require.NoError(t, err)
	forged := issueToken(t, otherCodec, identity.RoleAdmin, time.Minute, now)

	for name, token := range map[string]string{
		"missing":   "",
		"garbage":   "not-a-jwt",
		"expired":   expired,
		"wrong key": forged,
	} {
		d := g.Check(now, token, identity.RoleStaff)
		require.False(t, d.Admit, name)
		require.Equal(t, ReasonUnauthenticated, d.Reason, name)
	}
}

func TestTokenFromRequest(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	require.Empty(t, TokenFromRequest(r, "auth_token"))

	r = httptest.NewRequest("GET", "/", nil)
	r.Header.Set("Authorization", "Bearer header-token")
	require.Equal(t, "header-token", TokenFromRequest(r, "auth_token"))

	r = httptest.NewRequest("GET", "/", nil)
	r.AddCookie(&http.Cookie{Name: "auth_token", Value: "cookie-token"})
	require.Equal(t, "cookie-token", TokenFromRequest(r, "auth_token"))

	// The header wins when both are present.
	r.Header.Set("Authorization", "Bearer header-token")
	require.Equal(t, "header-token", TokenFromRequest(r, "auth_token"))

	r = httptest.NewRequest("GET", "/", nil)
	r.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	require.Empty(t, TokenFromRequest(r, "auth_token"))
}

func TestCheckRequest(t *testing.T) {
	codec := testCodec(t)
	g := New(codec)
	token := issueToken(t, codec, identity.RoleAdmin, time.Minute, time.Now().UTC())

	r := httptest.NewRequest("POST", "/broadcast", nil)
	r.Header.Set("Authorization", "Bearer "+token)

	d := g.CheckRequest(r, "auth_token", identity.RoleAdmin, identity.RoleManager)
	require.True(t, d.Admit)

	d = g.CheckRequest(httptest.NewRequest("POST", "/broadcast", nil), "auth_token")
	require.False(t, d.Admit)
}

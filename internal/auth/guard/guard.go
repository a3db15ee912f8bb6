// Package guard makes admission decisions for protected operations.
//
// A decision is computed from the required roles and the presented
// access token alone. The guard never touches the session store: a
// verified, unexpired token is trusted for its remaining lifetime,
// and revocation takes effect at the next refresh.
package guard

import (
	"time"

	authtoken "pulse/internal/auth/token"
	"pulse/internal/identity"
)

// Reason classifies why a request was denied.
type Reason string

const (
	// ReasonUnauthenticated covers every token problem: missing,
	// malformed, expired, or tampered. Callers get no finer detail.
	ReasonUnauthenticated Reason = "unauthenticated"

	// ReasonForbidden means the token verified but the principal's
	// role is not in the required set.
	ReasonForbidden Reason = "forbidden"
)

// Decision is the outcome of a guard check.
type Decision struct {
	Admit  bool
	Reason Reason
	Claims authtoken.Claims
}

// Verifier validates an access token at a point in time.
// *authtoken.Codec satisfies it.
type Verifier interface {
	Verify(token string, now time.Time) (authtoken.Claims, error)
}

type Guard struct {
	verifier Verifier
}

func New(v Verifier) *Guard {
	return &Guard{verifier: v}
}

// Check admits or denies a token against a required role set. An empty
// required set admits any authenticated principal. Every verification
// failure collapses to ReasonUnauthenticated so a probing client cannot
// distinguish an expired token from a forged one.
func (g *Guard) Check(now time.Time, token string, required ...identity.Role) Decision {
	if token == "" {
		return Decision{Reason: ReasonUnauthenticated}
	}

	claims, err := g.verifier.Verify(token, now)
	if err != nil {
		return Decision{Reason: ReasonUnauthenticated}
	}

	if len(required) > 0 && !roleAllowed(claims.Role, required) {
		return Decision{Reason: ReasonForbidden, Claims: claims}
	}

	return Decision{Admit: true, Claims: claims}
}

func roleAllowed(role identity.Role, required []identity.Role) bool {
	for _, r := range required {
		if role == r {
			return true
		}
	}
	return false
}

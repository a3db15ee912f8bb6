package identity

import (
	"context"
	"errors"
	"strings"
)

// Role is the closed application role vocabulary.
//
// Pulse uses a single role enum across every authorization call site; the
// check-in and distribution console roles are first-class members rather than
// a parallel vocabulary.
type Role string

const (
	RoleAdmin        Role = "admin"
	RoleManager      Role = "manager"
	RoleStaff        Role = "staff"
	RoleAttendee     Role = "attendee"
	RoleSpeaker      Role = "speaker"
	RoleCheckIn      Role = "checkin"
	RoleDistribution Role = "distribution"
)

// Valid reports whether r is a member of the closed role enum.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleManager, RoleStaff, RoleAttendee, RoleSpeaker, RoleCheckIn, RoleDistribution:
		return true
	default:
		return false
	}
}

// ParseRole normalizes and validates a role string.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", ErrUnknownRole
	}
	return r, nil
}

// Principal is a staff member or attendee identity as read from the directory.
//
// Pulse only reads principals at login and refresh time; the directory owns
// the records.
type Principal struct {
	ID          string
	Email       string
	Role        Role
	Permissions []string

	// PasswordHash is the PHC-encoded Argon2id hash for password login flows.
	// Empty for principals that authenticate by other means.
	PasswordHash string
}

// HasPermission reports whether the principal carries the capability string.
func (p Principal) HasPermission(perm string) bool {
	for _, have := range p.Permissions {
		if have == perm {
			return true
		}
	}
	return false
}

// Directory is the read-only principal lookup contract.
//
// The record store behind it is an external collaborator; implementations
// must not be used to mutate principals.
type Directory interface {
	FindByID(ctx context.Context, id string) (Principal, error)
	FindByEmail(ctx context.Context, email string) (Principal, error)
}

var (
	// ErrNotFound is returned when no principal matches the lookup.
	ErrNotFound = errors.New("principal not found")

	// ErrUnknownRole is returned for role strings outside the closed enum.
	ErrUnknownRole = errors.New("unknown role")
)

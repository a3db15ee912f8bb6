package identity

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresDirectory reads principals from pulse.principals.
//
// The table is owned by the record store; Pulse only ever SELECTs from it.
type PostgresDirectory struct {
	pool *pgxpool.Pool
}

// NewPostgresDirectory creates a Postgres-backed principal directory.
func NewPostgresDirectory(pool *pgxpool.Pool) (*PostgresDirectory, error) {
	if pool == nil {
		return nil, errors.New("identity: nil db pool")
	}
	return &PostgresDirectory{pool: pool}, nil
}

const principalColumns = `id, email, role, permissions, password_hash`

// FindByID loads a principal by its stable identifier.
func (d *PostgresDirectory) FindByID(ctx context.Context, id string) (Principal, error) {
	if strings.TrimSpace(id) == "" {
		return Principal{}, ErrNotFound
	}
	return d.scanOne(d.pool.QueryRow(ctx, `
		SELECT `+principalColumns+`
		FROM pulse.principals
		WHERE id = $1
	`, id))
}

// FindByEmail loads a principal by email (case-insensitive).
func (d *PostgresDirectory) FindByEmail(ctx context.Context, email string) (Principal, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return Principal{}, ErrNotFound
	}
	return d.scanOne(d.pool.QueryRow(ctx, `
		SELECT `+principalColumns+`
		FROM pulse.principals
		WHERE lower(email) = $1
	`, email))
}

func (d *PostgresDirectory) scanOne(row pgx.Row) (Principal, error) {
	var p Principal
	var role string
	var hash *string

	err := row.Scan(&p.ID, &p.Email, &role, &p.Permissions, &hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return Principal{}, ErrNotFound
	}
	if err != nil {
		return Principal{}, err
	}

	r, err := ParseRole(role)
	if err != nil {
		// A row outside the closed enum is treated as absent rather than
		// admitted with an unknown role.
		return Principal{}, ErrNotFound
	}
	p.Role = r

	if hash != nil {
		p.PasswordHash = *hash
	}
	return p, nil
}

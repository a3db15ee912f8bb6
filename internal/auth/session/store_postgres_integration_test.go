package session

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/require"
)

// Integration tests run only when PULSE_TEST_DATABASE_URL points at a
// database with the pulse schema applied. They are skipped otherwise so
// local unit runs stay fast.

func pgStoreForTest(t *testing.T) (*PostgresStore, *pgxpool.Pool, string) {
	t.Helper()

	dbURL := os.Getenv("PULSE_TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("PULSE_TEST_DATABASE_URL is not set; skipping Postgres integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, pool.Ping(ctx))

	principalID := ulid.Make().String()
	_, err = pool.Exec(ctx, `
		INSERT INTO pulse.principals (id, email, role, permissions, password_hash)
		VALUES ($1, $2, 'staff', '{}', 'x')`,
		principalID, fmt.Sprintf("it-%s@example.com", principalID))
	require.NoError(t, err)
	t.Cleanup(func() {
		cctx, ccancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer ccancel()
		_, _ = pool.Exec(cctx, `DELETE FROM pulse.sessions WHERE principal_id = $1`, principalID)
		_, _ = pool.Exec(cctx, `DELETE FROM pulse.principals WHERE id = $1`, principalID)
	})

	return NewPostgresStore(pool), pool, principalID
}

func TestPostgresStore_RotateSucceeds(t *testing.T) {
	t.Parallel()

	store, pool, principalID := pgStoreForTest(t)
	ctx := context.Background()
	now := time.Now().UTC()
	hash := "it-" + ulid.Make().String()

	id, err := store.Create(ctx, now, principalID, DeviceContext{UserAgent: "pulse-test/1.0"}, hash, now.Add(time.Hour))
	require.NoError(t, err)

	rot, err := store.Rotate(ctx, now, hash, hash+"-next", now.Add(time.Hour), DeviceContext{})
	require.NoError(t, err)
	require.Equal(t, id, rot.Old.ID)
	require.NotEqual(t, id, rot.NewSessionID)

	old, err := store.GetByID(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, old.RevokedAt)
	require.NotNil(t, old.ReplacedBySessionID)
	require.Equal(t, rot.NewSessionID, *old.ReplacedBySessionID)

	var reason *string
	err = pool.QueryRow(ctx,
		`SELECT revocation_reason FROM pulse.sessions WHERE id = $1`, id).Scan(&reason)
	require.NoError(t, err)
	require.NotNil(t, reason)
	require.Equal(t, "rotation", *reason)
}

func TestPostgresStore_RotateReuseRevokesAll(t *testing.T) {
	t.Parallel()

	store, _, principalID := pgStoreForTest(t)
	ctx := context.Background()
	now := time.Now().UTC()
	hash := "it-" + ulid.Make().String()

	_, err := store.Create(ctx, now, principalID, DeviceContext{}, hash, now.Add(time.Hour))
	require.NoError(t, err)
	otherID, err := store.Create(ctx, now, principalID, DeviceContext{}, hash+"-other", now.Add(time.Hour))
	require.NoError(t, err)

	rot, err := store.Rotate(ctx, now, hash, hash+"-next", now.Add(time.Hour), DeviceContext{})
	require.NoError(t, err)

	_, err = store.Rotate(ctx, now, hash, hash+"-again", now.Add(time.Hour), DeviceContext{})
	require.ErrorIs(t, err, ErrRefreshReuseDetected)

	for _, sid := range []string{otherID, rot.NewSessionID} {
		row, err := store.GetByID(ctx, sid)
		require.NoError(t, err)
		require.NotNil(t, row.RevokedAt)
	}
}

func TestPostgresStore_RotateExpiredAndRevoked(t *testing.T) {
	t.Parallel()

	store, _, principalID := pgStoreForTest(t)
	ctx := context.Background()
	now := time.Now().UTC()

	expHash := "it-exp-" + ulid.Make().String()
	_, err := store.Create(ctx, now.Add(-2*time.Hour), principalID, DeviceContext{}, expHash, now.Add(-time.Hour))
	require.NoError(t, err)
	_, err = store.Rotate(ctx, now, expHash, expHash+"-next", now.Add(time.Hour), DeviceContext{})
	require.ErrorIs(t, err, ErrSessionExpired)

	revHash := "it-rev-" + ulid.Make().String()
	_, err = store.Create(ctx, now, principalID, DeviceContext{}, revHash, now.Add(time.Hour))
	require.NoError(t, err)
	require.NoError(t, store.RevokeByRefreshHash(ctx, now, revHash, "logout"))
	_, err = store.Rotate(ctx, now, revHash, revHash+"-next", now.Add(time.Hour), DeviceContext{})
	require.ErrorIs(t, err, ErrSessionRevoked)

	_, err = store.Rotate(ctx, now, "it-missing-"+ulid.Make().String(), "next", now.Add(time.Hour), DeviceContext{})
	require.ErrorIs(t, err, ErrSessionNotFound)
}

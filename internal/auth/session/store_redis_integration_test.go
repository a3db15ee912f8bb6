package session

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

// Redis integration tests run only when PULSE_TEST_REDIS_ADDR is set
// (for example "localhost:6379").

func redisStoreForTest(t *testing.T) *RedisStore {
	t.Helper()

	addr := os.Getenv("PULSE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("PULSE_TEST_REDIS_ADDR is not set; skipping Redis integration test")
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, client.Ping(ctx).Err())

	// A per-test prefix keeps parallel runs from clashing and leaves no
	// cleanup beyond natural TTL expiry.
	return NewRedisStoreWithPrefix(client, "pulse:test:"+ulid.Make().String()+":")
}

func TestRedisStore_CreateAndGet(t *testing.T) {
	t.Parallel()

	store := redisStoreForTest(t)
	ctx := context.Background()
	now := time.Now().UTC()

	id, err := store.Create(ctx, now, "p-1", DeviceContext{UserAgent: "pulse-test/1.0"}, "hash-a", now.Add(time.Minute))
	require.NoError(t, err)

	row, err := store.GetByID(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "p-1", row.PrincipalID)
	require.Equal(t, "hash-a", row.RefreshTokenHash)
	require.True(t, row.Active(now))

	_, err = store.GetByID(ctx, "missing")
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRedisStore_RotateSingleUse(t *testing.T) {
	t.Parallel()

	store := redisStoreForTest(t)
	ctx := context.Background()
	now := time.Now().UTC()

	id, err := store.Create(ctx, now, "p-1", DeviceContext{}, "hash-a", now.Add(time.Minute))
	require.NoError(t, err)
	otherID, err := store.Create(ctx, now, "p-1", DeviceContext{}, "hash-other", now.Add(time.Minute))
	require.NoError(t, err)

	rot, err := store.Rotate(ctx, now, "hash-a", "hash-b", now.Add(time.Minute), DeviceContext{})
	require.NoError(t, err)
	require.Equal(t, id, rot.Old.ID)

	// The rotated hash stays resolvable so replay reads as reuse, not unknown.
	_, err = store.Rotate(ctx, now, "hash-a", "hash-c", now.Add(time.Minute), DeviceContext{})
	require.ErrorIs(t, err, ErrRefreshReuseDetected)

	for _, sid := range []string{otherID, rot.NewSessionID} {
		row, err := store.GetByID(ctx, sid)
		require.NoError(t, err)
		require.NotNil(t, row.RevokedAt)
	}
}

func TestRedisStore_ConcurrentRotateSingleWinner(t *testing.T) {
	t.Parallel()

	store := redisStoreForTest(t)
	ctx := context.Background()

	// Hammer the WATCH path: two racing rotations of the same token must
	// never both succeed.
	for trial := 0; trial < 50; trial++ {
		now := time.Now().UTC()
		hash := "hash-race-" + ulid.Make().String()
		principal := "p-race-" + ulid.Make().String()

		_, err := store.Create(ctx, now, principal, DeviceContext{}, hash, now.Add(time.Minute))
		require.NoError(t, err)

		errs := make(chan error, 2)
		for i := 0; i < 2; i++ {
			newHash := hash + "-next-" + ulid.Make().String()
			go func() {
				_, err := store.Rotate(ctx, now, hash, newHash, now.Add(time.Minute), DeviceContext{})
				errs <- err
			}()
		}

		var wins int
		for i := 0; i < 2; i++ {
			if err := <-errs; err == nil {
				wins++
			} else {
				require.ErrorIs(t, err, ErrRefreshReuseDetected)
			}
		}
		require.LessOrEqual(t, wins, 1, "trial %d: refresh token rotated twice", trial)
	}
}

func TestRedisStore_RevokeByRefreshHashIdempotent(t *testing.T) {
	t.Parallel()

	store := redisStoreForTest(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := store.Create(ctx, now, "p-1", DeviceContext{}, "hash-a", now.Add(time.Minute))
	require.NoError(t, err)

	require.NoError(t, store.RevokeByRefreshHash(ctx, now, "hash-a", "logout"))
	require.NoError(t, store.RevokeByRefreshHash(ctx, now, "hash-a", "logout"))
	require.NoError(t, store.RevokeByRefreshHash(ctx, now, "never-issued", "logout"))

	_, err = store.Rotate(ctx, now, "hash-a", "hash-b", now.Add(time.Minute), DeviceContext{})
	require.ErrorIs(t, err, ErrSessionRevoked)
}

package identity

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashAndVerifyPassword(t *testing.T) {
	params := Argon2idParams{
		MemoryKiB:   8 * 1024, // keep tests fast
		Iterations:  1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	}

	enc, err := HashPassword("correct horse battery", params)
	require.NoError(t, err)
	require.Contains(t, enc, "$argon2id$v=19$")

	ok, err := VerifyPassword("correct horse battery", enc)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = VerifyPassword("wrong horse battery", enc)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestHashPassword_TooShort(t *testing.T) {
	_, err := HashPassword("short", DefaultArgon2idParams())
	require.Error(t, err)
}

func TestVerifyPassword_MalformedHash(t *testing.T) {
	for _, bad := range []string{
		"",
		"not-a-hash",
		"$argon2i$v=19$m=65536,t=3,p=1$c2FsdHNhbHRzYWx0c2FsdA$AAAA",
		"$argon2id$v=18$m=65536,t=3,p=1$c2FsdHNhbHRzYWx0c2FsdA$AAAA",
	} {
		_, err := VerifyPassword("whatever-password", bad)
		require.ErrorIs(t, err, ErrInvalidHash, bad)
	}
}

func TestVerifyPassword_RejectsOversizedParams(t *testing.T) {
	// m is far beyond the sanity bound; must be refused before hashing.
	oversized := "$argon2id$v=19$m=999999999,t=3,p=1$c2FsdHNhbHRzYWx0c2FsdA$c2FsdHNhbHRzYWx0c2FsdHNhbHRzYWx0c2FsdHNhbHQ"
	_, err := VerifyPassword("whatever-password", oversized)
	require.ErrorIs(t, err, ErrInvalidHash)
}

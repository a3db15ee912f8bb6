package token

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashSHA256Hex(t *testing.T) {
	h := HashSHA256Hex("refresh-token-value")
	require.Len(t, h, 64)
	require.Equal(t, h, HashSHA256Hex("refresh-token-value"))
	require.NotEqual(t, h, HashSHA256Hex("refresh-token-value2"))
}

func TestHashRefreshTokenHex_SHAFallback(t *testing.T) {
	t.Setenv(HMACEnvKey, "")
	require.Equal(t, HashSHA256Hex("tok"), HashRefreshTokenHex("tok"))
}

func TestHashRefreshTokenHex_HMACMode(t *testing.T) {
	t.Setenv(HMACEnvKey, "0123456789abcdef0123456789abcdef")
	got := HashRefreshTokenHex("tok")
	require.Len(t, got, 64)
	require.NotEqual(t, HashSHA256Hex("tok"), got)
	require.Equal(t, HashHMACSHA256Hex("tok", []byte("0123456789abcdef0123456789abcdef")), got)
}

func TestHMACKeyFromEnv(t *testing.T) {
	t.Setenv(HMACEnvKey, "")
	_, err := HMACKeyFromEnv(32)
	require.ErrorIs(t, err, ErrHMACKeyMissing)

	t.Setenv(HMACEnvKey, "too-short")
	_, err = HMACKeyFromEnv(32)
	require.ErrorIs(t, err, ErrHMACKeyTooShort)

	t.Setenv(HMACEnvKey, "0123456789abcdef0123456789abcdef")
	key, err := HMACKeyFromEnv(32)
	require.NoError(t, err)
	require.Len(t, key, 32)
}

func TestHashRefreshTokenHexRequireHMAC(t *testing.T) {
	t.Setenv(HMACEnvKey, "")
	_, err := HashRefreshTokenHexRequireHMAC("tok", 32)
	require.Error(t, err)

	t.Setenv(HMACEnvKey, "0123456789abcdef0123456789abcdef")
	h, err := HashRefreshTokenHexRequireHMAC("tok", 32)
	require.NoError(t, err)
	require.Len(t, h, 64)
}

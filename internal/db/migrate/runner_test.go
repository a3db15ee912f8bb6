package migrate

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRunRejectsEmptyDSN(t *testing.T) {
	require.Error(t, Run("", "up"))
}

func TestRunRejectsBadDirection(t *testing.T) {
	for _, dir := range []string{"", "sideways", "UP", "Down"} {
		require.Error(t, Run("postgres://localhost/pulse", dir), "direction %q", dir)
	}
}

func TestEmbeddedMigrationsParse(t *testing.T) {
	// iofs.New validates every embedded filename against the
	// <version>_<name>.<direction>.sql convention.
	_, err := newSource()
	require.NoError(t, err)
}

// Package db owns the Pulse schema: embedded SQL migrations plus the
// runner that applies them.
package db

import "embed"

//go:embed migrations/*.sql
var MigrationFS embed.FS

// Package dbmigrations exposes embedded SQL migrations for marketmaker binaries.
package dbmigrations

import "embed"

// Files contains the embedded SQL migrations bundled into marketmaker binaries.
//
//go:embed *.sql
var Files embed.FS

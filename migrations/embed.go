// Package migrations embeds the SQLite schema migrations into the binary.
//
// Only the "sqlite" storage backend uses them; the JSON backend has no schema.
package migrations

import "embed"

//go:embed *.sql
var files embed.FS

// FS holds every *.sql migration at its root, ready for database.DB.Migrate.
var FS = files

package store

import "embed"

// EmbeddedMigrations contains the goose SQL migrations compiled into the
// binary, so the daemon provisions its own schema without requiring
// external SQL files at runtime.
//
//go:embed migrations/*.sql
var EmbeddedMigrations embed.FS

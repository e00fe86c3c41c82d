// Package schema embeds the task store migrations (projects, sprints and
// tasks) for both database dialects.
package schema

import (
	"embed"
	"io/fs"

	"github.com/migadu/taskdb/db"
)

//go:embed migrations
var migrationsFS embed.FS

// MigrationsFS returns the migration tree with one directory per dialect.
func MigrationsFS() fs.FS {
	sub, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		// The embed directive guarantees the directory exists.
		panic(err)
	}
	return sub
}

// Migrations returns the task store schema for Manager.Initialize.
func Migrations() db.Schema {
	return db.Migrations{FS: MigrationsFS()}
}

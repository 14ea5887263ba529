// Package migrations embeds the SQL migrations for the relational kv
// backends. Migrations are embedded so they work regardless of working
// directory. Files are applied in lexical order and recorded in
// schema_migrations, so each runs once per database.
package migrations

import (
	"embed"
	"io/fs"
)

//go:embed postgres/*.sql sqlite/*.sql
var files embed.FS

// Postgres returns the migrations for the Postgres backend.
func Postgres() fs.FS { return sub("postgres") }

// SQLite returns the migrations for the SQLite backend.
func SQLite() fs.FS { return sub("sqlite") }

func sub(dir string) fs.FS {
	f, err := fs.Sub(files, dir)
	if err != nil {
		// Only reachable if the embed pattern and dir disagree.
		panic(err)
	}
	return f
}

package kv

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openMemoryDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func tableExists(t *testing.T, db *sql.DB, name string) bool {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow(`SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, name).Scan(&n))
	return n == 1
}

func TestRunMigrationsAppliesInOrderOnce(t *testing.T) {
	ctx := context.Background()
	db := openMemoryDB(t)
	target := sqliteMigrations{db: db}

	fsys := fstest.MapFS{
		"002_b.sql": {Data: []byte(`INSERT INTO a (v) VALUES ('from b');`)},
		"001_a.sql": {Data: []byte(`CREATE TABLE a (v TEXT);`)},
		"README.md": {Data: []byte(`not a migration`)},
		"sub/x.sql": {Data: []byte(`CREATE TABLE never (v TEXT);`)},
	}
	require.NoError(t, runMigrations(ctx, target, fsys, discardLogger()))
	assert.True(t, tableExists(t, db, "a"))
	assert.False(t, tableExists(t, db, "never"))

	applied, err := target.appliedMigrations(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"001_a.sql": true, "002_b.sql": true}, applied)

	// A second run with one new file applies only that file.
	fsys["003_c.sql"] = &fstest.MapFile{Data: []byte(`INSERT INTO a (v) VALUES ('from c');`)}
	require.NoError(t, runMigrations(ctx, target, fsys, discardLogger()))

	var rows int
	require.NoError(t, db.QueryRow(`SELECT count(*) FROM a`).Scan(&rows))
	assert.Equal(t, 2, rows, "002 must not run twice")
}

func TestRunMigrationsFailureIsNotRecorded(t *testing.T) {
	ctx := context.Background()
	db := openMemoryDB(t)
	target := sqliteMigrations{db: db}

	fsys := fstest.MapFS{
		"001_ok.sql":  {Data: []byte(`CREATE TABLE ok (v TEXT);`)},
		"002_bad.sql": {Data: []byte(`INSERT INTO missing_table (v) VALUES (1);`)},
	}
	err := runMigrations(ctx, target, fsys, discardLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "002_bad.sql")

	applied, err := target.appliedMigrations(ctx)
	require.NoError(t, err)
	assert.True(t, applied["001_ok.sql"])
	assert.False(t, applied["002_bad.sql"])
}

func TestSQLiteStoreRecordsEmbeddedMigrations(t *testing.T) {
	ctx := context.Background()
	s, err := NewSQLiteStore(ctx, ":memory:", discardLogger())
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	applied, err := sqliteMigrations{db: s.db}.appliedMigrations(ctx)
	require.NoError(t, err)
	assert.True(t, applied["001_kv.sql"])
	assert.True(t, tableExists(t, s.db, "kv"))
}

package store

import (
	"context"
	"path/filepath"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRebind(t *testing.T) {
	pg := &DB{Dialect: Postgres}
	assert.Equal(t, "SELECT * FROM t WHERE a = $1 AND b = $2", pg.Rebind("SELECT * FROM t WHERE a = ? AND b = ?"))
	lite := &DB{Dialect: SQLite}
	assert.Equal(t, "SELECT ? ", lite.Rebind("SELECT ? "))
}

func TestMillis(t *testing.T) {
	assert.Zero(t, ToMillis(time.Time{}))
	assert.True(t, FromMillis(0).IsZero())
	ts := time.Date(2026, 3, 10, 9, 0, 0, 123e6, time.UTC)
	assert.Equal(t, ts, FromMillis(ToMillis(ts)))
}

func TestExtractUpAndSplit(t *testing.T) {
	script := `-- +migrate Up
-- a comment
CREATE TABLE a (id TEXT);
CREATE INDEX a_id
    ON a (id);
-- +migrate Down
DROP TABLE a;
`
	stmts := SplitStatements(ExtractUp(script))
	require.Len(t, stmts, 2)
	assert.Equal(t, "CREATE TABLE a (id TEXT)", stmts[0])
	assert.Contains(t, stmts[1], "ON a (id)")

	assert.Equal(t, []string{"SELECT 1"}, SplitStatements("SELECT 1"), "trailing statement without semicolon")
}

func openTestSQLite(t *testing.T) *DB {
	t.Helper()
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestApplyMigrations_Once(t *testing.T) {
	ctx := context.Background()
	db := openTestSQLite(t)
	fsys := fstest.MapFS{
		"sqlite/0001_a.sql": {Data: []byte("-- +migrate Up\nCREATE TABLE a (id TEXT);\nINSERT INTO a (id) VALUES ('x');\n")},
		"sqlite/0002_b.sql": {Data: []byte("CREATE TABLE b (id TEXT);\n")},
	}
	require.NoError(t, applyMigrations(ctx, db, fsys, "sqlite"))
	require.NoError(t, applyMigrations(ctx, db, fsys, "sqlite"), "reapplying is a no-op")

	var n int
	require.NoError(t, db.Client.QueryRowContext(ctx, `SELECT COUNT(*) FROM a`).Scan(&n))
	assert.Equal(t, 1, n, "seed row inserted once")
	require.NoError(t, db.Client.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+migrationTable).Scan(&n))
	assert.Equal(t, 2, n)
}

func TestApplyMigrations_FailureRollsBack(t *testing.T) {
	ctx := context.Background()
	db := openTestSQLite(t)
	fsys := fstest.MapFS{
		"sqlite/0001_a.sql": {Data: []byte("CREATE TABLE a (id TEXT);\nCREATE TABLE a (id TEXT);\n")},
	}
	err := applyMigrations(ctx, db, fsys, "sqlite")
	require.Error(t, err, "a failing statement is never skipped")
	assert.Contains(t, err.Error(), "0001_a.sql")

	var n int
	require.NoError(t, db.Client.QueryRowContext(ctx, `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'a'`).Scan(&n))
	assert.Zero(t, n, "earlier statements of the file are rolled back")
	require.NoError(t, db.Client.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+migrationTable).Scan(&n))
	assert.Zero(t, n, "the file is not recorded as applied")
}

func TestMigrate_EmbeddedSQLite(t *testing.T) {
	ctx := context.Background()
	db := openTestSQLite(t)
	require.NoError(t, db.Migrate(ctx))
	require.NoError(t, db.Migrate(ctx))
	require.NoError(t, db.Ping(ctx))

	for _, table := range []string{"course_offerings", "lectures", "students", "attendance_records", "commit_jobs", "staff"} {
		var name string
		err := db.Client.QueryRowContext(ctx, `SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
		assert.NoError(t, err, table)
	}
}

func TestNilDB(t *testing.T) {
	var db *DB
	assert.Error(t, db.Ping(context.Background()))
	assert.NoError(t, db.Close())
	assert.Error(t, db.Migrate(context.Background()))
	_, err := OpenSQLite("  ")
	assert.Error(t, err)
}

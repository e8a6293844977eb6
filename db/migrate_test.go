package db

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openMemory(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestMigrate(t *testing.T) {
	t.Run("applies every embedded migration once", func(t *testing.T) {
		db := openMemory(t)

		require.NoError(t, Migrate(db, DialectSQLite, nil))

		var versions []string
		rows, err := db.Query("SELECT version FROM schema_migrations ORDER BY version")
		require.NoError(t, err)
		for rows.Next() {
			var v string
			require.NoError(t, rows.Scan(&v))
			versions = append(versions, v)
		}
		require.NoError(t, rows.Close())
		assert.Equal(t, []string{"000", "001", "002"}, versions)
	})

	t.Run("is idempotent", func(t *testing.T) {
		db := openMemory(t)

		require.NoError(t, Migrate(db, DialectSQLite, nil))
		require.NoError(t, Migrate(db, DialectSQLite, nil))

		var n int
		require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&n))
		assert.Equal(t, 3, n)
	})

	t.Run("status check constraint is enforced", func(t *testing.T) {
		db := openMemory(t)
		require.NoError(t, Migrate(db, DialectSQLite, nil))

		_, err := db.Exec(`INSERT INTO qa_jobs (job_id, status, question, created_at, updated_at, expires_at)
			VALUES ('j1', 'exploded', 'q', CURRENT_TIMESTAMP, CURRENT_TIMESTAMP, 0)`)
		assert.Error(t, err)
	})
}

func TestPostgresMigrationsAreEmbedded(t *testing.T) {
	entries, err := migrations.ReadDir(DialectPostgres.migrationsDir())
	require.NoError(t, err)

	sqliteEntries, err := migrations.ReadDir(DialectSQLite.migrationsDir())
	require.NoError(t, err)

	assert.Equal(t, len(sqliteEntries), len(entries), "every sqlite migration needs a postgres twin")
	for i := range entries {
		assert.Equal(t, sqliteEntries[i].Name(), entries[i].Name())
	}
}

func TestRebind(t *testing.T) {
	tests := []struct {
		name    string
		dialect Dialect
		in      string
		want    string
	}{
		{"sqlite passthrough", DialectSQLite, "SELECT * FROM t WHERE a = ? AND b = ?", "SELECT * FROM t WHERE a = ? AND b = ?"},
		{"postgres numbering", DialectPostgres, "UPDATE t SET a = ? WHERE id = ? AND s = ?", "UPDATE t SET a = $1 WHERE id = $2 AND s = $3"},
		{"quoted literal untouched", DialectPostgres, "SELECT '?' , ? FROM t", "SELECT '?' , $1 FROM t"},
		{"no placeholders", DialectPostgres, "SELECT 1", "SELECT 1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.dialect.Rebind(tt.in))
		})
	}
}

package db

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenSQLiteMigrates(t *testing.T) {
	sqlDB, err := OpenSQLite(filepath.Join(t.TempDir(), "dm.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	var n int
	require.NoError(t, sqlDB.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&n))
	assert.Zero(t, n)

	// Running again is a no-op.
	require.NoError(t, Migrate(sqlDB, DialectSQLite))
}

func TestIsUniqueViolation(t *testing.T) {
	sqlDB, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	_, err = sqlDB.Exec(`INSERT INTO users (id, display_name) VALUES (1, 'ada')`)
	require.NoError(t, err)
	_, err = sqlDB.Exec(`INSERT INTO users (id, display_name) VALUES (1, 'ada')`)
	require.Error(t, err)

	// Primary key conflicts carry their own extended code.
	_, err = sqlDB.Exec(`INSERT INTO messages (sender_id, recipient_id, content, correlation_token, created_at) VALUES (1, 1, 'x', 't', 0)`)
	require.NoError(t, err)
	_, err = sqlDB.Exec(`INSERT INTO messages (sender_id, recipient_id, content, correlation_token, created_at) VALUES (1, 1, 'x', 't', 0)`)
	assert.True(t, IsUniqueViolation(err))

	assert.True(t, IsUniqueViolation(fmt.Errorf("wrapped: %w", &pgconn.PgError{Code: "23505"})))
	assert.False(t, IsUniqueViolation(&pgconn.PgError{Code: "23503"}))
	assert.False(t, IsUniqueViolation(nil))
}

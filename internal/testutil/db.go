package testutil

import (
	"context"
	"database/sql"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/mailshare/internal/config"
	"github.com/xxxsen/mailshare/internal/db"
)

// OpenTestDB returns a migrated postgres with empty gateway tables.
// TEST_DB_DSN wins over TEST_DB_HOST; with neither set the test is skipped.
func OpenTestDB(t *testing.T) *sql.DB {
	t.Helper()
	cfg := config.DatabaseConfig{
		DSN:      os.Getenv("TEST_DB_DSN"),
		Host:     os.Getenv("TEST_DB_HOST"),
		Port:     5432,
		User:     "mailshare",
		Password: "mailshare_pass",
		DBName:   "mailshare_test",
	}
	if cfg.DSN == "" && cfg.Host == "" {
		t.Skip("no test postgres configured")
	}
	ctx := context.Background()
	conn, err := db.Open(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, db.ApplyMigrations(ctx, conn))
	_, err = conn.ExecContext(ctx, "TRUNCATE shares, share_access_logs, emails RESTART IDENTITY")
	require.NoError(t, err)
	return conn
}

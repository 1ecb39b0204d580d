package testutil

import (
	"context"
	"database/sql"
	"os"
	"testing"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/onnwee/streambot/backend/db"
)

// SetupTestDB returns a migrated, empty database from TEST_PG_DSN, or skips
// the test when the variable is unset.
func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TEST_PG_DSN not set")
	}
	database, err := db.ConnectDSN(dsn)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })

	ctx := context.Background()
	if err := db.Migrate(ctx, database); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	if _, err := database.ExecContext(ctx, `TRUNCATE participants, commands`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return database
}

package service

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/ayo6706/captcha-solver-api/internal/db"
	"github.com/ayo6706/captcha-solver-api/internal/testutil/dblock"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TestMain holds the cross-package database lock for the whole run because
// setupTestDB truncates shared tables.
func TestMain(m *testing.M) {
	release := dblock.Acquire()
	code := m.Run()
	release()
	os.Exit(code)
}

// setupTestDB connects to the Postgres instance named by DATABASE_URL, applies
// the schema and empties every table.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()

	connString := os.Getenv("DATABASE_URL")
	if connString == "" {
		t.Skip("Skipping integration test: DATABASE_URL not set")
	}
	pool, err := db.Connect(context.Background(), connString)
	if err != nil {
		t.Fatalf("Failed to connect to DB: %v", err)
	}
	if err := db.EnsureSchema(context.Background(), pool); err != nil {
		t.Fatalf("Failed to apply schema: %v", err)
	}
	t.Cleanup(pool.Close)

	for _, table := range []string{"audit_log", "idempotency_keys", "captcha_solves", "transactions", "deposits", "api_tokens", "balances", "deposit_addresses", "users"} {
		stmt := fmt.Sprintf("TRUNCATE TABLE %s CASCADE", table)
		if _, err := pool.Exec(context.Background(), stmt); err != nil {
			t.Fatalf("Failed to truncate %s: %v", table, err)
		}
	}
	return pool
}

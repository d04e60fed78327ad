// Package testutil provides shared test helpers for Postgres-backed
// integration tests, gated on TEST_DATABASE_URL per the teacher's own
// integration test convention.
package testutil

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// NewPostgresTestPool connects to TEST_DATABASE_URL, skipping the test if
// unset, and returns a pool, a unique per-test namespace string (useful for
// tagging rows so cleanup can target only this test's data), and a cleanup
// function that closes the pool.
func NewPostgresTestPool(t *testing.T) (*pgxpool.Pool, string, func()) {
	t.Helper()

	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set; skipping Postgres integration test")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("connect to test database: %v", err)
	}

	namespace := fmt.Sprintf("test-%s", uuid.NewString()[:8])

	cleanup := func() {
		pool.Close()
	}

	return pool, namespace, cleanup
}

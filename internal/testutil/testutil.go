// Package testutil provides shared testing utilities for Companion:
// a migrated in-memory database, a fixed clock and record fixtures.
package testutil

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/quantumlife/companion/internal/storage"
)

// TestDB returns a migrated in-memory database closed at test end.
func TestDB(t *testing.T) *storage.DB {
	t.Helper()

	db, err := storage.Open(storage.Config{InMemory: true})
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.MigrateContext(TestContext(t)); err != nil {
		t.Fatalf("migrate test database: %v", err)
	}
	return db
}

// TestContext returns a context cancelled at test end or after 30s.
func TestContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// RequireEnv returns the variable's value, skipping the test if unset.
func RequireEnv(t *testing.T, key string) string {
	t.Helper()
	val := os.Getenv(key)
	if val == "" {
		t.Skipf("skipping: %s not set", key)
	}
	return val
}

// Package dbtest gives integration tests an isolated, migrated Postgres
// schema. Tests are skipped unless MEDREF_TEST_DATABASE_URL points at a
// database the tests may create schemas in.
package dbtest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medref/medref/internal/platform/db"
)

const EnvDatabaseURL = "MEDREF_TEST_DATABASE_URL"

// MigrationsDir locates migrations/ relative to this file.
func MigrationsDir() string {
	_, filename, _, _ := runtime.Caller(0)
	// internal/platform/db/dbtest -> module root
	return filepath.Join(filepath.Dir(filename), "..", "..", "..", "..", "migrations")
}

// New creates a fresh schema, applies every migration to it and returns a
// pool whose connections use it. The schema is dropped when the test ends.
func New(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv(EnvDatabaseURL)
	if url == "" {
		t.Skipf("%s not set; skipping Postgres integration test", EnvDatabaseURL)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	admin, err := pgxpool.New(ctx, url)
	if err != nil {
		t.Fatalf("connect admin pool: %v", err)
	}

	schema := "test_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
	if _, err := admin.Exec(ctx, fmt.Sprintf("CREATE SCHEMA %s", schema)); err != nil {
		admin.Close()
		t.Fatalf("create schema %s: %v", schema, err)
	}

	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		admin.Close()
		t.Fatalf("parse database url: %v", err)
	}
	cfg.ConnConfig.RuntimeParams["search_path"] = schema + ", public"
	cfg.MaxConns = 16

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		admin.Close()
		t.Fatalf("connect test pool: %v", err)
	}

	t.Cleanup(func() {
		pool.Close()
		dropCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := admin.Exec(dropCtx, fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", schema)); err != nil {
			t.Logf("warning: failed to drop schema %s: %v", schema, err)
		}
		admin.Close()
	})

	if _, err := db.NewMigrator(pool, MigrationsDir()).Up(ctx); err != nil {
		t.Fatalf("migrate schema %s: %v", schema, err)
	}
	return pool
}

package db

import (
	"context"
	"strings"
	"testing"
)

const poolTestPrefix = "db:pool_test"

func TestNewPool_InvalidURL(t *testing.T) {
	ctx := context.Background()
	pool, err := NewPool(ctx, "invalid://not-a-valid-database-url")
	if err == nil {
		if pool != nil {
			pool.Close()
		}
		t.Fatalf("%s - expected error for invalid URL", poolTestPrefix)
	}
	if pool != nil {
		t.Errorf("%s - expected nil pool on error", poolTestPrefix)
	}
}

func TestNewPool_EmptyURL(t *testing.T) {
	ctx := context.Background()
	pool, err := NewPool(ctx, "")
	if err == nil {
		if pool != nil {
			pool.Close()
		}
		t.Fatalf("%s - expected error for empty URL", poolTestPrefix)
	}
}

func TestMigrationStatusLine(t *testing.T) {
	pending := migrationStatusLine(false, 3, "migrations")
	if !strings.Contains(pending, "'agent-router migrate up'") {
		t.Errorf("%s - pending status should name the agent-router binary: %q", poolTestPrefix, pending)
	}
	if !strings.Contains(pending, "3 migration files in migrations") {
		t.Errorf("%s - pending status missing file count: %q", poolTestPrefix, pending)
	}
	applied := migrationStatusLine(true, 3, "migrations")
	if !strings.HasPrefix(applied, "Migration status: applied") {
		t.Errorf("%s - unexpected applied status: %q", poolTestPrefix, applied)
	}
}

package store

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"
	"testing"
	"time"
)

var dashboardTables = []string{
	"users",
	"refresh_sessions",
	"revoked_access_tokens",
	"password_resets",
	"sign_in_failures",
	"capture_sessions",
	"maintenance_clients",
	"maintenance_tasks",
	"kanban_projects",
	"kanban_tasks",
	"qc_projects",
	"weekly_weeks",
	"weekly_tasks",
}

// Up, down, then up again must leave the full schema in place.
func TestMigrationsRoundTripPostgres(t *testing.T) {
	dsn := strings.TrimSpace(os.Getenv("IGNIS_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("IGNIS_TEST_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	db, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, `DROP SCHEMA IF EXISTS public CASCADE; CREATE SCHEMA public;`); err != nil {
		t.Fatalf("reset schema: %v", err)
	}

	migrations := os.DirFS(migrationsDir())
	if err := ApplyMigrationsFS(ctx, db, migrations); err != nil {
		t.Fatalf("first up pass: %v", err)
	}
	assertTables(ctx, t, db, true)

	if err := revertMigrations(ctx, db, migrations); err != nil {
		t.Fatalf("down pass: %v", err)
	}
	assertTables(ctx, t, db, false)

	if err := ApplyMigrationsFS(ctx, db, migrations); err != nil {
		t.Fatalf("second up pass: %v", err)
	}
	assertTables(ctx, t, db, true)
}

// revertMigrations runs every down file newest first and forgets the
// recorded versions so the next up pass starts clean.
func revertMigrations(ctx context.Context, db *sql.DB, fsys fs.FS) error {
	downs, err := fs.Glob(fsys, "*.down.sql")
	if err != nil {
		return err
	}
	sort.Sort(sort.Reverse(sort.StringSlice(downs)))

	for _, name := range downs {
		contents, err := fs.ReadFile(fsys, name)
		if err != nil {
			return err
		}
		statement := strings.TrimSpace(string(contents))
		if statement == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, statement); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	_, err = db.ExecContext(ctx, `DELETE FROM schema_migrations`)
	return err
}

func assertTables(ctx context.Context, t *testing.T, db *sql.DB, present bool) {
	t.Helper()
	for _, table := range dashboardTables {
		var exists bool
		err := db.QueryRowContext(ctx, `SELECT to_regclass('public.' || $1) IS NOT NULL`, table).Scan(&exists)
		if err != nil {
			t.Fatalf("lookup %s: %v", table, err)
		}
		if exists != present {
			t.Fatalf("table %s present=%v, want %v", table, exists, present)
		}
	}
}

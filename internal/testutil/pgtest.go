// Package testutil holds shared harness code for the Postgres-backed
// integration tests.
package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	_ "github.com/lib/pq"
)

// PGTest connects to the database named by POSTGRES_URL, applies every
// migration, and returns the connection plus a cleanup that truncates
// application tables and closes it. The test is skipped when POSTGRES_URL
// is unset, so the store suites stay green without a database.
//
//	db, cleanup := testutil.PGTest(t)
//	defer cleanup()
func PGTest(t *testing.T) (*sql.DB, func()) {
	t.Helper()

	dbURL := os.Getenv("POSTGRES_URL")
	if dbURL == "" {
		t.Skip("POSTGRES_URL not set, skipping integration test")
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		t.Fatalf("pgtest: open database: %v", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		t.Fatalf("pgtest: connect to database: %v", err)
	}

	ctx := context.Background()
	if err := applyMigrations(ctx, db, findMigrationsDir(t)); err != nil {
		_ = db.Close()
		t.Fatalf("pgtest: run migrations: %v", err)
	}

	return db, func() {
		truncateAll(ctx, db)
		_ = db.Close()
	}
}

// findMigrationsDir walks up from the test's working directory until it
// hits the project-level migrations/ directory.
func findMigrationsDir(t *testing.T) string {
	t.Helper()

	dir, err := os.Getwd()
	if err != nil {
		t.Fatalf("pgtest: getwd: %v", err)
	}

	for {
		candidate := filepath.Join(dir, "migrations")
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatal("pgtest: no migrations/ directory found walking up from cwd")
		}
		dir = parent
	}
}

// applyMigrations executes the Up section of each goose .sql file in
// lexical order. Paths are built from the discovered migrations dir,
// never from user input.
func applyMigrations(ctx context.Context, db *sql.DB, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	for _, name := range files {
		data, err := os.ReadFile(filepath.Join(dir, name)) // #nosec G304 -- path built from trusted migrations dir
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		sqlText := string(data)
		if i := strings.Index(sqlText, "-- +goose Down"); i >= 0 {
			sqlText = sqlText[:i]
		}
		if _, err := db.ExecContext(ctx, sqlText); err != nil {
			return fmt.Errorf("execute %s: %w", name, err)
		}
	}

	return nil
}

// truncateAll wipes every public-schema table so each test starts from a
// clean slate. CASCADE handles the FK from checks to applications.
func truncateAll(ctx context.Context, db *sql.DB) {
	rows, err := db.QueryContext(ctx, `
		SELECT tablename FROM pg_tables
		WHERE schemaname = 'public'
		  AND tablename NOT LIKE 'pg_%'
		  AND tablename NOT LIKE 'sql_%'
	`)
	if err != nil {
		return
	}
	defer func() { _ = rows.Close() }()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err == nil {
			tables = append(tables, name)
		}
	}

	if len(tables) > 0 {
		stmt := "TRUNCATE " + strings.Join(tables, ", ") + " CASCADE" // #nosec G202 -- table names from pg_tables, not user input
		_, _ = db.ExecContext(ctx, stmt)
	}
}

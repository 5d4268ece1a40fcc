package migration

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"testing/fstest"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := Open(TempFileTestSQLiteConfig(filepath.Join(t.TempDir(), "test.db")))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestScan(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"m/002_add_index.sql":   {Data: []byte("CREATE INDEX idx_a ON a(name);")},
		"m/001_create_a.sql":    {Data: []byte("-- Description: Create table a\nCREATE TABLE a (id TEXT PRIMARY KEY, name TEXT);")},
		"m/README.md":           {Data: []byte("ignored")},
		"m/nested/003_skip.sql": {Data: []byte("SELECT 1;")},
	}

	migrations, err := Scan(fsys, "m")
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if len(migrations) != 2 {
		t.Fatalf("expected 2 migrations, got %d", len(migrations))
	}
	if migrations[0].Version != "001" || migrations[1].Version != "002" {
		t.Fatalf("unexpected order: %s, %s", migrations[0].Version, migrations[1].Version)
	}
	if migrations[0].Description != "Create table a" {
		t.Errorf("description = %q", migrations[0].Description)
	}
	if migrations[1].Description != "add index" {
		t.Errorf("fallback description = %q", migrations[1].Description)
	}
	if len(migrations[0].Checksum) != 64 {
		t.Errorf("checksum = %q", migrations[0].Checksum)
	}
}

func TestScan_Rejects(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		files fstest.MapFS
		want  error
	}{
		"bad name": {
			files: fstest.MapFS{"m/create.sql": {Data: []byte("SELECT 1;")}},
			want:  ErrInvalidMigrationFile,
		},
		"empty file": {
			files: fstest.MapFS{"m/001_empty.sql": {Data: []byte("-- nothing here\n")}},
			want:  ErrInvalidMigrationFile,
		},
		"duplicate version": {
			files: fstest.MapFS{
				"m/001_a.sql": {Data: []byte("SELECT 1;")},
				"m/001_b.sql": {Data: []byte("SELECT 2;")},
			},
			want: ErrDuplicateVersion,
		},
	}

	for name, tc := range tests {
		tc := tc
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			if _, err := Scan(tc.files, "m"); !errors.Is(err, tc.want) {
				t.Fatalf("Scan() error = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestManager_Run(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := openTestDB(t)
	fsys := fstest.MapFS{
		"m/001_create_a.sql": {Data: []byte("CREATE TABLE a (id TEXT PRIMARY KEY);\nINSERT INTO a (id) VALUES ('x');")},
		"m/002_create_b.sql": {Data: []byte("CREATE TABLE b (id TEXT PRIMARY KEY);")},
	}
	manager := NewManager(db, fsys, "m", quietLogger())

	if err := manager.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	// Second run is a no-op.
	if err := manager.Run(ctx); err != nil {
		t.Fatalf("second Run() error = %v", err)
	}

	status, err := manager.Status(ctx)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if status.CurrentVersion != "002" || len(status.Pending) != 0 || len(status.Applied) != 2 {
		t.Fatalf("unexpected status: %+v", status)
	}

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM a`).Scan(&count); err != nil {
		t.Fatalf("query a: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 row in a, got %d", count)
	}
}

func TestManager_RunRollsBackFailedMigration(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := openTestDB(t)
	fsys := fstest.MapFS{
		"m/001_ok.sql":     {Data: []byte("CREATE TABLE a (id TEXT PRIMARY KEY);")},
		"m/002_broken.sql": {Data: []byte("CREATE TABLE b (id TEXT);\nTHIS IS NOT SQL;")},
	}
	manager := NewManager(db, fsys, "m", quietLogger())

	err := manager.Run(ctx)
	if !errors.Is(err, ErrMigrationFailed) {
		t.Fatalf("Run() error = %v, want ErrMigrationFailed", err)
	}
	var migErr *MigrationError
	if !errors.As(err, &migErr) || migErr.Version != "002" {
		t.Fatalf("expected MigrationError for 002, got %v", err)
	}

	status, err := manager.Status(ctx)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if status.CurrentVersion != "001" || len(status.Pending) != 1 {
		t.Fatalf("unexpected status: %+v", status)
	}
	var name string
	err = db.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'b'`).Scan(&name)
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("table b should have been rolled back, got err=%v", err)
	}
}

func TestManager_StatusDetectsDrift(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := openTestDB(t)
	original := fstest.MapFS{"m/001_a.sql": {Data: []byte("CREATE TABLE a (id TEXT);")}}
	if err := NewManager(db, original, "m", quietLogger()).Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	t.Run("edited file", func(t *testing.T) {
		edited := fstest.MapFS{"m/001_a.sql": {Data: []byte("CREATE TABLE a (id TEXT, extra TEXT);")}}
		_, err := NewManager(db, edited, "m", quietLogger()).Status(ctx)
		if !errors.Is(err, ErrChecksumMismatch) {
			t.Fatalf("Status() error = %v, want ErrChecksumMismatch", err)
		}
	})

	t.Run("gap in sequence", func(t *testing.T) {
		gapped := fstest.MapFS{
			"m/001_a.sql": {Data: []byte("CREATE TABLE a (id TEXT);")},
			"m/003_c.sql": {Data: []byte("CREATE TABLE c (id TEXT);")},
		}
		_, err := NewManager(db, gapped, "m", quietLogger()).Status(ctx)
		if !errors.Is(err, ErrVersionConflict) {
			t.Fatalf("Status() error = %v, want ErrVersionConflict", err)
		}
	})
}

func TestSQLiteConfig_Validate(t *testing.T) {
	t.Parallel()

	if err := DefaultSQLiteConfig("data/visionary.db").Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	cfg := DefaultSQLiteConfig("")
	cfg.JournalMode = "BOGUS"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error")
	}
}

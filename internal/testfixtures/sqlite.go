package testfixtures

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/example/visionary-scheduler/internal/persistence"
	"github.com/example/visionary-scheduler/internal/persistence/sqlite"
	"github.com/example/visionary-scheduler/internal/persistence/sqlite/migration"
)

// SQLiteHarness provides repository access backed by a temporary, migrated
// SQLite database for integration-style persistence tests.
type SQLiteHarness struct {
	Pool     *sqlite.ConnectionPool
	States   persistence.StateRepository
	Attempts persistence.AttemptRepository
}

// NewSQLiteHarness opens a fresh database under tb.TempDir and registers
// its cleanup with tb.
func NewSQLiteHarness(tb testing.TB) *SQLiteHarness {
	tb.Helper()

	path := filepath.Join(tb.TempDir(), "visionary.db")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	pool, err := sqlite.Open(context.Background(), migration.TempFileTestSQLiteConfig(path), logger)
	if err != nil {
		tb.Fatalf("failed to open storage: %v", err)
	}
	tb.Cleanup(func() { _ = pool.Close() })

	return &SQLiteHarness{
		Pool:     pool,
		States:   sqlite.NewStateRepository(pool),
		Attempts: sqlite.NewAttemptRepository(pool),
	}
}

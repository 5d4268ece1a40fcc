// Package migration applies versioned SQL files to a SQLite database.
//
// Migration files are named {version}_{description}.sql (for example
// "001_initial_schema.sql") and are read from an fs.FS, usually an embedded
// directory. Applied versions and their checksums are tracked in the
// schema_migrations table; each file runs inside its own transaction.
//
// Example usage:
//
//	manager := migration.NewManager(db, migrationsFS, "migrations", logger)
//	if err := manager.Run(ctx); err != nil {
//		return fmt.Errorf("migrate: %w", err)
//	}
package migration

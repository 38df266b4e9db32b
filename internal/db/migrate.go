package db

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// newMigrate builds a migrate instance over fsys, which is rooted at the
// migration files themselves (see getMigrationsFS). The instance is never
// closed; closing it would take the shared *sql.DB down with it.
func (db *DB) newMigrate(fsys fs.FS) (*migrate.Migrate, error) {
	source, err := iofs.New(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to open migration source: %w", err)
	}

	driver, err := sqlite.WithInstance(db.DB, &sqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create sqlite driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = migrateLogger{}
	return m, nil
}

// migrateLogger routes golang-migrate output through the daemon log.
type migrateLogger struct{}

func (migrateLogger) Printf(format string, v ...interface{}) {
	log.Printf("[migrate] "+format, v...)
}

func (migrateLogger) Verbose() bool { return false }

// MigrateUp applies every pending migration. Already being at the latest
// version is not an error.
func (db *DB) MigrateUp(fsys fs.FS) error {
	m, err := db.newMigrate(fsys)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// MigrateDown rolls back the most recent migration.
func (db *DB) MigrateDown(fsys fs.FS) error {
	m, err := db.newMigrate(fsys)
	if err != nil {
		return err
	}
	if err := m.Steps(-1); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration down failed: %w", err)
	}
	return nil
}

// MigrateTo migrates up or down to the given version.
func (db *DB) MigrateTo(fsys fs.FS, version uint) error {
	m, err := db.newMigrate(fsys)
	if err != nil {
		return err
	}
	if err := m.Migrate(version); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration to version %d failed: %w", version, err)
	}
	return nil
}

// MigrateVersion reports the current schema version. A database with no
// applied migrations reports version 0, clean.
func (db *DB) MigrateVersion(fsys fs.FS) (version uint, dirty bool, err error) {
	m, err := db.newMigrate(fsys)
	if err != nil {
		return 0, false, err
	}
	version, dirty, err = m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

// MigrateForce overwrites the recorded schema version. Recovery tool for a
// dirty database; it runs no migration SQL.
func (db *DB) MigrateForce(fsys fs.FS, version int) error {
	m, err := db.newMigrate(fsys)
	if err != nil {
		return err
	}
	if err := m.Force(version); err != nil {
		return fmt.Errorf("force migration to version %d failed: %w", version, err)
	}
	return nil
}

// MigrationStatus summarizes where a database stands relative to the
// migration set.
type MigrationStatus struct {
	Version     uint
	Dirty       bool
	TableExists bool
}

// GetMigrationStatus reports the current version, dirty flag, and whether
// the schema_migrations bookkeeping table exists at all.
func (db *DB) GetMigrationStatus(fsys fs.FS) (MigrationStatus, error) {
	var status MigrationStatus

	version, dirty, err := db.MigrateVersion(fsys)
	if err != nil {
		return status, fmt.Errorf("failed to get migration version: %w", err)
	}
	status.Version = version
	status.Dirty = dirty

	err = db.QueryRow(`
		SELECT COUNT(*) > 0
		FROM sqlite_master
		WHERE type='table' AND name='schema_migrations'
	`).Scan(&status.TableExists)
	if err != nil {
		return status, fmt.Errorf("failed to check schema_migrations table: %w", err)
	}

	return status, nil
}

// GetLatestMigrationVersion scans fsys for the highest-numbered up
// migration. File names follow 000N_description.up.sql.
func GetLatestMigrationVersion(fsys fs.FS) (uint, error) {
	entries, err := fs.Glob(fsys, "*.up.sql")
	if err != nil {
		return 0, fmt.Errorf("failed to read migrations: %w", err)
	}
	if len(entries) == 0 {
		return 0, fmt.Errorf("no migration files found")
	}

	var latest uint64
	for _, entry := range entries {
		prefix, _, ok := strings.Cut(entry, "_")
		if !ok {
			continue
		}
		version, err := strconv.ParseUint(prefix, 10, 32)
		if err != nil {
			continue
		}
		if version > latest {
			latest = version
		}
	}
	if latest == 0 {
		return 0, fmt.Errorf("could not determine latest migration version")
	}
	return uint(latest), nil
}

// ensureSchemaMigrationsTable creates golang-migrate's bookkeeping table so
// a baseline can be recorded before any migration has run.
func (db *DB) ensureSchemaMigrationsTable() error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER NOT NULL,
			dirty INTEGER NOT NULL
		);
		CREATE UNIQUE INDEX IF NOT EXISTS version_unique ON schema_migrations (version);
	`)
	return err
}

// BaselineAtVersion records the schema version of a pre-migrate database
// without running any migration SQL. It refuses to overwrite an existing
// migration history.
func (db *DB) BaselineAtVersion(version uint) error {
	if err := db.ensureSchemaMigrationsTable(); err != nil {
		return fmt.Errorf("failed to ensure schema_migrations table: %w", err)
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		return fmt.Errorf("failed to check existing migrations: %w", err)
	}
	if count > 0 {
		return fmt.Errorf("database already has migrations applied, cannot baseline")
	}

	if _, err := db.Exec("INSERT INTO schema_migrations (version, dirty) VALUES (?, 0)", version); err != nil {
		return fmt.Errorf("failed to insert baseline version: %w", err)
	}
	log.Printf("Database baselined at version %d", version)
	return nil
}

// CheckAndPromptMigrations compares the database version against the latest
// migration on disk. When the database is behind or dirty it logs what to
// run and returns stale=true with an error describing the mismatch.
func (db *DB) CheckAndPromptMigrations(fsys fs.FS) (bool, error) {
	current, dirty, err := db.MigrateVersion(fsys)
	if err != nil {
		return false, fmt.Errorf("failed to get current migration version: %w", err)
	}

	latest, err := GetLatestMigrationVersion(fsys)
	if err != nil {
		return false, fmt.Errorf("failed to get latest migration version: %w", err)
	}

	if current == latest && !dirty {
		return false, nil
	}
	if dirty {
		return true, fmt.Errorf("database is in a dirty state (version %d). Run 'passage migrate status' to diagnose", current)
	}
	if current > latest {
		return true, fmt.Errorf("database version (%d) is ahead of latest migration (%d)", current, latest)
	}

	log.Printf("Database schema is %d migration(s) behind: version %d, latest %d", latest-current, current, latest)
	log.Printf("Apply them with: passage migrate up")
	return true, fmt.Errorf("database schema is out of date (version %d, need %d). Please run migrations", current, latest)
}

package db

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DevMode switches getMigrationsFS to read migration files from the source
// tree instead of the embedded copy, so schema work does not need a rebuild
// between edits. The daemon sets it from its -dev flag.
var DevMode = false

// devMigrationsDir is where the migration files live relative to the repo
// root, which is the working directory in dev mode.
const devMigrationsDir = "internal/db/migrations"

// getMigrationsFS returns a filesystem rooted at the migration files
// themselves: embedded in production, the on-disk directory in dev mode.
func getMigrationsFS() (fs.FS, error) {
	if DevMode {
		if _, err := os.Stat(devMigrationsDir); err != nil {
			return nil, fmt.Errorf("dev mode migrations directory %s: %w", devMigrationsDir, err)
		}
		return os.DirFS(devMigrationsDir), nil
	}
	return fs.Sub(migrationsFS, "migrations")
}

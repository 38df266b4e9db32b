// Package testutil provides shared test helpers: migrated temp databases
// and repo fixture loading.
package testutil

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kerbside-data/passage.report/internal/db"
)

// TempDB opens a fully migrated database in a per-test temp dir and closes
// it when the test ends.
func TempDB(t *testing.T) *db.DB {
	t.Helper()
	database, err := db.OpenDBWithMigrationCheck(filepath.Join(t.TempDir(), "passage_test.db"))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

// FixturePath locates a repo fixture by walking from the package directory
// toward the repository root.
func FixturePath(t *testing.T, name string) string {
	t.Helper()
	candidates := []string{
		name,
		filepath.Join("..", name),
		filepath.Join("..", "..", name),
		filepath.Join("..", "..", "..", name),
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	t.Fatalf("cannot find fixture %q from the package directory", name)
	return ""
}

// FixtureLines reads a fixture file into one line per entry, skipping blank
// rows and carriage returns.
func FixtureLines(t *testing.T, name string) []string {
	t.Helper()
	data, err := os.ReadFile(FixturePath(t, name))
	if err != nil {
		t.Fatalf("failed to read fixture %q: %v", name, err)
	}
	var lines []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}

package db

import (
	"path/filepath"
	"testing"
)

// TestOpenDBAppliesPragmas verifies the DSN pragmas reach the connection.
func TestOpenDBAppliesPragmas(t *testing.T) {
	database := newTestDB(t)

	pragmas := []struct {
		name string
		want string
	}{
		{"journal_mode", "wal"},
		{"busy_timeout", "5000"},
		{"synchronous", "1"}, // NORMAL
		{"temp_store", "2"},  // MEMORY
	}
	for _, p := range pragmas {
		var got string
		if err := database.QueryRow("PRAGMA " + p.name).Scan(&got); err != nil {
			t.Fatalf("PRAGMA %s: %v", p.name, err)
		}
		if got != p.want {
			t.Errorf("PRAGMA %s = %s, want %s", p.name, got, p.want)
		}
	}
}

// TestOpenDB_NoSchema verifies OpenDB leaves schema management to
// migrations.
func TestOpenDB_NoSchema(t *testing.T) {
	database, err := OpenDB(filepath.Join(t.TempDir(), "bare.db"))
	if err != nil {
		t.Fatalf("OpenDB failed: %v", err)
	}
	defer database.Close()

	var count int
	err = database.QueryRow(`
		SELECT COUNT(*) FROM sqlite_master
		WHERE type='table' AND name='consolidated_events'
	`).Scan(&count)
	if err != nil {
		t.Fatalf("Failed to query sqlite_master: %v", err)
	}
	if count != 0 {
		t.Error("OpenDB created the events table; migrations own the schema")
	}
}

func TestOpenDBWithMigrationCheck_FreshDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fresh.db")

	database, err := OpenDBWithMigrationCheck(path)
	if err != nil {
		t.Fatalf("OpenDBWithMigrationCheck failed: %v", err)
	}
	defer database.Close()

	fsys, err := getMigrationsFS()
	if err != nil {
		t.Fatalf("getMigrationsFS failed: %v", err)
	}
	version, dirty, err := database.MigrateVersion(fsys)
	if err != nil {
		t.Fatalf("MigrateVersion failed: %v", err)
	}
	latest, err := GetLatestMigrationVersion(fsys)
	if err != nil {
		t.Fatalf("GetLatestMigrationVersion failed: %v", err)
	}
	if dirty {
		t.Error("fresh database reports dirty")
	}
	if version != latest {
		t.Errorf("fresh database at version %d, want %d", version, latest)
	}
}

func TestOpenDBWithMigrationCheck_StaleDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stale.db")

	database, err := OpenDB(path)
	if err != nil {
		t.Fatalf("OpenDB failed: %v", err)
	}
	fsys, err := getMigrationsFS()
	if err != nil {
		t.Fatalf("getMigrationsFS failed: %v", err)
	}
	// Stop the schema one version short of latest.
	if err := database.MigrateTo(fsys, 1); err != nil {
		t.Fatalf("MigrateTo(1) failed: %v", err)
	}
	database.Close()

	if _, err := OpenDBWithMigrationCheck(path); err == nil {
		t.Fatal("expected error opening database one version behind")
	}
}

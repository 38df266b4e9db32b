package db

import (
	"fmt"
	"io/fs"
	"log"
	"os"
	"strconv"
)

// RunMigrateCommand dispatches the `passage migrate <action>` subcommand. It
// opens the database without the schema check since managing the schema is
// the whole point here.
func RunMigrateCommand(args []string, dbPath string) {
	if len(args) < 1 {
		PrintMigrateHelp()
		os.Exit(1)
	}

	migrationsFS, err := getMigrationsFS()
	if err != nil {
		log.Fatalf("Failed to load migrations: %v", err)
	}

	database, err := OpenDB(dbPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer database.Close()

	switch action := args[0]; action {
	case "up":
		log.Printf("Applying pending migrations...")
		if err := database.MigrateUp(migrationsFS); err != nil {
			log.Fatalf("Migration up failed: %v", err)
		}
		log.Println("✓ Migrations applied")
		logSchemaVersion(database, migrationsFS)

	case "down":
		log.Printf("Rolling back one migration...")
		if err := database.MigrateDown(migrationsFS); err != nil {
			log.Fatalf("Migration down failed: %v", err)
		}
		log.Println("✓ Rolled back one migration")
		logSchemaVersion(database, migrationsFS)

	case "status":
		printMigrateStatus(database, migrationsFS)

	case "version":
		target := parseVersionArg(args, "passage migrate version <N>")
		log.Printf("Migrating to version %d...", target)
		if err := database.MigrateTo(migrationsFS, target); err != nil {
			log.Fatalf("Migration to version %d failed: %v", target, err)
		}
		log.Printf("✓ Now at version %d", target)

	case "force":
		target := parseVersionArg(args, "passage migrate force <N>")
		forceVersion(database, migrationsFS, target)

	case "baseline":
		target := parseVersionArg(args, "passage migrate baseline <N>")
		log.Printf("Baselining database at version %d...", target)
		if err := database.BaselineAtVersion(target); err != nil {
			log.Fatalf("Baseline failed: %v", err)
		}
		log.Printf("✓ Database baselined at version %d", target)

	case "help":
		PrintMigrateHelp()

	default:
		fmt.Printf("Unknown migrate action: %s\n\n", action)
		PrintMigrateHelp()
		os.Exit(1)
	}
}

// parseVersionArg reads the numeric argument actions like "version" and
// "force" take, exiting with usage when it is missing or malformed.
func parseVersionArg(args []string, usage string) uint {
	if len(args) < 2 {
		log.Fatalf("Usage: %s", usage)
	}
	version, err := strconv.ParseUint(args[1], 10, 32)
	if err != nil {
		log.Fatalf("Invalid version number %q", args[1])
	}
	return uint(version)
}

func logSchemaVersion(database *DB, migrationsFS fs.FS) {
	version, dirty, err := database.MigrateVersion(migrationsFS)
	if err != nil {
		return
	}
	log.Printf("Current version: %d (dirty: %v)", version, dirty)
}

func printMigrateStatus(database *DB, migrationsFS fs.FS) {
	status, err := database.GetMigrationStatus(migrationsFS)
	if err != nil {
		log.Fatalf("Failed to get migration status: %v", err)
	}
	latest, err := GetLatestMigrationVersion(migrationsFS)
	if err != nil {
		log.Fatalf("Failed to get latest migration version: %v", err)
	}

	fmt.Printf("Current version:  %d\n", status.Version)
	fmt.Printf("Latest available: %d\n", latest)
	fmt.Printf("Dirty:            %v\n", status.Dirty)
	fmt.Printf("Migrations table: %v\n", status.TableExists)

	if status.Dirty {
		fmt.Println()
		fmt.Println("A migration failed mid-run. Inspect the database, fix the")
		fmt.Println("damage, then recover with: passage migrate force <version>")
	}
}

// forceVersion overwrites the recorded schema version after an interactive
// confirmation.
func forceVersion(database *DB, migrationsFS fs.FS, version uint) {
	fmt.Printf("Forcing the schema version to %d runs no SQL and is only\n", version)
	fmt.Println("meant to recover a dirty database.")
	fmt.Print("Continue? [y/N]: ")

	var response string
	fmt.Scanln(&response)
	if response != "y" && response != "Y" {
		log.Println("Aborted")
		os.Exit(0)
	}

	if err := database.MigrateForce(migrationsFS, int(version)); err != nil {
		log.Fatalf("Force migration failed: %v", err)
	}
	log.Printf("✓ Schema version forced to %d", version)
}

// PrintMigrateHelp writes the migrate subcommand usage to stdout.
func PrintMigrateHelp() {
	fmt.Println("Usage: passage migrate <action> [options]")
	fmt.Println()
	fmt.Println("Actions:")
	fmt.Println("  up              Apply all pending migrations")
	fmt.Println("  down            Roll back one migration")
	fmt.Println("  status          Show schema version and dirty state")
	fmt.Println("  version <N>     Migrate up or down to version N")
	fmt.Println("  force <N>       Overwrite the schema version (recovery only)")
	fmt.Println("  baseline <N>    Record version N without running migrations")
	fmt.Println("  help            Show this message")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  -db <path>    Database file (default: passage.db)")
}

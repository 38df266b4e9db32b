// Package db stores consolidated passage events in SQLite and versions the
// schema with golang-migrate. All times are persisted as UTC nanoseconds;
// optional source columns are NULL when the source never matched, so a
// stored event reads back with the same absent fields it was emitted with.
package db

import (
	"compress/gzip"
	"database/sql"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/tailscale/tailsql/server/tailsql"
	_ "modernc.org/sqlite"
	"tailscale.com/tsweb"
)

type DB struct {
	*sql.DB
}

// OpenDB opens (creating if needed) the SQLite database at path and applies
// the connection pragmas. It does not touch the schema: migrations own that,
// so a fresh database has no tables until MigrateUp runs.
//
// The pragmas ride on the DSN so every pooled connection gets them, not just
// the one that happened to run an Exec.
func OpenDB(path string) (*DB, error) {
	dsn := fmt.Sprintf(
		"file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=temp_store(MEMORY)",
		path,
	)
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}
	return &DB{sqlDB}, nil
}

// OpenDBWithMigrationCheck opens the database and verifies its schema version
// against the bundled migrations. A fresh database is migrated to the latest
// version; an existing one that is behind, ahead, or dirty returns an error
// so the daemon refuses to run against a schema it does not understand.
func OpenDBWithMigrationCheck(path string) (*DB, error) {
	database, err := OpenDB(path)
	if err != nil {
		return nil, err
	}

	fsys, err := getMigrationsFS()
	if err != nil {
		database.Close()
		return nil, err
	}

	version, _, err := database.MigrateVersion(fsys)
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("check migration version: %w", err)
	}
	if version == 0 {
		// Fresh database: apply the full schema.
		if err := database.MigrateUp(fsys); err != nil {
			database.Close()
			return nil, err
		}
		return database, nil
	}

	if _, err := database.CheckAndPromptMigrations(fsys); err != nil {
		database.Close()
		return nil, err
	}
	return database, nil
}

// AttachAdminRoutes mounts the database debug pages on the tsweb debugger:
// a read-only tailsql browser and an on-demand gzip'd backup download.
func (db *DB) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	tsql, err := tailsql.NewServer(tailsql.Options{RoutePrefix: "/debug/tailsql/"})
	if err != nil {
		log.Fatalf("tailsql server: %v", err)
	}
	tsql.SetDB("sqlite://passage.db", db.DB, &tailsql.DBOptions{
		Label: "Passage DB",
	})
	debug.Handle("tailsql/", "Browse the database with tailsql", tsql.NewMux())

	debug.Handle("backup", "Snapshot the database and download it gzip'd", http.HandlerFunc(db.serveBackup))
}

// serveBackup snapshots the live database with VACUUM INTO, which is safe
// under WAL while the daemon keeps writing, then streams the snapshot back
// compressed. The on-disk snapshot is deleted once the copy finishes.
func (db *DB) serveBackup(w http.ResponseWriter, r *http.Request) {
	dest := fmt.Sprintf("passage-backup-%d.db", time.Now().Unix())
	if _, err := db.Exec("VACUUM INTO ?", dest); err != nil {
		http.Error(w, fmt.Sprintf("backup snapshot failed: %v", err), http.StatusInternalServerError)
		return
	}

	snap, err := os.Open(dest)
	if err != nil {
		http.Error(w, fmt.Sprintf("open backup snapshot: %v", err), http.StatusInternalServerError)
		return
	}
	defer func() {
		snap.Close()
		if err := os.Remove(dest); err != nil {
			log.Printf("Could not remove backup snapshot %s: %v", dest, err)
		}
	}()

	h := w.Header()
	h.Set("Content-Type", "application/octet-stream")
	h.Set("Content-Encoding", "gzip")
	h.Set("Content-Disposition", "attachment; filename="+dest)

	gz := gzip.NewWriter(w)
	defer gz.Close()
	if _, err := io.Copy(gz, snap); err != nil {
		http.Error(w, fmt.Sprintf("stream backup: %v", err), http.StatusInternalServerError)
	}
}

package db

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/kerbside-data/passage.report/internal/fusion"
)

// newTestDB opens a fully migrated database in a per-test temp dir.
func newTestDB(t *testing.T) *DB {
	t.Helper()

	database, err := OpenDB(filepath.Join(t.TempDir(), "passage_test.db"))
	if err != nil {
		t.Fatalf("OpenDB failed: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	fsys, err := getMigrationsFS()
	if err != nil {
		t.Fatalf("getMigrationsFS failed: %v", err)
	}
	if err := database.MigrateUp(fsys); err != nil {
		t.Fatalf("MigrateUp failed: %v", err)
	}
	return database
}

// testEvent builds a radar-only event; tests fill in optional sources as
// needed.
func testEvent(correlationID string, eventTime time.Time, speedMPS float64) fusion.ConsolidatedEvent {
	return fusion.ConsolidatedEvent{
		CorrelationID: correlationID,
		EventTime:     eventTime.UTC(),
		Radar: fusion.RadarPayload{
			Speed:     speedMPS,
			Direction: fusion.DirectionApproaching,
		},
		EmittedAt: eventTime.Add(120 * time.Millisecond).UTC(),
	}
}

func mustInsert(t *testing.T, database *DB, event fusion.ConsolidatedEvent) {
	t.Helper()
	if err := database.InsertEvent(&event); err != nil {
		t.Fatalf("InsertEvent(%s) failed: %v", event.CorrelationID, err)
	}
}

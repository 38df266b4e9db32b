package db

import (
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestSpeedStats(t *testing.T) {
	database := newTestDB(t)

	base := time.Date(2025, 6, 12, 8, 0, 0, 0, time.UTC)
	speeds := []float64{5, 10, 15, 20, 25, 30, 35, 40, 45, 50}
	for i, speed := range speeds {
		event := testEvent(fmt.Sprintf("evt-%02d", i), base.Add(time.Duration(i)*time.Minute), speed)
		mustInsert(t, database, event)
	}

	stats, err := database.SpeedStats(time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("SpeedStats failed: %v", err)
	}

	if stats.Count != 10 {
		t.Errorf("Count = %d, want 10", stats.Count)
	}
	if math.Abs(stats.MeanMps-27.5) > 1e-9 {
		t.Errorf("MeanMps = %v, want 27.5", stats.MeanMps)
	}
	if stats.MaxMps != 50 {
		t.Errorf("MaxMps = %v, want 50", stats.MaxMps)
	}
	if stats.P50SpeedMps != 25 {
		t.Errorf("P50SpeedMps = %v, want 25", stats.P50SpeedMps)
	}
	if stats.P85SpeedMps != 45 {
		t.Errorf("P85SpeedMps = %v, want 45", stats.P85SpeedMps)
	}
	if stats.P95SpeedMps != 50 {
		t.Errorf("P95SpeedMps = %v, want 50", stats.P95SpeedMps)
	}
}

func TestSpeedStats_Range(t *testing.T) {
	database := newTestDB(t)

	base := time.Date(2025, 6, 12, 8, 0, 0, 0, time.UTC)
	speeds := []float64{5, 10, 15, 20, 25, 30, 35, 40, 45, 50}
	for i, speed := range speeds {
		event := testEvent(fmt.Sprintf("evt-%02d", i), base.Add(time.Duration(i)*time.Minute), speed)
		mustInsert(t, database, event)
	}

	// [base+5min, ...) keeps the last five samples.
	stats, err := database.SpeedStats(base.Add(5*time.Minute), time.Time{})
	if err != nil {
		t.Fatalf("SpeedStats failed: %v", err)
	}
	if stats.Count != 5 {
		t.Errorf("Count = %d, want 5", stats.Count)
	}
	if math.Abs(stats.MeanMps-40) > 1e-9 {
		t.Errorf("MeanMps = %v, want 40", stats.MeanMps)
	}
}

func TestSpeedStats_Empty(t *testing.T) {
	database := newTestDB(t)

	stats, err := database.SpeedStats(time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("SpeedStats failed: %v", err)
	}
	if stats.Count != 0 {
		t.Errorf("Count = %d, want 0", stats.Count)
	}
	if stats.MeanMps != 0 || stats.P85SpeedMps != 0 {
		t.Errorf("empty stats not zeroed: %+v", stats)
	}
}

func TestEventCounts(t *testing.T) {
	database := newTestDB(t)

	// Around midnight Pacific: 02:00 UTC is the previous local evening.
	mustInsert(t, database, testEvent("evt-a", time.Date(2025, 6, 12, 23, 0, 0, 0, time.UTC), 10))
	mustInsert(t, database, testEvent("evt-b", time.Date(2025, 6, 13, 2, 0, 0, 0, time.UTC), 11))
	mustInsert(t, database, testEvent("evt-c", time.Date(2025, 6, 13, 10, 0, 0, 0, time.UTC), 12))

	t.Run("utc", func(t *testing.T) {
		counts, err := database.EventCounts(time.Time{}, time.Time{}, "UTC")
		if err != nil {
			t.Fatalf("EventCounts failed: %v", err)
		}
		want := []DailyCount{
			{Day: "2025-06-12", Count: 1},
			{Day: "2025-06-13", Count: 2},
		}
		if diff := cmp.Diff(want, counts); diff != "" {
			t.Errorf("counts mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("pacific", func(t *testing.T) {
		counts, err := database.EventCounts(time.Time{}, time.Time{}, "America/Los_Angeles")
		if err != nil {
			t.Fatalf("EventCounts failed: %v", err)
		}
		want := []DailyCount{
			{Day: "2025-06-12", Count: 2},
			{Day: "2025-06-13", Count: 1},
		}
		if diff := cmp.Diff(want, counts); diff != "" {
			t.Errorf("counts mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("invalid timezone", func(t *testing.T) {
		if _, err := database.EventCounts(time.Time{}, time.Time{}, "Mars/Olympus_Mons"); err == nil {
			t.Fatal("expected error for invalid timezone")
		}
	})
}

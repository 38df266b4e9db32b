package db

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/kerbside-data/passage.report/internal/units"
)

// SpeedStats summarizes stored event speeds over a time range. Speeds are
// m/s; callers convert for display. P85 is the survey-grade percentile,
// P95 catches the fast tail.
type SpeedStats struct {
	Count       int     `json:"count"`
	MeanMps     float64 `json:"mean_mps"`
	MaxMps      float64 `json:"max_mps"`
	P50SpeedMps float64 `json:"p50_speed_mps"`
	P85SpeedMps float64 `json:"p85_speed_mps"`
	P95SpeedMps float64 `json:"p95_speed_mps"`
}

// SpeedStats computes count, mean, max, and percentile speeds for events in
// [since, until). Zero bounds are unbounded. An empty range returns zeroed
// stats, not an error.
func (db *DB) SpeedStats(since, until time.Time) (*SpeedStats, error) {
	query := `SELECT speed FROM consolidated_events`
	conds, args := timeRangeConds(since, until)
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query speeds: %w", err)
	}
	defer rows.Close()

	var speeds []float64
	for rows.Next() {
		var speed float64
		if err := rows.Scan(&speed); err != nil {
			return nil, fmt.Errorf("scan speed: %w", err)
		}
		speeds = append(speeds, speed)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate speeds: %w", err)
	}

	stats := &SpeedStats{Count: len(speeds)}
	if len(speeds) == 0 {
		return stats, nil
	}

	// stat.Quantile wants the samples sorted.
	sort.Float64s(speeds)
	stats.MeanMps = stat.Mean(speeds, nil)
	stats.MaxMps = speeds[len(speeds)-1]
	stats.P50SpeedMps = stat.Quantile(0.50, stat.Empirical, speeds, nil)
	stats.P85SpeedMps = stat.Quantile(0.85, stat.Empirical, speeds, nil)
	stats.P95SpeedMps = stat.Quantile(0.95, stat.Empirical, speeds, nil)
	return stats, nil
}

// DailyCount is one local-date bucket of stored events.
type DailyCount struct {
	Day   string `json:"day"` // YYYY-MM-DD in the requested timezone
	Count int    `json:"count"`
}

// EventCounts buckets events in [since, until) by calendar day in the given
// timezone ("" means UTC). Times are stored UTC; bucket edges follow the
// timezone's DST rules, so days around a transition are 23 or 25 hours long.
func (db *DB) EventCounts(since, until time.Time, timezone string) ([]DailyCount, error) {
	if timezone == "" {
		timezone = "UTC"
	}
	if !units.IsTimezoneValid(timezone) {
		return nil, fmt.Errorf("invalid timezone %q", timezone)
	}

	query := `SELECT event_time_ns FROM consolidated_events`
	conds, args := timeRangeConds(since, until)
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY event_time_ns ASC"

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query event times: %w", err)
	}
	defer rows.Close()

	// Rows come back in time order, so events on the same local day are
	// contiguous and the buckets build up in order.
	var counts []DailyCount
	for rows.Next() {
		var eventTimeNS int64
		if err := rows.Scan(&eventTimeNS); err != nil {
			return nil, fmt.Errorf("scan event time: %w", err)
		}
		localTime, err := units.ConvertTime(time.Unix(0, eventTimeNS).UTC(), timezone)
		if err != nil {
			return nil, err
		}
		day := localTime.Format("2006-01-02")
		if n := len(counts); n > 0 && counts[n-1].Day == day {
			counts[n-1].Count++
		} else {
			counts = append(counts, DailyCount{Day: day, Count: 1})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate event times: %w", err)
	}
	return counts, nil
}

func timeRangeConds(since, until time.Time) ([]string, []any) {
	var conds []string
	var args []any
	if !since.IsZero() {
		conds = append(conds, "event_time_ns >= ?")
		args = append(args, since.UnixNano())
	}
	if !until.IsZero() {
		conds = append(conds, "event_time_ns < ?")
		args = append(args, until.UnixNano())
	}
	return conds, args
}

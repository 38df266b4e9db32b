package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/kerbside-data/passage.report/internal/camera"
	"github.com/kerbside-data/passage.report/internal/db"
	"github.com/kerbside-data/passage.report/internal/fusion"
	"github.com/kerbside-data/passage.report/internal/radar"
	"github.com/kerbside-data/passage.report/internal/units"
	"github.com/kerbside-data/passage.report/internal/weather"
)

// StatsResponse bundles the stored-speed rollup with live pipeline health.
// Speeds stay in m/s; the field names carry the unit. Sections for pipeline
// pieces that are not wired are omitted.
type StatsResponse struct {
	Speeds  *db.SpeedStats            `json:"speeds"`
	Daily   []db.DailyCount           `json:"daily,omitempty"`
	Windows map[fusion.Source]int     `json:"window_depths,omitempty"`
	Fusion  *fusion.CoordinatorStatus `json:"fusion,omitempty"`
	Radar   *radar.FeedCounters       `json:"radar,omitempty"`
	Camera  *camera.Counters          `json:"camera,omitempty"`
	Weather []weather.FeedStatus      `json:"weather,omitempty"`
}

// showStats serves the rollup over the last N days plus current pipeline
// counters.
func (s *Server) showStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	days := 1
	if d := r.URL.Query().Get("days"); d != "" {
		n, err := strconv.Atoi(d)
		if err != nil || n < 1 {
			s.writeJSONError(w, http.StatusBadRequest, "'days' must be a positive integer")
			return
		}
		days = n
	}

	timezone := s.timezone
	if tz := r.URL.Query().Get("timezone"); tz != "" {
		if !units.IsTimezoneValid(tz) {
			s.writeJSONError(w, http.StatusBadRequest,
				fmt.Sprintf("Invalid 'timezone' parameter. Common values: %s", units.GetValidTimezonesString()))
			return
		}
		timezone = tz
	}

	since := time.Now().UTC().Add(-time.Duration(days) * 24 * time.Hour)

	speeds, err := s.db.SpeedStats(since, time.Time{})
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to retrieve speed stats: %v", err))
		return
	}
	daily, err := s.db.EventCounts(since, time.Time{}, timezone)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to retrieve event counts: %v", err))
		return
	}

	resp := StatsResponse{
		Speeds: speeds,
		Daily:  daily,
	}
	if s.windows != nil {
		resp.Windows = s.windows.Depths()
	}
	if s.coord != nil {
		status := s.coord.Status()
		resp.Fusion = &status
	}
	if s.feed != nil {
		counters := s.feed.Counters()
		resp.Radar = &counters
	}
	if s.camera != nil {
		counters := s.camera.Counters()
		resp.Camera = &counters
	}
	if s.weather != nil {
		resp.Weather = s.weather.Status()
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write stats")
		return
	}
}

// showFusion serves the coordinator's live snapshot: in-flight requests and
// the trigger, emission, and per-source hit/miss counters.
func (s *Server) showFusion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if s.coord == nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, "Fusion coordinator not running")
		return
	}

	if err := json.NewEncoder(w).Encode(s.coord.Status()); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write fusion status")
		return
	}
}

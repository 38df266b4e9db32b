package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/kerbside-data/passage.report/internal/db"
	"github.com/kerbside-data/passage.report/internal/fusion"
	"github.com/kerbside-data/passage.report/internal/units"
)

// convertEventSpeed converts the radar speed of one event for display. The
// event is copied by value, so the stored record and any shared payload
// pointers stay untouched.
func convertEventSpeed(event fusion.ConsolidatedEvent, targetUnits string) fusion.ConsolidatedEvent {
	event.Radar.Speed = units.ConvertSpeed(event.Radar.Speed, targetUnits)
	return event
}

// parseEventQuery reads the shared event query parameters. Times are
// RFC3339, min_speed is interpreted in the requested display units and
// normalised to m/s for the query.
func (s *Server) parseEventQuery(r *http.Request) (db.EventFilter, string, error) {
	q := r.URL.Query()

	displayUnits := s.units
	if u := q.Get("units"); u != "" {
		if !units.IsValidSpeedUnit(u) {
			return db.EventFilter{}, "", fmt.Errorf("invalid 'units' parameter: must be one of %s", units.SpeedUnitsString())
		}
		displayUnits = u
	}

	var filter db.EventFilter
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return db.EventFilter{}, "", fmt.Errorf("invalid 'since' parameter: want RFC3339")
		}
		filter.Since = t
	}
	if v := q.Get("until"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return db.EventFilter{}, "", fmt.Errorf("invalid 'until' parameter: want RFC3339")
		}
		filter.Until = t
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return db.EventFilter{}, "", fmt.Errorf("invalid 'limit' parameter")
		}
		filter.Limit = n
	}
	if v := q.Get("min_speed"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 {
			return db.EventFilter{}, "", fmt.Errorf("invalid 'min_speed' parameter")
		}
		filter.MinSpeed = units.ToMPS(f, displayUnits)
	}

	return filter, displayUnits, nil
}

// listEvents serves stored consolidated events, newest first.
func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	filter, displayUnits, err := s.parseEventQuery(r)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	events, err := s.db.ListEvents(filter)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve events: %v", err))
		return
	}

	out := make([]fusion.ConsolidatedEvent, len(events))
	for i, e := range events {
		out[i] = convertEventSpeed(e, displayUnits)
	}

	if err := json.NewEncoder(w).Encode(out); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write events")
		return
	}
}

// streamEvents serves live consolidated events as Server-Sent Events, one
// data line per event, until the client disconnects. A slow client only
// loses events; it never backs the pipeline up.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if s.hub == nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, "Event stream not available")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeJSONError(w, http.StatusInternalServerError, "Streaming not supported")
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no") // nginx would buffer the stream otherwise

	id, events := s.hub.Subscribe()
	defer s.hub.Unsubscribe(id)

	// The opening ping flushes headers so the client sees the stream as
	// established before the first event arrives.
	fmt.Fprint(w, ": ping\n\n")
	flusher.Flush()

	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}
			payload, err := json.Marshal(event)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

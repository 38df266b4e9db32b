package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/kerbside-data/passage.report/internal/db"
	"github.com/kerbside-data/passage.report/internal/units"
)

const echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"

// maxChartPoints caps the events drawn on one chart so a busy road cannot
// produce a multi-megabyte page.
const maxChartPoints = 2000

// speedChart renders a quick scatter (HTML) of recent event speeds over
// time using go-echarts, coloured by radar return magnitude. This is a
// debugging view, not the reporting UI.
// Query params:
//   - days (optional; default 1)
//   - limit (optional; default 2000, max 50000)
//   - units (optional; defaults to the server's display units)
func (s *Server) speedChart(w http.ResponseWriter, r *http.Request) {
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

	// A bad limit silently falls back to the default; only days and units
	// are validated strictly since they change what the chart means.
	limit := maxChartPoints
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= 50000 {
			limit = n
		}
	}

	displayUnits := s.units
	if u := r.URL.Query().Get("units"); u != "" {
		if !units.IsValidSpeedUnit(u) {
			s.writeJSONError(w, http.StatusBadRequest,
				fmt.Sprintf("invalid 'units' parameter: must be one of %s", units.SpeedUnitsString()))
			return
		}
		displayUnits = u
	}

	since := time.Now().UTC().Add(-time.Duration(days) * 24 * time.Hour)
	events, err := s.db.ListEvents(db.EventFilter{Since: since, Limit: limit})
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("list events: %v", err))
		return
	}
	if len(events) == 0 {
		s.writeJSONError(w, http.StatusNotFound, "no events in range")
		return
	}

	data := make([]opts.ScatterData, 0, len(events))
	maxMagnitude := 0.0
	for _, e := range events {
		speed := units.ConvertSpeed(e.Radar.Speed, displayUnits)
		if e.Radar.Magnitude > maxMagnitude {
			maxMagnitude = e.Radar.Magnitude
		}
		data = append(data, opts.ScatterData{Value: []interface{}{
			e.EventTime.Format(time.RFC3339Nano), speed, e.Radar.Magnitude,
		}})
	}
	if maxMagnitude == 0 {
		maxMagnitude = 1
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Passage Speeds", Theme: "dark", Width: "1200px", Height: "600px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Consolidated event speeds", Subtitle: fmt.Sprintf("last %dd, %d event(s), magnitude colour scale", days, len(data))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Type: "time", Name: "event time", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: fmt.Sprintf("speed (%s)", displayUnits), NameLocation: "middle", NameGap: 30}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        0,
			Max:        float32(maxMagnitude),
			Dimension:  "2",
			InRange:    &opts.VisualMapInRange{Color: []string{"#440154", "#482777", "#3e4989", "#31688e", "#26828e", "#1f9e89", "#35b779", "#6ece58", "#b5de2b", "#fde725"}},
		}),
	)

	scatter.AddSeries("events", data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 6}))

	var page bytes.Buffer
	if err := scatter.Render(&page); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("render chart: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = page.WriteTo(w)
}

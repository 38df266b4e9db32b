// Package api serves the consolidation pipeline over HTTP: stored events,
// a live event stream, pipeline stats, tuning inspection, and radar command
// passthrough. Speeds are stored in m/s and converted at the edge of the
// API; everything else is served as stored.
package api

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kerbside-data/passage.report/internal/camera"
	"github.com/kerbside-data/passage.report/internal/config"
	"github.com/kerbside-data/passage.report/internal/db"
	"github.com/kerbside-data/passage.report/internal/fusion"
	"github.com/kerbside-data/passage.report/internal/httputil"
	"github.com/kerbside-data/passage.report/internal/monitoring"
	"github.com/kerbside-data/passage.report/internal/radar"
	"github.com/kerbside-data/passage.report/internal/serialmux"
	"github.com/kerbside-data/passage.report/internal/sink"
	"github.com/kerbside-data/passage.report/internal/units"
	"github.com/kerbside-data/passage.report/internal/version"
	"github.com/kerbside-data/passage.report/internal/weather"
)

// ANSI colors for the request log.
const (
	colorCyan      = "\033[36m"
	colorReset     = "\033[0m"
	colorYellow    = "\033[33m"
	colorBoldGreen = "\033[1;32m"
	colorBoldRed   = "\033[1;31m"
)

// ServerConfig carries the pipeline pieces the API reads from. Only DB is
// required; every other field may be nil, in which case the endpoints that
// need it degrade (omitted stats sections, 503 on the fusion snapshot).
type ServerConfig struct {
	DB          *db.DB
	Mux         serialmux.SerialMuxInterface
	Hub         *sink.Hub
	Coordinator *fusion.Coordinator
	Windows     *fusion.WindowStore
	RadarFeed   *radar.Feed
	Camera      *camera.Listener
	Weather     *weather.Poller
	Metrics     *monitoring.FusionCollector
	Tuning      *config.TuningConfig
	Units       string // default display units for speeds
	Timezone    string // default timezone for daily event counts
}

// Server holds the API's view of the pipeline.
type Server struct {
	db       *db.DB
	m        serialmux.SerialMuxInterface
	hub      *sink.Hub
	coord    *fusion.Coordinator
	windows  *fusion.WindowStore
	feed     *radar.Feed
	camera   *camera.Listener
	weather  *weather.Poller
	metrics  *monitoring.FusionCollector
	tuning   *config.TuningConfig
	units    string
	timezone string
}

// NewServer builds a Server from the wired pipeline pieces.
func NewServer(cfg ServerConfig) *Server {
	if cfg.Units == "" || !units.IsValidSpeedUnit(cfg.Units) {
		cfg.Units = units.MPS
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "UTC"
	}
	if cfg.Tuning == nil {
		cfg.Tuning = config.EmptyTuningConfig()
	}
	return &Server{
		db:       cfg.DB,
		m:        cfg.Mux,
		hub:      cfg.Hub,
		coord:    cfg.Coordinator,
		windows:  cfg.Windows,
		feed:     cfg.RadarFeed,
		camera:   cfg.Camera,
		weather:  cfg.Weather,
		metrics:  cfg.Metrics,
		tuning:   cfg.Tuning,
		units:    cfg.Units,
		timezone: cfg.Timezone,
	}
}

// statusRecorder remembers the status code a handler wrote so the request
// log can print it. Flush passes through or the event stream would stall
// behind the recorder.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

func (rec *statusRecorder) Flush() {
	if f, ok := rec.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func statusCodeColor(status int) string {
	code := strconv.Itoa(status)
	switch {
	case status >= 200 && status < 300:
		return colorBoldGreen + code + colorReset
	case status >= 300 && status < 400:
		return colorYellow + code + colorReset
	case status >= 400:
		return colorBoldRed + code + colorReset
	}
	return code
}

// LoggingMiddleware prints one line per request: colored status, method,
// URI, and elapsed milliseconds.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{w, http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Printf(
			"[%s] %s %s%s%s %.2fms",
			statusCodeColor(rec.status), r.Method,
			colorCyan, r.RequestURI, colorReset,
			time.Since(start).Seconds()*1000,
		)
	})
}

// ServeMux returns the API routes. Admin debug routes (/debug/) are attached
// separately by the caller so the API can also run without them.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/events", s.listEvents)
	mux.HandleFunc("/api/events/stream", s.streamEvents)
	mux.HandleFunc("/api/stats", s.showStats)
	mux.HandleFunc("/api/fusion", s.showFusion)
	mux.HandleFunc("/api/config", s.showConfig)
	mux.HandleFunc("/api/command", s.sendCommandHandler)
	mux.HandleFunc("/api/version", s.showVersion)
	mux.HandleFunc("/charts/speeds", s.speedChart)
	mux.HandleFunc("/healthz", s.healthz)
	mux.Handle("/metrics", s.metrics.Handler())
	return mux
}

// sendCommandHandler passes an allow-listed command through to the radar
// sensor. Anything outside the allow-list is rejected before it reaches the
// port.
func (s *Server) sendCommandHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	command := strings.TrimSpace(r.FormValue("command"))
	if command == "" {
		http.Error(w, "Missing command", http.StatusBadRequest)
		return
	}
	if !radar.IsAllowedCommand(command) {
		http.Error(w, "Command not allowed", http.StatusBadRequest)
		return
	}
	if s.m == nil {
		http.Error(w, "Serial port not available", http.StatusServiceUnavailable)
		return
	}

	if err := s.m.SendCommand(command); err != nil {
		http.Error(w, "Failed to send command", http.StatusInternalServerError)
		return
	}
	io.WriteString(w, "Command sent successfully")
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	httputil.WriteJSONError(w, status, msg)
}

// showConfig reports the active tuning values with defaults resolved, so the
// response is what the pipeline actually runs with rather than the raw file.
func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	cfg := map[string]interface{}{
		"units":                  s.units,
		"timezone":               s.timezone,
		"camera_wait":            s.tuning.GetCameraWait().String(),
		"weather_wait":           s.tuning.GetWeatherWait().String(),
		"overall_deadline":       s.tuning.GetOverallDeadline().String(),
		"poll_interval":          s.tuning.GetPollInterval().String(),
		"camera_tolerance":       s.tuning.GetCameraTolerance().String(),
		"weather_tolerance":      s.tuning.GetWeatherTolerance().String(),
		"window_max_entries":     s.tuning.GetWindowMaxEntries(),
		"window_max_age":         s.tuning.GetWindowMaxAge().String(),
		"weather_disagreement_c": s.tuning.GetWeatherDisagreementC(),
		"trigger_min_speed":      s.tuning.GetTriggerMinSpeed(),
		"weather_poll_interval":  s.tuning.GetWeatherPollInterval().String(),
	}

	if err := json.NewEncoder(w).Encode(cfg); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write config")
		return
	}
}

func (s *Server) showVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	httputil.WriteJSONOK(w, map[string]string{
		"version":    version.Version,
		"git_sha":    version.GitSHA,
		"build_time": version.BuildTime,
	})
}

// healthz answers liveness probes. It fails only when the event store is
// unreachable; a degraded sensor feed still counts as alive.
func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	if s.db != nil {
		if err := s.db.DB.PingContext(r.Context()); err != nil {
			httputil.ServiceUnavailable(w, "event store not ready")
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, "ok\n")
}

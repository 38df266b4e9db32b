// Package fusion implements the event consolidation engine. A radar
// detection triggers a bounded multi-source join: the coordinator pulls
// time-correlated camera and weather readings out of the correlation window,
// the resolver merges them, and exactly one consolidated passage event per
// trigger is handed to the emission sink.
package fusion

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Source identifies which sensor or feed produced a Detection.
type Source string

const (
	SourceRadar           Source = "radar"
	SourceCamera          Source = "camera"
	SourceWeatherLocal    Source = "weather_local"
	SourceWeatherRegional Source = "weather_regional"
)

// CollectedSources are the non-trigger sources the coordinator joins against
// each radar trigger, in deterministic resolution order.
var CollectedSources = []Source{SourceCamera, SourceWeatherLocal, SourceWeatherRegional}

// AllSources lists every source the window store tracks.
var AllSources = []Source{SourceRadar, SourceCamera, SourceWeatherLocal, SourceWeatherRegional}

// Travel direction relative to the sensor head.
const (
	DirectionApproaching = "approaching"
	DirectionReceding    = "receding"
)

// RadarPayload carries one Doppler reading.
type RadarPayload struct {
	Speed     float64 `json:"speed"`               // m/s, always positive
	Magnitude float64 `json:"magnitude,omitempty"` // raw return strength
	Direction string  `json:"direction,omitempty"` // approaching or receding
}

// CameraPayload carries one AI camera inference.
type CameraPayload struct {
	Class      string  `json:"class"`
	Confidence float64 `json:"confidence"`          // [0,1]
	Box        []int   `json:"box,omitempty"`       // [x, y, w, h] pixels
	ImageRef   string  `json:"image_ref,omitempty"` // capture path or object key
}

// WeatherPayload carries one weather observation.
type WeatherPayload struct {
	TempC       float64 `json:"temp_c"`
	Humidity    float64 `json:"humidity,omitempty"` // percent
	WindSpeed   float64 `json:"wind_speed,omitempty"`
	VisibilityM float64 `json:"visibility_m,omitempty"`
	Station     string  `json:"station,omitempty"`
}

// Detection is a single timestamped reading from one source. Exactly one
// payload pointer matching Source is set. Detections are immutable once
// appended to the window store.
type Detection struct {
	Source     Source          `json:"source"`
	ObservedAt time.Time       `json:"observed_at"`
	Radar      *RadarPayload   `json:"radar,omitempty"`
	Camera     *CameraPayload  `json:"camera,omitempty"`
	Weather    *WeatherPayload `json:"weather,omitempty"`
}

// Sentinel errors for the consolidation taxonomy.
var (
	// ErrMalformedTrigger marks a trigger detection that cannot start a
	// request. The trigger is logged and abandoned, never retried.
	ErrMalformedTrigger = errors.New("malformed trigger")

	// ErrUnknownSource marks a detection whose source tag the store does
	// not track.
	ErrUnknownSource = errors.New("unknown detection source")

	// ErrCoordinatorClosed is returned by OnTrigger after Close.
	ErrCoordinatorClosed = errors.New("coordinator closed")
)

// Validate checks that the detection is internally consistent: a known
// source tag, a timestamp, and the matching payload with its required
// fields. Adapters validate before appending; the trigger path validates
// again because a bad trigger must abandon the request.
func (d Detection) Validate() error {
	if d.ObservedAt.IsZero() {
		return errors.New("missing observed_at")
	}
	switch d.Source {
	case SourceRadar:
		if d.Radar == nil {
			return errors.New("radar detection without radar payload")
		}
		if d.Radar.Speed <= 0 || math.IsNaN(d.Radar.Speed) || math.IsInf(d.Radar.Speed, 0) {
			return fmt.Errorf("radar speed %v out of range", d.Radar.Speed)
		}
	case SourceCamera:
		if d.Camera == nil {
			return errors.New("camera detection without camera payload")
		}
		if d.Camera.Class == "" {
			return errors.New("camera detection without class")
		}
		if d.Camera.Confidence < 0 || d.Camera.Confidence > 1 || math.IsNaN(d.Camera.Confidence) {
			return fmt.Errorf("camera confidence %v out of range", d.Camera.Confidence)
		}
	case SourceWeatherLocal, SourceWeatherRegional:
		if d.Weather == nil {
			return errors.New("weather detection without weather payload")
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownSource, d.Source)
	}
	return nil
}

// ConsolidatedEvent is the fused record emitted once per accepted trigger.
// Optional sources are nil when no matching detection arrived in time;
// consumers can distinguish "no data" from "measured zero".
type ConsolidatedEvent struct {
	CorrelationID   string          `json:"correlation_id"`
	EventTime       time.Time       `json:"event_time"`
	Radar           RadarPayload    `json:"radar"`
	Camera          *CameraPayload  `json:"camera,omitempty"`
	WeatherLocal    *WeatherPayload `json:"weather_local,omitempty"`
	WeatherRegional *WeatherPayload `json:"weather_regional,omitempty"`
	Notes           []string        `json:"notes,omitempty"`
	EmittedAt       time.Time       `json:"emitted_at"`
}

// RequestState tracks a consolidation request through its lifecycle.
type RequestState string

const (
	StateOpen       RequestState = "open"       // created, collection not started
	StateCollecting RequestState = "collecting" // polling unresolved sources
	StateReady      RequestState = "ready"      // all sources resolved or timed out
	StateEmitted    RequestState = "emitted"    // handed to the sink, terminal
	StateAbandoned  RequestState = "abandoned"  // malformed trigger, terminal
)

package radar

import (
	"context"
	"errors"
	"math"
	"sync"

	"github.com/kerbside-data/passage.report/internal/fusion"
	"github.com/kerbside-data/passage.report/internal/monitoring"
	"github.com/kerbside-data/passage.report/internal/timeutil"
)

// LineSource is the slice of the serial mux the feed consumes: a stream of
// raw lines. Both the real and mock muxes satisfy it.
type LineSource interface {
	Subscribe() (string, chan string)
	Unsubscribe(string)
}

// Trigger accepts a radar detection and opens a consolidation request.
// Implemented by fusion.Coordinator.
type Trigger interface {
	OnTrigger(fusion.Detection) (string, error)
}

// FeedConfig tunes the radar feed.
type FeedConfig struct {
	// TriggerMinSpeed is the speed floor in m/s. Readings below it are
	// recorded in the correlation window but do not open a request, which
	// keeps pedestrians and rustling foliage out of the event stream.
	TriggerMinSpeed float64
}

// Feed consumes serial lines, appends radar detections to the correlation
// window, and opens a consolidation request for every reading at or above
// the trigger threshold.
type Feed struct {
	cfg     FeedConfig
	source  LineSource
	windows *fusion.WindowStore
	trigger Trigger
	clock   timeutil.Clock

	mu          sync.Mutex
	configState map[string]any
	counters    FeedCounters
}

// FeedCounters tracks the feed's line handling for the stats endpoint.
type FeedCounters struct {
	DataLines    uint64 `json:"data_lines"`
	ConfigLines  uint64 `json:"config_lines"`
	UnknownLines uint64 `json:"unknown_lines"`
	ParseErrors  uint64 `json:"parse_errors"`
	Triggers     uint64 `json:"triggers"`
	SubThreshold uint64 `json:"sub_threshold"`
}

// NewFeed wires a feed against a line source and the fusion pipeline.
func NewFeed(cfg FeedConfig, source LineSource, windows *fusion.WindowStore, trigger Trigger, clock timeutil.Clock) *Feed {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Feed{
		cfg:         cfg,
		source:      source,
		windows:     windows,
		trigger:     trigger,
		clock:       clock,
		configState: make(map[string]any),
	}
}

// Run subscribes to the line source and handles lines until ctx is done or
// the source closes the subscription.
func (f *Feed) Run(ctx context.Context) error {
	id, lines := f.source.Subscribe()
	defer f.source.Unsubscribe(id)

	for {
		select {
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			f.HandleLine(line)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// HandleLine classifies and dispatches one serial line. Exported so tests
// and replay tooling can drive the feed without a subscription.
func (f *Feed) HandleLine(line string) {
	switch ClassifyLine(line) {
	case LineTypeData:
		f.handleData(line)
	case LineTypeConfig:
		f.handleConfig(line)
	default:
		f.mu.Lock()
		f.counters.UnknownLines++
		f.mu.Unlock()
	}
}

// handleData parses a reading and feeds it into the pipeline. Unparseable
// lines are counted and logged. A parsed line with no usable speed is still
// presented to the coordinator so the malformed-trigger path owns the
// abandon decision and its log line.
func (f *Feed) handleData(line string) {
	reading, err := ParseReading(line)
	if err != nil {
		f.mu.Lock()
		f.counters.ParseErrors++
		f.mu.Unlock()
		monitoring.Logf("radar: %v", err)
		return
	}

	f.mu.Lock()
	f.counters.DataLines++
	f.mu.Unlock()

	det := f.detectionFor(reading)

	if !reading.HasSpeed {
		f.fireTrigger(det)
		return
	}

	if det.Radar.Speed < f.cfg.TriggerMinSpeed {
		f.mu.Lock()
		f.counters.SubThreshold++
		f.mu.Unlock()
		if err := f.windows.Append(det); err != nil {
			monitoring.Logf("radar: append sub-threshold reading: %v", err)
		}
		return
	}

	f.fireTrigger(det)
}

// detectionFor builds the radar detection for a reading. The device reports
// receding targets as negative speeds; the detection carries the absolute
// speed plus a direction tag.
func (f *Feed) detectionFor(reading Reading) fusion.Detection {
	payload := &fusion.RadarPayload{Magnitude: reading.Magnitude}
	if reading.HasSpeed {
		mps := SpeedToMPS(reading.Speed, reading.Unit)
		payload.Speed = math.Abs(mps)
		payload.Direction = fusion.DirectionApproaching
		if mps < 0 {
			payload.Direction = fusion.DirectionReceding
		}
	}
	return fusion.Detection{
		Source:     fusion.SourceRadar,
		ObservedAt: f.clock.Now(),
		Radar:      payload,
	}
}

func (f *Feed) fireTrigger(det fusion.Detection) {
	_, err := f.trigger.OnTrigger(det)
	if err != nil {
		// The coordinator already counted and logged the abandon.
		if !errors.Is(err, fusion.ErrMalformedTrigger) {
			monitoring.Logf("radar: trigger failed: %v", err)
		}
		return
	}
	f.mu.Lock()
	f.counters.Triggers++
	f.mu.Unlock()
}

// handleConfig merges a config echo into the device state map so the API can
// expose the sensor's active settings.
func (f *Feed) handleConfig(line string) {
	values, err := parseConfigLine(line)
	if err != nil {
		f.mu.Lock()
		f.counters.UnknownLines++
		f.mu.Unlock()
		monitoring.Logf("radar: %v", err)
		return
	}
	f.mu.Lock()
	f.counters.ConfigLines++
	for k, v := range values {
		f.configState[k] = v
	}
	f.mu.Unlock()
}

// DeviceState returns a copy of the config values last reported by the
// sensor.
func (f *Feed) DeviceState() map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	state := make(map[string]any, len(f.configState))
	for k, v := range f.configState {
		state[k] = v
	}
	return state
}

// Counters returns a snapshot of the feed counters.
func (f *Feed) Counters() FeedCounters {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counters
}

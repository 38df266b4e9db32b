package fusion

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kerbside-data/passage.report/internal/monitoring"
	"github.com/kerbside-data/passage.report/internal/timeutil"
)

// captureSink records published events for assertions.
type captureSink struct {
	mu     sync.Mutex
	events []ConsolidatedEvent
}

func (s *captureSink) Publish(event ConsolidatedEvent) {
	s.mu.Lock()
	s.events = append(s.events, event)
	s.mu.Unlock()
}

func (s *captureSink) snapshot() []ConsolidatedEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ConsolidatedEvent, len(s.events))
	copy(out, s.events)
	return out
}

// waitEvents polls until the sink holds at least n events or the cap expires.
func waitEvents(t *testing.T, sink *captureSink, n int) []ConsolidatedEvent {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if events := sink.snapshot(); len(events) >= n {
			return events
		}
		time.Sleep(2 * time.Millisecond)
	}
	events := sink.snapshot()
	require.GreaterOrEqual(t, len(events), n, "timed out waiting for %d events, have %d", n, len(events))
	return events
}

// testBudgets returns collection budgets small enough for fast tests but
// with room for scheduler jitter.
func testBudgets() CoordinatorConfig {
	return CoordinatorConfig{
		CameraWait:           60 * time.Millisecond,
		WeatherWait:          60 * time.Millisecond,
		OverallDeadline:      250 * time.Millisecond,
		PollInterval:         2 * time.Millisecond,
		CameraTolerance:      time.Second,
		WeatherTolerance:     time.Minute,
		WeatherDisagreementC: 3.0,
	}
}

func newTestCoordinator(cfg CoordinatorConfig) (*Coordinator, *WindowStore, *captureSink) {
	store := NewWindowStore(DefaultWindowConfig(), timeutil.RealClock{})
	sink := &captureSink{}
	return NewCoordinator(cfg, store, sink, timeutil.RealClock{}, nil), store, sink
}

// TestOnTriggerReturnsImmediately verifies the trigger path is non-blocking:
// the correlation ID comes back long before any collection budget elapses.
func TestOnTriggerReturnsImmediately(t *testing.T) {
	t.Parallel()
	coord, _, sink := newTestCoordinator(testBudgets())
	defer coord.Close()

	start := time.Now()
	id, err := coord.OnTrigger(radarDetection(time.Now(), 14.2))
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Less(t, elapsed, 50*time.Millisecond, "OnTrigger blocked for %v", elapsed)

	parsed, err := uuid.Parse(id)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), parsed.Version(), "correlation IDs are time-ordered UUIDv7")

	waitEvents(t, sink, 1)
}

// TestAllSourcesResolveQuickly is the fast path: every source has a matching
// detection, so the event emits well before the overall deadline with every
// field populated.
func TestAllSourcesResolveQuickly(t *testing.T) {
	t.Parallel()
	cfg := testBudgets()
	cfg.CameraWait = 200 * time.Millisecond // generous so the sleep below cannot overshoot it
	cfg.OverallDeadline = 500 * time.Millisecond
	coord, store, sink := newTestCoordinator(cfg)
	defer coord.Close()

	trigger := time.Now()
	require.NoError(t, store.Append(weatherDetection(SourceWeatherLocal, trigger.Add(-2*time.Second), 21.0)))
	require.NoError(t, store.Append(weatherDetection(SourceWeatherRegional, trigger.Add(-3*time.Second), 22.0)))

	_, err := coord.OnTrigger(radarDetection(trigger, 13.4))
	require.NoError(t, err)

	// Camera inference lands 15ms after the trigger.
	time.Sleep(15 * time.Millisecond)
	require.NoError(t, store.Append(cameraDetection(time.Now(), "car", 0.94)))

	events := waitEvents(t, sink, 1)
	event := events[0]

	require.NotNil(t, event.Camera, "camera arrived within tolerance, must be populated")
	assert.Equal(t, "car", event.Camera.Class)
	require.NotNil(t, event.WeatherLocal)
	require.NotNil(t, event.WeatherRegional)
	assert.Equal(t, 13.4, event.Radar.Speed)
	assert.Empty(t, event.Notes)

	latency := event.EmittedAt.Sub(event.EventTime)
	assert.Less(t, latency, cfg.CameraWait, "all sources resolved, emission must not wait out any budget, took %v", latency)
}

// TestCameraAbsentEmitsAtSubDeadline is the nighttime case: no camera
// detection ever arrives, so the event emits with the camera field absent at
// roughly the camera sub-deadline instead of the overall deadline.
func TestCameraAbsentEmitsAtSubDeadline(t *testing.T) {
	t.Parallel()
	coord, store, sink := newTestCoordinator(testBudgets())
	defer coord.Close()

	trigger := time.Now()
	require.NoError(t, store.Append(weatherDetection(SourceWeatherLocal, trigger, 18.0)))
	require.NoError(t, store.Append(weatherDetection(SourceWeatherRegional, trigger, 18.5)))

	_, err := coord.OnTrigger(radarDetection(trigger, 9.1))
	require.NoError(t, err)

	events := waitEvents(t, sink, 1)
	event := events[0]

	assert.Nil(t, event.Camera, "no camera data may never default to a zero payload")
	require.NotNil(t, event.WeatherLocal)
	require.Len(t, event.Notes, 1)
	assert.Contains(t, event.Notes[0], "camera: no match within")

	latency := event.EmittedAt.Sub(event.EventTime)
	assert.GreaterOrEqual(t, latency, 50*time.Millisecond, "must wait out the camera sub-deadline")
	assert.Less(t, latency, 200*time.Millisecond, "must not wait out the overall deadline")
}

// TestRapidTriggersStayIndependent drives two triggers a few milliseconds
// apart and verifies they never merge: distinct correlation IDs, one event
// each, each carrying its own radar reading.
func TestRapidTriggersStayIndependent(t *testing.T) {
	t.Parallel()
	cfg := testBudgets()
	coord, store, sink := newTestCoordinator(cfg)
	defer coord.Close()

	require.NoError(t, store.Append(weatherDetection(SourceWeatherLocal, time.Now(), 20.0)))
	require.NoError(t, store.Append(weatherDetection(SourceWeatherRegional, time.Now(), 20.5)))
	require.NoError(t, store.Append(cameraDetection(time.Now(), "car", 0.9)))

	first, err := coord.OnTrigger(radarDetection(time.Now(), 11.0))
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	second, err := coord.OnTrigger(radarDetection(time.Now(), 17.0))
	require.NoError(t, err)

	assert.NotEqual(t, first, second)

	events := waitEvents(t, sink, 2)
	require.Len(t, events, 2)

	sort.Slice(events, func(i, j int) bool { return events[i].EventTime.Before(events[j].EventTime) })
	assert.Equal(t, first, events[0].CorrelationID)
	assert.Equal(t, second, events[1].CorrelationID)
	assert.Equal(t, 11.0, events[0].Radar.Speed)
	assert.Equal(t, 17.0, events[1].Radar.Speed)
}

// TestMalformedTriggerAbandoned covers the abandon path: a radar trigger
// without a usable speed opens no request, emits nothing, and leaves exactly
// one log line.
func TestMalformedTriggerAbandoned(t *testing.T) {
	var (
		logMu sync.Mutex
		logs  []string
	)
	original := monitoring.Logf
	monitoring.SetLogger(func(format string, v ...interface{}) {
		logMu.Lock()
		logs = append(logs, fmt.Sprintf(format, v...))
		logMu.Unlock()
	})
	defer func() { monitoring.Logf = original }()

	coord, _, sink := newTestCoordinator(testBudgets())
	defer coord.Close()

	id, err := coord.OnTrigger(Detection{
		Source:     SourceRadar,
		ObservedAt: time.Now(),
		Radar:      &RadarPayload{Magnitude: 1800}, // speed missing
	})

	require.ErrorIs(t, err, ErrMalformedTrigger)
	assert.Empty(t, id)
	assert.Empty(t, sink.snapshot(), "no event may be emitted for an abandoned trigger")

	status := coord.Status()
	assert.Equal(t, uint64(1), status.TriggersMalformed)
	assert.Equal(t, uint64(0), status.TriggersAccepted)
	assert.Equal(t, 0, status.Inflight)

	logMu.Lock()
	defer logMu.Unlock()
	var abandoned int
	for _, line := range logs {
		if strings.Contains(line, "trigger abandoned") {
			abandoned++
		}
	}
	assert.Equal(t, 1, abandoned, "exactly one abandon log line, got logs: %v", logs)
}

// TestNonRadarTriggerRejected guards the trigger contract: only radar opens
// requests.
func TestNonRadarTriggerRejected(t *testing.T) {
	t.Parallel()
	coord, _, _ := newTestCoordinator(testBudgets())
	defer coord.Close()

	_, err := coord.OnTrigger(cameraDetection(time.Now(), "car", 0.9))
	assert.ErrorIs(t, err, ErrMalformedTrigger)
}

// TestAtMostOnceUnderConcurrentTriggers fires a burst of concurrent triggers
// and verifies emissions match accepted triggers one-to-one with no
// correlation ID repeated.
func TestAtMostOnceUnderConcurrentTriggers(t *testing.T) {
	t.Parallel()
	cfg := testBudgets()
	cfg.CameraWait = 20 * time.Millisecond
	cfg.WeatherWait = 20 * time.Millisecond
	cfg.OverallDeadline = 80 * time.Millisecond
	coord, _, sink := newTestCoordinator(cfg)
	defer coord.Close()

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := coord.OnTrigger(radarDetection(time.Now(), float64(i+1)))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	events := waitEvents(t, sink, n)
	require.Len(t, events, n, "emissions must match accepted triggers exactly")

	seen := make(map[string]bool, n)
	for _, event := range events {
		assert.False(t, seen[event.CorrelationID], "correlation ID %s appeared twice", event.CorrelationID)
		seen[event.CorrelationID] = true
	}

	status := coord.Status()
	assert.Equal(t, uint64(n), status.TriggersAccepted)
	assert.Equal(t, uint64(n), status.EventsEmitted)
	assert.Equal(t, uint64(0), status.DuplicatesDropped)
}

// TestDeadlineBound verifies the hard latency cap: with no source ever
// resolving, every event still emits within the overall deadline plus
// scheduling jitter.
func TestDeadlineBound(t *testing.T) {
	t.Parallel()
	cfg := testBudgets()
	cfg.CameraWait = 500 * time.Millisecond // capped by the overall deadline
	cfg.WeatherWait = 500 * time.Millisecond
	cfg.OverallDeadline = 120 * time.Millisecond
	coord, _, sink := newTestCoordinator(cfg)
	defer coord.Close()

	const n = 5
	for i := 0; i < n; i++ {
		_, err := coord.OnTrigger(radarDetection(time.Now(), 10.0))
		require.NoError(t, err)
	}

	events := waitEvents(t, sink, n)
	const epsilon = 150 * time.Millisecond
	for _, event := range events {
		latency := event.EmittedAt.Sub(event.EventTime)
		assert.LessOrEqual(t, latency, cfg.OverallDeadline+epsilon,
			"event %s exceeded deadline bound: %v", event.CorrelationID, latency)
		assert.GreaterOrEqual(t, latency, 100*time.Millisecond,
			"sub-deadlines are capped at the overall deadline, so the wait runs to it")
		assert.Nil(t, event.Camera)
		assert.Nil(t, event.WeatherLocal)
		assert.Nil(t, event.WeatherRegional)
	}
}

// TestPerSourceSubDeadlines verifies budgets expire independently: the
// camera misses its short window while a later weather reading still lands
// inside its longer one.
func TestPerSourceSubDeadlines(t *testing.T) {
	t.Parallel()
	cfg := testBudgets()
	cfg.CameraWait = 30 * time.Millisecond
	cfg.WeatherWait = 150 * time.Millisecond
	cfg.OverallDeadline = 300 * time.Millisecond
	coord, store, sink := newTestCoordinator(cfg)
	defer coord.Close()

	_, err := coord.OnTrigger(radarDetection(time.Now(), 12.0))
	require.NoError(t, err)

	// Weather lands after the camera budget but inside its own.
	time.Sleep(60 * time.Millisecond)
	require.NoError(t, store.Append(weatherDetection(SourceWeatherLocal, time.Now(), 16.0)))

	events := waitEvents(t, sink, 1)
	event := events[0]

	assert.Nil(t, event.Camera)
	require.NotNil(t, event.WeatherLocal)
	assert.Equal(t, 16.0, event.WeatherLocal.TempC)
	assert.Nil(t, event.WeatherRegional)

	var cameraNote, regionalNote bool
	for _, note := range event.Notes {
		if strings.HasPrefix(note, "camera:") {
			cameraNote = true
		}
		if strings.HasPrefix(note, "weather_regional:") {
			regionalNote = true
		}
	}
	assert.True(t, cameraNote, "camera timeout must be noted, got %v", event.Notes)
	assert.True(t, regionalNote, "regional weather timeout must be noted, got %v", event.Notes)
}

// TestDuplicateEmissionDropped drives emit directly: a second emission
// attempt for the same request is dropped and counted, never published.
func TestDuplicateEmissionDropped(t *testing.T) {
	t.Parallel()
	coord, _, sink := newTestCoordinator(testBudgets())
	defer coord.Close()

	req := &ConsolidationRequest{
		CorrelationID: "0198ad9e-dup-test",
		Trigger:       radarDetection(time.Now(), 8.8),
		Deadline:      time.Now().Add(time.Second),
		state:         StateReady,
		collected:     make(map[Source]Detection),
		missed:        make(map[Source]time.Duration),
	}

	coord.emit(req)
	coord.emit(req)

	assert.Len(t, sink.snapshot(), 1, "second emission attempt must be dropped")
	status := coord.Status()
	assert.Equal(t, uint64(1), status.EventsEmitted)
	assert.Equal(t, uint64(1), status.DuplicatesDropped)
	assert.Equal(t, StateEmitted, req.State())
}

// TestAbsenceOverFalsification pins the resolver contract end to end: data
// physically in the window but outside tolerance yields an absent field,
// never a zero-valued payload.
func TestAbsenceOverFalsification(t *testing.T) {
	t.Parallel()
	cfg := testBudgets()
	cfg.CameraWait = 20 * time.Millisecond
	cfg.WeatherWait = 20 * time.Millisecond
	cfg.OverallDeadline = 80 * time.Millisecond
	cfg.WeatherTolerance = 50 * time.Millisecond
	coord, store, sink := newTestCoordinator(cfg)
	defer coord.Close()

	// Present in the buffer, but observed far outside the match tolerance.
	require.NoError(t, store.Append(weatherDetection(SourceWeatherLocal, time.Now().Add(-10*time.Second), 19.0)))

	_, err := coord.OnTrigger(radarDetection(time.Now(), 7.5))
	require.NoError(t, err)

	events := waitEvents(t, sink, 1)
	event := events[0]

	assert.Nil(t, event.WeatherLocal, "out-of-tolerance data must resolve to absence")
	assert.NotEqual(t, &WeatherPayload{}, event.WeatherLocal)
	assert.NotEmpty(t, event.Notes)
}

// TestCloseWaitsForInflight verifies Close drains collection goroutines and
// rejects later triggers.
func TestCloseWaitsForInflight(t *testing.T) {
	t.Parallel()
	cfg := testBudgets()
	cfg.CameraWait = 30 * time.Millisecond
	cfg.WeatherWait = 30 * time.Millisecond
	cfg.OverallDeadline = 60 * time.Millisecond
	coord, _, sink := newTestCoordinator(cfg)

	_, err := coord.OnTrigger(radarDetection(time.Now(), 10.0))
	require.NoError(t, err)

	coord.Close()

	// Close returned, so the in-flight request has already emitted.
	assert.Len(t, sink.snapshot(), 1)

	_, err = coord.OnTrigger(radarDetection(time.Now(), 10.0))
	assert.ErrorIs(t, err, ErrCoordinatorClosed)
}

// TestCoordinatorMockClock runs one consolidation entirely on a mock clock,
// pinning the deadline arithmetic without wall-time jitter.
func TestCoordinatorMockClock(t *testing.T) {
	t.Parallel()
	base := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	clock := timeutil.NewMockClock(base)
	store := NewWindowStore(DefaultWindowConfig(), clock)
	sink := &captureSink{}
	cfg := DefaultCoordinatorConfig()
	coord := NewCoordinator(cfg, store, sink, clock, nil)

	_, err := coord.OnTrigger(radarDetection(base, 15.0))
	require.NoError(t, err)

	// Step mock time in poll intervals until emission. Small real sleeps let
	// the collection goroutine register its poll timer between steps.
	for i := 0; i < 60 && len(sink.snapshot()) == 0; i++ {
		time.Sleep(3 * time.Millisecond)
		clock.Advance(cfg.PollInterval)
	}

	events := sink.snapshot()
	require.Len(t, events, 1)
	event := events[0]

	// Mock time only moves in poll steps, so the emission timestamp proves
	// the coordinator runs on the injected clock: latency lands on a poll
	// boundary at or after the longest sub-deadline, with no source data.
	latency := event.EmittedAt.Sub(event.EventTime)
	assert.GreaterOrEqual(t, latency, cfg.CameraWait)
	assert.Zero(t, latency%cfg.PollInterval, "latency %v is not a poll-step multiple", latency)
	assert.Nil(t, event.Camera)
	assert.Nil(t, event.WeatherLocal)
	assert.Nil(t, event.WeatherRegional)
	assert.Len(t, event.Notes, 3)
	coord.Close()
}

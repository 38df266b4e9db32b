package fusion

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/kerbside-data/passage.report/internal/monitoring"
	"github.com/kerbside-data/passage.report/internal/timeutil"
)

// CoordinatorConfig holds the collection budgets for the bounded
// multi-source join.
type CoordinatorConfig struct {
	CameraWait           time.Duration // camera sub-deadline after the trigger
	WeatherWait          time.Duration // weather sub-deadline after the trigger
	OverallDeadline      time.Duration // hard trigger-to-emission cap
	PollInterval         time.Duration // retry interval for unresolved sources
	CameraTolerance      time.Duration // temporal match tolerance for camera
	WeatherTolerance     time.Duration // temporal match tolerance for weather
	WeatherDisagreementC float64       // temperature delta that annotates the event
}

// DefaultCoordinatorConfig returns the default collection budgets.
func DefaultCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{
		CameraWait:           100 * time.Millisecond,
		WeatherWait:          100 * time.Millisecond,
		OverallDeadline:      300 * time.Millisecond,
		PollInterval:         20 * time.Millisecond,
		CameraTolerance:      time.Second,
		WeatherTolerance:     120 * time.Second,
		WeatherDisagreementC: 3.0,
	}
}

// ConsolidationRequest tracks one trigger from OPEN to EMITTED. It is owned
// by a single collection goroutine; the mutex covers reads from status
// snapshots and the resolver.
type ConsolidationRequest struct {
	CorrelationID string
	Trigger       Detection
	Deadline      time.Time

	mu        sync.Mutex
	state     RequestState
	collected map[Source]Detection
	missed    map[Source]time.Duration

	// emitted guards the READY to EMITTED transition. CompareAndSwap makes
	// a duplicate emission attempt structurally a no-op.
	emitted atomic.Bool
}

// State returns the request's current lifecycle state.
func (r *ConsolidationRequest) State() RequestState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *ConsolidationRequest) setState(s RequestState) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

func (r *ConsolidationRequest) addCollected(source Source, d Detection) {
	r.mu.Lock()
	r.collected[source] = d
	r.mu.Unlock()
}

func (r *ConsolidationRequest) markMissed(source Source, budget time.Duration) {
	r.mu.Lock()
	r.missed[source] = budget
	r.mu.Unlock()
}

// CollectedDetection returns the best match recorded for a source so far.
func (r *ConsolidationRequest) CollectedDetection(source Source) (Detection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.collected[source]
	return d, ok
}

// Coordinator owns the lifecycle of every consolidation request. Each
// accepted trigger gets its own goroutine; requests share no mutable state
// except the window store behind its own locks.
type Coordinator struct {
	cfg     CoordinatorConfig
	windows *WindowStore
	sink    Sink
	clock   timeutil.Clock
	metrics *monitoring.FusionCollector

	wg sync.WaitGroup

	mu        sync.Mutex
	closed    bool
	requests  map[string]*ConsolidationRequest
	accepted  uint64
	malformed uint64
	emitted   uint64
	dupes     uint64
	resolved  map[Source]uint64
	missed    map[Source]uint64
}

// NewCoordinator wires a coordinator against a window store and a sink.
// A nil clock falls back to the real clock; a nil metrics collector disables
// metric recording; a nil sink discards emitted events (tests).
func NewCoordinator(cfg CoordinatorConfig, windows *WindowStore, sink Sink, clock timeutil.Clock, metrics *monitoring.FusionCollector) *Coordinator {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	def := DefaultCoordinatorConfig()
	if cfg.OverallDeadline <= 0 {
		cfg.OverallDeadline = def.OverallDeadline
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.CameraWait <= 0 {
		cfg.CameraWait = def.CameraWait
	}
	if cfg.WeatherWait <= 0 {
		cfg.WeatherWait = def.WeatherWait
	}
	if cfg.CameraTolerance <= 0 {
		cfg.CameraTolerance = def.CameraTolerance
	}
	if cfg.WeatherTolerance <= 0 {
		cfg.WeatherTolerance = def.WeatherTolerance
	}
	if cfg.WeatherDisagreementC <= 0 {
		cfg.WeatherDisagreementC = def.WeatherDisagreementC
	}
	return &Coordinator{
		cfg:      cfg,
		windows:  windows,
		sink:     sink,
		clock:    clock,
		metrics:  metrics,
		requests: make(map[string]*ConsolidationRequest),
		resolved: make(map[Source]uint64),
		missed:   make(map[Source]uint64),
	}
}

// OnTrigger accepts a radar detection, opens a consolidation request, and
// returns its correlation ID immediately. Collection runs asynchronously.
// A malformed trigger is logged, counted, and abandoned; it never opens a
// request and is never retried.
func (c *Coordinator) OnTrigger(d Detection) (string, error) {
	if d.Source != SourceRadar {
		c.noteMalformed(fmt.Sprintf("trigger source %q is not radar", d.Source))
		return "", fmt.Errorf("%w: source %q", ErrMalformedTrigger, d.Source)
	}
	if err := d.Validate(); err != nil {
		c.noteMalformed(err.Error())
		return "", fmt.Errorf("%w: %v", ErrMalformedTrigger, err)
	}

	id, err := uuid.NewV7()
	if err != nil {
		// Not a trigger problem; no request exists to abandon.
		return "", fmt.Errorf("correlation id: %w", err)
	}

	// The trigger joins the radar history so stats and later queries see it.
	if err := c.windows.Append(d); err != nil {
		return "", err
	}

	req := &ConsolidationRequest{
		CorrelationID: id.String(),
		Trigger:       d,
		Deadline:      d.ObservedAt.Add(c.cfg.OverallDeadline),
		state:         StateOpen,
		collected:     make(map[Source]Detection, len(CollectedSources)),
		missed:        make(map[Source]time.Duration),
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return "", ErrCoordinatorClosed
	}
	c.requests[req.CorrelationID] = req
	c.accepted++
	c.wg.Add(1)
	c.mu.Unlock()

	c.metrics.RecordTrigger(monitoring.TriggerAccepted)
	c.metrics.AddInflight(1)

	go c.collect(req)
	return req.CorrelationID, nil
}

// collect runs the bounded multi-source join for one request: an immediate
// lookup per source, then short poll waits until each source resolves or its
// sub-deadline passes, under a hard overall deadline. The lookup happens
// before the deadline check on every pass so data landing right at the
// deadline is still caught.
func (c *Coordinator) collect(req *ConsolidationRequest) {
	defer c.wg.Done()
	req.setState(StateCollecting)

	pending := map[Source]time.Time{
		SourceCamera:          c.capDeadline(req, c.cfg.CameraWait),
		SourceWeatherLocal:    c.capDeadline(req, c.cfg.WeatherWait),
		SourceWeatherRegional: c.capDeadline(req, c.cfg.WeatherWait),
	}

	for {
		now := c.clock.Now()
		for source, sub := range pending {
			det, ok := c.windows.FindNearest(source, req.Trigger.ObservedAt, c.tolerance(source))
			if ok {
				req.addCollected(source, det)
				delete(pending, source)
				c.noteSourceOutcome(source, true)
				continue
			}
			if !now.Before(sub) {
				req.markMissed(source, sub.Sub(req.Trigger.ObservedAt))
				delete(pending, source)
				c.noteSourceOutcome(source, false)
			}
		}

		if len(pending) == 0 || !now.Before(req.Deadline) {
			break
		}

		wait := c.cfg.PollInterval
		if until := c.clock.Until(req.Deadline); until < wait {
			wait = until
		}
		if wait <= 0 {
			continue // deadline passed during the lookup pass; final check above
		}
		<-c.clock.After(wait)
	}

	req.setState(StateReady)
	c.emit(req)
}

// capDeadline returns the source sub-deadline, never past the overall one.
func (c *Coordinator) capDeadline(req *ConsolidationRequest, wait time.Duration) time.Time {
	sub := req.Trigger.ObservedAt.Add(wait)
	if sub.After(req.Deadline) {
		return req.Deadline
	}
	return sub
}

func (c *Coordinator) tolerance(source Source) time.Duration {
	if source == SourceCamera {
		return c.cfg.CameraTolerance
	}
	return c.cfg.WeatherTolerance
}

// emit finalizes the request exactly once. The atomic guard drops and logs
// any duplicate attempt instead of publishing twice.
func (c *Coordinator) emit(req *ConsolidationRequest) {
	if !req.emitted.CompareAndSwap(false, true) {
		c.mu.Lock()
		c.dupes++
		c.mu.Unlock()
		monitoring.Logf("fusion: duplicate emission attempt dropped for %s", req.CorrelationID)
		return
	}

	event := Resolve(req, c.cfg.WeatherDisagreementC)
	event.EmittedAt = c.clock.Now()
	req.setState(StateEmitted)

	c.mu.Lock()
	delete(c.requests, req.CorrelationID)
	c.emitted++
	c.mu.Unlock()

	c.metrics.AddInflight(-1)
	c.metrics.RecordEmission(event.EmittedAt.Sub(event.EventTime))

	if c.sink != nil {
		c.sink.Publish(event)
	}
}

func (c *Coordinator) noteMalformed(reason string) {
	c.mu.Lock()
	c.malformed++
	c.mu.Unlock()
	c.metrics.RecordTrigger(monitoring.TriggerMalformed)
	monitoring.Logf("fusion: trigger abandoned: %s", reason)
}

func (c *Coordinator) noteSourceOutcome(source Source, hit bool) {
	c.mu.Lock()
	if hit {
		c.resolved[source]++
	} else {
		c.missed[source]++
	}
	c.mu.Unlock()
	c.metrics.RecordLookup(string(source), hit)
}

// Close stops accepting triggers and waits for in-flight requests to emit.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	c.wg.Wait()
}

// CoordinatorStatus is a point-in-time snapshot served by the API.
type CoordinatorStatus struct {
	Inflight          int               `json:"inflight"`
	TriggersAccepted  uint64            `json:"triggers_accepted"`
	TriggersMalformed uint64            `json:"triggers_malformed"`
	EventsEmitted     uint64            `json:"events_emitted"`
	DuplicatesDropped uint64            `json:"duplicates_dropped"`
	SourceResolved    map[Source]uint64 `json:"source_resolved"`
	SourceMissed      map[Source]uint64 `json:"source_missed"`
}

// Status reports current coordinator counters.
func (c *Coordinator) Status() CoordinatorStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	status := CoordinatorStatus{
		Inflight:          len(c.requests),
		TriggersAccepted:  c.accepted,
		TriggersMalformed: c.malformed,
		EventsEmitted:     c.emitted,
		DuplicatesDropped: c.dupes,
		SourceResolved:    make(map[Source]uint64, len(c.resolved)),
		SourceMissed:      make(map[Source]uint64, len(c.missed)),
	}
	for s, n := range c.resolved {
		status.SourceResolved[s] = n
	}
	for s, n := range c.missed {
		status.SourceMissed[s] = n
	}
	return status
}

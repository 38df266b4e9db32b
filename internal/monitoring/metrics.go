package monitoring

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// FusionCollector bundles the Prometheus metrics for the consolidation
// pipeline. All recording methods are nil-receiver safe so callers can run
// without metrics wired (tests, tools).
type FusionCollector struct {
	gatherer prometheus.Gatherer

	Triggers      *prometheus.CounterVec
	EventsEmitted prometheus.Counter
	SourceLookups *prometheus.CounterVec
	Consolidation prometheus.Histogram
	SinkDropped   *prometheus.CounterVec
	Inflight      prometheus.Gauge
	WindowDepth   *prometheus.GaugeVec
}

// Trigger result label values.
const (
	TriggerAccepted  = "accepted"
	TriggerMalformed = "malformed"
)

// Lookup outcome label values.
const (
	LookupHit  = "hit"
	LookupMiss = "miss"
)

// NewFusionCollector registers the pipeline metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
// Re-registration returns the existing collectors instead of failing so a
// restart of the wiring inside one process is harmless.
func NewFusionCollector(reg prometheus.Registerer) (*FusionCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	triggers, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "passage_triggers_total",
		Help: "Radar triggers received, labeled by result (accepted or malformed).",
	}, []string{"result"}), "passage_triggers_total")
	if err != nil {
		return nil, err
	}

	emitted, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "passage_events_emitted_total",
		Help: "Consolidated events handed to the emission sink.",
	}), "passage_events_emitted_total")
	if err != nil {
		return nil, err
	}

	lookups, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "passage_source_lookups_total",
		Help: "Correlation window lookups, labeled by source and outcome (hit or miss).",
	}, []string{"source", "outcome"}), "passage_source_lookups_total")
	if err != nil {
		return nil, err
	}

	consolidation, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "passage_consolidation_seconds",
		Help:    "Trigger-to-emission latency in seconds.",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.075, 0.1, 0.15, 0.2, 0.3, 0.5},
	}), "passage_consolidation_seconds")
	if err != nil {
		return nil, err
	}

	dropped, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "passage_sink_dropped_total",
		Help: "Events dropped by a sink instead of blocking emission, labeled by sink.",
	}, []string{"sink"}), "passage_sink_dropped_total")
	if err != nil {
		return nil, err
	}

	inflight, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "passage_inflight_requests",
		Help: "Consolidation requests currently between trigger and emission.",
	}), "passage_inflight_requests")
	if err != nil {
		return nil, err
	}

	depth, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "passage_window_depth",
		Help: "Detections currently held in the correlation window, labeled by source.",
	}, []string{"source"}), "passage_window_depth")
	if err != nil {
		return nil, err
	}

	return &FusionCollector{
		gatherer:      gatherer,
		Triggers:      triggers,
		EventsEmitted: emitted,
		SourceLookups: lookups,
		Consolidation: consolidation,
		SinkDropped:   dropped,
		Inflight:      inflight,
		WindowDepth:   depth,
	}, nil
}

// Handler exposes a ready-to-use /metrics handler.
func (c *FusionCollector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// RecordTrigger counts one trigger by result label.
func (c *FusionCollector) RecordTrigger(result string) {
	if c == nil || c.Triggers == nil {
		return
	}
	c.Triggers.WithLabelValues(result).Inc()
}

// RecordEmission counts one emitted event and observes its latency.
func (c *FusionCollector) RecordEmission(latency time.Duration) {
	if c == nil {
		return
	}
	if c.EventsEmitted != nil {
		c.EventsEmitted.Inc()
	}
	if c.Consolidation != nil {
		c.Consolidation.Observe(latency.Seconds())
	}
}

// RecordLookup counts one window lookup for a source.
func (c *FusionCollector) RecordLookup(source string, hit bool) {
	if c == nil || c.SourceLookups == nil {
		return
	}
	outcome := LookupMiss
	if hit {
		outcome = LookupHit
	}
	c.SourceLookups.WithLabelValues(source, outcome).Inc()
}

// RecordSinkDrop counts one event dropped by the named sink.
func (c *FusionCollector) RecordSinkDrop(sink string) {
	if c == nil || c.SinkDropped == nil {
		return
	}
	c.SinkDropped.WithLabelValues(sink).Inc()
}

// AddInflight moves the in-flight request gauge by delta.
func (c *FusionCollector) AddInflight(delta float64) {
	if c == nil || c.Inflight == nil {
		return
	}
	c.Inflight.Add(delta)
}

// SetWindowDepth publishes the current per-source window depth.
func (c *FusionCollector) SetWindowDepth(source string, n int) {
	if c == nil || c.WindowDepth == nil {
		return
	}
	c.WindowDepth.WithLabelValues(source).Set(float64(n))
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

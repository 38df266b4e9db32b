package fusion

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kerbside-data/passage.report/internal/timeutil"
)

// WindowConfig bounds the per-source correlation windows.
type WindowConfig struct {
	MaxEntries int           // entry cap per source
	MaxAge     time.Duration // retention age per source
}

// DefaultWindowConfig returns the default window bounds.
func DefaultWindowConfig() WindowConfig {
	return WindowConfig{
		MaxEntries: 1024,
		MaxAge:     60 * time.Second,
	}
}

// WindowStore holds the recent detection history per source for temporal
// joins. Each source has its own ring guarded by its own RWMutex, so one
// source's writer never blocks another source's readers. Eviction is lazy:
// every Append trims its own ring by age and count, no timer goroutine.
type WindowStore struct {
	cfg   WindowConfig
	clock timeutil.Clock
	seq   atomic.Uint64
	rings map[Source]*sourceRing
}

type sourceRing struct {
	mu      sync.RWMutex
	entries []ringEntry
}

// ringEntry pairs a detection with its append sequence, the tie-break of
// last resort when observation times collide exactly.
type ringEntry struct {
	det Detection
	seq uint64
}

// NewWindowStore creates a store tracking all known sources.
func NewWindowStore(cfg WindowConfig, clock timeutil.Clock) *WindowStore {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultWindowConfig().MaxEntries
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = DefaultWindowConfig().MaxAge
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	rings := make(map[Source]*sourceRing, len(AllSources))
	for _, s := range AllSources {
		rings[s] = &sourceRing{}
	}
	return &WindowStore{cfg: cfg, clock: clock, rings: rings}
}

// Append inserts a detection into its source's ring and trims that ring.
// Only the source tag is checked here; adapters are responsible for payload
// validity before appending.
func (w *WindowStore) Append(d Detection) error {
	ring, ok := w.rings[d.Source]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownSource, d.Source)
	}
	entry := ringEntry{det: d, seq: w.seq.Add(1)}
	cutoff := w.clock.Now().Add(-w.cfg.MaxAge)

	ring.mu.Lock()
	defer ring.mu.Unlock()
	ring.entries = append(ring.entries, entry)
	ring.trimLocked(cutoff, w.cfg.MaxEntries)
	return nil
}

// trimLocked drops entries older than cutoff, then enforces the entry cap.
// Appends arrive in near-observation order, so trimming from the front is
// sufficient. The forward reslice shares the backing array; append's growth
// recopies the live window once the tail capacity runs out, keeping inserts
// O(1) amortized.
func (r *sourceRing) trimLocked(cutoff time.Time, maxEntries int) {
	i := 0
	for i < len(r.entries) && r.entries[i].det.ObservedAt.Before(cutoff) {
		i++
	}
	if over := len(r.entries) - i - maxEntries; over > 0 {
		i += over
	}
	if i > 0 {
		r.entries = r.entries[i:]
	}
}

// FindNearest returns the detection from the given source whose ObservedAt
// is within tolerance of target and closest to it. The tolerance is a
// query-time filter: entries still resident but outside it are never
// returned. Ties on time distance go to the higher camera confidence for the
// camera source, otherwise to the later observation, and finally to the
// later append.
func (w *WindowStore) FindNearest(source Source, target time.Time, tolerance time.Duration) (Detection, bool) {
	ring, ok := w.rings[source]
	if !ok {
		return Detection{}, false
	}

	ring.mu.RLock()
	defer ring.mu.RUnlock()

	var (
		best     ringEntry
		bestDist time.Duration
		found    bool
	)
	for _, e := range ring.entries {
		dist := absDuration(e.det.ObservedAt.Sub(target))
		if dist > tolerance {
			continue
		}
		if !found || dist < bestDist {
			best, bestDist, found = e, dist, true
			continue
		}
		if dist == bestDist && preferEntry(source, e, best) {
			best = e
		}
	}
	if !found {
		return Detection{}, false
	}
	return best.det, true
}

// preferEntry reports whether candidate should win an exact time-distance tie
// against current.
func preferEntry(source Source, candidate, current ringEntry) bool {
	if source == SourceCamera && candidate.det.Camera != nil && current.det.Camera != nil {
		if candidate.det.Camera.Confidence != current.det.Camera.Confidence {
			return candidate.det.Camera.Confidence > current.det.Camera.Confidence
		}
	}
	if !candidate.det.ObservedAt.Equal(current.det.ObservedAt) {
		return candidate.det.ObservedAt.After(current.det.ObservedAt)
	}
	return candidate.seq > current.seq
}

// Len reports how many detections the source's ring currently holds.
func (w *WindowStore) Len(source Source) int {
	ring, ok := w.rings[source]
	if !ok {
		return 0
	}
	ring.mu.RLock()
	defer ring.mu.RUnlock()
	return len(ring.entries)
}

// Depths reports the current entry count for every source.
func (w *WindowStore) Depths() map[Source]int {
	depths := make(map[Source]int, len(w.rings))
	for s := range w.rings {
		depths[s] = w.Len(s)
	}
	return depths
}

// Prune evicts aged entries from every ring relative to now. Appends already
// trim lazily; Prune exists for idle sources and stats reporting.
func (w *WindowStore) Prune(now time.Time) {
	cutoff := now.Add(-w.cfg.MaxAge)
	for _, ring := range w.rings {
		ring.mu.Lock()
		ring.trimLocked(cutoff, w.cfg.MaxEntries)
		ring.mu.Unlock()
	}
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

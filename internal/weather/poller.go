package weather

import (
	"context"
	"sync"
	"time"

	"github.com/kerbside-data/passage.report/internal/fusion"
	"github.com/kerbside-data/passage.report/internal/monitoring"
	"github.com/kerbside-data/passage.report/internal/timeutil"
)

// DefaultPollInterval is how often each provider is fetched. Conditions
// change on the order of minutes; consolidation tolerates readings well
// older than this.
const DefaultPollInterval = 60 * time.Second

// FeedStatus is a snapshot of one provider's polling health for the stats
// endpoint.
type FeedStatus struct {
	Provider    string    `json:"provider"`
	Source      string    `json:"source"`
	Fetches     uint64    `json:"fetches"`
	Errors      uint64    `json:"errors"`
	LastError   string    `json:"last_error,omitempty"`
	LastSuccess time.Time `json:"last_success,omitzero"`
}

type feed struct {
	provider Provider
	source   fusion.Source
}

// Poller keeps the correlation window stocked with weather observations. One
// goroutine per registered provider fetches on the poll interval; a failed
// fetch is logged and skipped, leaving the window to age out so downstream
// consumers see absence rather than stale certainty.
type Poller struct {
	interval time.Duration
	windows  *fusion.WindowStore
	clock    timeutil.Clock

	mu     sync.Mutex
	feeds  []feed
	status map[string]*FeedStatus
}

// NewPoller creates a poller appending observations to the window store.
func NewPoller(interval time.Duration, windows *fusion.WindowStore, clock timeutil.Clock) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Poller{
		interval: interval,
		windows:  windows,
		clock:    clock,
		status:   make(map[string]*FeedStatus),
	}
}

// Add registers a provider feeding the given source. Must be called before
// Run.
func (p *Poller) Add(provider Provider, source fusion.Source) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.feeds = append(p.feeds, feed{provider: provider, source: source})
	p.status[provider.Name()] = &FeedStatus{
		Provider: provider.Name(),
		Source:   string(source),
	}
}

// Run polls all registered providers until ctx is done. Each provider is
// fetched once immediately so the window is stocked before the first radar
// trigger, then on every interval tick.
func (p *Poller) Run(ctx context.Context) error {
	p.mu.Lock()
	feeds := append([]feed(nil), p.feeds...)
	p.mu.Unlock()

	var wg sync.WaitGroup
	for _, f := range feeds {
		wg.Add(1)
		go func(f feed) {
			defer wg.Done()
			p.pollFeed(ctx, f)
		}(f)
	}
	wg.Wait()
	return ctx.Err()
}

func (p *Poller) pollFeed(ctx context.Context, f feed) {
	p.fetchOnce(ctx, f)

	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			p.fetchOnce(ctx, f)
		}
	}
}

func (p *Poller) fetchOnce(ctx context.Context, f feed) {
	// Bound each fetch so a hung upstream cannot stall the ticker loop past
	// one interval.
	fetchCtx, cancel := context.WithTimeout(ctx, p.interval)
	defer cancel()

	payload, err := f.provider.Fetch(fetchCtx)

	p.mu.Lock()
	st := p.status[f.provider.Name()]
	st.Fetches++
	if err != nil {
		st.Errors++
		st.LastError = err.Error()
		p.mu.Unlock()
		monitoring.Logf("weather: %s fetch failed: %v", f.provider.Name(), err)
		return
	}
	st.LastError = ""
	st.LastSuccess = p.clock.Now()
	p.mu.Unlock()

	det := fusion.Detection{
		Source:     f.source,
		ObservedAt: p.clock.Now(),
		Weather:    &payload,
	}
	if err := p.windows.Append(det); err != nil {
		monitoring.Logf("weather: append %s observation: %v", f.provider.Name(), err)
	}
}

// Status returns a snapshot of per-provider polling health, ordered by
// registration.
func (p *Poller) Status() []FeedStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]FeedStatus, 0, len(p.feeds))
	for _, f := range p.feeds {
		out = append(out, *p.status[f.provider.Name()])
	}
	return out
}

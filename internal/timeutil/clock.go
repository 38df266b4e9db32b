// Package timeutil routes the pipeline's deadlines, polls, and ticks through
// a Clock so tests can drive time explicitly.
package timeutil

import "time"

// Clock is the slice of the time package the pipeline actually uses. Anything
// that blocks on wall time takes one of these instead of calling time directly.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// Until returns the duration until t.
	Until(t time.Time) time.Duration

	// After delivers the current time once d has elapsed.
	After(d time.Duration) <-chan time.Time

	// NewTicker delivers ticks every d until stopped.
	NewTicker(d time.Duration) Ticker
}

// Ticker delivers periodic ticks on C until Stop.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// RealClock passes straight through to the time package.
type RealClock struct{}

func (RealClock) Now() time.Time                         { return time.Now() }
func (RealClock) Until(t time.Time) time.Duration        { return time.Until(t) }
func (RealClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

func (RealClock) NewTicker(d time.Duration) Ticker {
	return &realTicker{t: time.NewTicker(d)}
}

type realTicker struct {
	t *time.Ticker
}

func (r *realTicker) C() <-chan time.Time { return r.t.C }
func (r *realTicker) Stop()               { r.t.Stop() }

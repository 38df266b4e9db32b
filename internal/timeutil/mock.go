package timeutil

import (
	"sync"
	"time"
)

// MockClock stands in for RealClock in tests. Time moves only through
// Advance, which fires every After waiter and ticker that came due.
type MockClock struct {
	mu      sync.Mutex
	now     time.Time
	waiters []*mockWaiter
	tickers []*MockTicker
}

// mockWaiter is a one-shot After channel armed at a fixed deadline.
type mockWaiter struct {
	ch  chan time.Time
	due time.Time
}

// NewMockClock returns a MockClock pinned to start.
func NewMockClock(start time.Time) *MockClock {
	return &MockClock{now: start}
}

func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *MockClock) Until(t time.Time) time.Duration {
	return t.Sub(c.Now())
}

// After arms a waiter at now+d. It fires during a later Advance, never on
// its own.
func (c *MockClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	w := &mockWaiter{ch: make(chan time.Time, 1), due: c.now.Add(d)}
	c.waiters = append(c.waiters, w)
	return w.ch
}

func (c *MockClock) NewTicker(d time.Duration) Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &MockTicker{ch: make(chan time.Time, 1), interval: d, next: c.now.Add(d)}
	c.tickers = append(c.tickers, t)
	return t
}

// Advance moves the clock forward by d and fires everything that came due.
// Waiter and ticker channels hold one entry and never block, so firing under
// the lock is safe.
func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)

	remaining := c.waiters[:0]
	for _, w := range c.waiters {
		if c.now.Before(w.due) {
			remaining = append(remaining, w)
			continue
		}
		w.ch <- c.now
	}
	c.waiters = remaining

	for _, t := range c.tickers {
		t.fire(c.now)
	}
}

// MockTicker ticks when the owning MockClock advances past its next
// deadline. Like the real ticker, an unread tick is dropped rather than
// queued.
type MockTicker struct {
	mu       sync.Mutex
	ch       chan time.Time
	interval time.Duration
	next     time.Time
	done     bool
}

func (t *MockTicker) C() <-chan time.Time { return t.ch }

func (t *MockTicker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.done = true
}

func (t *MockTicker) fire(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done || now.Before(t.next) {
		return
	}
	select {
	case t.ch <- now:
	default:
	}
	t.next = now.Add(t.interval)
}

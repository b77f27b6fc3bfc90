package testutil

import (
	"sync"
	"time"

	"arc-go/internal/arc"
)

// StubClock returns a fixed time until advanced. Safe for concurrent use.
type StubClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewStubClock creates a StubClock set to the given time.
func NewStubClock(t time.Time) *StubClock {
	return &StubClock{now: t}
}

// FixedClock returns a StubClock set to 2024-01-15 10:30:00 UTC.
func FixedClock() *StubClock {
	return NewStubClock(time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC))
}

func (c *StubClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *StubClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set moves the clock to t.
func (c *StubClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// TickingClock advances by step after every call to Now, so code that samples
// elapsed time sees time pass between calls.
type TickingClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

// NewTickingClock creates a TickingClock starting at start.
func NewTickingClock(start time.Time, step time.Duration) *TickingClock {
	return &TickingClock{now: start, step: step}
}

func (c *TickingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

var (
	_ arc.Clock = (*StubClock)(nil)
	_ arc.Clock = (*TickingClock)(nil)
)

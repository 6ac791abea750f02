package fake

import (
	"sync"
	"time"

	"deployd/internal/lifecycle"
)

var _ lifecycle.Clock = (*Clock)(nil)

// Clock is a deterministic clock for testing. With a step set, every Now
// call moves time forward by that step so phase durations are non-zero.
type Clock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

// NewClock creates a Clock starting at the given time.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now returns the current fake time, then applies the auto-advance step.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now
	c.now = c.now.Add(c.step)
	return now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Set sets the clock to an exact time.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// AutoAdvance makes each Now call advance the clock by step.
func (c *Clock) AutoAdvance(step time.Duration) {
	c.mu.Lock()
	c.step = step
	c.mu.Unlock()
}

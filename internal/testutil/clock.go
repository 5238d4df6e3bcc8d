package testutil

import (
	"sync"
	"time"
)

// Epoch is the default starting instant of a DeterministicClock.
var Epoch = time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)

// DeterministicClock is a thread-safe wall clock for tests.
//
// Every call to Now returns the current instant and then advances it by a
// fixed step, so consecutive timestamps are distinct and reproducible.
type DeterministicClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

// NewDeterministicClock creates a clock starting at Epoch with a one-second step.
func NewDeterministicClock() *DeterministicClock {
	return &DeterministicClock{now: Epoch, step: time.Second}
}

// NewDeterministicClockAt creates a clock starting at start with the given step.
func NewDeterministicClockAt(start time.Time, step time.Duration) *DeterministicClock {
	return &DeterministicClock{now: start, step: step}
}

// Now returns the current instant and advances the clock by one step.
// Its signature matches the func() time.Time hooks used across packages.
func (c *DeterministicClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

// Current returns the instant the next call to Now will return.
func (c *DeterministicClock) Current() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d without returning a value.
func (c *DeterministicClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Reset moves the clock back to Epoch.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = Epoch
}

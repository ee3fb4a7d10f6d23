package testutil

import "sync"

// DeterministicClock is a thread-safe logical clock for tests.
//
// It stands in for wall-clock time wherever operations are stamped, so the
// same scenario always produces the same timestamps and therefore the same
// operation IDs. Unlike engine.Clock it can be reset for reuse.
type DeterministicClock struct {
	mu   sync.Mutex
	tick int64
	step int64
}

// NewDeterministicClock creates a clock starting at 0 that advances by 1.
// The first call to Next() or Now() returns 1.
func NewDeterministicClock() *DeterministicClock {
	return &DeterministicClock{step: 1}
}

// NewDeterministicClockAt creates a clock starting at start that advances
// by step per call.
func NewDeterministicClockAt(start, step int64) *DeterministicClock {
	if step < 1 {
		step = 1
	}
	return &DeterministicClock{tick: start, step: step}
}

// Next advances the clock and returns the new value.
func (c *DeterministicClock) Next() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tick += c.step
	return c.tick
}

// Now advances the clock; pass it to client.WithNow.
func (c *DeterministicClock) Now() int64 {
	return c.Next()
}

// Current returns the current value without advancing.
func (c *DeterministicClock) Current() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tick
}

// Reset returns the clock to 0. The next call to Next() returns step.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tick = 0
}

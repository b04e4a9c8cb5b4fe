package testutil

import "sync"

// DefaultNow is the ledger time a FakeClock starts at: 2023-11-14T22:13:20Z.
const DefaultNow int64 = 1_700_000_000

// FakeClock is a settable ledger clock for tests.
//
// It satisfies ledger.Clock. Time only moves when the test moves it, so
// recorded_at values and timestamp-bound checks are reproducible.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type FakeClock struct {
	mu    sync.Mutex
	start int64
	now   int64
}

// NewFakeClock creates a clock reading now.
func NewFakeClock(now int64) *FakeClock {
	return &FakeClock{start: now, now: now}
}

// Now returns the current fake time in unix seconds.
func (c *FakeClock) Now() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to now. Moving backwards is allowed.
func (c *FakeClock) Set(now int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// Advance moves the clock forward by d seconds and returns the new time.
func (c *FakeClock) Advance(d int64) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += d
	return c.now
}

// Reset returns the clock to the time it was created with.
//
// Used for test reuse so a scenario can run twice with identical times.
func (c *FakeClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.start
}

// Package testutil holds helpers shared by store, adapter and harness tests.
package testutil

import (
	"sync"
	"time"
)

// Epoch is the default start time for a Clock: 2025-01-01T00:00:00Z.
var Epoch = time.Unix(1735689600, 0).UTC()

// Clock is a manually driven wall clock.
//
// Stores take a func() time.Time; pass clock.Now so expiry and consumption
// timestamps are reproducible. Time only moves when Advance or Set is called.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock creates a clock frozen at start. A zero start uses Epoch.
func NewClock(start time.Time) *Clock {
	if start.IsZero() {
		start = Epoch
	}
	return &Clock{now: start}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d and returns the new time.
// Negative durations are ignored; the clock never runs backwards.
func (c *Clock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d > 0 {
		c.now = c.now.Add(d)
	}
	return c.now
}

// Set jumps the clock to t. Used to reset between scenario runs.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// Unix returns the current fake time in unix seconds.
func (c *Clock) Unix() int64 {
	return c.Now().Unix()
}

// Package clock abstracts time for the session tick loop. Workers sleep
// one frame period between ticks through a Clock; tests pass a MockClock
// and run a whole trial without waiting.
package clock

import (
	"sync"
	"time"
)

type Clock interface {
	Now() time.Time
	Since(t time.Time) time.Duration
	Sleep(d time.Duration)
}

// RealClock is the wall clock.
type RealClock struct{}

func (*RealClock) Now() time.Time                  { return time.Now() }
func (*RealClock) Since(t time.Time) time.Duration { return time.Since(t) }
func (*RealClock) Sleep(d time.Duration)           { time.Sleep(d) }

// MockClock never blocks. Sleep moves its time forward and is recorded so
// tests can assert on pacing.
type MockClock struct {
	mu    sync.Mutex
	now   time.Time
	slept []time.Duration
}

func NewMockClock(start time.Time) *MockClock {
	return &MockClock{now: start}
}

func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *MockClock) Since(t time.Time) time.Duration { return c.Now().Sub(t) }

func (c *MockClock) Sleep(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.slept = append(c.slept, d)
	c.now = c.now.Add(d)
}

// Advance moves time without recording a sleep.
func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Sleeps returns the durations passed to Sleep, oldest first.
func (c *MockClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.slept...)
}

// Now and Since are wall-clock shorthands for code that is not paced.
func Now() time.Time                  { return time.Now() }
func Since(t time.Time) time.Duration { return time.Since(t) }

// Period is the sleep between ticks at rate ticks per second. Rates below
// one tick per second are treated as one.
func Period(rate int) time.Duration {
	if rate <= 0 {
		return time.Second
	}
	return time.Second / time.Duration(rate)
}

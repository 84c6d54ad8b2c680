package sim

import "fmt"

// Clock is a monotonic discrete-time stepper over [start, end].
type Clock struct {
	start   int64
	current int64
	end     int64
}

// NewClock creates a clock positioned at start.
// Panics if end < start.
func NewClock(start, end int64) *Clock {
	if end < start {
		panic(fmt.Sprintf("NewClock: end (%d) must be >= start (%d)", end, start))
	}
	return &Clock{start: start, current: start, end: end}
}

// Now returns the current tick.
func (c *Clock) Now() int64 { return c.current }

// End returns the last tick.
func (c *Clock) End() int64 { return c.end }

// Start returns the first tick.
func (c *Clock) Start() int64 { return c.start }

// Next advances one tick. It returns false, leaving the clock at end, when
// the clock is already at end.
func (c *Clock) Next() bool {
	if c.current >= c.end {
		return false
	}
	c.current++
	return true
}

// Done reports whether the clock has reached end.
func (c *Clock) Done() bool { return c.current >= c.end }

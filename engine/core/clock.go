package core

import "time"

// Clock measures the wall time of a single conversion.
type Clock struct {
	startTime time.Time
	elapsed   time.Duration
}

func NewClock() *Clock {
	return &Clock{}
}

// Start resets the elapsed time and starts measuring.
func (c *Clock) Start() {
	c.startTime = time.Now()
	c.elapsed = 0
}

// Stop freezes the elapsed time. Has no effect on non-started clocks.
func (c *Clock) Stop() time.Duration {
	if !c.startTime.IsZero() {
		c.elapsed = time.Since(c.startTime)
		c.startTime = time.Time{}
	}
	return c.elapsed
}

func (c *Clock) Elapsed() time.Duration {
	if !c.startTime.IsZero() {
		return time.Since(c.startTime)
	}
	return c.elapsed
}

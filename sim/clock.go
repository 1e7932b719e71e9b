package sim

import "time"

// Clock maps elapsed wall-clock time onto virtual session seconds, so a short
// real-time run can stand in for a full trading day.
type Clock struct {
	start      time.Time
	wall       time.Duration
	virtualEnd float64
}

// NewClock starts a clock that reaches virtualEnd virtual seconds after wall
// wall-clock time has elapsed.
func NewClock(wall time.Duration, virtualEnd float64) *Clock {
	return &Clock{start: time.Now(), wall: wall, virtualEnd: virtualEnd}
}

// Now returns the current virtual time in seconds.
func (c *Clock) Now() float64 {
	elapsed := time.Since(c.start).Seconds()
	return elapsed * (c.virtualEnd / c.wall.Seconds())
}

// TimeLeft returns the fraction of the session remaining, clamped to [0, 1].
func (c *Clock) TimeLeft() float64 {
	left := (c.virtualEnd - c.Now()) / c.virtualEnd
	if left < 0 {
		return 0
	}
	return left
}

// Done reports whether the session's wall-clock length has elapsed.
func (c *Clock) Done() bool {
	return time.Since(c.start) >= c.wall
}

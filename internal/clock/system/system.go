// Package system provides wall clocks for run timings and activity stamps.
package system

import "time"

// Clock reads wall time in a fixed location. It satisfies operation.Clock,
// activity.Clock and quiesce.Clock.
type Clock struct {
	loc *time.Location
}

// New returns a UTC clock, used for run start and finish times.
func New() *Clock {
	return &Clock{loc: time.UTC}
}

// NewIn returns a clock reporting times in loc. A nil loc means local time,
// which is what activity transcripts show.
func NewIn(loc *time.Location) *Clock {
	if loc == nil {
		loc = time.Local
	}
	return &Clock{loc: loc}
}

// Now returns the current time in the clock's location.
func (c *Clock) Now() time.Time {
	if c == nil || c.loc == nil {
		return time.Now().UTC()
	}
	return time.Now().In(c.loc)
}

// Since reports the elapsed time since t.
func (c *Clock) Since(t time.Time) time.Duration {
	return c.Now().Sub(t)
}

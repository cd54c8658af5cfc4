package clock

import "time"

// FakeClock is a manually advanced Clock. Tests use it to cross period
// boundaries and age records out of analytics windows without sleeping.
type FakeClock struct {
	now time.Time
}

// NewFakeClock returns a FakeClock pinned to t, normalized to UTC.
func NewFakeClock(t time.Time) *FakeClock {
	return &FakeClock{now: t.UTC()}
}

func (c *FakeClock) Now() time.Time {
	return c.now
}

// Advance moves the clock forward by d. Time never runs backwards.
func (c *FakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

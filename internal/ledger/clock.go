package ledger

import "time"

type Clock interface {
	Now() time.Time
}

type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// SystemClock reads the wall clock.
var SystemClock Clock = ClockFunc(time.Now)

// FixedClock always returns the same instant. Set moves it.
type FixedClock struct {
	t time.Time
}

func NewFixedClock(t time.Time) *FixedClock { return &FixedClock{t: t} }

func (c *FixedClock) Now() time.Time { return c.t }

func (c *FixedClock) Set(t time.Time) { c.t = t }

func (c *FixedClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

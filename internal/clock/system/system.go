// Package system provides the wall clock used outside of tests.
package system

import "time"

// Clock reads time.Now in UTC. It satisfies progress.Clock and
// dispatcher.Clock.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

// Since returns the time elapsed since t.
func (c Clock) Since(t time.Time) time.Duration {
	return c.Now().Sub(t)
}

// Package system provides the wall clock used outside tests.
package system

import "time"

// Clock implements catalog.Clock in UTC.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current UTC time truncated to microseconds, the precision
// kept by the catalog databases.
func (Clock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// Package system provides the wall clock used outside tests.
package system

import "time"

// Resolution is the precision of timestamps handed out by Clock. It matches
// the microsecond resolution of the TIMESTAMP columns in every backend.
const Resolution = time.Microsecond

// Clock implements crawler.Clock.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current UTC time truncated to Resolution, so a stored
// date_retrieved reads back equal to the value that was written.
func (Clock) Now() time.Time {
	return time.Now().UTC().Truncate(Resolution)
}

// Package system provides the wall clock used for event timestamps and
// processed-at columns.
package system

import "time"

// Clock satisfies event.Clock and sink.Clock using time.Now.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time in UTC.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

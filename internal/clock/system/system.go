// Package system provides the wall clock used by the crawl lifecycle.
package system

import "time"

// Clock implements crawl.Clock using time.Now. Times are truncated to
// milliseconds, the precision Elasticsearch stores dates with, so
// timestamps survive a registry round trip unchanged.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current UTC time at millisecond precision.
func (Clock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

// Package system provides the wall clock used for quota dating and run stamps.
package system

import (
	"time"

	"github.com/JakeFAU/sitemap-indexer/internal/indexer"
)

// Clock implements indexer.Clock using time.Now in UTC.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

// Today returns the current quota date key.
func (c Clock) Today() string {
	return indexer.DateKey(c.Now())
}

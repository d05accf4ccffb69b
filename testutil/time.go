package testutil

import (
	"time"

	"github.com/raulk/clock"
)

// Some time functions used for working with fixed times.

var KnownTime = time.Unix(1709251200, 0).UTC() // 2024-03-01T00:00:00Z

func KnownTimeNow() time.Time {
	return KnownTime
}

// NewMockClock returns a mock clock set to KnownTime.
func NewMockClock() *clock.Mock {
	c := clock.NewMock()
	c.Set(KnownTime)
	return c
}

// Day returns midnight UTC of the given date.
func Day(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// Package clock provides an injectable source of the current time so the
// fingerprint builder and the Shared Store's simulation path stay
// deterministic under test.
package clock

import "time"

// Clock returns the current time. Production code uses Real; tests use
// Fixed to pin a specific instant.
type Clock interface {
	Now() time.Time
}

// Real is the production Clock, backed by time.Now.
type Real struct{}

// Now returns the current wall-clock time.
func (Real) Now() time.Time { return time.Now() }

// Fixed is a Clock that always returns the same instant. Useful for
// reproducing exact bucket/day-type boundaries in tests.
type Fixed struct {
	At time.Time
}

// Now returns the fixed instant.
func (f Fixed) Now() time.Time { return f.At }

// IsWeekend reports whether t falls on Saturday or Sunday, using the
// Monday=0 convention this codebase standardizes on (spec §9).
func IsWeekend(t time.Time) bool {
	return weekdayIndex(t) >= 5
}

// DayType returns "weekend" or "weekday" for t.
func DayType(t time.Time) string {
	if IsWeekend(t) {
		return "weekend"
	}
	return "weekday"
}

// weekdayIndex returns Monday=0 ... Sunday=6, unlike time.Weekday's
// Sunday=0 convention.
func weekdayIndex(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

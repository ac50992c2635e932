// Package clock provides the fixed-zone calendar-day key used for
// daily quota resets and metric aggregation.
package clock

import "time"

// JST is the fixed offset zone all day boundaries are computed in.
// The service never follows the host time zone.
var JST = time.FixedZone("JST", 9*60*60)

// DayKey returns the calendar day of t in JST, formatted YYYY-MM-DD.
func DayKey(t time.Time) string {
	return t.In(JST).Format("2006-01-02")
}

// Today is DayKey(now). Split out so callers with an injected clock
// stay testable.
func Today(now func() time.Time) string {
	return DayKey(now())
}

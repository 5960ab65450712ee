package availability

import (
	"time"

	"github.com/mastertime-app/mastertime/internal/interval"
)

// DefaultStepMinutes is the slot-offering granularity: how often a staff
// member can start a service (always on the half hour by default). It is
// deliberately independent of service duration so slot grids line up across
// services of different lengths.
const DefaultStepMinutes = 30

// SlotStarts slices free working spans into offerable slot start minutes.
// Within each free span the cursor begins at the span start and advances by
// stepMins; a slot is emitted while slot start + durationMins still fits in
// the span.
//
// nowMinute is the current minute-of-day when the target date is today, or a
// negative value otherwise. For today the cursor never starts before now
// rounded up to the step grid, so no slot in the past is ever offered.
func SlotStarts(free []interval.Span, durationMins, stepMins, nowMinute int) []int {
	if durationMins <= 0 || stepMins <= 0 {
		return nil
	}

	var starts []int
	for _, f := range free {
		cursor := f.Start
		if nowMinute >= 0 {
			next := ((nowMinute + stepMins - 1) / stepMins) * stepMins
			if next > cursor {
				cursor = next
			}
		}
		for cursor+durationMins <= f.End {
			starts = append(starts, cursor)
			cursor += stepMins
		}
	}
	return starts
}

// MinuteOfDay returns the wall-clock minute offset of t on the given local
// date. Instants before the date clamp to 0 and instants on a later date
// clamp to 1440, so appointments spilling over midnight still project onto
// the day correctly. Wall-clock arithmetic (not a UTC offset) keeps the
// projection correct across DST transitions.
func MinuteOfDay(t time.Time, date time.Time, loc *time.Location) int {
	lt := t.In(loc)
	y, m, d := lt.Date()
	dy, dm, dd := date.Date()
	switch {
	case y < dy || (y == dy && (m < dm || (m == dm && d < dd))):
		return 0
	case y > dy || (y == dy && (m > dm || (m == dm && d > dd))):
		return 24 * 60
	}
	return lt.Hour()*60 + lt.Minute()
}

// MinuteToTime converts a minute-of-day offset back to an absolute instant on
// the given business-local date.
func MinuteToTime(date time.Time, minute int, loc *time.Location) time.Time {
	y, m, d := date.Date()
	return time.Date(y, m, d, minute/60, minute%60, 0, 0, loc)
}

package availability

import (
	"time"

	"github.com/cleanroute/cleanroute/libs/apperr"
	"github.com/cleanroute/cleanroute/services/booking-service/internal/tenantconfig"
)

// Step is the fixed slot granularity.
const Step = 30 * time.Minute

const (
	ReasonHoliday = "holiday"
	ReasonClosed  = "closed"
)

type Interval struct {
	Start time.Time
	End   time.Time
}

type Slot struct {
	Start     time.Time
	End       time.Time
	Available bool
}

// Result carries the slots for a day, or an empty list and a reason when the
// day is a holiday or has no configured ranges.
type Result struct {
	Slots  []Slot
	Reason string
}

// ComputeSlots lists candidate starts for a booking of durationMin minutes on
// date, in the tenant's timezone. Each configured range is walked in 30 minute
// steps and the walk stops at the first slot that would end after the range.
// Slots overlapping a busy interval are returned with Available=false.
// busy must already exclude cancelled appointments.
func ComputeSlots(date time.Time, cfg tenantconfig.Config, durationMin int, busy []Interval) (Result, error) {
	if durationMin <= 0 {
		return Result{}, apperr.Validation("service duration must be positive")
	}
	loc := cfg.Loc()
	y, m, d := date.Date()
	midnight := time.Date(y, m, d, 0, 0, 0, 0, loc)

	if cfg.IsHoliday(midnight) {
		return Result{Slots: []Slot{}, Reason: ReasonHoliday}, nil
	}
	ranges := cfg.Ranges(midnight.Weekday())
	if len(ranges) == 0 {
		return Result{Slots: []Slot{}, Reason: ReasonClosed}, nil
	}

	duration := time.Duration(durationMin) * time.Minute
	slots := []Slot{}
	for _, r := range ranges {
		windowStart := atMinute(midnight, r.Start)
		windowEnd := atMinute(midnight, r.End)
		for t := windowStart; !t.Add(duration).After(windowEnd); t = t.Add(Step) {
			end := t.Add(duration)
			slots = append(slots, Slot{Start: t, End: end, Available: !overlapsAny(t, end, busy)})
		}
	}
	return Result{Slots: slots}, nil
}

// DayBounds returns [00:00, next 00:00) of date in loc.
func DayBounds(date time.Time, loc *time.Location) (time.Time, time.Time) {
	y, m, d := date.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 1)
}

// atMinute uses wall-clock construction so DST days keep their local opening hours.
func atMinute(midnight time.Time, minute int) time.Time {
	y, m, d := midnight.Date()
	return time.Date(y, m, d, minute/60, minute%60, 0, 0, midnight.Location())
}

func overlapsAny(start, end time.Time, busy []Interval) bool {
	for _, b := range busy {
		// Half-open intervals: [start,end) overlaps [b.Start,b.End) iff start < b.End && b.Start < end.
		if start.Before(b.End) && b.Start.Before(end) {
			return true
		}
	}
	return false
}

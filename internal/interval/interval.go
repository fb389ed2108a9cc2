// Package interval holds the time-range arithmetic shared by the slot engine,
// the window resolver and the conflict analyzer.
//
// All ranges are half-open: [start, end). Touching endpoints do not overlap.
package interval

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// MinutesPerDay is the number of minutes in a calendar day.
const MinutesPerDay = 24 * 60

// Clock is a time of day expressed as minutes since midnight.
type Clock int

// EndOfDay is "24:00". It is only meaningful as the end of a range.
const EndOfDay Clock = MinutesPerDay

// ParseClock parses "HH:MM" (or "HH:MM:SS", seconds ignored). "24:00" is
// accepted as EndOfDay.
func ParseClock(s string) (Clock, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("invalid time format: %q", s)
	}

	hour, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("invalid hour: %w", err)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("invalid minute: %w", err)
	}
	if hour == 24 && minute == 0 {
		return EndOfDay, nil
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("time out of range: %q", s)
	}

	return Clock(hour*60 + minute), nil
}

// MustClock is ParseClock for literals; it panics on malformed input.
func MustClock(s string) Clock {
	c, err := ParseClock(s)
	if err != nil {
		panic(err)
	}
	return c
}

// ClockOf returns the time of day of t in t's location.
func ClockOf(t time.Time) Clock {
	return Clock(t.Hour()*60 + t.Minute())
}

// Hour returns the hour component.
func (c Clock) Hour() int { return int(c) / 60 }

// Minute returns the minute component.
func (c Clock) Minute() int { return int(c) % 60 }

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour(), c.Minute())
}

// MarshalText encodes the clock as "HH:MM".
func (c Clock) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText decodes "HH:MM".
func (c *Clock) UnmarshalText(b []byte) error {
	parsed, err := ParseClock(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Date truncates t to midnight in its own location.
func Date(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// ClampToDay attaches a time of day to the calendar date of date.
func ClampToDay(c Clock, date time.Time) time.Time {
	d := Date(date)
	return time.Date(d.Year(), d.Month(), d.Day(), c.Hour(), c.Minute(), 0, 0, d.Location())
}

// DaySpan resolves a [start, end) pair of clocks on date. When end is
// numerically before start the window runs overnight and end is placed on
// the following day.
func DaySpan(date time.Time, start, end Clock) (time.Time, time.Time) {
	from := ClampToDay(start, date)
	to := ClampToDay(end, date)
	if end < start {
		to = to.AddDate(0, 0, 1)
	}
	return from, to
}

// Overlaps reports whether [aStart, aEnd) and [bStart, bEnd) intersect.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}

// Contains reports whether [innerStart, innerEnd) lies within [outerStart, outerEnd).
func Contains(outerStart, outerEnd, innerStart, innerEnd time.Time) bool {
	return !innerStart.Before(outerStart) && !innerEnd.After(outerEnd)
}

// ClocksOverlap is Overlaps for same-day clock ranges.
func ClocksOverlap(aStart, aEnd, bStart, bEnd Clock) bool {
	return aStart < bEnd && bStart < aEnd
}

// Range is a concrete [Start, End) interval.
type Range struct {
	Start time.Time
	End   time.Time
}

// Overlaps reports whether r and o intersect.
func (r Range) Overlaps(o Range) bool {
	return Overlaps(r.Start, r.End, o.Start, o.End)
}

// Contains reports whether o lies within r.
func (r Range) Contains(o Range) bool {
	return Contains(r.Start, r.End, o.Start, o.End)
}

// Duration returns End - Start.
func (r Range) Duration() time.Duration {
	return r.End.Sub(r.Start)
}

// OverlapsAny reports whether r intersects any of the busy ranges.
func (r Range) OverlapsAny(busy []Range) bool {
	for _, b := range busy {
		if r.Overlaps(b) {
			return true
		}
	}
	return false
}

// Days returns every calendar date in [from, to], both ends inclusive.
func Days(from, to time.Time) []time.Time {
	start, end := Date(from), Date(to)
	var days []time.Time
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}

// DayKey returns the calendar date of t as a sortable YYYYMMDD integer.
func DayKey(t time.Time) int {
	y, m, d := t.Date()
	return y*10000 + int(m)*100 + d
}

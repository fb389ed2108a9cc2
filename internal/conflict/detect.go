// Package conflict finds overlapping availability windows and works out how
// a window change affects existing bookings.
package conflict

import (
	"fmt"
	"time"

	"venuebook/internal/interval"
	"venuebook/internal/model"
)

// Severity ranks conflicts and booking impacts.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
)

// Conflict is an overlap between a proposed window and an existing one.
type Conflict struct {
	WindowID      int64    `json:"window_id"`
	OtherWindowID int64    `json:"other_window_id"`
	Severity      Severity `json:"severity"`
	Reason        string   `json:"reason"`
}

// VenueSeverity classifies an overlap of two venue window types.
func VenueSeverity(a, b model.VenueWindowType) Severity {
	switch {
	case a == model.VenueMaintenance || b == model.VenueMaintenance:
		return SeverityCritical
	case a == b:
		return SeverityHigh
	default:
		return SeverityMedium
	}
}

// DetectConflicts lists the usable venue windows of the same location that
// share at least one date and some access time with candidate.
func DetectConflicts(candidate *model.VenueAvailabilityWindow, existing []model.VenueAvailabilityWindow) []Conflict {
	var result []Conflict
	for i := range existing {
		other := &existing[i]
		if other.ID == candidate.ID || other.LocationID != candidate.LocationID || !other.IsUsable() {
			continue
		}
		if !interval.ClocksOverlap(candidate.EarliestAccess, candidate.LatestDeparture, other.EarliestAccess, other.LatestDeparture) {
			continue
		}
		if !datesIntersect(venueSelector(candidate), venueSelector(other)) {
			continue
		}
		result = append(result, Conflict{
			WindowID:      candidate.ID,
			OtherWindowID: other.ID,
			Severity:      VenueSeverity(candidate.WindowType, other.WindowType),
			Reason: fmt.Sprintf("%s window overlaps %s window %d (%s-%s)",
				candidate.WindowType, other.WindowType, other.ID, other.EarliestAccess, other.LatestDeparture),
		})
	}
	return result
}

// DetectWindowConflicts lists the usable windows of the same service that
// can serve the same location on a shared date at overlapping times. Windows
// with the same recurrence pattern conflict with high severity, others with
// medium.
func DetectWindowConflicts(candidate *model.AvailabilityWindow, existing []model.AvailabilityWindow) []Conflict {
	var result []Conflict
	for i := range existing {
		other := &existing[i]
		if other.ID == candidate.ID || other.ServiceID != candidate.ServiceID || !other.IsUsable() {
			continue
		}
		if !locationsIntersect(candidate.LocationID, other.LocationID) {
			continue
		}
		if !windowTimesOverlap(candidate, other) {
			continue
		}
		if !datesIntersect(windowSelector(candidate), windowSelector(other)) {
			continue
		}
		severity := SeverityMedium
		if candidate.Pattern == other.Pattern {
			severity = SeverityHigh
		}
		result = append(result, Conflict{
			WindowID:      candidate.ID,
			OtherWindowID: other.ID,
			Severity:      severity,
			Reason: fmt.Sprintf("%s window overlaps %s window %d (%s-%s)",
				candidate.Pattern, other.Pattern, other.ID, other.StartTime, other.EndTime),
		})
	}
	return result
}

// HasCritical reports whether any conflict is critical.
func HasCritical(conflicts []Conflict) bool {
	for _, c := range conflicts {
		if c.Severity == SeverityCritical {
			return true
		}
	}
	return false
}

func locationsIntersect(a, b *int64) bool {
	return a == nil || b == nil || *a == *b
}

// windowTimesOverlap compares the minute ranges of two windows, including the
// tail an overnight window carries into the next day.
func windowTimesOverlap(a, b *model.AvailabilityWindow) bool {
	aStart, aEnd := int(a.StartTime), int(a.StartTime)+a.LengthMinutes()
	bStart, bEnd := int(b.StartTime), int(b.StartTime)+b.LengthMinutes()
	for _, shift := range []int{-interval.MinutesPerDay, 0, interval.MinutesPerDay} {
		if aStart < bEnd+shift && bStart+shift < aEnd {
			return true
		}
	}
	return false
}

// selector is the date-matching part of a window.
type selector struct {
	appliesOn func(time.Time) bool
	from, to  *time.Time
	weekday   *int
}

func venueSelector(w *model.VenueAvailabilityWindow) selector {
	s := selector{appliesOn: w.AppliesOn, weekday: w.DayOfWeek}
	switch {
	case w.SpecificDate != nil:
		s.from, s.to, s.weekday = w.SpecificDate, w.SpecificDate, nil
	case w.StartDate != nil && w.EndDate != nil:
		s.from, s.to = w.StartDate, w.EndDate
	}
	return s
}

func windowSelector(w *model.AvailabilityWindow) selector {
	s := selector{appliesOn: w.AppliesOn}
	switch w.Pattern {
	case model.PatternWeekly:
		s.weekday = w.DayOfWeek
	case model.PatternSpecificDate:
		s.from, s.to = w.SpecificDate, w.SpecificDate
	case model.PatternDateRange:
		s.from, s.to = w.StartDate, w.EndDate
	}
	return s
}

// datesIntersect reports whether some calendar date satisfies both selectors.
func datesIntersect(a, b selector) bool {
	from := later(a.from, b.from)
	to := earlier(a.to, b.to)
	if from != nil && to != nil {
		if interval.DayKey(*to) < interval.DayKey(*from) {
			return false
		}
		// A week or more always contains every weekday.
		if interval.Date(*to).Sub(interval.Date(*from)) < 6*24*time.Hour {
			for _, d := range interval.Days(*from, *to) {
				if a.appliesOn(d) && b.appliesOn(d) {
					return true
				}
			}
			return false
		}
	}
	if a.weekday != nil && b.weekday != nil {
		return *a.weekday == *b.weekday
	}
	return true
}

func later(a, b *time.Time) *time.Time {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case interval.DayKey(*a) >= interval.DayKey(*b):
		return a
	}
	return b
}

func earlier(a, b *time.Time) *time.Time {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case interval.DayKey(*a) <= interval.DayKey(*b):
		return a
	}
	return b
}

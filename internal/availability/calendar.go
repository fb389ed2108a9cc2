package availability

import (
	"context"
	"math"
	"sort"
	"time"

	"venuebook/internal/interval"
	"venuebook/internal/model"
)

// CalendarDay is one date of the public availability calendar.
type CalendarDay struct {
	Date         string   `json:"date"`
	Weekday      string   `json:"weekday"`
	Available    bool     `json:"available"`
	Closed       bool     `json:"closed"`
	ClosedReason string   `json:"closed_reason,omitempty"`
	SlotCount    int      `json:"slot_count"`
	Slots        []Slot   `json:"slots"`
	Restrictions []string `json:"restrictions,omitempty"`
	Notes        []string `json:"notes,omitempty"`
}

// CalendarSummary aggregates a calendar.
type CalendarSummary struct {
	TotalDays        int     `json:"total_days"`
	AvailableDays    int     `json:"available_days"`
	ClosedDays       int     `json:"closed_days"`
	TotalSlots       int     `json:"total_slots"`
	AvailabilityRate float64 `json:"availability_rate"`
}

// Calendar is the public view of a location's availability.
type Calendar struct {
	LocationID      int64           `json:"location_id"`
	StartDate       string          `json:"start_date"`
	EndDate         string          `json:"end_date"`
	DurationMinutes int             `json:"duration_minutes"`
	Days            []CalendarDay   `json:"days"`
	Summary         CalendarSummary `json:"summary"`
}

// GeneratePublicAvailabilityCalendar groups GetAvailableSlots by day and adds
// the restrictions and notes of the venue windows applying on each day. The
// availability rate is the percentage of days with at least one slot.
func (e *Engine) GeneratePublicAvailabilityCalendar(ctx context.Context, locationID int64, startDate, endDate time.Time, durationMinutes int, opts Options) (*Calendar, error) {
	slots, err := e.GetAvailableSlots(ctx, locationID, startDate, endDate, durationMinutes, opts)
	if err != nil {
		return nil, err
	}
	first, last, err := e.dateRange(startDate, endDate)
	if err != nil {
		return nil, err
	}
	venueWindows, err := e.venueWindows(ctx, locationID)
	if err != nil {
		return nil, err
	}

	byDay := make(map[int][]Slot)
	for _, s := range slots {
		k := interval.DayKey(s.Start.In(e.cfg.Location))
		byDay[k] = append(byDay[k], s)
	}

	cal := &Calendar{
		LocationID:      locationID,
		StartDate:       dayString(first),
		EndDate:         dayString(last),
		DurationMinutes: durationMinutes,
	}
	for _, day := range interval.Days(first, last) {
		cd := CalendarDay{
			Date:    dayString(day),
			Weekday: day.Weekday().String(),
			Slots:   byDay[interval.DayKey(day)],
		}
		if cd.Slots == nil {
			cd.Slots = []Slot{}
		}
		cd.SlotCount = len(cd.Slots)
		cd.Available = cd.SlotCount > 0

		applicable, closed := venueWindowsOn(venueWindows, day)
		if closed {
			cd.Closed = true
			cd.ClosedReason = closedReason(venueWindows, day)
		} else {
			cd.Restrictions, cd.Notes = dayRemarks(applicable)
		}

		cal.Summary.TotalDays++
		cal.Summary.TotalSlots += cd.SlotCount
		if cd.Available {
			cal.Summary.AvailableDays++
		}
		if cd.Closed {
			cal.Summary.ClosedDays++
		}
		cal.Days = append(cal.Days, cd)
	}
	if cal.Summary.TotalDays > 0 {
		rate := float64(cal.Summary.AvailableDays) / float64(cal.Summary.TotalDays) * 100
		cal.Summary.AvailabilityRate = math.Round(rate*10) / 10
	}
	return cal, nil
}

func closedReason(all []model.VenueAvailabilityWindow, day time.Time) string {
	for _, w := range all {
		if w.IsMaintenance() && w.AppliesOn(day) && w.Notes != "" {
			return w.Notes
		}
	}
	return "maintenance"
}

// dayRemarks collects the sorted distinct restrictions and the notes of the
// windows open on a day.
func dayRemarks(open []model.VenueAvailabilityWindow) ([]string, []string) {
	seen := make(map[string]bool)
	var restrictions, notes []string
	for _, w := range open {
		for _, r := range w.Restrictions {
			if !seen[r] {
				seen[r] = true
				restrictions = append(restrictions, r)
			}
		}
		if w.Notes != "" {
			notes = append(notes, w.Notes)
		}
	}
	sort.Strings(restrictions)
	return restrictions, notes
}

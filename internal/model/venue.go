package model

import (
	"time"

	"venuebook/internal/interval"
)

// VenueWindowType classifies venue-level operating windows.
type VenueWindowType string

const (
	VenueRegular      VenueWindowType = "regular"
	VenueSpecialEvent VenueWindowType = "special_event"
	VenueMaintenance  VenueWindowType = "maintenance"
	VenueSeasonal     VenueWindowType = "seasonal"
)

// Valid reports whether t is a known window type.
func (t VenueWindowType) Valid() bool {
	switch t {
	case VenueRegular, VenueSpecialEvent, VenueMaintenance, VenueSeasonal:
		return true
	}
	return false
}

// VenueAvailabilityWindow is an operating constraint of a location: when the
// venue can be accessed, its quiet hours and how many events may run at once.
type VenueAvailabilityWindow struct {
	ID         int64           `json:"id"`
	LocationID int64           `json:"service_location_id"`
	WindowType VenueWindowType `json:"window_type"`

	DayOfWeek    *int       `json:"day_of_week,omitempty"`
	SpecificDate *time.Time `json:"specific_date,omitempty"`
	StartDate    *time.Time `json:"start_date,omitempty"`
	EndDate      *time.Time `json:"end_date,omitempty"`

	EarliestAccess  interval.Clock  `json:"earliest_access"`
	LatestDeparture interval.Clock  `json:"latest_departure"`
	QuietHoursStart *interval.Clock `json:"quiet_hours_start,omitempty"`
	QuietHoursEnd   *interval.Clock `json:"quiet_hours_end,omitempty"`

	MaxConcurrentEvents int      `json:"max_concurrent_events"`
	MinAdvanceHours     *int     `json:"min_advance_hours,omitempty"`
	MaxAdvanceDays      *int     `json:"max_advance_days,omitempty"`
	Restrictions        []string `json:"restrictions,omitempty"`
	Notes               string   `json:"notes,omitempty"`
	IsActive            bool     `json:"is_active"`

	DeletedAt *time.Time `json:"deleted_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

const venueWindowEntity = "venue availability window"

// Validate enforces earliest_access < latest_departure and well-ordered quiet hours.
func (w *VenueAvailabilityWindow) Validate() error {
	if w.LocationID <= 0 {
		return configErr(venueWindowEntity, "service_location_id", "is required")
	}
	if !w.WindowType.Valid() {
		return configErr(venueWindowEntity, "window_type", "must be one of regular, special_event, maintenance, seasonal")
	}
	if w.DayOfWeek != nil && (*w.DayOfWeek < 0 || *w.DayOfWeek > 6) {
		return configErr(venueWindowEntity, "day_of_week", "must be 0-6 (0=Sunday)")
	}
	if (w.StartDate == nil) != (w.EndDate == nil) {
		return configErr(venueWindowEntity, "start_date/end_date", "must be set together")
	}
	if w.StartDate != nil && interval.DayKey(*w.EndDate) < interval.DayKey(*w.StartDate) {
		return configErr(venueWindowEntity, "end_date", "must not be before start_date")
	}
	if w.EarliestAccess < 0 || w.EarliestAccess >= interval.EndOfDay {
		return configErr(venueWindowEntity, "earliest_access", "must be within 00:00-23:59")
	}
	if w.LatestDeparture > interval.EndOfDay {
		return configErr(venueWindowEntity, "latest_departure", "must be within 00:00-24:00")
	}
	if w.EarliestAccess >= w.LatestDeparture {
		return configErr(venueWindowEntity, "latest_departure", "must be after earliest_access")
	}
	if (w.QuietHoursStart == nil) != (w.QuietHoursEnd == nil) {
		return configErr(venueWindowEntity, "quiet_hours_start/quiet_hours_end", "must be set together")
	}
	if w.QuietHoursStart != nil && *w.QuietHoursStart >= *w.QuietHoursEnd {
		return configErr(venueWindowEntity, "quiet_hours_end", "must be after quiet_hours_start")
	}
	if w.MaxConcurrentEvents < 1 {
		return configErr(venueWindowEntity, "max_concurrent_events", "must be at least 1")
	}
	if w.MinAdvanceHours != nil && *w.MinAdvanceHours < 0 {
		return configErr(venueWindowEntity, "min_advance_hours", "must not be negative")
	}
	if w.MaxAdvanceDays != nil && *w.MaxAdvanceDays < 0 {
		return configErr(venueWindowEntity, "max_advance_days", "must not be negative")
	}
	return nil
}

// IsMaintenance reports whether the window blocks the venue entirely.
func (w *VenueAvailabilityWindow) IsMaintenance() bool {
	return w.WindowType == VenueMaintenance
}

// IsUsable reports whether the window takes part in slot computation.
func (w *VenueAvailabilityWindow) IsUsable() bool {
	return w.IsActive && w.DeletedAt == nil
}

// AppliesOn resolves the window's date selector against date. A specific date
// wins over a range, a range may be narrowed by a weekday, and a window with
// no selector applies every day.
func (w *VenueAvailabilityWindow) AppliesOn(date time.Time) bool {
	day := interval.DayKey(date)
	if w.SpecificDate != nil {
		return interval.DayKey(*w.SpecificDate) == day
	}
	if w.StartDate != nil && w.EndDate != nil {
		if day < interval.DayKey(*w.StartDate) || day > interval.DayKey(*w.EndDate) {
			return false
		}
	}
	if w.DayOfWeek != nil {
		return *w.DayOfWeek == int(date.Weekday())
	}
	return true
}

// AccessSpan returns [earliest_access, latest_departure) on date.
func (w *VenueAvailabilityWindow) AccessSpan(date time.Time) interval.Range {
	start, end := interval.DaySpan(date, w.EarliestAccess, w.LatestDeparture)
	return interval.Range{Start: start, End: end}
}

// QuietSpan returns the quiet-hours interval on date, if configured.
func (w *VenueAvailabilityWindow) QuietSpan(date time.Time) (interval.Range, bool) {
	if w.QuietHoursStart == nil || w.QuietHoursEnd == nil {
		return interval.Range{}, false
	}
	start, end := interval.DaySpan(date, *w.QuietHoursStart, *w.QuietHoursEnd)
	return interval.Range{Start: start, End: end}, true
}

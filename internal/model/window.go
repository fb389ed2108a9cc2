package model

import (
	"time"

	"venuebook/internal/interval"
)

// Pattern selects how an AvailabilityWindow recurs.
type Pattern string

const (
	PatternWeekly       Pattern = "weekly"
	PatternDaily        Pattern = "daily"
	PatternSpecificDate Pattern = "specific_date"
	PatternDateRange    Pattern = "date_range"
)

// Valid reports whether p is a known pattern.
func (p Pattern) Valid() bool {
	switch p {
	case PatternWeekly, PatternDaily, PatternSpecificDate, PatternDateRange:
		return true
	}
	return false
}

// AvailabilityWindow describes when a service can be booked and how that
// period is cut into slots.
type AvailabilityWindow struct {
	ID         int64   `json:"id"`
	ServiceID  int64   `json:"service_id"`
	LocationID *int64  `json:"location_id,omitempty"` // nil applies to every location
	Pattern    Pattern `json:"pattern"`

	DayOfWeek    *int       `json:"day_of_week,omitempty"` // 0=Sunday
	SpecificDate *time.Time `json:"specific_date,omitempty"`
	StartDate    *time.Time `json:"start_date,omitempty"`
	EndDate      *time.Time `json:"end_date,omitempty"`

	StartTime interval.Clock `json:"start_time"`
	EndTime   interval.Clock `json:"end_time"`

	MaxBookings          int  `json:"max_bookings"`
	SlotDurationMinutes  int  `json:"slot_duration_minutes"`
	BreakDurationMinutes int  `json:"break_duration_minutes"`
	MinAdvanceHours      *int `json:"min_advance_hours,omitempty"`
	MaxAdvanceDays       *int `json:"max_advance_days,omitempty"`

	PriceModifier float64 `json:"price_modifier"`
	IsActive      bool    `json:"is_active"`
	IsBookable    bool    `json:"is_bookable"`

	DeletedAt *time.Time `json:"deleted_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

const windowEntity = "availability window"

// Normalize clears the date fields that the pattern does not use and fills
// defaults. It runs before Validate on every write.
func (w *AvailabilityWindow) Normalize() {
	switch w.Pattern {
	case PatternWeekly:
		w.SpecificDate, w.StartDate, w.EndDate = nil, nil, nil
	case PatternDaily:
		w.DayOfWeek, w.SpecificDate, w.StartDate, w.EndDate = nil, nil, nil, nil
	case PatternSpecificDate:
		w.DayOfWeek, w.StartDate, w.EndDate = nil, nil, nil
	case PatternDateRange:
		w.DayOfWeek, w.SpecificDate = nil, nil
	}
	if w.PriceModifier == 0 {
		w.PriceModifier = 1
	}
}

// Validate rejects windows that cannot produce a well-defined slot sequence.
func (w *AvailabilityWindow) Validate() error {
	if w.ServiceID <= 0 {
		return configErr(windowEntity, "service_id", "is required")
	}
	if !w.Pattern.Valid() {
		return configErr(windowEntity, "pattern", "must be one of weekly, daily, specific_date, date_range")
	}

	switch w.Pattern {
	case PatternWeekly:
		if w.DayOfWeek == nil {
			return configErr(windowEntity, "day_of_week", "is required for weekly windows")
		}
		if *w.DayOfWeek < 0 || *w.DayOfWeek > 6 {
			return configErr(windowEntity, "day_of_week", "must be 0-6 (0=Sunday)")
		}
	case PatternSpecificDate:
		if w.SpecificDate == nil {
			return configErr(windowEntity, "specific_date", "is required for specific_date windows")
		}
	case PatternDateRange:
		if w.StartDate == nil || w.EndDate == nil {
			return configErr(windowEntity, "start_date/end_date", "are required for date_range windows")
		}
		if interval.DayKey(*w.EndDate) < interval.DayKey(*w.StartDate) {
			return configErr(windowEntity, "end_date", "must not be before start_date")
		}
	}

	if err := validateClock(w.StartTime, "start_time"); err != nil {
		return err
	}
	if w.EndTime != interval.EndOfDay {
		if err := validateClock(w.EndTime, "end_time"); err != nil {
			return err
		}
	}
	if w.StartTime == w.EndTime {
		return configErr(windowEntity, "end_time", "must differ from start_time")
	}
	if w.SlotDurationMinutes <= 0 {
		return configErr(windowEntity, "slot_duration_minutes", "must be positive")
	}
	if w.BreakDurationMinutes < 0 {
		return configErr(windowEntity, "break_duration_minutes", "must not be negative")
	}
	if w.SlotDurationMinutes > w.LengthMinutes() {
		return configErr(windowEntity, "slot_duration_minutes", "exceeds the window length")
	}
	if w.MaxBookings < 1 {
		return configErr(windowEntity, "max_bookings", "must be at least 1")
	}
	if w.MinAdvanceHours != nil && *w.MinAdvanceHours < 0 {
		return configErr(windowEntity, "min_advance_hours", "must not be negative")
	}
	if w.MaxAdvanceDays != nil && *w.MaxAdvanceDays < 0 {
		return configErr(windowEntity, "max_advance_days", "must not be negative")
	}
	if w.PriceModifier < 0 {
		return configErr(windowEntity, "price_modifier", "must not be negative")
	}
	return nil
}

// LengthMinutes is the window length, taking overnight wrap into account.
func (w *AvailabilityWindow) LengthMinutes() int {
	length := int(w.EndTime - w.StartTime)
	if length <= 0 {
		length += interval.MinutesPerDay
	}
	return length
}

// Overnight reports whether the window ends on the day after it starts.
func (w *AvailabilityWindow) Overnight() bool {
	return w.EndTime < w.StartTime
}

// IsUsable reports whether the booking path may read slots from w.
func (w *AvailabilityWindow) IsUsable() bool {
	return w.IsActive && w.IsBookable && w.DeletedAt == nil
}

// AppliesOn reports whether the window's recurrence covers date.
func (w *AvailabilityWindow) AppliesOn(date time.Time) bool {
	switch w.Pattern {
	case PatternDaily:
		return true
	case PatternWeekly:
		return w.DayOfWeek != nil && *w.DayOfWeek == int(date.Weekday())
	case PatternSpecificDate:
		return w.SpecificDate != nil && interval.DayKey(*w.SpecificDate) == interval.DayKey(date)
	case PatternDateRange:
		if w.StartDate == nil || w.EndDate == nil {
			return false
		}
		day := interval.DayKey(date)
		return interval.DayKey(*w.StartDate) <= day && day <= interval.DayKey(*w.EndDate)
	}
	return false
}

// AppliesToLocation reports whether the window serves locationID.
func (w *AvailabilityWindow) AppliesToLocation(locationID int64) bool {
	return w.LocationID == nil || *w.LocationID == locationID
}

func validateClock(c interval.Clock, field string) error {
	if c < 0 || c >= interval.MinutesPerDay {
		return configErr(windowEntity, field, "must be within 00:00-23:59")
	}
	return nil
}

package model

import "time"

// Service is the bookable offering read model.
type Service struct {
	ID                     int64     `json:"id"`
	Name                   string    `json:"name"`
	BasePrice              int64     `json:"base_price"`
	DurationMinutes        int       `json:"duration_minutes"`
	MinAdvanceBookingHours int       `json:"min_advance_booking_hours"`
	MaxAdvanceBookingDays  int       `json:"max_advance_booking_days"`
	DefaultCapacity        int       `json:"default_capacity"`
	IsActive               bool      `json:"is_active"`
	CreatedAt              time.Time `json:"created_at"`
	UpdatedAt              time.Time `json:"updated_at"`
}

// ServiceLocation is a venue where services are delivered.
type ServiceLocation struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Address   string    `json:"address,omitempty"`
	Timezone  string    `json:"timezone,omitempty"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AdvanceLimits is the lead-time constraint applied to a slot start.
type AdvanceLimits struct {
	MinHours int
	MaxDays  int
}

// Allows reports whether a slot starting at start may be booked at now.
// Zero MaxDays means unlimited.
func (l AdvanceLimits) Allows(start, now time.Time) bool {
	if start.Before(now.Add(time.Duration(l.MinHours) * time.Hour)) {
		return false
	}
	if l.MaxDays > 0 && start.After(now.AddDate(0, 0, l.MaxDays)) {
		return false
	}
	return true
}

// Override returns l with any per-window values replacing the service ones.
func (l AdvanceLimits) Override(minHours, maxDays *int) AdvanceLimits {
	if minHours != nil {
		l.MinHours = *minHours
	}
	if maxDays != nil {
		l.MaxDays = *maxDays
	}
	return l
}

// Limits returns the service-level advance-booking constraint.
func (s *Service) Limits() AdvanceLimits {
	return AdvanceLimits{MinHours: s.MinAdvanceBookingHours, MaxDays: s.MaxAdvanceBookingDays}
}

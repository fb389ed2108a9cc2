package model

import "time"

// SlotStatus is the derived state of a CapacitySlot.
type SlotStatus string

const (
	SlotBlocked   SlotStatus = "blocked"
	SlotFull      SlotStatus = "full"
	SlotAvailable SlotStatus = "available"
	SlotPartial   SlotStatus = "partial"
)

// CapacitySlot counts reservations for one service at one location and one
// exact start time.
type CapacitySlot struct {
	ID              int64     `json:"id"`
	ServiceID       int64     `json:"service_id"`
	LocationID      *int64    `json:"location_id,omitempty"`
	SlotDatetime    time.Time `json:"slot_datetime"`
	MaxCapacity     int       `json:"max_capacity"`
	CurrentBookings int       `json:"current_bookings"`
	BlockedSlots    int       `json:"blocked_slots"`
	IsBlocked       bool      `json:"is_blocked"`
	BlockReason     string    `json:"block_reason,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// AvailableSlots is max(0, max_capacity - current_bookings - blocked_slots).
func (s *CapacitySlot) AvailableSlots() int {
	n := s.MaxCapacity - s.CurrentBookings - s.BlockedSlots
	if n < 0 {
		return 0
	}
	return n
}

// Status derives the display state of the slot.
func (s *CapacitySlot) Status() SlotStatus {
	switch {
	case s.IsBlocked:
		return SlotBlocked
	case s.AvailableSlots() == 0:
		return SlotFull
	case s.CurrentBookings == 0 && s.BlockedSlots == 0:
		return SlotAvailable
	default:
		return SlotPartial
	}
}

// IsUpcoming reports whether the slot starts after now.
func (s *CapacitySlot) IsUpcoming(now time.Time) bool {
	return s.SlotDatetime.After(now)
}

// IsAvailable reports whether count more reservations would fit right now.
func (s *CapacitySlot) IsAvailable(count int, now time.Time) bool {
	return count > 0 && s.IsUpcoming(now) && !s.IsBlocked && s.AvailableSlots() >= count
}

// OccupancyRate is the reserved share of capacity as a percentage.
func (s *CapacitySlot) OccupancyRate() float64 {
	if s.MaxCapacity <= 0 {
		return 0
	}
	return float64(s.CurrentBookings) / float64(s.MaxCapacity) * 100
}

// Repair floors negative counters at zero and capacity at one. It returns the
// names of the fields it changed so the write path can report the clamp.
func (s *CapacitySlot) Repair() []string {
	var fixed []string
	if s.CurrentBookings < 0 {
		s.CurrentBookings = 0
		fixed = append(fixed, "current_bookings")
	}
	if s.BlockedSlots < 0 {
		s.BlockedSlots = 0
		fixed = append(fixed, "blocked_slots")
	}
	if s.MaxCapacity < 1 {
		s.MaxCapacity = 1
		fixed = append(fixed, "max_capacity")
	}
	return fixed
}

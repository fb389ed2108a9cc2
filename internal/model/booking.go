package model

import (
	"time"

	"venuebook/internal/interval"
)

// BookingStatus is the lifecycle state of a Booking.
type BookingStatus string

const (
	BookingPending     BookingStatus = "pending"
	BookingConfirmed   BookingStatus = "confirmed"
	BookingInProgress  BookingStatus = "in_progress"
	BookingCompleted   BookingStatus = "completed"
	BookingCancelled   BookingStatus = "cancelled"
	BookingNoShow      BookingStatus = "no_show"
	BookingRescheduled BookingStatus = "rescheduled"
)

// IsActive reports whether the booking is still expected to take place.
func (s BookingStatus) IsActive() bool {
	return s == BookingPending || s == BookingConfirmed || s == BookingInProgress
}

// OccupiesTime reports whether the booking still holds its time range.
// Cancelled, no-show and rescheduled bookings release it.
func (s BookingStatus) OccupiesTime() bool {
	switch s {
	case BookingCancelled, BookingNoShow, BookingRescheduled:
		return false
	}
	return true
}

// ActiveBookingStatuses lists the states that IsActive accepts.
var ActiveBookingStatuses = []BookingStatus{BookingPending, BookingConfirmed, BookingInProgress}

// Booking is the read model of a reservation owned by the booking collaborator.
type Booking struct {
	ID                 int64         `json:"id"`
	ServiceID          int64         `json:"service_id"`
	LocationID         int64         `json:"service_location_id"`
	ScheduledAt        time.Time     `json:"scheduled_at"`
	EndsAt             time.Time     `json:"ends_at"`
	Status             BookingStatus `json:"status"`
	CancellationReason string        `json:"cancellation_reason,omitempty"`
	NeedsReview        bool          `json:"needs_review"`
	ReviewReason       string        `json:"review_reason,omitempty"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
}

// Range returns the booking's [ScheduledAt, EndsAt) interval.
func (b *Booking) Range() interval.Range {
	return interval.Range{Start: b.ScheduledAt, End: b.EndsAt}
}

// Duration is EndsAt - ScheduledAt.
func (b *Booking) Duration() time.Duration {
	return b.EndsAt.Sub(b.ScheduledAt)
}

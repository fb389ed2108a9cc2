package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"venuebook/internal/model"
)

const bookingColumns = `id, service_id, service_location_id, scheduled_at, ends_at, status,
	cancellation_reason, needs_review, review_reason, created_at, updated_at`

func scanBooking(row rowScanner) (*model.Booking, error) {
	var (
		b                    model.Booking
		cancellation, review sql.NullString
	)
	err := row.Scan(
		&b.ID, &b.ServiceID, &b.LocationID, &b.ScheduledAt, &b.EndsAt, &b.Status,
		&cancellation, &b.NeedsReview, &review, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	b.CancellationReason = cancellation.String
	b.ReviewReason = review.String
	return &b, nil
}

func (db *DB) queryBookings(ctx context.Context, query string, args ...any) ([]model.Booking, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []model.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *b)
	}
	return result, rows.Err()
}

func statusList(statuses []model.BookingStatus) (string, []any) {
	marks := make([]string, len(statuses))
	args := make([]any, len(statuses))
	for i, s := range statuses {
		marks[i] = "?"
		args[i] = string(s)
	}
	return strings.Join(marks, ", "), args
}

// ListOccupyingBookings returns bookings at a location that still hold time
// and intersect [from, to).
func (db *DB) ListOccupyingBookings(ctx context.Context, locationID int64, from, to time.Time) ([]model.Booking, error) {
	return db.queryBookings(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE service_location_id = ?
		  AND scheduled_at < ? AND ends_at > ?
		  AND status NOT IN ('cancelled', 'no_show', 'rescheduled')
		ORDER BY scheduled_at`,
		locationID, ts(to), ts(from),
	)
}

// ListActiveBookingsFrom returns pending, confirmed and in-progress bookings at
// a location that start at or after from.
func (db *DB) ListActiveBookingsFrom(ctx context.Context, locationID int64, from time.Time) ([]model.Booking, error) {
	marks, args := statusList(model.ActiveBookingStatuses)
	query := `
		SELECT ` + bookingColumns + `
		FROM bookings
		WHERE service_location_id = ? AND scheduled_at >= ? AND status IN (` + marks + `)
		ORDER BY scheduled_at`
	return db.queryBookings(ctx, query, append([]any{locationID, ts(from)}, args...)...)
}

// ListActiveBookingsForService is ListActiveBookingsFrom narrowed to a service.
// A nil locationID matches every location.
func (db *DB) ListActiveBookingsForService(ctx context.Context, serviceID int64, locationID *int64, from time.Time) ([]model.Booking, error) {
	marks, args := statusList(model.ActiveBookingStatuses)
	query := `
		SELECT ` + bookingColumns + `
		FROM bookings
		WHERE service_id = ? AND (? = 0 OR service_location_id = ?) AND scheduled_at >= ?
		  AND status IN (` + marks + `)
		ORDER BY scheduled_at`
	loc := locationKey(locationID)
	return db.queryBookings(ctx, query, append([]any{serviceID, loc, loc, ts(from)}, args...)...)
}

// GetBooking loads a booking by id.
func (db *DB) GetBooking(ctx context.Context, id int64) (*model.Booking, error) {
	b, err := scanBooking(db.QueryRowContext(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	return b, err
}

// CreateBooking inserts a booking row on behalf of the booking writer.
func (db *DB) CreateBooking(ctx context.Context, b *model.Booking) error {
	if b.Status == "" {
		b.Status = model.BookingPending
	}
	now := time.Now()
	res, err := db.ExecContext(ctx, `
		INSERT INTO bookings (
			service_id, service_location_id, scheduled_at, ends_at, status,
			cancellation_reason, needs_review, review_reason, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ServiceID, b.LocationID, ts(b.ScheduledAt), ts(b.EndsAt), b.Status,
		b.CancellationReason, b.NeedsReview, b.ReviewReason, now, now,
	)
	if err != nil {
		return fmt.Errorf("insert booking: %w", err)
	}
	if b.ID, err = res.LastInsertId(); err != nil {
		return err
	}
	b.CreatedAt, b.UpdatedAt = now, now
	return nil
}

// RescheduleBooking moves a booking to a new interval and clears any review flag.
func (db *DB) RescheduleBooking(ctx context.Context, id int64, start, end time.Time) error {
	res, err := db.ExecContext(ctx, `
		UPDATE bookings
		SET scheduled_at = ?, ends_at = ?, needs_review = 0, review_reason = NULL, updated_at = ?
		WHERE id = ?`,
		ts(start), ts(end), time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("reschedule booking %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrNotFound
	}
	return nil
}

// CancelBooking sets status cancelled with a reason.
func (db *DB) CancelBooking(ctx context.Context, id int64, reason string) error {
	res, err := db.ExecContext(ctx, `
		UPDATE bookings
		SET status = ?, cancellation_reason = ?, updated_at = ?
		WHERE id = ?`,
		model.BookingCancelled, reason, time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("cancel booking %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrNotFound
	}
	return nil
}

// FlagBookingForReview marks a booking for manual follow-up.
func (db *DB) FlagBookingForReview(ctx context.Context, id int64, reason string) error {
	res, err := db.ExecContext(ctx, `
		UPDATE bookings
		SET needs_review = 1, review_reason = ?, updated_at = ?
		WHERE id = ?`,
		reason, time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("flag booking %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrNotFound
	}
	return nil
}

// AttachAmenity records that a booking reserves quantity units of an amenity.
func (db *DB) AttachAmenity(ctx context.Context, bookingID, amenityID int64, quantity int) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO booking_amenities (booking_id, amenity_id, quantity)
		VALUES (?, ?, ?)
		ON CONFLICT(booking_id, amenity_id) DO UPDATE SET quantity = excluded.quantity`,
		bookingID, amenityID, quantity,
	)
	if err != nil {
		return fmt.Errorf("attach amenity %d to booking %d: %w", amenityID, bookingID, err)
	}
	return nil
}

// ListActiveBookingsUsingAmenity returns active bookings from now on that
// reserve the amenity.
func (db *DB) ListActiveBookingsUsingAmenity(ctx context.Context, amenityID int64, now time.Time) ([]model.Booking, error) {
	marks, args := statusList(model.ActiveBookingStatuses)
	query := `
		SELECT b.id, b.service_id, b.service_location_id, b.scheduled_at, b.ends_at, b.status,
		       b.cancellation_reason, b.needs_review, b.review_reason, b.created_at, b.updated_at
		FROM bookings b
		JOIN booking_amenities ba ON ba.booking_id = b.id
		WHERE ba.amenity_id = ? AND b.ends_at > ? AND b.status IN (` + marks + `)
		ORDER BY b.scheduled_at`
	return db.queryBookings(ctx, query, append([]any{amenityID, ts(now)}, args...)...)
}

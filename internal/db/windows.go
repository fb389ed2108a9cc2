package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"venuebook/internal/interval"
	"venuebook/internal/model"
)

const windowColumns = `id, service_id, location_id, pattern, day_of_week, specific_date, start_date, end_date,
	start_time, end_time, max_bookings, slot_duration_minutes, break_duration_minutes,
	min_advance_hours, max_advance_days, price_modifier, is_active, is_bookable,
	deleted_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWindow(row rowScanner) (*model.AvailabilityWindow, error) {
	var (
		w                                model.AvailabilityWindow
		locationID, dayOfWeek            sql.NullInt64
		minAdvance, maxAdvance           sql.NullInt64
		specificDate, startDate, endDate sql.NullString
		startTime, endTime               string
		deletedAt                        sql.NullTime
	)
	err := row.Scan(
		&w.ID, &w.ServiceID, &locationID, &w.Pattern, &dayOfWeek, &specificDate, &startDate, &endDate,
		&startTime, &endTime, &w.MaxBookings, &w.SlotDurationMinutes, &w.BreakDurationMinutes,
		&minAdvance, &maxAdvance, &w.PriceModifier, &w.IsActive, &w.IsBookable,
		&deletedAt, &w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	w.LocationID = scanID(locationID)
	w.DayOfWeek = scanInt(dayOfWeek)
	w.MinAdvanceHours = scanInt(minAdvance)
	w.MaxAdvanceDays = scanInt(maxAdvance)
	w.DeletedAt = scanTime(deletedAt)
	if w.SpecificDate, err = scanDate(specificDate); err != nil {
		return nil, err
	}
	if w.StartDate, err = scanDate(startDate); err != nil {
		return nil, err
	}
	if w.EndDate, err = scanDate(endDate); err != nil {
		return nil, err
	}
	if w.StartTime, err = interval.ParseClock(startTime); err != nil {
		return nil, err
	}
	if w.EndTime, err = interval.ParseClock(endTime); err != nil {
		return nil, err
	}
	return &w, nil
}

func (db *DB) queryWindows(ctx context.Context, query string, args ...any) ([]model.AvailabilityWindow, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []model.AvailabilityWindow
	for rows.Next() {
		w, err := scanWindow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *w)
	}
	return result, rows.Err()
}

// ListWindowsForService returns the non-deleted windows of a service.
func (db *DB) ListWindowsForService(ctx context.Context, serviceID int64) ([]model.AvailabilityWindow, error) {
	return db.queryWindows(ctx, `
		SELECT `+windowColumns+`
		FROM availability_windows
		WHERE service_id = ? AND deleted_at IS NULL
		ORDER BY start_time, id`,
		serviceID,
	)
}

// ListWindowsForLocation returns the non-deleted windows that serve a
// location, including location-independent ones.
func (db *DB) ListWindowsForLocation(ctx context.Context, locationID int64) ([]model.AvailabilityWindow, error) {
	return db.queryWindows(ctx, `
		SELECT `+windowColumns+`
		FROM availability_windows
		WHERE (location_id IS NULL OR location_id = ?) AND deleted_at IS NULL
		ORDER BY service_id, start_time, id`,
		locationID,
	)
}

// GetWindow returns a window by id, including soft-deleted ones.
func (db *DB) GetWindow(ctx context.Context, id int64) (*model.AvailabilityWindow, error) {
	w, err := scanWindow(db.QueryRowContext(ctx,
		`SELECT `+windowColumns+` FROM availability_windows WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	return w, err
}

// CreateWindow inserts w and sets its id. An explicit id is kept, which the
// catalog sync relies on.
func (db *DB) CreateWindow(ctx context.Context, w *model.AvailabilityWindow) error {
	now := time.Now()
	var id any
	if w.ID > 0 {
		id = w.ID
	}
	res, err := db.ExecContext(ctx, `
		INSERT INTO availability_windows (
			id, service_id, location_id, pattern, day_of_week, specific_date, start_date, end_date,
			start_time, end_time, max_bookings, slot_duration_minutes, break_duration_minutes,
			min_advance_hours, max_advance_days, price_modifier, is_active, is_bookable,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, w.ServiceID, nullID(w.LocationID), w.Pattern, nullInt(w.DayOfWeek),
		nullDate(w.SpecificDate), nullDate(w.StartDate), nullDate(w.EndDate),
		w.StartTime.String(), w.EndTime.String(), w.MaxBookings, w.SlotDurationMinutes, w.BreakDurationMinutes,
		nullInt(w.MinAdvanceHours), nullInt(w.MaxAdvanceDays), w.PriceModifier, w.IsActive, w.IsBookable,
		now, now,
	)
	if err != nil {
		return fmt.Errorf("insert window: %w", err)
	}
	if w.ID, err = res.LastInsertId(); err != nil {
		return err
	}
	w.CreatedAt, w.UpdatedAt = now, now
	return nil
}

// UpdateWindow overwrites every mutable column of w.
func (db *DB) UpdateWindow(ctx context.Context, w *model.AvailabilityWindow) error {
	now := time.Now()
	res, err := db.ExecContext(ctx, `
		UPDATE availability_windows SET
			service_id = ?, location_id = ?, pattern = ?, day_of_week = ?, specific_date = ?,
			start_date = ?, end_date = ?, start_time = ?, end_time = ?, max_bookings = ?,
			slot_duration_minutes = ?, break_duration_minutes = ?, min_advance_hours = ?,
			max_advance_days = ?, price_modifier = ?, is_active = ?, is_bookable = ?, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL`,
		w.ServiceID, nullID(w.LocationID), w.Pattern, nullInt(w.DayOfWeek), nullDate(w.SpecificDate),
		nullDate(w.StartDate), nullDate(w.EndDate), w.StartTime.String(), w.EndTime.String(), w.MaxBookings,
		w.SlotDurationMinutes, w.BreakDurationMinutes, nullInt(w.MinAdvanceHours),
		nullInt(w.MaxAdvanceDays), w.PriceModifier, w.IsActive, w.IsBookable, now,
		w.ID,
	)
	if err != nil {
		return fmt.Errorf("update window %d: %w", w.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrNotFound
	}
	w.UpdatedAt = now
	return nil
}

// SoftDeleteWindow stamps deleted_at; the row is kept for history.
func (db *DB) SoftDeleteWindow(ctx context.Context, id int64) error {
	now := time.Now()
	res, err := db.ExecContext(ctx,
		`UPDATE availability_windows SET deleted_at = ?, is_active = 0, updated_at = ? WHERE id = ? AND deleted_at IS NULL`,
		ts(now), now, id,
	)
	if err != nil {
		return fmt.Errorf("delete window %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrNotFound
	}
	return nil
}

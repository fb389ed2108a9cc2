package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"venuebook/internal/interval"
	"venuebook/internal/model"
)

const venueWindowColumns = `id, service_location_id, window_type, day_of_week, specific_date, start_date, end_date,
	earliest_access, latest_departure, quiet_hours_start, quiet_hours_end, max_concurrent_events,
	min_advance_hours, max_advance_days, restrictions, notes, is_active, deleted_at, created_at, updated_at`

func scanVenueWindow(row rowScanner) (*model.VenueAvailabilityWindow, error) {
	var (
		w                                 model.VenueAvailabilityWindow
		dayOfWeek, minAdvance, maxAdvance sql.NullInt64
		specificDate, startDate, endDate  sql.NullString
		earliest, latest                  string
		quietStart, quietEnd              sql.NullString
		restrictions, notes               sql.NullString
		deletedAt                         sql.NullTime
	)
	err := row.Scan(
		&w.ID, &w.LocationID, &w.WindowType, &dayOfWeek, &specificDate, &startDate, &endDate,
		&earliest, &latest, &quietStart, &quietEnd, &w.MaxConcurrentEvents,
		&minAdvance, &maxAdvance, &restrictions, &notes, &w.IsActive, &deletedAt, &w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	w.DayOfWeek = scanInt(dayOfWeek)
	w.MinAdvanceHours = scanInt(minAdvance)
	w.MaxAdvanceDays = scanInt(maxAdvance)
	w.DeletedAt = scanTime(deletedAt)
	w.Notes = notes.String
	if restrictions.Valid && restrictions.String != "" {
		if err := json.Unmarshal([]byte(restrictions.String), &w.Restrictions); err != nil {
			return nil, fmt.Errorf("decode restrictions of venue window %d: %w", w.ID, err)
		}
	}
	if w.SpecificDate, err = scanDate(specificDate); err != nil {
		return nil, err
	}
	if w.StartDate, err = scanDate(startDate); err != nil {
		return nil, err
	}
	if w.EndDate, err = scanDate(endDate); err != nil {
		return nil, err
	}
	if w.EarliestAccess, err = interval.ParseClock(earliest); err != nil {
		return nil, err
	}
	if w.LatestDeparture, err = interval.ParseClock(latest); err != nil {
		return nil, err
	}
	if w.QuietHoursStart, err = scanClock(quietStart); err != nil {
		return nil, err
	}
	if w.QuietHoursEnd, err = scanClock(quietEnd); err != nil {
		return nil, err
	}
	return &w, nil
}

// ListVenueWindows returns the non-deleted venue windows of a location.
func (db *DB) ListVenueWindows(ctx context.Context, locationID int64) ([]model.VenueAvailabilityWindow, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+venueWindowColumns+`
		FROM venue_availability_windows
		WHERE service_location_id = ? AND deleted_at IS NULL
		ORDER BY earliest_access, id`,
		locationID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []model.VenueAvailabilityWindow
	for rows.Next() {
		w, err := scanVenueWindow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *w)
	}
	return result, rows.Err()
}

// GetVenueWindow returns a venue window by id.
func (db *DB) GetVenueWindow(ctx context.Context, id int64) (*model.VenueAvailabilityWindow, error) {
	w, err := scanVenueWindow(db.QueryRowContext(ctx,
		`SELECT `+venueWindowColumns+` FROM venue_availability_windows WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	return w, err
}

// CreateVenueWindow inserts w and sets its id.
func (db *DB) CreateVenueWindow(ctx context.Context, w *model.VenueAvailabilityWindow) error {
	restrictions, err := marshalJSON(w.Restrictions)
	if err != nil {
		return fmt.Errorf("encode restrictions: %w", err)
	}
	now := time.Now()
	var id any
	if w.ID > 0 {
		id = w.ID
	}
	res, err := db.ExecContext(ctx, `
		INSERT INTO venue_availability_windows (
			id, service_location_id, window_type, day_of_week, specific_date, start_date, end_date,
			earliest_access, latest_departure, quiet_hours_start, quiet_hours_end, max_concurrent_events,
			min_advance_hours, max_advance_days, restrictions, notes, is_active, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, w.LocationID, w.WindowType, nullInt(w.DayOfWeek), nullDate(w.SpecificDate), nullDate(w.StartDate), nullDate(w.EndDate),
		w.EarliestAccess.String(), w.LatestDeparture.String(), nullClock(w.QuietHoursStart), nullClock(w.QuietHoursEnd), w.MaxConcurrentEvents,
		nullInt(w.MinAdvanceHours), nullInt(w.MaxAdvanceDays), restrictions, w.Notes, w.IsActive, now, now,
	)
	if err != nil {
		return fmt.Errorf("insert venue window: %w", err)
	}
	if w.ID, err = res.LastInsertId(); err != nil {
		return err
	}
	w.CreatedAt, w.UpdatedAt = now, now
	return nil
}

// UpdateVenueWindow overwrites every mutable column of w.
func (db *DB) UpdateVenueWindow(ctx context.Context, w *model.VenueAvailabilityWindow) error {
	restrictions, err := marshalJSON(w.Restrictions)
	if err != nil {
		return fmt.Errorf("encode restrictions: %w", err)
	}
	now := time.Now()
	res, err := db.ExecContext(ctx, `
		UPDATE venue_availability_windows SET
			service_location_id = ?, window_type = ?, day_of_week = ?, specific_date = ?, start_date = ?,
			end_date = ?, earliest_access = ?, latest_departure = ?, quiet_hours_start = ?, quiet_hours_end = ?,
			max_concurrent_events = ?, min_advance_hours = ?, max_advance_days = ?, restrictions = ?,
			notes = ?, is_active = ?, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL`,
		w.LocationID, w.WindowType, nullInt(w.DayOfWeek), nullDate(w.SpecificDate), nullDate(w.StartDate),
		nullDate(w.EndDate), w.EarliestAccess.String(), w.LatestDeparture.String(), nullClock(w.QuietHoursStart), nullClock(w.QuietHoursEnd),
		w.MaxConcurrentEvents, nullInt(w.MinAdvanceHours), nullInt(w.MaxAdvanceDays), restrictions,
		w.Notes, w.IsActive, now,
		w.ID,
	)
	if err != nil {
		return fmt.Errorf("update venue window %d: %w", w.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrNotFound
	}
	w.UpdatedAt = now
	return nil
}

// SoftDeleteVenueWindow stamps deleted_at.
func (db *DB) SoftDeleteVenueWindow(ctx context.Context, id int64) error {
	now := time.Now()
	res, err := db.ExecContext(ctx,
		`UPDATE venue_availability_windows SET deleted_at = ?, is_active = 0, updated_at = ? WHERE id = ? AND deleted_at IS NULL`,
		ts(now), now, id,
	)
	if err != nil {
		return fmt.Errorf("delete venue window %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrNotFound
	}
	return nil
}

package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"venuebook/internal/model"
)

const amenityColumns = `id, service_location_id, amenity_type, name, description, included_in_booking,
	additional_cost, quantity_available, requires_advance_notice, notice_hours_required,
	specifications, is_active, sort_order, created_at, updated_at`

func nameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func scanAmenity(row rowScanner) (*model.VenueAmenity, error) {
	var (
		a                  model.VenueAmenity
		description, specs sql.NullString
	)
	err := row.Scan(
		&a.ID, &a.LocationID, &a.AmenityType, &a.Name, &description, &a.IncludedInBooking,
		&a.AdditionalCost, &a.QuantityAvailable, &a.RequiresAdvanceNotice, &a.NoticeHoursRequired,
		&specs, &a.IsActive, &a.SortOrder, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.Description = description.String
	if specs.Valid && specs.String != "" {
		if err := json.Unmarshal([]byte(specs.String), &a.Specifications); err != nil {
			return nil, fmt.Errorf("decode specifications of amenity %d: %w", a.ID, err)
		}
	}
	return &a, nil
}

// ListAmenities returns the active amenities of a location in display order.
func (db *DB) ListAmenities(ctx context.Context, locationID int64) ([]model.VenueAmenity, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+amenityColumns+`
		FROM venue_amenities
		WHERE service_location_id = ? AND is_active = 1
		ORDER BY sort_order, name`,
		locationID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []model.VenueAmenity
	for rows.Next() {
		a, err := scanAmenity(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	return result, rows.Err()
}

// GetAmenity loads an amenity by id.
func (db *DB) GetAmenity(ctx context.Context, id int64) (*model.VenueAmenity, error) {
	a, err := scanAmenity(db.QueryRowContext(ctx,
		`SELECT `+amenityColumns+` FROM venue_amenities WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	return a, err
}

// CreateAmenity inserts a. A name already used for the same location and type
// yields a ValidationError.
func (db *DB) CreateAmenity(ctx context.Context, a *model.VenueAmenity) error {
	specs, err := marshalJSON(a.Specifications)
	if err != nil {
		return fmt.Errorf("encode specifications: %w", err)
	}
	now := time.Now()
	var id any
	if a.ID > 0 {
		id = a.ID
	}
	res, err := db.ExecContext(ctx, `
		INSERT INTO venue_amenities (
			id, service_location_id, amenity_type, name, name_key, description, included_in_booking,
			additional_cost, quantity_available, requires_advance_notice, notice_hours_required,
			specifications, is_active, sort_order, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, a.LocationID, a.AmenityType, a.Name, nameKey(a.Name), a.Description, a.IncludedInBooking,
		a.AdditionalCost, a.QuantityAvailable, a.RequiresAdvanceNotice, a.NoticeHoursRequired,
		specs, a.IsActive, a.SortOrder, now, now,
	)
	if isUniqueViolation(err) {
		return &model.ValidationError{Field: "name", Reason: fmt.Sprintf("%q already exists for %s amenities at this location", a.Name, a.AmenityType)}
	}
	if err != nil {
		return fmt.Errorf("insert amenity: %w", err)
	}
	if a.ID, err = res.LastInsertId(); err != nil {
		return err
	}
	a.CreatedAt, a.UpdatedAt = now, now
	return nil
}

// UpdateAmenity overwrites the mutable columns of a.
func (db *DB) UpdateAmenity(ctx context.Context, a *model.VenueAmenity) error {
	specs, err := marshalJSON(a.Specifications)
	if err != nil {
		return fmt.Errorf("encode specifications: %w", err)
	}
	now := time.Now()
	res, err := db.ExecContext(ctx, `
		UPDATE venue_amenities SET
			service_location_id = ?, amenity_type = ?, name = ?, name_key = ?, description = ?,
			included_in_booking = ?, additional_cost = ?, quantity_available = ?,
			requires_advance_notice = ?, notice_hours_required = ?, specifications = ?,
			is_active = ?, sort_order = ?, updated_at = ?
		WHERE id = ?`,
		a.LocationID, a.AmenityType, a.Name, nameKey(a.Name), a.Description,
		a.IncludedInBooking, a.AdditionalCost, a.QuantityAvailable,
		a.RequiresAdvanceNotice, a.NoticeHoursRequired, specs,
		a.IsActive, a.SortOrder, now,
		a.ID,
	)
	if isUniqueViolation(err) {
		return &model.ValidationError{Field: "name", Reason: fmt.Sprintf("%q already exists for %s amenities at this location", a.Name, a.AmenityType)}
	}
	if err != nil {
		return fmt.Errorf("update amenity %d: %w", a.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrNotFound
	}
	a.UpdatedAt = now
	return nil
}

// DeleteAmenity removes the amenity and its booking links.
func (db *DB) DeleteAmenity(ctx context.Context, id int64) error {
	res, err := db.ExecContext(ctx, `DELETE FROM venue_amenities WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete amenity %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrNotFound
	}
	return nil
}

// upsertAmenity writes a catalog amenity by id keeping created_at.
func upsertAmenity(ctx context.Context, q querier, a *model.VenueAmenity) error {
	specs, err := marshalJSON(a.Specifications)
	if err != nil {
		return fmt.Errorf("encode specifications: %w", err)
	}
	now := time.Now()
	_, err = q.ExecContext(ctx, `
		INSERT INTO venue_amenities (
			id, service_location_id, amenity_type, name, name_key, description, included_in_booking,
			additional_cost, quantity_available, requires_advance_notice, notice_hours_required,
			specifications, is_active, sort_order, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			service_location_id = excluded.service_location_id,
			amenity_type = excluded.amenity_type,
			name = excluded.name,
			name_key = excluded.name_key,
			description = excluded.description,
			included_in_booking = excluded.included_in_booking,
			additional_cost = excluded.additional_cost,
			quantity_available = excluded.quantity_available,
			requires_advance_notice = excluded.requires_advance_notice,
			notice_hours_required = excluded.notice_hours_required,
			specifications = excluded.specifications,
			is_active = excluded.is_active,
			sort_order = excluded.sort_order,
			updated_at = excluded.updated_at`,
		a.ID, a.LocationID, a.AmenityType, a.Name, nameKey(a.Name), a.Description, a.IncludedInBooking,
		a.AdditionalCost, a.QuantityAvailable, a.RequiresAdvanceNotice, a.NoticeHoursRequired,
		specs, a.IsActive, a.SortOrder, now, now,
	)
	if isUniqueViolation(err) {
		return &model.ValidationError{Field: "name", Reason: fmt.Sprintf("%q already exists for %s amenities at this location", a.Name, a.AmenityType)}
	}
	return err
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}

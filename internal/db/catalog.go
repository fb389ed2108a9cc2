package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"venuebook/internal/config"
	"venuebook/internal/model"
)

// GetService loads a service by id.
func (db *DB) GetService(ctx context.Context, id int64) (*model.Service, error) {
	var s model.Service
	err := db.QueryRowContext(ctx, `
		SELECT id, name, base_price, duration_minutes, min_advance_booking_hours,
		       max_advance_booking_days, default_capacity, is_active, created_at, updated_at
		FROM services WHERE id = ?`, id,
	).Scan(
		&s.ID, &s.Name, &s.BasePrice, &s.DurationMinutes, &s.MinAdvanceBookingHours,
		&s.MaxAdvanceBookingDays, &s.DefaultCapacity, &s.IsActive, &s.CreatedAt, &s.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// GetLocation loads a service location by id.
func (db *DB) GetLocation(ctx context.Context, id int64) (*model.ServiceLocation, error) {
	var (
		l                 model.ServiceLocation
		address, timezone sql.NullString
	)
	err := db.QueryRowContext(ctx, `
		SELECT id, name, address, timezone, is_active, created_at, updated_at
		FROM service_locations WHERE id = ?`, id,
	).Scan(&l.ID, &l.Name, &address, &timezone, &l.IsActive, &l.CreatedAt, &l.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	l.Address = address.String
	l.Timezone = timezone.String
	return &l, nil
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// UpsertService creates or updates a service keeping created_at.
func (db *DB) UpsertService(ctx context.Context, s *model.Service) error {
	return upsertService(ctx, db.DB, s)
}

func upsertService(ctx context.Context, q querier, s *model.Service) error {
	now := time.Now()
	_, err := q.ExecContext(ctx, `
		INSERT INTO services (
			id, name, base_price, duration_minutes, min_advance_booking_hours,
			max_advance_booking_days, default_capacity, is_active, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, COALESCE((SELECT created_at FROM services WHERE id = ?), ?), ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			base_price = excluded.base_price,
			duration_minutes = excluded.duration_minutes,
			min_advance_booking_hours = excluded.min_advance_booking_hours,
			max_advance_booking_days = excluded.max_advance_booking_days,
			default_capacity = excluded.default_capacity,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at`,
		s.ID, s.Name, s.BasePrice, s.DurationMinutes, s.MinAdvanceBookingHours,
		s.MaxAdvanceBookingDays, s.DefaultCapacity, s.IsActive, s.ID, now, now,
	)
	return err
}

// UpsertLocation creates or updates a location keeping created_at.
func (db *DB) UpsertLocation(ctx context.Context, l *model.ServiceLocation) error {
	return upsertLocation(ctx, db.DB, l)
}

func upsertLocation(ctx context.Context, q querier, l *model.ServiceLocation) error {
	now := time.Now()
	_, err := q.ExecContext(ctx, `
		INSERT INTO service_locations (id, name, address, timezone, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, COALESCE((SELECT created_at FROM service_locations WHERE id = ?), ?), ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			address = excluded.address,
			timezone = excluded.timezone,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at`,
		l.ID, l.Name, l.Address, l.Timezone, l.IsActive, l.ID, now, now,
	)
	return err
}

// SyncCatalog stores the services, locations and amenities of catalog.yaml
// in one transaction. Services and locations missing from the catalog are
// deactivated. Windows are not touched here: they go through the scheduling
// facade so that booking impact is checked first.
func (db *DB) SyncCatalog(ctx context.Context, cat *config.Catalog) error {
	if cat == nil {
		return fmt.Errorf("catalog is nil")
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin catalog sync: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	serviceIDs := make([]int64, 0, len(cat.Services))
	for _, sc := range cat.Services {
		s := sc.Model()
		if err := upsertService(ctx, tx, &s); err != nil {
			return fmt.Errorf("sync service %d: %w", s.ID, err)
		}
		serviceIDs = append(serviceIDs, s.ID)
	}
	if err := deactivateMissing(ctx, tx, "services", serviceIDs); err != nil {
		return err
	}

	locationIDs := make([]int64, 0, len(cat.Locations))
	for _, lc := range cat.Locations {
		l := lc.Model()
		if err := upsertLocation(ctx, tx, &l); err != nil {
			return fmt.Errorf("sync location %d: %w", l.ID, err)
		}
		locationIDs = append(locationIDs, l.ID)
	}
	if err := deactivateMissing(ctx, tx, "service_locations", locationIDs); err != nil {
		return err
	}

	for _, ac := range cat.Amenities {
		a := ac.Model()
		if err := upsertAmenity(ctx, tx, &a); err != nil {
			return fmt.Errorf("sync amenity %d: %w", a.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit catalog sync: %w", err)
	}
	db.logger.Info().
		Int("services", len(cat.Services)).
		Int("locations", len(cat.Locations)).
		Int("amenities", len(cat.Amenities)).
		Msg("catalog synced")
	return nil
}

func deactivateMissing(ctx context.Context, q querier, table string, keep []int64) error {
	rows, err := q.QueryContext(ctx, fmt.Sprintf("SELECT id FROM %s WHERE is_active = 1", table))
	if err != nil {
		return err
	}
	defer rows.Close()

	seen := make(map[int64]struct{}, len(keep))
	for _, id := range keep {
		seen[id] = struct{}{}
	}

	var stale []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return err
		}
		if _, ok := seen[id]; !ok {
			stale = append(stale, id)
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	rows.Close()

	for _, id := range stale {
		if _, err := q.ExecContext(ctx,
			fmt.Sprintf("UPDATE %s SET is_active = 0, updated_at = ? WHERE id = ?", table),
			time.Now(), id,
		); err != nil {
			return fmt.Errorf("deactivate %s %d: %w", table, id, err)
		}
	}
	return nil
}

// CatalogEntry returns the catalog entry last applied for a window, as
// stored by SaveCatalogEntry.
func (db *DB) CatalogEntry(ctx context.Context, kind string, id int64) (string, bool, error) {
	var entry string
	err := db.QueryRowContext(ctx,
		`SELECT entry FROM catalog_entries WHERE kind = ? AND entity_id = ?`, kind, id,
	).Scan(&entry)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("load catalog entry %s %d: %w", kind, id, err)
	}
	return entry, true, nil
}

// SaveCatalogEntry records the catalog entry applied for a window so an
// unchanged entry is not applied again on the next reload.
func (db *DB) SaveCatalogEntry(ctx context.Context, kind string, id int64, entry string) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO catalog_entries (kind, entity_id, entry, synced_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(kind, entity_id) DO UPDATE SET entry = excluded.entry, synced_at = excluded.synced_at`,
		kind, id, entry, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("save catalog entry %s %d: %w", kind, id, err)
	}
	return nil
}

// CatalogEntryIDs lists the ids of every window of kind applied from the
// catalog.
func (db *DB) CatalogEntryIDs(ctx context.Context, kind string) ([]int64, error) {
	rows, err := db.QueryContext(ctx, `SELECT entity_id FROM catalog_entries WHERE kind = ? ORDER BY entity_id`, kind)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteCatalogEntry forgets a window dropped from the catalog.
func (db *DB) DeleteCatalogEntry(ctx context.Context, kind string, id int64) error {
	if _, err := db.ExecContext(ctx, `DELETE FROM catalog_entries WHERE kind = ? AND entity_id = ?`, kind, id); err != nil {
		return fmt.Errorf("delete catalog entry %s %d: %w", kind, id, err)
	}
	return nil
}

// ListLocationIDs returns the ids of every active location.
func (db *DB) ListLocationIDs(ctx context.Context) ([]int64, error) {
	rows, err := db.QueryContext(ctx, `SELECT id FROM service_locations WHERE is_active = 1 ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

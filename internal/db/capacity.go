package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"venuebook/internal/model"
)

const capacityColumns = `id, service_id, location_id, slot_datetime, max_capacity, current_bookings,
	blocked_slots, is_blocked, block_reason, created_at, updated_at`

func locationKey(id *int64) int64 {
	if id == nil {
		return 0
	}
	return *id
}

func scanCapacitySlot(row rowScanner) (*model.CapacitySlot, error) {
	var (
		s           model.CapacitySlot
		locationID  int64
		blockReason sql.NullString
	)
	err := row.Scan(
		&s.ID, &s.ServiceID, &locationID, &s.SlotDatetime, &s.MaxCapacity, &s.CurrentBookings,
		&s.BlockedSlots, &s.IsBlocked, &blockReason, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if locationID != 0 {
		s.LocationID = &locationID
	}
	s.BlockReason = blockReason.String
	return &s, nil
}

// GetCapacitySlot looks a slot up by its natural key.
func (db *DB) GetCapacitySlot(ctx context.Context, serviceID int64, locationID *int64, at time.Time) (*model.CapacitySlot, error) {
	s, err := scanCapacitySlot(db.QueryRowContext(ctx, `
		SELECT `+capacityColumns+`
		FROM capacity_slots
		WHERE service_id = ? AND location_id = ? AND slot_datetime = ?`,
		serviceID, locationKey(locationID), ts(at),
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	return s, err
}

// GetCapacitySlotByID loads a slot by id.
func (db *DB) GetCapacitySlotByID(ctx context.Context, id int64) (*model.CapacitySlot, error) {
	s, err := scanCapacitySlot(db.QueryRowContext(ctx,
		`SELECT `+capacityColumns+` FROM capacity_slots WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	return s, err
}

// InsertCapacitySlotIfAbsent creates the slot unless one exists for the same
// key, then returns the stored row. Concurrent callers converge on one row.
func (db *DB) InsertCapacitySlotIfAbsent(ctx context.Context, s *model.CapacitySlot) (*model.CapacitySlot, error) {
	now := time.Now()
	_, err := db.ExecContext(ctx, `
		INSERT INTO capacity_slots (
			service_id, location_id, slot_datetime, max_capacity, current_bookings,
			blocked_slots, is_blocked, block_reason, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(service_id, location_id, slot_datetime) DO NOTHING`,
		s.ServiceID, locationKey(s.LocationID), ts(s.SlotDatetime), s.MaxCapacity, s.CurrentBookings,
		s.BlockedSlots, s.IsBlocked, s.BlockReason, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert capacity slot: %w", err)
	}
	return db.GetCapacitySlot(ctx, s.ServiceID, s.LocationID, s.SlotDatetime)
}

// SaveCapacitySlot writes the counters of an existing slot.
func (db *DB) SaveCapacitySlot(ctx context.Context, s *model.CapacitySlot) error {
	now := time.Now()
	res, err := db.ExecContext(ctx, `
		UPDATE capacity_slots SET
			max_capacity = ?, current_bookings = ?, blocked_slots = ?, is_blocked = ?,
			block_reason = ?, updated_at = ?
		WHERE id = ?`,
		s.MaxCapacity, s.CurrentBookings, s.BlockedSlots, s.IsBlocked, s.BlockReason, now, s.ID,
	)
	if err != nil {
		return fmt.Errorf("save capacity slot %d: %w", s.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrNotFound
	}
	s.UpdatedAt = now
	return nil
}

// ReserveCapacity adds count bookings in a single conditional UPDATE so that
// concurrent reservations for the last unit cannot both succeed. It reports
// whether the row changed.
func (db *DB) ReserveCapacity(ctx context.Context, id int64, count int, now time.Time) (bool, error) {
	return db.conditionalUpdate(ctx, `
		UPDATE capacity_slots
		SET current_bookings = current_bookings + ?, updated_at = ?
		WHERE id = ? AND is_blocked = 0 AND slot_datetime > ?
		  AND max_capacity - current_bookings - blocked_slots >= ?`,
		count, now, id, ts(now), count,
	)
}

// ReleaseCapacity removes count bookings unless fewer are recorded.
func (db *DB) ReleaseCapacity(ctx context.Context, id int64, count int) (bool, error) {
	return db.conditionalUpdate(ctx, `
		UPDATE capacity_slots
		SET current_bookings = current_bookings - ?, updated_at = ?
		WHERE id = ? AND current_bookings >= ?`,
		count, time.Now(), id, count,
	)
}

// BlockCapacity withholds count units that are still free.
func (db *DB) BlockCapacity(ctx context.Context, id int64, count int, reason string) (bool, error) {
	return db.conditionalUpdate(ctx, `
		UPDATE capacity_slots
		SET blocked_slots = blocked_slots + ?, block_reason = ?, updated_at = ?
		WHERE id = ? AND max_capacity - current_bookings - blocked_slots >= ?`,
		count, reason, time.Now(), id, count,
	)
}

// UnblockCapacity returns count withheld units.
func (db *DB) UnblockCapacity(ctx context.Context, id int64, count int) (bool, error) {
	return db.conditionalUpdate(ctx, `
		UPDATE capacity_slots
		SET blocked_slots = blocked_slots - ?,
		    block_reason = CASE WHEN blocked_slots - ? = 0 THEN NULL ELSE block_reason END,
		    updated_at = ?
		WHERE id = ? AND blocked_slots >= ?`,
		count, count, time.Now(), id, count,
	)
}

func (db *DB) conditionalUpdate(ctx context.Context, query string, args ...any) (bool, error) {
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ListCapacitySlots returns the slots of a service at a location within [from, to).
func (db *DB) ListCapacitySlots(ctx context.Context, serviceID int64, locationID *int64, from, to time.Time) ([]model.CapacitySlot, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+capacityColumns+`
		FROM capacity_slots
		WHERE service_id = ? AND location_id = ? AND slot_datetime >= ? AND slot_datetime < ?
		ORDER BY slot_datetime`,
		serviceID, locationKey(locationID), ts(from), ts(to),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []model.CapacitySlot
	for rows.Next() {
		s, err := scanCapacitySlot(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}
	return result, rows.Err()
}

// PurgeCapacitySlots deletes slots without bookings that started before cutoff.
func (db *DB) PurgeCapacitySlots(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := db.ExecContext(ctx, `
		DELETE FROM capacity_slots
		WHERE slot_datetime < ? AND current_bookings = 0`,
		ts(cutoff),
	)
	if err != nil {
		return 0, fmt.Errorf("purge capacity slots: %w", err)
	}
	return res.RowsAffected()
}

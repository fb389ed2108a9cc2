package capacity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"venuebook/internal/metrics"
	"venuebook/internal/model"
)

// Store persists capacity slots. Reserve/Release/Block/Unblock must apply
// their guard and their change in one atomic statement and report whether
// the row changed.
type Store interface {
	GetCapacitySlot(ctx context.Context, serviceID int64, locationID *int64, at time.Time) (*model.CapacitySlot, error)
	GetCapacitySlotByID(ctx context.Context, id int64) (*model.CapacitySlot, error)
	InsertCapacitySlotIfAbsent(ctx context.Context, s *model.CapacitySlot) (*model.CapacitySlot, error)
	SaveCapacitySlot(ctx context.Context, s *model.CapacitySlot) error
	ReserveCapacity(ctx context.Context, id int64, count int, now time.Time) (bool, error)
	ReleaseCapacity(ctx context.Context, id int64, count int) (bool, error)
	BlockCapacity(ctx context.Context, id int64, count int, reason string) (bool, error)
	UnblockCapacity(ctx context.Context, id int64, count int) (bool, error)
	ListCapacitySlots(ctx context.Context, serviceID int64, locationID *int64, from, to time.Time) ([]model.CapacitySlot, error)
	PurgeCapacitySlots(ctx context.Context, cutoff time.Time) (int64, error)
}

// Tracker counts reservations per (service, location, start time).
type Tracker struct {
	store  Store
	logger *zerolog.Logger
	now    func() time.Time
}

// NewTracker creates a capacity tracker.
func NewTracker(store Store, logger *zerolog.Logger) *Tracker {
	l := logger.With().Str("component", "capacity").Logger()
	return &Tracker{store: store, logger: &l, now: time.Now}
}

// SetNow overrides the clock used for the upcoming-slot check.
func (t *Tracker) SetNow(now func() time.Time) {
	t.now = now
}

// Find returns the stored slot or model.ErrNotFound. It never creates one.
func (t *Tracker) Find(ctx context.Context, serviceID int64, locationID *int64, at time.Time) (*model.CapacitySlot, error) {
	return t.store.GetCapacitySlot(ctx, serviceID, locationID, at)
}

// FindOrCreate returns the slot for the key, creating it with
// defaultMaxCapacity on first reference. Repeated and concurrent calls
// return the same row.
func (t *Tracker) FindOrCreate(ctx context.Context, serviceID int64, locationID *int64, at time.Time, defaultMaxCapacity int) (*model.CapacitySlot, error) {
	slot, err := t.store.GetCapacitySlot(ctx, serviceID, locationID, at)
	if err == nil {
		return slot, nil
	}
	if !errors.Is(err, model.ErrNotFound) {
		t.logFailure(err, serviceID, locationID, at, "load capacity slot")
		return nil, fmt.Errorf("load capacity slot: %w", err)
	}

	fresh := &model.CapacitySlot{
		ServiceID:    serviceID,
		LocationID:   locationID,
		SlotDatetime: at,
		MaxCapacity:  defaultMaxCapacity,
	}
	t.repair(fresh)
	slot, err = t.store.InsertCapacitySlotIfAbsent(ctx, fresh)
	if err != nil {
		t.logFailure(err, serviceID, locationID, at, "create capacity slot")
		return nil, fmt.Errorf("create capacity slot: %w", err)
	}
	return slot, nil
}

// Reserve adds count bookings to slot. It returns false, leaving the
// counters untouched, unless the slot is upcoming, not blocked and has count
// free units at the moment of the update. slot is refreshed from the store
// either way.
func (t *Tracker) Reserve(ctx context.Context, slot *model.CapacitySlot, count int) (bool, error) {
	if err := checkCount(count); err != nil {
		return false, err
	}
	ok, err := t.store.ReserveCapacity(ctx, slot.ID, count, t.now())
	return t.finish(ctx, "reserve", slot, ok, err)
}

// Release removes count bookings; it fails when fewer are recorded.
func (t *Tracker) Release(ctx context.Context, slot *model.CapacitySlot, count int) (bool, error) {
	if err := checkCount(count); err != nil {
		return false, err
	}
	ok, err := t.store.ReleaseCapacity(ctx, slot.ID, count)
	return t.finish(ctx, "release", slot, ok, err)
}

// Block withholds count free units from booking.
func (t *Tracker) Block(ctx context.Context, slot *model.CapacitySlot, count int, reason string) (bool, error) {
	if err := checkCount(count); err != nil {
		return false, err
	}
	ok, err := t.store.BlockCapacity(ctx, slot.ID, count, reason)
	return t.finish(ctx, "block", slot, ok, err)
}

// Unblock returns count withheld units.
func (t *Tracker) Unblock(ctx context.Context, slot *model.CapacitySlot, count int) (bool, error) {
	if err := checkCount(count); err != nil {
		return false, err
	}
	ok, err := t.store.UnblockCapacity(ctx, slot.ID, count)
	return t.finish(ctx, "unblock", slot, ok, err)
}

// SetBlocked closes or reopens the whole slot.
func (t *Tracker) SetBlocked(ctx context.Context, slot *model.CapacitySlot, blocked bool, reason string) error {
	slot.IsBlocked = blocked
	slot.BlockReason = ""
	if blocked {
		slot.BlockReason = reason
	}
	return t.Save(ctx, slot)
}

// Save writes slot after the repair step. Negative counters are floored at
// zero and a capacity below one becomes one; each clamp is logged and counted.
func (t *Tracker) Save(ctx context.Context, slot *model.CapacitySlot) error {
	t.repair(slot)
	if err := t.store.SaveCapacitySlot(ctx, slot); err != nil {
		t.logFailure(err, slot.ServiceID, slot.LocationID, slot.SlotDatetime, "save capacity slot")
		return fmt.Errorf("save capacity slot %d: %w", slot.ID, err)
	}
	return nil
}

// Slots lists stored slots of a service at a location within [from, to).
func (t *Tracker) Slots(ctx context.Context, serviceID int64, locationID *int64, from, to time.Time) ([]model.CapacitySlot, error) {
	slots, err := t.store.ListCapacitySlots(ctx, serviceID, locationID, from, to)
	if err != nil {
		t.logFailure(err, serviceID, locationID, from, "list capacity slots")
		return nil, fmt.Errorf("list capacity slots: %w", err)
	}
	return slots, nil
}

// PurgeStale removes slots older than age that never held a booking.
func (t *Tracker) PurgeStale(ctx context.Context, age time.Duration) (int64, error) {
	cutoff := t.now().Add(-age)
	n, err := t.store.PurgeCapacitySlots(ctx, cutoff)
	if err != nil {
		t.logger.Error().Err(err).Time("cutoff", cutoff).Msg("purge capacity slots")
		return 0, err
	}
	metrics.AddPurgedSlots(n)
	t.logger.Info().Int64("deleted", n).Time("cutoff", cutoff).Msg("purged unused capacity slots")
	return n, nil
}

func (t *Tracker) finish(ctx context.Context, op string, slot *model.CapacitySlot, ok bool, err error) (bool, error) {
	if err != nil {
		t.logFailure(err, slot.ServiceID, slot.LocationID, slot.SlotDatetime, op)
		return false, fmt.Errorf("%s capacity slot %d: %w", op, slot.ID, err)
	}
	metrics.IncCapacityOp(op, ok)

	fresh, err := t.store.GetCapacitySlotByID(ctx, slot.ID)
	if err != nil {
		t.logFailure(err, slot.ServiceID, slot.LocationID, slot.SlotDatetime, "refresh capacity slot")
		return ok, fmt.Errorf("refresh capacity slot %d: %w", slot.ID, err)
	}
	*slot = *fresh
	return ok, nil
}

func (t *Tracker) repair(slot *model.CapacitySlot) {
	fixed := slot.Repair()
	if len(fixed) == 0 {
		return
	}
	for _, field := range fixed {
		metrics.IncCapacityRepair(field)
	}
	t.logger.Warn().
		Int64("slot_id", slot.ID).
		Int64("service_id", slot.ServiceID).
		Time("slot_datetime", slot.SlotDatetime).
		Strs("fields", fixed).
		Msg("capacity slot clamped on save")
}

func (t *Tracker) logFailure(err error, serviceID int64, locationID *int64, at time.Time, msg string) {
	ev := t.logger.Error().Err(err).Int64("service_id", serviceID).Time("slot_datetime", at)
	if locationID != nil {
		ev = ev.Int64("location_id", *locationID)
	}
	ev.Msg(msg)
}

func checkCount(count int) error {
	if count < 1 {
		return &model.ValidationError{Field: "count", Reason: "must be at least 1"}
	}
	return nil
}

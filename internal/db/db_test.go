package db

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"venuebook/internal/config"
	"venuebook/internal/interval"
	"venuebook/internal/model"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	logger := zerolog.Nop()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func intPtr(v int) *int { return &v }

func TestWindows_RoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	loc := int64(3)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)

	w := &model.AvailabilityWindow{
		ServiceID:            1,
		LocationID:           &loc,
		Pattern:              model.PatternDateRange,
		StartDate:            &start,
		EndDate:              &end,
		StartTime:            interval.MustClock("22:00"),
		EndTime:              interval.MustClock("02:00"),
		MaxBookings:          2,
		SlotDurationMinutes:  60,
		BreakDurationMinutes: 15,
		MinAdvanceHours:      intPtr(4),
		PriceModifier:        1.5,
		IsActive:             true,
		IsBookable:           true,
	}
	require.NoError(t, db.CreateWindow(ctx, w))
	require.NotZero(t, w.ID)

	got, err := db.GetWindow(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PatternDateRange, got.Pattern)
	assert.Equal(t, interval.MustClock("22:00"), got.StartTime)
	assert.Equal(t, interval.MustClock("02:00"), got.EndTime)
	require.NotNil(t, got.StartDate)
	assert.Equal(t, "2024-01-01", got.StartDate.Format("2006-01-02"))
	assert.Equal(t, 4, *got.MinAdvanceHours)
	assert.Nil(t, got.MaxAdvanceDays)
	assert.Nil(t, got.DayOfWeek)
	assert.Equal(t, 1.5, got.PriceModifier)

	forService, err := db.ListWindowsForService(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, forService, 1)

	other, err := db.ListWindowsForLocation(ctx, 99)
	require.NoError(t, err)
	assert.Empty(t, other)

	got.MaxBookings = 5
	require.NoError(t, db.UpdateWindow(ctx, got))

	require.NoError(t, db.SoftDeleteWindow(ctx, w.ID))
	deleted, err := db.GetWindow(ctx, w.ID)
	require.NoError(t, err)
	assert.NotNil(t, deleted.DeletedAt)
	assert.Equal(t, 5, deleted.MaxBookings)

	forService, err = db.ListWindowsForService(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, forService)

	assert.ErrorIs(t, db.SoftDeleteWindow(ctx, w.ID), model.ErrNotFound)
	_, err = db.GetWindow(ctx, 12345)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestVenueWindows_RoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	qs, qe := interval.MustClock("22:00"), interval.MustClock("23:00")

	w := &model.VenueAvailabilityWindow{
		LocationID:          1,
		WindowType:          model.VenueSpecialEvent,
		DayOfWeek:           intPtr(5),
		EarliestAccess:      interval.MustClock("10:00"),
		LatestDeparture:     interval.MustClock("23:30"),
		QuietHoursStart:     &qs,
		QuietHoursEnd:       &qe,
		MaxConcurrentEvents: 2,
		Restrictions:        []string{"no confetti", "no pets"},
		Notes:               "friday socials",
		IsActive:            true,
	}
	require.NoError(t, db.CreateVenueWindow(ctx, w))

	list, err := db.ListVenueWindows(ctx, 1)
	require.NoError(t, err)
	require.Len(t, list, 1)
	got := list[0]
	assert.Equal(t, []string{"no confetti", "no pets"}, got.Restrictions)
	require.NotNil(t, got.QuietHoursStart)
	assert.Equal(t, qs, *got.QuietHoursStart)
	assert.Equal(t, 5, *got.DayOfWeek)
	assert.Equal(t, "friday socials", got.Notes)

	got.WindowType = model.VenueMaintenance
	got.QuietHoursStart, got.QuietHoursEnd = nil, nil
	require.NoError(t, db.UpdateVenueWindow(ctx, &got))

	reloaded, err := db.GetVenueWindow(ctx, got.ID)
	require.NoError(t, err)
	assert.Equal(t, model.VenueMaintenance, reloaded.WindowType)
	assert.Nil(t, reloaded.QuietHoursStart)

	require.NoError(t, db.SoftDeleteVenueWindow(ctx, got.ID))
	list, err = db.ListVenueWindows(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestCapacity_ConditionalUpdates(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	now := time.Now()
	at := now.Add(24 * time.Hour)

	slot, err := db.InsertCapacitySlotIfAbsent(ctx, &model.CapacitySlot{ServiceID: 1, SlotDatetime: at, MaxCapacity: 2})
	require.NoError(t, err)
	assert.Nil(t, slot.LocationID)

	again, err := db.InsertCapacitySlotIfAbsent(ctx, &model.CapacitySlot{ServiceID: 1, SlotDatetime: at, MaxCapacity: 9})
	require.NoError(t, err)
	assert.Equal(t, slot.ID, again.ID, "natural key is unique")
	assert.Equal(t, 2, again.MaxCapacity)

	ok, err := db.ReserveCapacity(ctx, slot.ID, 2, now)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = db.ReserveCapacity(ctx, slot.ID, 1, now)
	require.NoError(t, err)
	assert.False(t, ok, "slot is full")

	ok, err = db.BlockCapacity(ctx, slot.ID, 1, "deep clean")
	require.NoError(t, err)
	assert.False(t, ok, "nothing left to block")

	ok, err = db.ReleaseCapacity(ctx, slot.ID, 3)
	require.NoError(t, err)
	assert.False(t, ok, "cannot release more than booked")

	ok, err = db.ReleaseCapacity(ctx, slot.ID, 1)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = db.BlockCapacity(ctx, slot.ID, 1, "deep clean")
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := db.GetCapacitySlotByID(ctx, slot.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.CurrentBookings)
	assert.Equal(t, 1, got.BlockedSlots)
	assert.Equal(t, "deep clean", got.BlockReason)

	ok, err = db.UnblockCapacity(ctx, slot.ID, 1)
	require.NoError(t, err)
	assert.True(t, ok)
	got, err = db.GetCapacitySlotByID(ctx, slot.ID)
	require.NoError(t, err)
	assert.Empty(t, got.BlockReason)

	past, err := db.InsertCapacitySlotIfAbsent(ctx, &model.CapacitySlot{ServiceID: 1, SlotDatetime: now.Add(-time.Hour), MaxCapacity: 2})
	require.NoError(t, err)
	ok, err = db.ReserveCapacity(ctx, past.ID, 1, now)
	require.NoError(t, err)
	assert.False(t, ok, "past slots cannot be reserved")
}

func TestCapacity_ListAndPurge(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	loc := int64(2)
	base := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		_, err := db.InsertCapacitySlotIfAbsent(ctx, &model.CapacitySlot{
			ServiceID: 1, LocationID: &loc, SlotDatetime: base.Add(time.Duration(i) * time.Hour), MaxCapacity: 1,
		})
		require.NoError(t, err)
	}
	used, err := db.GetCapacitySlot(ctx, 1, &loc, base)
	require.NoError(t, err)
	used.CurrentBookings = 1
	require.NoError(t, db.SaveCapacitySlot(ctx, used))

	slots, err := db.ListCapacitySlots(ctx, 1, &loc, base, base.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Len(t, slots, 2)

	n, err := db.PurgeCapacitySlots(ctx, base.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	slots, err = db.ListCapacitySlots(ctx, 1, &loc, base, base.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, slots, 1)
	assert.Equal(t, 1, slots[0].CurrentBookings)
}

func TestBookings_Queries(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	day := time.Date(2030, 1, 7, 0, 0, 0, 0, time.UTC)

	mk := func(h int, status model.BookingStatus) *model.Booking {
		b := &model.Booking{
			ServiceID:   1,
			LocationID:  1,
			ScheduledAt: day.Add(time.Duration(h) * time.Hour),
			EndsAt:      day.Add(time.Duration(h+1) * time.Hour),
			Status:      status,
		}
		require.NoError(t, db.CreateBooking(ctx, b))
		return b
	}
	confirmed := mk(10, model.BookingConfirmed)
	mk(12, model.BookingCancelled)
	completed := mk(14, model.BookingCompleted)
	pending := mk(16, model.BookingPending)

	occupying, err := db.ListOccupyingBookings(ctx, 1, day, day.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, occupying, 3)
	assert.Equal(t, confirmed.ID, occupying[0].ID)

	touching, err := db.ListOccupyingBookings(ctx, 1, day.Add(11*time.Hour), day.Add(12*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, touching, "touching endpoints do not overlap")

	active, err := db.ListActiveBookingsFrom(ctx, 1, day)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, pending.ID, active[1].ID)

	forService, err := db.ListActiveBookingsForService(ctx, 1, nil, day)
	require.NoError(t, err)
	assert.Len(t, forService, 2)

	require.NoError(t, db.FlagBookingForReview(ctx, confirmed.ID, "window narrowed"))
	got, err := db.GetBooking(ctx, confirmed.ID)
	require.NoError(t, err)
	assert.True(t, got.NeedsReview)
	assert.Equal(t, "window narrowed", got.ReviewReason)

	newStart := day.AddDate(0, 0, 1).Add(9 * time.Hour)
	require.NoError(t, db.RescheduleBooking(ctx, confirmed.ID, newStart, newStart.Add(time.Hour)))
	got, err = db.GetBooking(ctx, confirmed.ID)
	require.NoError(t, err)
	assert.True(t, got.ScheduledAt.Equal(newStart))
	assert.False(t, got.NeedsReview)

	require.NoError(t, db.CancelBooking(ctx, completed.ID, "venue closed"))
	got, err = db.GetBooking(ctx, completed.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BookingCancelled, got.Status)
	assert.Equal(t, "venue closed", got.CancellationReason)

	assert.ErrorIs(t, db.CancelBooking(ctx, 999, "x"), model.ErrNotFound)
}

func TestAmenities_UniqueNameAndDependents(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	arch := &model.VenueAmenity{
		LocationID:        1,
		AmenityType:       model.AmenityEquipment,
		Name:              "Balloon Arch",
		AdditionalCost:    5000,
		QuantityAvailable: 10,
		Specifications:    model.Specs{"height_m": model.NumberSpec(3), "color": model.TextSpec("white")},
		IsActive:          true,
	}
	require.NoError(t, db.CreateAmenity(ctx, arch))

	dup := *arch
	dup.ID = 0
	dup.Name = " balloon arch "
	err := db.CreateAmenity(ctx, &dup)
	var ve *model.ValidationError
	require.True(t, errors.As(err, &ve), "got %v", err)
	assert.Equal(t, "name", ve.Field)

	otherType := dup
	otherType.AmenityType = model.AmenityService
	otherType.Specifications = nil
	require.NoError(t, db.CreateAmenity(ctx, &otherType), "same name with another type is allowed")

	list, err := db.ListAmenities(ctx, 1)
	require.NoError(t, err)
	require.Len(t, list, 2)
	for _, a := range list {
		if a.ID == arch.ID {
			assert.Equal(t, model.NumberSpec(3), a.Specifications["height_m"])
			assert.Equal(t, model.TextSpec("white"), a.Specifications["color"])
		}
	}

	future := time.Now().Add(72 * time.Hour)
	b := &model.Booking{ServiceID: 1, LocationID: 1, ScheduledAt: future, EndsAt: future.Add(time.Hour), Status: model.BookingConfirmed}
	require.NoError(t, db.CreateBooking(ctx, b))
	require.NoError(t, db.AttachAmenity(ctx, b.ID, arch.ID, 5))

	using, err := db.ListActiveBookingsUsingAmenity(ctx, arch.ID, time.Now())
	require.NoError(t, err)
	require.Len(t, using, 1)
	assert.Equal(t, b.ID, using[0].ID)

	require.NoError(t, db.DeleteAmenity(ctx, arch.ID))
	_, err = db.GetAmenity(ctx, arch.ID)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestSyncCatalog(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	cat := &config.Catalog{
		Services:  []config.ServiceConfig{{ID: 1, Name: "Studio", BasePrice: 100, DurationMinutes: 60, DefaultCapacity: 2, IsActive: true}},
		Locations: []config.LocationConfig{{ID: 10, Name: "Loft", IsActive: true}},
		Amenities: []config.AmenityConfig{{ID: 7, LocationID: 10, Type: "furniture", Name: "Table", QuantityAvailable: 4}},
	}
	require.NoError(t, db.SyncCatalog(ctx, cat))

	svc, err := db.GetService(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "Studio", svc.Name)
	assert.Equal(t, 2, svc.DefaultCapacity)

	// Second sync updates in place and deactivates services that disappeared.
	cat.Services[0].Name = "Studio hire"
	cat.Amenities[0].QuantityAvailable = 6
	require.NoError(t, db.UpsertService(ctx, &model.Service{ID: 2, Name: "Old", DurationMinutes: 30, DefaultCapacity: 1, IsActive: true}))
	require.NoError(t, db.SyncCatalog(ctx, cat))

	svc, err = db.GetService(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "Studio hire", svc.Name)

	old, err := db.GetService(ctx, 2)
	require.NoError(t, err)
	assert.False(t, old.IsActive)

	l, err := db.GetLocation(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, "Loft", l.Name)

	ids, err := db.ListLocationIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{10}, ids)

	amenities, err := db.ListAmenities(ctx, 10)
	require.NoError(t, err)
	require.Len(t, amenities, 1)
	assert.Equal(t, 6, amenities[0].QuantityAvailable)
}

func TestSyncCatalog_RollsBackOnError(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	require.NoError(t, db.UpsertService(ctx, &model.Service{ID: 1, Name: "Studio", DurationMinutes: 60, DefaultCapacity: 1, IsActive: true}))

	cat := &config.Catalog{
		Services:  []config.ServiceConfig{{ID: 1, Name: "Renamed", DurationMinutes: 60, DefaultCapacity: 1, IsActive: true}},
		Locations: []config.LocationConfig{{ID: 10, Name: "Loft", IsActive: true}},
		Amenities: []config.AmenityConfig{
			{ID: 7, LocationID: 10, Type: "furniture", Name: "Table", QuantityAvailable: 4},
			{ID: 8, LocationID: 10, Type: "furniture", Name: "table", QuantityAvailable: 2},
		},
	}
	err := db.SyncCatalog(ctx, cat)
	var ve *model.ValidationError
	require.ErrorAs(t, err, &ve)

	svc, err := db.GetService(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "Studio", svc.Name, "nothing from the failed sync is kept")
	_, err = db.GetLocation(ctx, 10)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestCatalogEntries(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	_, found, err := db.CatalogEntry(ctx, "window", 5)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, db.SaveCatalogEntry(ctx, "window", 5, `{"id":5}`))
	require.NoError(t, db.SaveCatalogEntry(ctx, "window", 5, `{"id":5,"max_bookings":2}`))
	entry, found, err := db.CatalogEntry(ctx, "window", 5)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, `{"id":5,"max_bookings":2}`, entry)

	_, found, err = db.CatalogEntry(ctx, "venue_window", 5)
	require.NoError(t, err)
	assert.False(t, found, "kinds are separate")

	require.NoError(t, db.SaveCatalogEntry(ctx, "window", 2, `{"id":2}`))
	ids, err := db.CatalogEntryIDs(ctx, "window")
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 5}, ids)

	require.NoError(t, db.DeleteCatalogEntry(ctx, "window", 5))
	ids, err = db.CatalogEntryIDs(ctx, "window")
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, ids)
}

func TestAudit(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.LogAudit(ctx, "availability_window", 4, "create", map[string]any{"service_id": 1}))
	require.NoError(t, db.LogAudit(ctx, "availability_window", 4, "delete", nil))

	entries, err := db.ListAudit(ctx, "availability_window", 4)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "delete", entries[0].Action)
	assert.JSONEq(t, `{"service_id":1}`, entries[1].Details)
}

func TestBackupTo(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	require.NoError(t, db.LogAudit(ctx, "venue_window", 2, "create", nil))

	path := filepath.Join(t.TempDir(), "copy.db")
	require.NoError(t, db.BackupTo(ctx, path))
	assert.Error(t, db.BackupTo(ctx, path), "existing target")

	logger := zerolog.Nop()
	restored, err := Open(path, &logger)
	require.NoError(t, err)
	defer restored.Close()

	entries, err := restored.ListAudit(ctx, "venue_window", 2)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

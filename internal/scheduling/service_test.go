package scheduling

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"venuebook/internal/amenity"
	"venuebook/internal/availability"
	"venuebook/internal/config"
	"venuebook/internal/conflict"
	"venuebook/internal/events"
	"venuebook/internal/interval"
	"venuebook/internal/model"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) GetService(ctx context.Context, id int64) (*model.Service, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Service), args.Error(1)
}
func (m *mockStore) ListLocationIDs(ctx context.Context) ([]int64, error) {
	args := m.Called(ctx)
	return args.Get(0).([]int64), args.Error(1)
}
func (m *mockStore) GetWindow(ctx context.Context, id int64) (*model.AvailabilityWindow, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.AvailabilityWindow), args.Error(1)
}
func (m *mockStore) CreateWindow(ctx context.Context, w *model.AvailabilityWindow) error {
	return m.Called(ctx, w).Error(0)
}
func (m *mockStore) UpdateWindow(ctx context.Context, w *model.AvailabilityWindow) error {
	return m.Called(ctx, w).Error(0)
}
func (m *mockStore) SoftDeleteWindow(ctx context.Context, id int64) error {
	return m.Called(ctx, id).Error(0)
}
func (m *mockStore) GetVenueWindow(ctx context.Context, id int64) (*model.VenueAvailabilityWindow, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.VenueAvailabilityWindow), args.Error(1)
}
func (m *mockStore) CreateVenueWindow(ctx context.Context, w *model.VenueAvailabilityWindow) error {
	return m.Called(ctx, w).Error(0)
}
func (m *mockStore) UpdateVenueWindow(ctx context.Context, w *model.VenueAvailabilityWindow) error {
	return m.Called(ctx, w).Error(0)
}
func (m *mockStore) SoftDeleteVenueWindow(ctx context.Context, id int64) error {
	return m.Called(ctx, id).Error(0)
}
func (m *mockStore) GetAmenity(ctx context.Context, id int64) (*model.VenueAmenity, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.VenueAmenity), args.Error(1)
}
func (m *mockStore) CreateAmenity(ctx context.Context, a *model.VenueAmenity) error {
	return m.Called(ctx, a).Error(0)
}
func (m *mockStore) UpdateAmenity(ctx context.Context, a *model.VenueAmenity) error {
	return m.Called(ctx, a).Error(0)
}
func (m *mockStore) DeleteAmenity(ctx context.Context, id int64) error {
	return m.Called(ctx, id).Error(0)
}
func (m *mockStore) ListActiveBookingsUsingAmenity(ctx context.Context, id int64, now time.Time) ([]model.Booking, error) {
	args := m.Called(ctx, id, now)
	return args.Get(0).([]model.Booking), args.Error(1)
}
func (m *mockStore) GetBooking(ctx context.Context, id int64) (*model.Booking, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Booking), args.Error(1)
}
func (m *mockStore) SyncCatalog(ctx context.Context, cat *config.Catalog) error {
	return m.Called(ctx, cat).Error(0)
}
func (m *mockStore) CatalogEntry(ctx context.Context, kind string, id int64) (string, bool, error) {
	args := m.Called(ctx, kind, id)
	return args.String(0), args.Bool(1), args.Error(2)
}
func (m *mockStore) CatalogEntryIDs(ctx context.Context, kind string) ([]int64, error) {
	args := m.Called(ctx, kind)
	return args.Get(0).([]int64), args.Error(1)
}
func (m *mockStore) SaveCatalogEntry(ctx context.Context, kind string, id int64, entry string) error {
	return m.Called(ctx, kind, id, entry).Error(0)
}
func (m *mockStore) DeleteCatalogEntry(ctx context.Context, kind string, id int64) error {
	return m.Called(ctx, kind, id).Error(0)
}
func (m *mockStore) AttachAmenity(ctx context.Context, bookingID, amenityID int64, quantity int) error {
	return m.Called(ctx, bookingID, amenityID, quantity).Error(0)
}
func (m *mockStore) LogAudit(ctx context.Context, entity string, id int64, action string, details any) error {
	return m.Called(ctx, entity, id, action, details).Error(0)
}

type mockEngine struct {
	mock.Mock
}

func (m *mockEngine) GetAvailableSlots(ctx context.Context, loc int64, s, e time.Time, d int, o availability.Options) ([]availability.Slot, error) {
	args := m.Called(ctx, loc, s, e, d, o)
	return args.Get(0).([]availability.Slot), args.Error(1)
}
func (m *mockEngine) ServiceSlots(ctx context.Context, svc, loc int64, s, e time.Time) ([]availability.Slot, error) {
	args := m.Called(ctx, svc, loc, s, e)
	return args.Get(0).([]availability.Slot), args.Error(1)
}
func (m *mockEngine) GeneratePublicAvailabilityCalendar(ctx context.Context, loc int64, s, e time.Time, d int, o availability.Options) (*availability.Calendar, error) {
	args := m.Called(ctx, loc, s, e, d, o)
	return args.Get(0).(*availability.Calendar), args.Error(1)
}
func (m *mockEngine) InvalidateLocation(ctx context.Context, loc int64) error {
	return m.Called(ctx, loc).Error(0)
}

type mockCapacity struct {
	mock.Mock
}

func (m *mockCapacity) Find(ctx context.Context, svc int64, loc *int64, at time.Time) (*model.CapacitySlot, error) {
	args := m.Called(ctx, svc, loc, at)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.CapacitySlot), args.Error(1)
}
func (m *mockCapacity) SetBlocked(ctx context.Context, s *model.CapacitySlot, blocked bool, reason string) error {
	return m.Called(ctx, s, blocked, reason).Error(0)
}
func (m *mockCapacity) FindOrCreate(ctx context.Context, svc int64, loc *int64, at time.Time, def int) (*model.CapacitySlot, error) {
	args := m.Called(ctx, svc, loc, at, def)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.CapacitySlot), args.Error(1)
}
func (m *mockCapacity) Reserve(ctx context.Context, s *model.CapacitySlot, n int) (bool, error) {
	args := m.Called(ctx, s, n)
	return args.Bool(0), args.Error(1)
}
func (m *mockCapacity) Release(ctx context.Context, s *model.CapacitySlot, n int) (bool, error) {
	args := m.Called(ctx, s, n)
	return args.Bool(0), args.Error(1)
}
func (m *mockCapacity) Block(ctx context.Context, s *model.CapacitySlot, n int, r string) (bool, error) {
	args := m.Called(ctx, s, n, r)
	return args.Bool(0), args.Error(1)
}
func (m *mockCapacity) Unblock(ctx context.Context, s *model.CapacitySlot, n int) (bool, error) {
	args := m.Called(ctx, s, n)
	return args.Bool(0), args.Error(1)
}

type mockAnalyzer struct {
	mock.Mock
}

func (m *mockAnalyzer) CheckServiceWindow(ctx context.Context, w *model.AvailabilityWindow) ([]conflict.Conflict, error) {
	args := m.Called(ctx, w)
	return args.Get(0).([]conflict.Conflict), args.Error(1)
}
func (m *mockAnalyzer) CheckVenueWindow(ctx context.Context, w *model.VenueAvailabilityWindow) ([]conflict.Conflict, error) {
	args := m.Called(ctx, w)
	return args.Get(0).([]conflict.Conflict), args.Error(1)
}
func (m *mockAnalyzer) AssessBookingImpact(ctx context.Context, cur, next *model.VenueAvailabilityWindow) (*conflict.ImpactReport, error) {
	args := m.Called(ctx, cur, next)
	return args.Get(0).(*conflict.ImpactReport), args.Error(1)
}
func (m *mockAnalyzer) AssessDeletionImpact(ctx context.Context, w *model.VenueAvailabilityWindow) (*conflict.ImpactReport, error) {
	args := m.Called(ctx, w)
	return args.Get(0).(*conflict.ImpactReport), args.Error(1)
}
func (m *mockAnalyzer) AssessServiceWindowUpdate(ctx context.Context, cur, next *model.AvailabilityWindow) (*conflict.ImpactReport, error) {
	args := m.Called(ctx, cur, next)
	return args.Get(0).(*conflict.ImpactReport), args.Error(1)
}
func (m *mockAnalyzer) AssessServiceWindowDeletion(ctx context.Context, w *model.AvailabilityWindow) (*conflict.ImpactReport, error) {
	args := m.Called(ctx, w)
	return args.Get(0).(*conflict.ImpactReport), args.Error(1)
}
func (m *mockAnalyzer) HandleAffectedBookings(ctx context.Context, r *conflict.ImpactReport) ([]conflict.Outcome, error) {
	args := m.Called(ctx, r)
	return args.Get(0).([]conflict.Outcome), args.Error(1)
}

type mockMatcher struct {
	mock.Mock
}

func (m *mockMatcher) MatchRequirements(ctx context.Context, loc int64, reqs []amenity.Requirement, d *time.Time) (*amenity.MatchResult, error) {
	args := m.Called(ctx, loc, reqs, d)
	return args.Get(0).(*amenity.MatchResult), args.Error(1)
}

type fixture struct {
	store    *mockStore
	engine   *mockEngine
	capacity *mockCapacity
	analyzer *mockAnalyzer
	matcher  *mockMatcher
	bus      *events.EventBus
	svc      *Service
}

var now = time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)

func newFixture() *fixture {
	f := &fixture{
		store:    new(mockStore),
		engine:   new(mockEngine),
		capacity: new(mockCapacity),
		analyzer: new(mockAnalyzer),
		matcher:  new(mockMatcher),
		bus:      events.NewEventBus(),
	}
	logger := zerolog.New(io.Discard)
	f.svc = NewService(f.store, f.engine, f.capacity, f.analyzer, f.matcher, f.bus, &logger)
	f.svc.SetNow(func() time.Time { return now })
	f.store.On("LogAudit", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	return f
}

func (f *fixture) assertExpectations(t *testing.T) {
	f.store.AssertExpectations(t)
	f.engine.AssertExpectations(t)
	f.capacity.AssertExpectations(t)
	f.analyzer.AssertExpectations(t)
}

func int64Ptr(v int64) *int64 { return &v }

func TestReserveSlot(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)
	loc := int64Ptr(1)
	slot := &model.CapacitySlot{ID: 7, ServiceID: 10, MaxCapacity: 3}

	t.Run("reserved and cache invalidated", func(t *testing.T) {
		f := newFixture()
		f.store.On("GetService", ctx, int64(10)).Return(&model.Service{ID: 10, DefaultCapacity: 3}, nil)
		f.capacity.On("FindOrCreate", ctx, int64(10), loc, at, 3).Return(slot, nil)
		f.capacity.On("Reserve", ctx, slot, 1).Return(true, nil)
		f.engine.On("InvalidateLocation", ctx, int64(1)).Return(nil)

		ok, err := f.svc.ReserveSlot(ctx, SlotRef{ServiceID: 10, LocationID: loc, SlotDatetime: at}, 1)
		require.NoError(t, err)
		assert.True(t, ok)
		f.assertExpectations(t)
	})

	t.Run("full slot leaves cache alone", func(t *testing.T) {
		f := newFixture()
		f.store.On("GetService", ctx, int64(10)).Return(&model.Service{ID: 10, DefaultCapacity: 3}, nil)
		f.capacity.On("FindOrCreate", ctx, int64(10), loc, at, 3).Return(slot, nil)
		f.capacity.On("Reserve", ctx, slot, 1).Return(false, nil)

		ok, err := f.svc.ReserveSlot(ctx, SlotRef{ServiceID: 10, LocationID: loc, SlotDatetime: at}, 1)
		require.NoError(t, err)
		assert.False(t, ok)
		f.engine.AssertNotCalled(t, "InvalidateLocation", mock.Anything, mock.Anything)
	})

	t.Run("any location invalidates every location", func(t *testing.T) {
		f := newFixture()
		f.store.On("GetService", ctx, int64(10)).Return(&model.Service{ID: 10, DefaultCapacity: 1}, nil)
		f.capacity.On("FindOrCreate", ctx, int64(10), (*int64)(nil), at, 1).Return(slot, nil)
		f.capacity.On("Release", ctx, slot, 2).Return(true, nil)
		f.store.On("ListLocationIDs", ctx).Return([]int64{1, 2}, nil)
		f.engine.On("InvalidateLocation", ctx, int64(1)).Return(nil)
		f.engine.On("InvalidateLocation", ctx, int64(2)).Return(nil)

		ok, err := f.svc.ReleaseSlot(ctx, SlotRef{ServiceID: 10, SlotDatetime: at}, 2)
		require.NoError(t, err)
		assert.True(t, ok)
		f.assertExpectations(t)
	})

	t.Run("missing service id", func(t *testing.T) {
		f := newFixture()
		_, err := f.svc.BlockSlot(ctx, SlotRef{SlotDatetime: at}, 1, "private event")
		var ve *model.ValidationError
		require.ErrorAs(t, err, &ve)
		assert.Equal(t, "service_id", ve.Field)
	})
}

func weeklyWindow() *model.AvailabilityWindow {
	day := 1
	return &model.AvailabilityWindow{
		ServiceID:           10,
		Pattern:             model.PatternWeekly,
		DayOfWeek:           &day,
		StartTime:           interval.MustClock("09:00"),
		EndTime:             interval.MustClock("17:00"),
		MaxBookings:         2,
		SlotDurationMinutes: 60,
		PriceModifier:       1,
		IsActive:            true,
		IsBookable:          true,
	}
}

func TestCreateWindow(t *testing.T) {
	ctx := context.Background()

	t.Run("rejects malformed window", func(t *testing.T) {
		f := newFixture()
		w := weeklyWindow()
		w.SlotDurationMinutes = 0

		_, err := f.svc.CreateWindow(ctx, w)
		require.Error(t, err)
		assert.True(t, model.IsConfiguration(err))
		f.store.AssertNotCalled(t, "CreateWindow", mock.Anything, mock.Anything)
	})

	t.Run("stores and returns overlaps", func(t *testing.T) {
		f := newFixture()
		w := weeklyWindow()
		w.LocationID = int64Ptr(1)
		overlaps := []conflict.Conflict{{OtherWindowID: 3, Severity: conflict.SeverityHigh}}
		f.analyzer.On("CheckServiceWindow", ctx, w).Return(overlaps, nil)
		f.store.On("CreateWindow", ctx, w).Return(nil).Run(func(args mock.Arguments) {
			args.Get(1).(*model.AvailabilityWindow).ID = 42
		})
		f.engine.On("InvalidateLocation", ctx, int64(1)).Return(nil)

		var published []events.Event
		f.bus.Subscribe(events.WindowChanged, func(e events.Event) error {
			published = append(published, e)
			return nil
		})

		res, err := f.svc.CreateWindow(ctx, w)
		require.NoError(t, err)
		assert.Equal(t, int64(42), res.Window.ID)
		assert.Equal(t, overlaps, res.Conflicts)
		require.Len(t, published, 1)
		assert.Equal(t, int64(1), published[0].LocationID)
		f.assertExpectations(t)
	})
}

func TestUpdateWindow_HandlesAffectedBookings(t *testing.T) {
	ctx := context.Background()
	current := weeklyWindow()
	current.ID = 5
	current.LocationID = int64Ptr(1)

	t.Run("narrowed window flags bookings", func(t *testing.T) {
		f := newFixture()
		proposed := weeklyWindow()
		proposed.LocationID = int64Ptr(1)
		proposed.StartTime = interval.MustClock("14:00")
		report := &conflict.ImpactReport{
			WindowID:      5,
			HasConflicts:  true,
			TotalAffected: 1,
			Impacts:       []conflict.BookingImpact{{BookingID: 9, RecommendedAction: conflict.ActionManualReview}},
		}
		f.store.On("GetWindow", ctx, int64(5)).Return(current, nil)
		f.analyzer.On("CheckServiceWindow", ctx, proposed).Return([]conflict.Conflict{}, nil)
		f.analyzer.On("AssessServiceWindowUpdate", ctx, current, proposed).Return(report, nil)
		f.store.On("UpdateWindow", ctx, proposed).Return(nil)
		f.analyzer.On("HandleAffectedBookings", ctx, report).
			Return([]conflict.Outcome{{BookingID: 9, Result: conflict.ResultFlagged}}, nil)
		f.engine.On("InvalidateLocation", ctx, int64(1)).Return(nil)

		res, err := f.svc.UpdateWindow(ctx, 5, proposed)
		require.NoError(t, err)
		assert.Equal(t, int64(5), res.Window.ID)
		assert.Same(t, report, res.Impact)
		require.Len(t, res.Outcomes, 1)
		assert.Equal(t, conflict.ResultFlagged, res.Outcomes[0].Result)
		f.assertExpectations(t)
	})

	t.Run("invalid update stores nothing", func(t *testing.T) {
		f := newFixture()
		proposed := weeklyWindow()
		proposed.MaxBookings = 0
		f.store.On("GetWindow", ctx, int64(5)).Return(current, nil)

		_, err := f.svc.UpdateWindow(ctx, 5, proposed)
		require.Error(t, err)
		assert.True(t, model.IsConfiguration(err))
		f.store.AssertNotCalled(t, "UpdateWindow", mock.Anything, mock.Anything)
		f.analyzer.AssertNotCalled(t, "AssessServiceWindowUpdate", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestDeleteWindow(t *testing.T) {
	ctx := context.Background()
	w := weeklyWindow()
	w.ID = 5
	report := &conflict.ImpactReport{
		WindowID:      5,
		HasConflicts:  true,
		TotalAffected: 1,
		Impacts:       []conflict.BookingImpact{{BookingID: 9, RecommendedAction: conflict.ActionManualReview}},
	}

	t.Run("blocked by dependents", func(t *testing.T) {
		f := newFixture()
		f.store.On("GetWindow", ctx, int64(5)).Return(w, nil)
		f.analyzer.On("AssessServiceWindowDeletion", ctx, w).Return(report, nil)

		got, err := f.svc.DeleteWindow(ctx, 5, false)
		var de *model.DependencyError
		require.ErrorAs(t, err, &de)
		assert.Equal(t, 1, de.Count)
		assert.Same(t, report, got)
		f.store.AssertNotCalled(t, "SoftDeleteWindow", mock.Anything, mock.Anything)
	})

	t.Run("forced", func(t *testing.T) {
		f := newFixture()
		f.store.On("GetWindow", ctx, int64(5)).Return(w, nil)
		f.analyzer.On("AssessServiceWindowDeletion", ctx, w).Return(report, nil)
		f.store.On("SoftDeleteWindow", ctx, int64(5)).Return(nil)
		f.analyzer.On("HandleAffectedBookings", ctx, report).Return([]conflict.Outcome{{BookingID: 9, Result: conflict.ResultFlagged}}, nil)
		f.store.On("ListLocationIDs", ctx).Return([]int64{1}, nil)
		f.engine.On("InvalidateLocation", ctx, int64(1)).Return(nil)

		_, err := f.svc.DeleteWindow(ctx, 5, true)
		require.NoError(t, err)
		f.assertExpectations(t)
	})
}

func venue(id int64, kind model.VenueWindowType) *model.VenueAvailabilityWindow {
	return &model.VenueAvailabilityWindow{
		ID:                  id,
		LocationID:          1,
		WindowType:          kind,
		EarliestAccess:      interval.MustClock("08:00"),
		LatestDeparture:     interval.MustClock("22:00"),
		MaxConcurrentEvents: 1,
		IsActive:            true,
	}
}

func TestUpdateVenueWindow_CriticalNeedsOverride(t *testing.T) {
	ctx := context.Background()
	current := venue(4, model.VenueRegular)
	critical := &conflict.ImpactReport{
		WindowID:      4,
		HasConflicts:  true,
		TotalAffected: 1,
		Impacts: []conflict.BookingImpact{{
			BookingID: 9, Severity: conflict.SeverityCritical, RecommendedAction: conflict.ActionCancelBooking,
		}},
	}

	t.Run("refused", func(t *testing.T) {
		f := newFixture()
		proposed := venue(0, model.VenueMaintenance)
		f.store.On("GetVenueWindow", ctx, int64(4)).Return(current, nil)
		f.analyzer.On("CheckVenueWindow", ctx, proposed).Return([]conflict.Conflict{}, nil)
		f.analyzer.On("AssessBookingImpact", ctx, current, proposed).Return(critical, nil)

		res, err := f.svc.UpdateVenueWindow(ctx, 4, proposed, false)
		var ce *conflict.CriticalConflictError
		require.ErrorAs(t, err, &ce)
		assert.Len(t, ce.Impacts, 1)
		assert.Same(t, critical, res.Impact)
		f.store.AssertNotCalled(t, "UpdateVenueWindow", mock.Anything, mock.Anything)
		f.analyzer.AssertNotCalled(t, "HandleAffectedBookings", mock.Anything, mock.Anything)
	})

	t.Run("overridden", func(t *testing.T) {
		f := newFixture()
		proposed := venue(0, model.VenueMaintenance)
		f.store.On("GetVenueWindow", ctx, int64(4)).Return(current, nil)
		f.analyzer.On("CheckVenueWindow", ctx, proposed).Return([]conflict.Conflict{}, nil)
		f.analyzer.On("AssessBookingImpact", ctx, current, proposed).Return(critical, nil)
		f.store.On("UpdateVenueWindow", ctx, proposed).Return(nil)
		f.analyzer.On("HandleAffectedBookings", ctx, critical).
			Return([]conflict.Outcome{{BookingID: 9, Result: conflict.ResultCancelled}}, nil)
		f.engine.On("InvalidateLocation", ctx, int64(1)).Return(nil).Once()

		res, err := f.svc.UpdateVenueWindow(ctx, 4, proposed, true)
		require.NoError(t, err)
		assert.Equal(t, int64(4), res.Window.ID)
		require.Len(t, res.Outcomes, 1)
		assert.Equal(t, conflict.ResultCancelled, res.Outcomes[0].Result)
		f.assertExpectations(t)
	})
}

func TestCreateVenueWindow_NoImpact(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	w := venue(0, model.VenueRegular)
	empty := &conflict.ImpactReport{Impacts: []conflict.BookingImpact{}}

	f.analyzer.On("CheckVenueWindow", ctx, w).Return([]conflict.Conflict{}, nil)
	f.analyzer.On("AssessBookingImpact", ctx, mock.MatchedBy(func(before *model.VenueAvailabilityWindow) bool {
		return before.LocationID == 1 && !before.IsUsable()
	}), w).Return(empty, nil)
	f.store.On("CreateVenueWindow", ctx, w).Return(nil).Run(func(args mock.Arguments) {
		args.Get(1).(*model.VenueAvailabilityWindow).ID = 11
	})
	f.engine.On("InvalidateLocation", ctx, int64(1)).Return(nil)

	res, err := f.svc.CreateVenueWindow(ctx, w, false)
	require.NoError(t, err)
	assert.Equal(t, int64(11), res.Impact.WindowID)
	assert.Empty(t, res.Outcomes)
	f.assertExpectations(t)
}

func TestDeleteVenueWindow_TwoDependentBookings(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	w := venue(4, model.VenueRegular)
	report := &conflict.ImpactReport{
		WindowID:      4,
		HasConflicts:  true,
		TotalAffected: 2,
		Impacts:       []conflict.BookingImpact{{BookingID: 1}, {BookingID: 2}},
	}
	f.store.On("GetVenueWindow", ctx, int64(4)).Return(w, nil)
	f.analyzer.On("AssessDeletionImpact", ctx, w).Return(report, nil)

	_, err := f.svc.DeleteVenueWindow(ctx, 4, false)
	var de *model.DependencyError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, 2, de.Count)
	assert.Len(t, de.Dependents, 2)
}

func TestAmenities(t *testing.T) {
	ctx := context.Background()

	t.Run("create coerces specifications", func(t *testing.T) {
		f := newFixture()
		a := &model.VenueAmenity{
			LocationID:        1,
			AmenityType:       model.AmenityEquipment,
			Name:              "PA system",
			AdditionalCost:    2500,
			QuantityAvailable: 1,
			Specifications:    model.Specs{"power_watts": model.TextSpec("500")},
			IsActive:          true,
		}
		f.store.On("CreateAmenity", ctx, mock.MatchedBy(func(a *model.VenueAmenity) bool {
			return a.Specifications["power_watts"].Kind == model.SpecNumber
		})).Return(nil)

		_, err := f.svc.CreateAmenity(ctx, a)
		require.NoError(t, err)
		f.assertExpectations(t)
	})

	t.Run("restriction with cost rejected", func(t *testing.T) {
		f := newFixture()
		a := &model.VenueAmenity{LocationID: 1, AmenityType: model.AmenityRestriction, Name: "No confetti", AdditionalCost: 100}
		_, err := f.svc.CreateAmenity(ctx, a)
		var ve *model.ValidationError
		require.ErrorAs(t, err, &ve)
		f.store.AssertNotCalled(t, "CreateAmenity", mock.Anything, mock.Anything)
	})

	t.Run("delete blocked by bookings", func(t *testing.T) {
		f := newFixture()
		f.store.On("GetAmenity", ctx, int64(3)).Return(&model.VenueAmenity{ID: 3, LocationID: 1}, nil)
		f.store.On("ListActiveBookingsUsingAmenity", ctx, int64(3), now).Return([]model.Booking{{ID: 8}}, nil)

		err := f.svc.DeleteAmenity(ctx, 3, false)
		var de *model.DependencyError
		require.ErrorAs(t, err, &de)
		assert.Equal(t, []int64{8}, de.Dependents)
		f.store.AssertNotCalled(t, "DeleteAmenity", mock.Anything, mock.Anything)
	})

	t.Run("forced delete", func(t *testing.T) {
		f := newFixture()
		f.store.On("GetAmenity", ctx, int64(3)).Return(&model.VenueAmenity{ID: 3, LocationID: 1}, nil)
		f.store.On("ListActiveBookingsUsingAmenity", ctx, int64(3), now).Return([]model.Booking{{ID: 8}}, nil)
		f.store.On("DeleteAmenity", ctx, int64(3)).Return(nil)

		require.NoError(t, f.svc.DeleteAmenity(ctx, 3, true))
		f.assertExpectations(t)
	})

	t.Run("match delegates", func(t *testing.T) {
		f := newFixture()
		reqs := []amenity.Requirement{{Name: "balloon arch", Quantity: 5}}
		want := &amenity.MatchResult{LocationID: 1}
		f.matcher.On("MatchRequirements", ctx, int64(1), reqs, (*time.Time)(nil)).Return(want, nil)

		got, err := f.svc.MatchAmenities(ctx, 1, reqs, nil)
		require.NoError(t, err)
		assert.Same(t, want, got)
	})
}

func TestBookingHooks(t *testing.T) {
	ctx := context.Background()
	booking := &model.Booking{ID: 12, LocationID: 2, Status: model.BookingConfirmed}

	f := newFixture()
	f.store.On("GetBooking", ctx, int64(12)).Return(booking, nil)
	f.engine.On("InvalidateLocation", ctx, int64(2)).Return(nil).Twice()

	var got []string
	record := func(e events.Event) error {
		got = append(got, e.Type)
		return nil
	}
	f.bus.Subscribe(events.BookingCommitted, record)
	f.bus.Subscribe(events.BookingCancelled, record)

	require.NoError(t, f.svc.BookingCommitted(ctx, 12, nil))
	require.NoError(t, f.svc.BookingCancelled(ctx, 12))
	assert.Equal(t, []string{events.BookingCommitted, events.BookingCancelled}, got)
	f.assertExpectations(t)

	t.Run("invalidation failure surfaces", func(t *testing.T) {
		f := newFixture()
		f.store.On("GetBooking", ctx, int64(12)).Return(booking, nil)
		f.engine.On("InvalidateLocation", ctx, int64(2)).Return(errors.New("redis down"))

		assert.Error(t, f.svc.BookingCommitted(ctx, 12, nil))
	})
}

func TestBookingCommitted_AttachesAmenities(t *testing.T) {
	ctx := context.Background()
	booking := &model.Booking{ID: 12, LocationID: 2, Status: model.BookingConfirmed}
	chairs := &model.VenueAmenity{ID: 3, LocationID: 2, AmenityType: model.AmenityEquipment, QuantityAvailable: 40, IsActive: true}

	t.Run("attached", func(t *testing.T) {
		f := newFixture()
		f.store.On("GetBooking", ctx, int64(12)).Return(booking, nil)
		f.store.On("GetAmenity", ctx, int64(3)).Return(chairs, nil)
		f.store.On("AttachAmenity", ctx, int64(12), int64(3), 30).Return(nil)
		f.engine.On("InvalidateLocation", ctx, int64(2)).Return(nil)

		require.NoError(t, f.svc.BookingCommitted(ctx, 12, []AmenityAttachment{{AmenityID: 3, Quantity: 30}}))
		f.assertExpectations(t)
	})

	tests := []struct {
		name    string
		amenity *model.VenueAmenity
		qty     int
		field   string
	}{
		{"other location", &model.VenueAmenity{ID: 3, LocationID: 5, QuantityAvailable: 40, IsActive: true}, 1, "amenity_id"},
		{"inactive", &model.VenueAmenity{ID: 3, LocationID: 2, QuantityAvailable: 40}, 1, "amenity_id"},
		{"restriction", &model.VenueAmenity{ID: 3, LocationID: 2, AmenityType: model.AmenityRestriction, QuantityAvailable: 1, IsActive: true}, 1, "amenity_id"},
		{"too many", chairs, 41, "quantity"},
		{"negative", chairs, -1, "quantity"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.store.On("GetBooking", ctx, int64(12)).Return(booking, nil)
			f.store.On("GetAmenity", ctx, int64(3)).Return(tt.amenity, nil).Maybe()

			err := f.svc.BookingCommitted(ctx, 12, []AmenityAttachment{{AmenityID: 3, Quantity: tt.qty}})
			var ve *model.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
			f.store.AssertNotCalled(t, "AttachAmenity", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
			f.engine.AssertNotCalled(t, "InvalidateLocation", mock.Anything, mock.Anything)
		})
	}
}

func TestCloseAndOpenSlot(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)
	loc := int64Ptr(1)
	ref := SlotRef{ServiceID: 10, LocationID: loc, SlotDatetime: at}
	slot := &model.CapacitySlot{ID: 7, ServiceID: 10, MaxCapacity: 3}

	f := newFixture()
	f.store.On("GetService", ctx, int64(10)).Return(&model.Service{ID: 10, DefaultCapacity: 3}, nil)
	f.capacity.On("FindOrCreate", ctx, int64(10), loc, at, 3).Return(slot, nil)
	f.capacity.On("SetBlocked", ctx, slot, true, "private party").Return(nil).Once()
	f.capacity.On("SetBlocked", ctx, slot, false, "").Return(nil).Once()
	f.engine.On("InvalidateLocation", ctx, int64(1)).Return(nil).Twice()

	require.NoError(t, f.svc.CloseSlot(ctx, ref, "private party"))
	require.NoError(t, f.svc.OpenSlot(ctx, ref))
	f.assertExpectations(t)
}

func TestGetSlotStatus(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)
	ref := SlotRef{ServiceID: 10, SlotDatetime: at}

	t.Run("stored slot", func(t *testing.T) {
		f := newFixture()
		f.store.On("GetService", ctx, int64(10)).Return(&model.Service{ID: 10, DefaultCapacity: 4}, nil)
		f.capacity.On("Find", ctx, int64(10), (*int64)(nil), at).
			Return(&model.CapacitySlot{ID: 7, ServiceID: 10, MaxCapacity: 4, CurrentBookings: 3}, nil)

		st, err := f.svc.GetSlotStatus(ctx, ref)
		require.NoError(t, err)
		assert.True(t, st.Stored)
		assert.Equal(t, 1, st.Available)
		assert.InDelta(t, 75.0, st.OccupancyRate, 0.001)
	})

	t.Run("unreferenced slot is not created", func(t *testing.T) {
		f := newFixture()
		f.store.On("GetService", ctx, int64(10)).Return(&model.Service{ID: 10, DefaultCapacity: 4}, nil)
		f.capacity.On("Find", ctx, int64(10), (*int64)(nil), at).Return(nil, model.ErrNotFound)

		st, err := f.svc.GetSlotStatus(ctx, ref)
		require.NoError(t, err)
		assert.False(t, st.Stored)
		assert.Equal(t, 4, st.Available)
		assert.Zero(t, st.OccupancyRate)
		f.capacity.AssertNotCalled(t, "FindOrCreate", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

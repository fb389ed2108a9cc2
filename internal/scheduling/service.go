// Package scheduling is the entry point the HTTP layer and the booking writer
// use. It validates input, persists changes, keeps the availability cache in
// step with every committed change and records an audit trail.
package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"venuebook/internal/amenity"
	"venuebook/internal/availability"
	"venuebook/internal/config"
	"venuebook/internal/conflict"
	"venuebook/internal/events"
	"venuebook/internal/model"
)

// Store is the persistence the facade writes through.
type Store interface {
	GetService(ctx context.Context, id int64) (*model.Service, error)
	ListLocationIDs(ctx context.Context) ([]int64, error)

	GetWindow(ctx context.Context, id int64) (*model.AvailabilityWindow, error)
	CreateWindow(ctx context.Context, w *model.AvailabilityWindow) error
	UpdateWindow(ctx context.Context, w *model.AvailabilityWindow) error
	SoftDeleteWindow(ctx context.Context, id int64) error

	GetVenueWindow(ctx context.Context, id int64) (*model.VenueAvailabilityWindow, error)
	CreateVenueWindow(ctx context.Context, w *model.VenueAvailabilityWindow) error
	UpdateVenueWindow(ctx context.Context, w *model.VenueAvailabilityWindow) error
	SoftDeleteVenueWindow(ctx context.Context, id int64) error

	GetAmenity(ctx context.Context, id int64) (*model.VenueAmenity, error)
	CreateAmenity(ctx context.Context, a *model.VenueAmenity) error
	UpdateAmenity(ctx context.Context, a *model.VenueAmenity) error
	DeleteAmenity(ctx context.Context, id int64) error
	ListActiveBookingsUsingAmenity(ctx context.Context, amenityID int64, now time.Time) ([]model.Booking, error)

	SyncCatalog(ctx context.Context, cat *config.Catalog) error
	CatalogEntry(ctx context.Context, kind string, id int64) (string, bool, error)
	CatalogEntryIDs(ctx context.Context, kind string) ([]int64, error)
	SaveCatalogEntry(ctx context.Context, kind string, id int64, entry string) error
	DeleteCatalogEntry(ctx context.Context, kind string, id int64) error

	GetBooking(ctx context.Context, id int64) (*model.Booking, error)
	AttachAmenity(ctx context.Context, bookingID, amenityID int64, quantity int) error
	LogAudit(ctx context.Context, entity string, entityID int64, action string, details any) error
}

// SlotEngine computes and caches availability.
type SlotEngine interface {
	GetAvailableSlots(ctx context.Context, locationID int64, startDate, endDate time.Time, durationMinutes int, opts availability.Options) ([]availability.Slot, error)
	ServiceSlots(ctx context.Context, serviceID, locationID int64, startDate, endDate time.Time) ([]availability.Slot, error)
	GeneratePublicAvailabilityCalendar(ctx context.Context, locationID int64, startDate, endDate time.Time, durationMinutes int, opts availability.Options) (*availability.Calendar, error)
	InvalidateLocation(ctx context.Context, locationID int64) error
}

// CapacityTracker counts reservations per slot.
type CapacityTracker interface {
	Find(ctx context.Context, serviceID int64, locationID *int64, at time.Time) (*model.CapacitySlot, error)
	FindOrCreate(ctx context.Context, serviceID int64, locationID *int64, at time.Time, defaultMaxCapacity int) (*model.CapacitySlot, error)
	Reserve(ctx context.Context, slot *model.CapacitySlot, count int) (bool, error)
	Release(ctx context.Context, slot *model.CapacitySlot, count int) (bool, error)
	Block(ctx context.Context, slot *model.CapacitySlot, count int, reason string) (bool, error)
	Unblock(ctx context.Context, slot *model.CapacitySlot, count int) (bool, error)
	SetBlocked(ctx context.Context, slot *model.CapacitySlot, blocked bool, reason string) error
}

// ImpactAnalyzer checks window changes against other windows and bookings.
type ImpactAnalyzer interface {
	CheckServiceWindow(ctx context.Context, w *model.AvailabilityWindow) ([]conflict.Conflict, error)
	CheckVenueWindow(ctx context.Context, w *model.VenueAvailabilityWindow) ([]conflict.Conflict, error)
	AssessBookingImpact(ctx context.Context, current, proposed *model.VenueAvailabilityWindow) (*conflict.ImpactReport, error)
	AssessDeletionImpact(ctx context.Context, w *model.VenueAvailabilityWindow) (*conflict.ImpactReport, error)
	AssessServiceWindowUpdate(ctx context.Context, current, proposed *model.AvailabilityWindow) (*conflict.ImpactReport, error)
	AssessServiceWindowDeletion(ctx context.Context, w *model.AvailabilityWindow) (*conflict.ImpactReport, error)
	HandleAffectedBookings(ctx context.Context, report *conflict.ImpactReport) ([]conflict.Outcome, error)
}

// AmenityMatcher scores client requirements against venue amenities.
type AmenityMatcher interface {
	MatchRequirements(ctx context.Context, locationID int64, reqs []amenity.Requirement, eventDate *time.Time) (*amenity.MatchResult, error)
}

// Publisher delivers domain events.
type Publisher interface {
	Publish(event events.Event) error
}

// Service is the scheduling facade.
type Service struct {
	store    Store
	slots    SlotEngine
	capacity CapacityTracker
	analyzer ImpactAnalyzer
	matcher  AmenityMatcher
	bus      Publisher
	logger   *zerolog.Logger
	now      func() time.Time
}

// NewService wires the facade. bus may be nil.
func NewService(store Store, slots SlotEngine, capacity CapacityTracker, analyzer ImpactAnalyzer, matcher AmenityMatcher, bus Publisher, logger *zerolog.Logger) *Service {
	l := logger.With().Str("component", "scheduling").Logger()
	return &Service{
		store:    store,
		slots:    slots,
		capacity: capacity,
		analyzer: analyzer,
		matcher:  matcher,
		bus:      bus,
		logger:   &l,
		now:      time.Now,
	}
}

// SetNow overrides the clock.
func (s *Service) SetNow(now func() time.Time) {
	s.now = now
}

// GetAvailableSlots returns the venue grid slots of a location.
func (s *Service) GetAvailableSlots(ctx context.Context, locationID int64, startDate, endDate time.Time, durationMinutes int, opts availability.Options) ([]availability.Slot, error) {
	return s.slots.GetAvailableSlots(ctx, locationID, startDate, endDate, durationMinutes, opts)
}

// ServiceSlots returns the window slots of a service at a location.
func (s *Service) ServiceSlots(ctx context.Context, serviceID, locationID int64, startDate, endDate time.Time) ([]availability.Slot, error) {
	return s.slots.ServiceSlots(ctx, serviceID, locationID, startDate, endDate)
}

// Calendar returns the public availability calendar of a location.
func (s *Service) Calendar(ctx context.Context, locationID int64, startDate, endDate time.Time, durationMinutes int, opts availability.Options) (*availability.Calendar, error) {
	return s.slots.GeneratePublicAvailabilityCalendar(ctx, locationID, startDate, endDate, durationMinutes, opts)
}

// SlotRef identifies a capacity slot.
type SlotRef struct {
	ServiceID    int64     `json:"service_id"`
	LocationID   *int64    `json:"location_id,omitempty"`
	SlotDatetime time.Time `json:"slot_datetime"`
}

// ReserveSlot takes count units of the slot, creating it with the service's
// default capacity on first use. False means the slot could not take them.
func (s *Service) ReserveSlot(ctx context.Context, ref SlotRef, count int) (bool, error) {
	return s.capacityOp(ctx, ref, "reserve", func(slot *model.CapacitySlot) (bool, error) {
		return s.capacity.Reserve(ctx, slot, count)
	})
}

// ReleaseSlot returns count units of the slot.
func (s *Service) ReleaseSlot(ctx context.Context, ref SlotRef, count int) (bool, error) {
	return s.capacityOp(ctx, ref, "release", func(slot *model.CapacitySlot) (bool, error) {
		return s.capacity.Release(ctx, slot, count)
	})
}

// BlockSlot withholds count units of the slot from booking.
func (s *Service) BlockSlot(ctx context.Context, ref SlotRef, count int, reason string) (bool, error) {
	return s.capacityOp(ctx, ref, "block", func(slot *model.CapacitySlot) (bool, error) {
		return s.capacity.Block(ctx, slot, count, reason)
	})
}

// UnblockSlot gives back count withheld units.
func (s *Service) UnblockSlot(ctx context.Context, ref SlotRef, count int) (bool, error) {
	return s.capacityOp(ctx, ref, "unblock", func(slot *model.CapacitySlot) (bool, error) {
		return s.capacity.Unblock(ctx, slot, count)
	})
}

// CloseSlot blocks the whole slot whatever its free units.
func (s *Service) CloseSlot(ctx context.Context, ref SlotRef, reason string) error {
	_, err := s.capacityOp(ctx, ref, "close", func(slot *model.CapacitySlot) (bool, error) {
		return true, s.capacity.SetBlocked(ctx, slot, true, reason)
	})
	return err
}

// OpenSlot lifts a CloseSlot. Units withheld with BlockSlot stay withheld.
func (s *Service) OpenSlot(ctx context.Context, ref SlotRef) error {
	_, err := s.capacityOp(ctx, ref, "open", func(slot *model.CapacitySlot) (bool, error) {
		return true, s.capacity.SetBlocked(ctx, slot, false, "")
	})
	return err
}

// SlotStatus is the capacity state of one slot.
type SlotStatus struct {
	Slot          *model.CapacitySlot `json:"slot"`
	Available     int                 `json:"available"`
	OccupancyRate float64             `json:"occupancy_rate"`
	// Stored is false for a slot nothing has reserved or blocked yet.
	Stored bool `json:"stored"`
}

// GetSlotStatus reports the capacity of a slot without creating it. An
// unreferenced slot is shown with the service's default capacity.
func (s *Service) GetSlotStatus(ctx context.Context, ref SlotRef) (*SlotStatus, error) {
	svc, err := s.slotService(ctx, ref)
	if err != nil {
		return nil, err
	}
	slot, err := s.capacity.Find(ctx, ref.ServiceID, ref.LocationID, ref.SlotDatetime)
	stored := true
	switch {
	case errors.Is(err, model.ErrNotFound):
		slot = &model.CapacitySlot{
			ServiceID:    ref.ServiceID,
			LocationID:   ref.LocationID,
			SlotDatetime: ref.SlotDatetime,
			MaxCapacity:  svc.DefaultCapacity,
		}
		slot.Repair()
		stored = false
	case err != nil:
		return nil, err
	}
	return &SlotStatus{
		Slot:          slot,
		Available:     slot.AvailableSlots(),
		OccupancyRate: slot.OccupancyRate(),
		Stored:        stored,
	}, nil
}

func (s *Service) slotService(ctx context.Context, ref SlotRef) (*model.Service, error) {
	if ref.ServiceID <= 0 {
		return nil, &model.ValidationError{Field: "service_id", Reason: "is required"}
	}
	if ref.SlotDatetime.IsZero() {
		return nil, &model.ValidationError{Field: "slot_datetime", Reason: "is required"}
	}
	svc, err := s.store.GetService(ctx, ref.ServiceID)
	if err != nil {
		return nil, fmt.Errorf("load service %d: %w", ref.ServiceID, err)
	}
	return svc, nil
}

func (s *Service) capacityOp(ctx context.Context, ref SlotRef, op string, apply func(*model.CapacitySlot) (bool, error)) (bool, error) {
	svc, err := s.slotService(ctx, ref)
	if err != nil {
		return false, err
	}
	slot, err := s.capacity.FindOrCreate(ctx, ref.ServiceID, ref.LocationID, ref.SlotDatetime, svc.DefaultCapacity)
	if err != nil {
		return false, err
	}
	ok, err := apply(slot)
	if err != nil || !ok {
		return ok, err
	}
	if err := s.invalidate(ctx, ref.LocationID); err != nil {
		return true, err
	}
	return true, nil
}

// AmenityAttachment reserves units of a venue amenity for a booking.
type AmenityAttachment struct {
	AmenityID int64 `json:"amenity_id"`
	Quantity  int   `json:"quantity"`
}

// BookingCommitted is called by the booking writer after a booking is
// stored. The amenities the booking reserves are recorded with it; they must
// belong to the booking's location, and one invalid attachment rejects all.
func (s *Service) BookingCommitted(ctx context.Context, bookingID int64, amenities []AmenityAttachment) error {
	b, err := s.store.GetBooking(ctx, bookingID)
	if err != nil {
		return fmt.Errorf("load booking %d: %w", bookingID, err)
	}
	for i := range amenities {
		if err := s.checkAttachment(ctx, b, &amenities[i]); err != nil {
			return err
		}
	}
	for _, att := range amenities {
		if err := s.store.AttachAmenity(ctx, b.ID, att.AmenityID, att.Quantity); err != nil {
			return err
		}
	}
	return s.bookingChanged(ctx, b, events.BookingCommitted)
}

// BookingCancelled is called by the booking writer after a booking is cancelled.
func (s *Service) BookingCancelled(ctx context.Context, bookingID int64) error {
	b, err := s.store.GetBooking(ctx, bookingID)
	if err != nil {
		return fmt.Errorf("load booking %d: %w", bookingID, err)
	}
	return s.bookingChanged(ctx, b, events.BookingCancelled)
}

func (s *Service) checkAttachment(ctx context.Context, b *model.Booking, att *AmenityAttachment) error {
	if att.Quantity == 0 {
		att.Quantity = 1
	}
	if att.Quantity < 0 {
		return &model.ValidationError{Field: "quantity", Reason: "must be positive"}
	}
	a, err := s.store.GetAmenity(ctx, att.AmenityID)
	if err != nil {
		return fmt.Errorf("load amenity %d: %w", att.AmenityID, err)
	}
	switch {
	case a.LocationID != b.LocationID:
		return &model.ValidationError{Field: "amenity_id", Reason: fmt.Sprintf("amenity %d belongs to another location", a.ID)}
	case !a.IsActive:
		return &model.ValidationError{Field: "amenity_id", Reason: fmt.Sprintf("amenity %d is inactive", a.ID)}
	case a.AmenityType == model.AmenityRestriction:
		return &model.ValidationError{Field: "amenity_id", Reason: fmt.Sprintf("amenity %d is a restriction", a.ID)}
	case att.Quantity > a.QuantityAvailable:
		return &model.ValidationError{Field: "quantity", Reason: fmt.Sprintf("only %d of amenity %d available", a.QuantityAvailable, a.ID)}
	}
	return nil
}

func (s *Service) bookingChanged(ctx context.Context, b *model.Booking, eventType string) error {
	if err := s.slots.InvalidateLocation(ctx, b.LocationID); err != nil {
		return err
	}
	s.publish(eventType, b.LocationID, b)
	return nil
}

// invalidate drops the cached availability of one location, or of every
// location when locationID is nil.
func (s *Service) invalidate(ctx context.Context, locationID *int64) error {
	if locationID != nil {
		return s.slots.InvalidateLocation(ctx, *locationID)
	}
	ids, err := s.store.ListLocationIDs(ctx)
	if err != nil {
		return fmt.Errorf("list locations: %w", err)
	}
	var errs []error
	for _, id := range ids {
		if err := s.slots.InvalidateLocation(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Service) publish(eventType string, locationID int64, payload any) {
	if s.bus == nil {
		return
	}
	event, err := events.New(eventType, locationID, payload)
	if err == nil {
		err = s.bus.Publish(event)
	}
	if err != nil {
		s.logger.Error().Err(err).Str("event", eventType).Int64("location_id", locationID).Msg("publish event")
	}
}

func (s *Service) audit(ctx context.Context, entity string, id int64, action string, details any) {
	if err := s.store.LogAudit(ctx, entity, id, action, details); err != nil {
		s.logger.Error().Err(err).Str("entity", entity).Int64("id", id).Str("action", action).Msg("write audit entry")
	}
}

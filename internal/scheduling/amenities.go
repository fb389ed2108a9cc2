package scheduling

import (
	"context"
	"fmt"
	"time"

	"venuebook/internal/amenity"
	"venuebook/internal/events"
	"venuebook/internal/model"
)

const auditAmenity = "venue_amenity"

// CreateAmenity validates and stores an amenity. Specification values are
// coerced to the kinds the amenity type expects before validation.
func (s *Service) CreateAmenity(ctx context.Context, a *model.VenueAmenity) (*model.VenueAmenity, error) {
	a.ID = 0
	a.Specifications.Coerce(a.AmenityType)
	if err := a.Validate(); err != nil {
		return nil, err
	}
	if err := s.store.CreateAmenity(ctx, a); err != nil {
		return nil, err
	}
	s.audit(ctx, auditAmenity, a.ID, "create", a)
	s.publish(events.AmenityChanged, a.LocationID, map[string]any{"amenity_id": a.ID, "action": "create"})
	return a, nil
}

// UpdateAmenity replaces amenity id with a.
func (s *Service) UpdateAmenity(ctx context.Context, id int64, a *model.VenueAmenity) (*model.VenueAmenity, error) {
	a.ID = id
	a.Specifications.Coerce(a.AmenityType)
	if err := a.Validate(); err != nil {
		return nil, err
	}
	if err := s.store.UpdateAmenity(ctx, a); err != nil {
		return nil, err
	}
	s.audit(ctx, auditAmenity, id, "update", a)
	s.publish(events.AmenityChanged, a.LocationID, map[string]any{"amenity_id": id, "action": "update"})
	return a, nil
}

// DeleteAmenity removes an amenity. Active bookings that reserve it block
// the delete with a DependencyError unless force is set.
func (s *Service) DeleteAmenity(ctx context.Context, id int64, force bool) error {
	a, err := s.store.GetAmenity(ctx, id)
	if err != nil {
		return err
	}
	bookings, err := s.store.ListActiveBookingsUsingAmenity(ctx, id, s.now())
	if err != nil {
		return fmt.Errorf("load bookings using amenity %d: %w", id, err)
	}
	if len(bookings) > 0 && !force {
		ids := make([]int64, len(bookings))
		for i, b := range bookings {
			ids[i] = b.ID
		}
		return &model.DependencyError{Entity: "venue amenity", ID: id, Count: len(bookings), Dependents: ids}
	}
	if err := s.store.DeleteAmenity(ctx, id); err != nil {
		return err
	}
	if len(bookings) > 0 {
		s.logger.Warn().Int64("amenity_id", id).Int("bookings", len(bookings)).Msg("amenity deleted while reserved")
	}
	s.audit(ctx, auditAmenity, id, "delete", map[string]any{"forced": force, "bookings": len(bookings)})
	s.publish(events.AmenityChanged, a.LocationID, map[string]any{"amenity_id": id, "action": "delete"})
	return nil
}

// MatchAmenities scores the client requirements against the location's
// amenities.
func (s *Service) MatchAmenities(ctx context.Context, locationID int64, reqs []amenity.Requirement, eventDate *time.Time) (*amenity.MatchResult, error) {
	return s.matcher.MatchRequirements(ctx, locationID, reqs, eventDate)
}

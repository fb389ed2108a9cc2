package scheduling

import (
	"context"

	"venuebook/internal/conflict"
	"venuebook/internal/events"
	"venuebook/internal/model"
)

const (
	auditWindow      = "availability_window"
	auditVenueWindow = "venue_window"
)

// WindowResult is a stored service window with the overlaps it was saved
// with, the bookings the change affected and what was done about them.
type WindowResult struct {
	Window    *model.AvailabilityWindow `json:"window"`
	Conflicts []conflict.Conflict       `json:"conflicts"`
	Impact    *conflict.ImpactReport    `json:"impact,omitempty"`
	Outcomes  []conflict.Outcome        `json:"outcomes,omitempty"`
}

// CreateWindow validates and stores a service availability window. Overlaps
// with other windows of the service are returned as warnings.
func (s *Service) CreateWindow(ctx context.Context, w *model.AvailabilityWindow) (*WindowResult, error) {
	w.ID = 0
	result, err := s.checkWindowChange(ctx, nil, w)
	if err != nil {
		return nil, err
	}
	if err := s.commitWindow(ctx, nil, result); err != nil {
		return nil, err
	}
	return result, nil
}

// UpdateWindow replaces window id with w. Future bookings the old version
// held and nothing holds afterwards are rescheduled or flagged.
func (s *Service) UpdateWindow(ctx context.Context, id int64, w *model.AvailabilityWindow) (*WindowResult, error) {
	current, err := s.store.GetWindow(ctx, id)
	if err != nil {
		return nil, err
	}
	w.ID = id
	result, err := s.checkWindowChange(ctx, current, w)
	if err != nil {
		return nil, err
	}
	if err := s.commitWindow(ctx, current, result); err != nil {
		return nil, err
	}
	return result, nil
}

// checkWindowChange validates proposed and assesses it against the other
// windows of the service and, for an update, against the bookings current
// holds. Nothing is written.
func (s *Service) checkWindowChange(ctx context.Context, current, proposed *model.AvailabilityWindow) (*WindowResult, error) {
	proposed.Normalize()
	if err := proposed.Validate(); err != nil {
		return nil, err
	}
	conflicts, err := s.analyzer.CheckServiceWindow(ctx, proposed)
	if err != nil {
		return nil, err
	}
	result := &WindowResult{Window: proposed, Conflicts: conflicts}
	if current != nil {
		if result.Impact, err = s.analyzer.AssessServiceWindowUpdate(ctx, current, proposed); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// commitWindow stores a checked change. current is nil for a new window.
func (s *Service) commitWindow(ctx context.Context, current *model.AvailabilityWindow, result *WindowResult) error {
	w := result.Window
	if current == nil {
		if err := s.store.CreateWindow(ctx, w); err != nil {
			return err
		}
		s.afterWindowChange(ctx, w.ID, "create", w, w.LocationID)
		return nil
	}
	if err := s.store.UpdateWindow(ctx, w); err != nil {
		return err
	}
	result.Outcomes = s.handleImpacts(ctx, result.Impact)
	s.afterWindowChange(ctx, w.ID, "update", result, current.LocationID, w.LocationID)
	return nil
}

// DeleteWindow soft-deletes a service window. When future bookings depend
// only on it the delete is refused with a DependencyError unless force is
// set, in which case those bookings are flagged for review.
func (s *Service) DeleteWindow(ctx context.Context, id int64, force bool) (*conflict.ImpactReport, error) {
	w, err := s.store.GetWindow(ctx, id)
	if err != nil {
		return nil, err
	}
	report, err := s.analyzer.AssessServiceWindowDeletion(ctx, w)
	if err != nil {
		return nil, err
	}
	if report.HasConflicts && !force {
		return report, dependencyError("availability window", id, report)
	}
	if err := s.store.SoftDeleteWindow(ctx, id); err != nil {
		return nil, err
	}
	s.handleImpacts(ctx, report)
	s.afterWindowChange(ctx, id, "delete", report, w.LocationID)
	return report, nil
}

func (s *Service) afterWindowChange(ctx context.Context, id int64, action string, details any, locations ...*int64) {
	for _, loc := range locations {
		if err := s.invalidate(ctx, loc); err != nil {
			s.logger.Error().Err(err).Int64("window_id", id).Msg("invalidate after window change")
		}
	}
	s.audit(ctx, auditWindow, id, action, details)
	var locationID int64
	if len(locations) > 0 && locations[0] != nil {
		locationID = *locations[0]
	}
	s.publish(events.WindowChanged, locationID, map[string]any{"window_id": id, "action": action})
}

// VenueWindowResult is a stored venue window with its overlaps, the bookings
// the change affected and what was done about them.
type VenueWindowResult struct {
	Window    *model.VenueAvailabilityWindow `json:"window"`
	Conflicts []conflict.Conflict            `json:"conflicts"`
	Impact    *conflict.ImpactReport         `json:"impact,omitempty"`
	Outcomes  []conflict.Outcome             `json:"outcomes,omitempty"`
}

// CreateVenueWindow validates and stores a venue window. A change involving
// maintenance is refused with a CriticalConflictError unless override is set.
func (s *Service) CreateVenueWindow(ctx context.Context, w *model.VenueAvailabilityWindow, override bool) (*VenueWindowResult, error) {
	w.ID = 0
	if err := w.Validate(); err != nil {
		return nil, err
	}
	result, err := s.checkVenueChange(ctx, nil, w, override)
	if err != nil {
		return result, err
	}
	if err := s.commitVenueWindow(ctx, nil, result); err != nil {
		return nil, err
	}
	return result, nil
}

// UpdateVenueWindow replaces venue window id with w. Bookings the new
// version no longer admits are rescheduled, flagged or cancelled.
func (s *Service) UpdateVenueWindow(ctx context.Context, id int64, w *model.VenueAvailabilityWindow, override bool) (*VenueWindowResult, error) {
	current, err := s.store.GetVenueWindow(ctx, id)
	if err != nil {
		return nil, err
	}
	w.ID = id
	if w.LocationID == 0 {
		w.LocationID = current.LocationID
	}
	if err := w.Validate(); err != nil {
		return nil, err
	}
	result, err := s.checkVenueChange(ctx, current, w, override)
	if err != nil {
		return result, err
	}
	if err := s.commitVenueWindow(ctx, current, result); err != nil {
		return nil, err
	}
	return result, nil
}

// DeleteVenueWindow soft-deletes a venue window. Future bookings that only
// this window admits block the delete with a DependencyError unless force is
// set, in which case they are flagged for review.
func (s *Service) DeleteVenueWindow(ctx context.Context, id int64, force bool) (*conflict.ImpactReport, error) {
	w, err := s.store.GetVenueWindow(ctx, id)
	if err != nil {
		return nil, err
	}
	report, err := s.analyzer.AssessDeletionImpact(ctx, w)
	if err != nil {
		return nil, err
	}
	if report.HasConflicts && !force {
		return report, dependencyError("venue window", id, report)
	}
	if err := s.store.SoftDeleteVenueWindow(ctx, id); err != nil {
		return nil, err
	}
	s.handleImpacts(ctx, report)
	s.afterVenueWindowChange(ctx, id, "delete", report, w.LocationID)
	return report, nil
}

// checkVenueChange assesses proposed against the other windows of its
// location and the bookings it affects. current is nil for a new window.
// Nothing is written.
func (s *Service) checkVenueChange(ctx context.Context, current, proposed *model.VenueAvailabilityWindow, override bool) (*VenueWindowResult, error) {
	if current == nil {
		// Nothing is admitted by the window yet, so only closures can affect bookings.
		current = &model.VenueAvailabilityWindow{LocationID: proposed.LocationID}
	}
	conflicts, err := s.analyzer.CheckVenueWindow(ctx, proposed)
	if err != nil {
		return nil, err
	}
	report, err := s.analyzer.AssessBookingImpact(ctx, current, proposed)
	if err != nil {
		return nil, err
	}
	result := &VenueWindowResult{Window: proposed, Conflicts: conflicts, Impact: report}
	if !override && (conflict.HasCritical(conflicts) || report.Critical()) {
		return result, &conflict.CriticalConflictError{Conflicts: conflicts, Impacts: report.Impacts}
	}
	return result, nil
}

// commitVenueWindow stores a checked change and resolves its impacts.
// current is nil for a new window.
func (s *Service) commitVenueWindow(ctx context.Context, current *model.VenueAvailabilityWindow, result *VenueWindowResult) error {
	w := result.Window
	if current == nil {
		if err := s.store.CreateVenueWindow(ctx, w); err != nil {
			return err
		}
		result.Impact.WindowID = w.ID
		result.Outcomes = s.handleImpacts(ctx, result.Impact)
		s.afterVenueWindowChange(ctx, w.ID, "create", w, w.LocationID)
		return nil
	}
	if err := s.store.UpdateVenueWindow(ctx, w); err != nil {
		return err
	}
	result.Outcomes = s.handleImpacts(ctx, result.Impact)
	s.afterVenueWindowChange(ctx, w.ID, "update", w, current.LocationID, w.LocationID)
	return nil
}

// handleImpacts resolves the affected bookings of a committed change.
// Failures are logged per booking and kept in the outcomes.
func (s *Service) handleImpacts(ctx context.Context, report *conflict.ImpactReport) []conflict.Outcome {
	if report == nil || !report.HasConflicts {
		return nil
	}
	outcomes, err := s.analyzer.HandleAffectedBookings(ctx, report)
	if err != nil {
		s.logger.Error().Err(err).
			Str("report_id", report.ReportID).
			Int64("window_id", report.WindowID).
			Msg("some affected bookings could not be handled")
	}
	return outcomes
}

func (s *Service) invalidateLocation(ctx context.Context, windowID, locationID int64) {
	if err := s.slots.InvalidateLocation(ctx, locationID); err != nil {
		s.logger.Error().Err(err).Int64("window_id", windowID).Msg("invalidate after venue window change")
	}
}

func (s *Service) afterVenueWindowChange(ctx context.Context, id int64, action string, details any, locations ...int64) {
	seen := make(map[int64]bool, len(locations))
	for _, loc := range locations {
		if !seen[loc] {
			seen[loc] = true
			s.invalidateLocation(ctx, id, loc)
		}
	}
	s.audit(ctx, auditVenueWindow, id, action, details)
	s.publish(events.VenueWindowChanged, locations[0], map[string]any{"window_id": id, "action": action})
}

func dependencyError(entity string, id int64, report *conflict.ImpactReport) error {
	return &model.DependencyError{
		Entity:     entity,
		ID:         id,
		Count:      report.TotalAffected,
		Dependents: report.Impacts,
	}
}

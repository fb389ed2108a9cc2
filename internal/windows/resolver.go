package windows

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"venuebook/internal/interval"
	"venuebook/internal/model"
)

// Store loads service availability windows.
type Store interface {
	ListWindowsForService(ctx context.Context, serviceID int64) ([]model.AvailabilityWindow, error)
}

// Candidate is one slot cut out of a window on a concrete date.
type Candidate struct {
	Start  time.Time
	End    time.Time
	Window *model.AvailabilityWindow
}

// Range returns the candidate interval.
func (c Candidate) Range() interval.Range {
	return interval.Range{Start: c.Start, End: c.End}
}

// Resolver picks the windows that apply to a service on a date.
type Resolver struct {
	store  Store
	logger *zerolog.Logger
}

// NewResolver creates a window resolver.
func NewResolver(store Store, logger *zerolog.Logger) *Resolver {
	l := logger.With().Str("component", "windows").Logger()
	return &Resolver{store: store, logger: &l}
}

// WindowsApplicableOn returns usable windows of serviceID that serve
// locationID and recur on date, ordered by start time.
func (r *Resolver) WindowsApplicableOn(ctx context.Context, serviceID, locationID int64, date time.Time) ([]model.AvailabilityWindow, error) {
	all, err := r.store.ListWindowsForService(ctx, serviceID)
	if err != nil {
		r.logger.Error().Err(err).Int64("service_id", serviceID).Int64("location_id", locationID).Msg("load windows")
		return nil, fmt.Errorf("load windows for service %d: %w", serviceID, err)
	}
	return Applicable(all, locationID, date), nil
}

// Applicable filters windows in memory.
func Applicable(all []model.AvailabilityWindow, locationID int64, date time.Time) []model.AvailabilityWindow {
	var result []model.AvailabilityWindow
	for _, w := range all {
		if !w.IsUsable() || !w.AppliesToLocation(locationID) || !w.AppliesOn(date) {
			continue
		}
		result = append(result, w)
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].StartTime < result[j].StartTime
	})
	return result
}

// GenerateSlotsForWindow cuts the window into slot_duration candidates on
// date, stepping by slot_duration + break_duration. Overnight windows end on
// the following day.
func GenerateSlotsForWindow(w *model.AvailabilityWindow, date time.Time) ([]Candidate, error) {
	if w.SlotDurationMinutes <= 0 {
		return nil, &model.ConfigurationError{Entity: "availability window", Field: "slot_duration_minutes", Reason: "must be positive"}
	}
	if w.BreakDurationMinutes < 0 {
		return nil, &model.ConfigurationError{Entity: "availability window", Field: "break_duration_minutes", Reason: "must not be negative"}
	}
	if w.StartTime == w.EndTime {
		return nil, &model.ConfigurationError{Entity: "availability window", Field: "end_time", Reason: "must differ from start_time"}
	}

	start, end := interval.DaySpan(date, w.StartTime, w.EndTime)
	slot := time.Duration(w.SlotDurationMinutes) * time.Minute
	step := slot + time.Duration(w.BreakDurationMinutes)*time.Minute

	var candidates []Candidate
	for cursor := start; !cursor.Add(slot).After(end); cursor = cursor.Add(step) {
		candidates = append(candidates, Candidate{
			Start:  cursor,
			End:    cursor.Add(slot),
			Window: w,
		})
	}
	return candidates, nil
}

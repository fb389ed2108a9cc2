package availability

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"venuebook/internal/cache"
	"venuebook/internal/interval"
	"venuebook/internal/metrics"
	"venuebook/internal/model"
	"venuebook/internal/windows"
)

// ErrRangeTooLarge rejects queries spanning more days than the engine allows.
var ErrRangeTooLarge = errors.New("date range too large")

// Store is the read model the engine computes availability from.
type Store interface {
	windows.Store
	ListVenueWindows(ctx context.Context, locationID int64) ([]model.VenueAvailabilityWindow, error)
	ListOccupyingBookings(ctx context.Context, locationID int64, from, to time.Time) ([]model.Booking, error)
	GetService(ctx context.Context, id int64) (*model.Service, error)
}

// CapacityReader lists stored capacity slots without creating any.
type CapacityReader interface {
	Slots(ctx context.Context, serviceID int64, locationID *int64, from, to time.Time) ([]model.CapacitySlot, error)
}

// Config holds the engine defaults.
type Config struct {
	Location        *time.Location
	GridStepMinutes int
	MaxRangeDays    int
	DefaultLimits   model.AdvanceLimits
}

// Options narrows a GetAvailableSlots query.
type Options struct {
	// ServiceID applies the service's advance-booking limits.
	ServiceID int64
	// StepMinutes overrides the grid stride.
	StepMinutes int
	// ExcludeBookingID ignores one booking when checking overlaps.
	ExcludeBookingID int64
	// SkipCache bypasses the result cache in both directions.
	SkipCache bool
}

// Slot is a bookable interval.
type Slot struct {
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	LocationID int64     `json:"location_id"`
	WindowID   int64     `json:"window_id"`
	WindowType string    `json:"window_type,omitempty"`

	ServiceID   int64 `json:"service_id,omitempty"`
	Remaining   int   `json:"remaining,omitempty"`
	MaxCapacity int   `json:"max_capacity,omitempty"`
	Price       int64 `json:"price,omitempty"`
}

// Range returns the slot interval.
func (s Slot) Range() interval.Range {
	return interval.Range{Start: s.Start, End: s.End}
}

// DurationMinutes is the slot length.
func (s Slot) DurationMinutes() int {
	return int(s.End.Sub(s.Start) / time.Minute)
}

// cachedSlot keeps the lead-time limits next to each slot so cached results
// stay valid as time passes.
type cachedSlot struct {
	Slot   Slot                `json:"slot"`
	Limits model.AdvanceLimits `json:"limits"`
}

// Engine computes bookable slots for venues and services.
type Engine struct {
	store    Store
	capacity CapacityReader
	cache    cache.Cache
	cfg      Config
	logger   *zerolog.Logger
	now      func() time.Time
}

// NewEngine creates a slot engine. c may be nil to disable caching.
func NewEngine(store Store, capacity CapacityReader, c cache.Cache, cfg Config, logger *zerolog.Logger) *Engine {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.GridStepMinutes <= 0 {
		cfg.GridStepMinutes = 30
	}
	if cfg.MaxRangeDays <= 0 {
		cfg.MaxRangeDays = 90
	}
	l := logger.With().Str("component", "availability").Logger()
	return &Engine{store: store, capacity: capacity, cache: c, cfg: cfg, logger: &l, now: time.Now}
}

// SetNow overrides the clock used for advance-booking checks.
func (e *Engine) SetNow(now func() time.Time) {
	e.now = now
}

// Location is the time zone calendar dates are resolved in.
func (e *Engine) Location() *time.Location {
	return e.cfg.Location
}

// GetAvailableSlots returns the venue grid slots of durationMinutes between
// startDate and endDate (inclusive calendar dates), sorted by start. A day
// with a maintenance window yields nothing; a slot is dropped when it
// overlaps an occupying booking or quiet hours, or breaks the lead-time
// limits. A start time covered by several windows appears once.
func (e *Engine) GetAvailableSlots(ctx context.Context, locationID int64, startDate, endDate time.Time, durationMinutes int, opts Options) ([]Slot, error) {
	started := time.Now()
	defer metrics.ObserveSlotComputation("venue", started)

	first, last, err := e.dateRange(startDate, endDate)
	if err != nil {
		return nil, err
	}
	if durationMinutes <= 0 {
		return nil, &model.ValidationError{Field: "duration", Reason: "must be positive"}
	}
	step := opts.StepMinutes
	if step <= 0 {
		step = e.cfg.GridStepMinutes
	}

	limits := e.cfg.DefaultLimits
	if opts.ServiceID > 0 {
		svc, err := e.store.GetService(ctx, opts.ServiceID)
		if err != nil {
			e.logger.Error().Err(err).Int64("service_id", opts.ServiceID).Int64("location_id", locationID).Msg("load service")
			return nil, fmt.Errorf("load service %d: %w", opts.ServiceID, err)
		}
		limits = svc.Limits()
	}

	useCache := !opts.SkipCache && opts.ExcludeBookingID == 0
	gen, useCache := e.generation(ctx, locationID, useCache)
	key := cache.Key(locationID, gen, "venue", dayString(first), dayString(last),
		strconv.Itoa(durationMinutes), strconv.Itoa(step), strconv.FormatInt(opts.ServiceID, 10))

	var entries []cachedSlot
	if !useCache || !e.readCache(ctx, key, &entries) {
		entries, err = e.computeVenueSlots(ctx, locationID, first, last, durationMinutes, step, limits, opts.ExcludeBookingID)
		if err != nil {
			return nil, err
		}
		if useCache {
			e.writeCache(ctx, locationID, gen, key, entries)
		}
	}
	return e.bookable(entries), nil
}

func (e *Engine) computeVenueSlots(ctx context.Context, locationID int64, first, last time.Time, durationMinutes, step int, limits model.AdvanceLimits, excludeBookingID int64) ([]cachedSlot, error) {
	venueWindows, err := e.venueWindows(ctx, locationID)
	if err != nil {
		return nil, err
	}
	busy, err := e.busyRanges(ctx, locationID, first, last, excludeBookingID)
	if err != nil {
		return nil, err
	}

	duration := time.Duration(durationMinutes) * time.Minute
	stride := time.Duration(step) * time.Minute
	seen := make(map[int64]bool)
	var result []cachedSlot

	for _, day := range interval.Days(first, last) {
		applicable, closed := venueWindowsOn(venueWindows, day)
		if closed {
			continue
		}
		for i := range applicable {
			w := &applicable[i]
			span := w.AccessSpan(day)
			quiet, hasQuiet := w.QuietSpan(day)
			windowLimits := limits.Override(w.MinAdvanceHours, w.MaxAdvanceDays)

			for cursor := span.Start; !cursor.Add(duration).After(span.End); cursor = cursor.Add(stride) {
				r := interval.Range{Start: cursor, End: cursor.Add(duration)}
				if seen[cursor.Unix()] || r.OverlapsAny(busy) {
					continue
				}
				if hasQuiet && r.Overlaps(quiet) {
					continue
				}
				seen[cursor.Unix()] = true
				result = append(result, cachedSlot{
					Slot: Slot{
						Start:      r.Start,
						End:        r.End,
						LocationID: locationID,
						WindowID:   w.ID,
						WindowType: string(w.WindowType),
					},
					Limits: windowLimits,
				})
			}
		}
	}
	sortCached(result)
	return result, nil
}

// ServiceSlots returns slots cut from the service's availability windows at
// a location. Slots overlapping an occupying booking, breaking the lead-time
// limits or falling on a venue maintenance day are dropped, as are blocked
// and full capacity slots. Each slot carries its remaining capacity and its
// price in minor units.
func (e *Engine) ServiceSlots(ctx context.Context, serviceID, locationID int64, startDate, endDate time.Time) ([]Slot, error) {
	started := time.Now()
	defer metrics.ObserveSlotComputation("service", started)

	first, last, err := e.dateRange(startDate, endDate)
	if err != nil {
		return nil, err
	}
	svc, err := e.store.GetService(ctx, serviceID)
	if err != nil {
		e.logger.Error().Err(err).Int64("service_id", serviceID).Int64("location_id", locationID).Msg("load service")
		return nil, fmt.Errorf("load service %d: %w", serviceID, err)
	}
	if !svc.IsActive {
		return []Slot{}, nil
	}

	gen, useCache := e.generation(ctx, locationID, true)
	key := cache.Key(locationID, gen, "service", strconv.FormatInt(serviceID, 10), dayString(first), dayString(last))
	var entries []cachedSlot
	if !useCache || !e.readCache(ctx, key, &entries) {
		entries, err = e.computeServiceSlots(ctx, svc, locationID, first, last)
		if err != nil {
			return nil, err
		}
		if useCache {
			e.writeCache(ctx, locationID, gen, key, entries)
		}
	}
	return e.bookable(entries), nil
}

func (e *Engine) computeServiceSlots(ctx context.Context, svc *model.Service, locationID int64, first, last time.Time) ([]cachedSlot, error) {
	all, err := e.store.ListWindowsForService(ctx, svc.ID)
	if err != nil {
		e.logger.Error().Err(err).Int64("service_id", svc.ID).Int64("location_id", locationID).Msg("load windows")
		return nil, fmt.Errorf("load windows for service %d: %w", svc.ID, err)
	}
	venueWindows, err := e.venueWindows(ctx, locationID)
	if err != nil {
		return nil, err
	}
	busy, err := e.busyRanges(ctx, locationID, first, last, 0)
	if err != nil {
		return nil, err
	}

	loc := locationID
	stored, err := e.capacity.Slots(ctx, svc.ID, &loc, first, last.AddDate(0, 0, 2))
	if err != nil {
		return nil, err
	}
	slotsByStart := make(map[int64]*model.CapacitySlot, len(stored))
	for i := range stored {
		slotsByStart[stored[i].SlotDatetime.Unix()] = &stored[i]
	}

	base := svc.Limits()
	seen := make(map[int64]bool)
	var result []cachedSlot

	for _, day := range interval.Days(first, last) {
		if _, closed := venueWindowsOn(venueWindows, day); closed {
			continue
		}
		for _, w := range windows.Applicable(all, locationID, day) {
			candidates, err := windows.GenerateSlotsForWindow(&w, day)
			if err != nil {
				e.logger.Error().Err(err).
					Int64("service_id", svc.ID).
					Int64("location_id", locationID).
					Int64("window_id", w.ID).
					Msg("generate slots")
				return nil, fmt.Errorf("window %d: %w", w.ID, err)
			}
			limits := base.Override(w.MinAdvanceHours, w.MaxAdvanceDays)
			price := int64(math.Round(float64(svc.BasePrice) * w.PriceModifier))

			for _, c := range candidates {
				start := c.Start.Unix()
				if seen[start] || c.Range().OverlapsAny(busy) {
					continue
				}
				remaining, maxCapacity := w.MaxBookings, w.MaxBookings
				if cs, ok := slotsByStart[start]; ok {
					if cs.IsBlocked || cs.AvailableSlots() == 0 {
						continue
					}
					remaining, maxCapacity = cs.AvailableSlots(), cs.MaxCapacity
				}
				seen[start] = true
				result = append(result, cachedSlot{
					Slot: Slot{
						Start:       c.Start,
						End:         c.End,
						LocationID:  locationID,
						WindowID:    w.ID,
						WindowType:  string(w.Pattern),
						ServiceID:   svc.ID,
						Remaining:   remaining,
						MaxCapacity: maxCapacity,
						Price:       price,
					},
					Limits: limits,
				})
			}
		}
	}
	sortCached(result)
	return result, nil
}

// InvalidateLocation drops every cached result of the location.
func (e *Engine) InvalidateLocation(ctx context.Context, locationID int64) error {
	if e.cache == nil {
		return nil
	}
	if err := e.cache.InvalidateLocation(ctx, locationID); err != nil {
		e.logger.Error().Err(err).Int64("location_id", locationID).Msg("invalidate availability cache")
		return fmt.Errorf("invalidate availability of location %d: %w", locationID, err)
	}
	return nil
}

func (e *Engine) dateRange(startDate, endDate time.Time) (time.Time, time.Time, error) {
	first := e.calendarDate(startDate)
	last := e.calendarDate(endDate)
	if last.Before(first) {
		return first, last, &model.ValidationError{Field: "end", Reason: "must not be before start"}
	}
	if days := len(interval.Days(first, last)); days > e.cfg.MaxRangeDays {
		return first, last, fmt.Errorf("%w: %d days requested, at most %d allowed", ErrRangeTooLarge, days, e.cfg.MaxRangeDays)
	}
	return first, last, nil
}

// calendarDate keeps the calendar date of t and anchors it in the engine zone.
func (e *Engine) calendarDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, e.cfg.Location)
}

func (e *Engine) venueWindows(ctx context.Context, locationID int64) ([]model.VenueAvailabilityWindow, error) {
	all, err := e.store.ListVenueWindows(ctx, locationID)
	if err != nil {
		e.logger.Error().Err(err).Int64("location_id", locationID).Msg("load venue windows")
		return nil, fmt.Errorf("load venue windows of location %d: %w", locationID, err)
	}
	usable := make([]model.VenueAvailabilityWindow, 0, len(all))
	for _, w := range all {
		if w.IsUsable() {
			usable = append(usable, w)
		}
	}
	return usable, nil
}

// venueWindowsOn returns the non-maintenance windows applying on day and
// whether a maintenance window closes the day.
func venueWindowsOn(all []model.VenueAvailabilityWindow, day time.Time) ([]model.VenueAvailabilityWindow, bool) {
	var open []model.VenueAvailabilityWindow
	for _, w := range all {
		if !w.AppliesOn(day) {
			continue
		}
		if w.IsMaintenance() {
			return nil, true
		}
		open = append(open, w)
	}
	return open, false
}

func (e *Engine) busyRanges(ctx context.Context, locationID int64, first, last time.Time, excludeBookingID int64) ([]interval.Range, error) {
	// Overnight windows reach into the day after last.
	bookings, err := e.store.ListOccupyingBookings(ctx, locationID, first, last.AddDate(0, 0, 2))
	if err != nil {
		e.logger.Error().Err(err).Int64("location_id", locationID).Msg("load bookings")
		return nil, fmt.Errorf("load bookings of location %d: %w", locationID, err)
	}
	busy := make([]interval.Range, 0, len(bookings))
	for _, b := range bookings {
		if b.ID == excludeBookingID || !b.Status.OccupiesTime() {
			continue
		}
		busy = append(busy, b.Range())
	}
	return busy, nil
}

func (e *Engine) bookable(entries []cachedSlot) []Slot {
	now := e.now()
	result := make([]Slot, 0, len(entries))
	for _, entry := range entries {
		if entry.Limits.Allows(entry.Slot.Start, now) {
			result = append(result, entry.Slot)
		}
	}
	return result
}

// generation reads the cache generation of the location before anything is
// computed. The cache is bypassed when it cannot be read.
func (e *Engine) generation(ctx context.Context, locationID int64, want bool) (int64, bool) {
	if !want || e.cache == nil {
		return 0, false
	}
	gen, err := e.cache.Generation(ctx, locationID)
	if err != nil {
		metrics.IncCache("error")
		e.logger.Warn().Err(err).Int64("location_id", locationID).Msg("availability cache generation read failed")
		return 0, false
	}
	return gen, true
}

func (e *Engine) readCache(ctx context.Context, key string, dest *[]cachedSlot) bool {
	if e.cache == nil {
		return false
	}
	ok, err := e.cache.Get(ctx, key, dest)
	if err != nil {
		metrics.IncCache("error")
		e.logger.Warn().Err(err).Str("key", key).Msg("availability cache read failed")
		return false
	}
	if ok {
		metrics.IncCache("hit")
	} else {
		metrics.IncCache("miss")
	}
	return ok
}

func (e *Engine) writeCache(ctx context.Context, locationID, generation int64, key string, entries []cachedSlot) {
	if e.cache == nil {
		return
	}
	if entries == nil {
		entries = []cachedSlot{}
	}
	err := e.cache.Set(ctx, locationID, generation, key, entries)
	switch {
	case errors.Is(err, cache.ErrStale):
		metrics.IncCache("stale")
		e.logger.Debug().Int64("location_id", locationID).Str("key", key).Msg("location invalidated during computation, result not cached")
	case err != nil:
		e.logger.Warn().Err(err).Str("key", key).Msg("availability cache write failed")
	}
}

func sortCached(entries []cachedSlot) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Slot.Start.Before(entries[j].Slot.Start)
	})
}

func dayString(t time.Time) string {
	return t.Format("2006-01-02")
}

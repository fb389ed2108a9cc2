package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"venuebook/internal/interval"
	"venuebook/internal/model"
)

const dateLayout = "2006-01-02"

// ServiceConfig declares a bookable service.
type ServiceConfig struct {
	ID                     int64  `yaml:"id"`
	Name                   string `yaml:"name"`
	BasePrice              int64  `yaml:"base_price"`
	DurationMinutes        int    `yaml:"duration_minutes"`
	MinAdvanceBookingHours *int   `yaml:"min_advance_booking_hours,omitempty"`
	MaxAdvanceBookingDays  *int   `yaml:"max_advance_booking_days,omitempty"`
	DefaultCapacity        int    `yaml:"default_capacity"`
	IsActive               bool   `yaml:"is_active"`
}

// LocationConfig declares a venue.
type LocationConfig struct {
	ID       int64  `yaml:"id"`
	Name     string `yaml:"name"`
	Address  string `yaml:"address"`
	Timezone string `yaml:"timezone"`
	IsActive bool   `yaml:"is_active"`
}

// WindowConfig declares a service availability window.
type WindowConfig struct {
	ID                   int64   `yaml:"id" json:"id"`
	ServiceID            int64   `yaml:"service_id" json:"service_id"`
	LocationID           *int64  `yaml:"location_id,omitempty" json:"location_id,omitempty"`
	Pattern              string  `yaml:"pattern" json:"pattern"`
	DayOfWeek            *int    `yaml:"day_of_week,omitempty" json:"day_of_week,omitempty"` // 0=Sun
	SpecificDate         string  `yaml:"specific_date,omitempty" json:"specific_date,omitempty"`
	StartDate            string  `yaml:"start_date,omitempty" json:"start_date,omitempty"`
	EndDate              string  `yaml:"end_date,omitempty" json:"end_date,omitempty"`
	StartTime            string  `yaml:"start_time" json:"start_time"` // "09:00"
	EndTime              string  `yaml:"end_time" json:"end_time"`     // "17:00"
	MaxBookings          int     `yaml:"max_bookings" json:"max_bookings"`
	SlotDurationMinutes  int     `yaml:"slot_duration_minutes" json:"slot_duration_minutes"`
	BreakDurationMinutes int     `yaml:"break_duration_minutes" json:"break_duration_minutes"`
	MinAdvanceHours      *int    `yaml:"min_advance_hours,omitempty" json:"min_advance_hours,omitempty"`
	MaxAdvanceDays       *int    `yaml:"max_advance_days,omitempty" json:"max_advance_days,omitempty"`
	PriceModifier        float64 `yaml:"price_modifier" json:"price_modifier"`
	IsBookable           *bool   `yaml:"is_bookable,omitempty" json:"is_bookable,omitempty"`
}

// VenueWindowConfig declares a venue operating window.
type VenueWindowConfig struct {
	ID                  int64    `yaml:"id" json:"id"`
	LocationID          int64    `yaml:"location_id" json:"location_id"`
	WindowType          string   `yaml:"window_type" json:"window_type"`
	DayOfWeek           *int     `yaml:"day_of_week,omitempty" json:"day_of_week,omitempty"`
	SpecificDate        string   `yaml:"specific_date,omitempty" json:"specific_date,omitempty"`
	StartDate           string   `yaml:"start_date,omitempty" json:"start_date,omitempty"`
	EndDate             string   `yaml:"end_date,omitempty" json:"end_date,omitempty"`
	EarliestAccess      string   `yaml:"earliest_access" json:"earliest_access"`
	LatestDeparture     string   `yaml:"latest_departure" json:"latest_departure"`
	QuietHoursStart     string   `yaml:"quiet_hours_start,omitempty" json:"quiet_hours_start,omitempty"`
	QuietHoursEnd       string   `yaml:"quiet_hours_end,omitempty" json:"quiet_hours_end,omitempty"`
	MaxConcurrentEvents int      `yaml:"max_concurrent_events" json:"max_concurrent_events"`
	MinAdvanceHours     *int     `yaml:"min_advance_hours,omitempty" json:"min_advance_hours,omitempty"`
	MaxAdvanceDays      *int     `yaml:"max_advance_days,omitempty" json:"max_advance_days,omitempty"`
	Restrictions        []string `yaml:"restrictions,omitempty" json:"restrictions,omitempty"`
	Notes               string   `yaml:"notes,omitempty" json:"notes,omitempty"`
	// Override applies the entry even when it conflicts critically with
	// confirmed bookings.
	Override bool `yaml:"override,omitempty" json:"override,omitempty"`
}

// AmenityConfig declares a venue amenity.
type AmenityConfig struct {
	ID                    int64       `yaml:"id" json:"id"`
	LocationID            int64       `yaml:"location_id" json:"location_id"`
	Type                  string      `yaml:"type" json:"type"`
	Name                  string      `yaml:"name" json:"name"`
	Description           string      `yaml:"description,omitempty" json:"description,omitempty"`
	IncludedInBooking     bool        `yaml:"included_in_booking" json:"included_in_booking"`
	AdditionalCost        int64       `yaml:"additional_cost" json:"additional_cost"` // minor units
	QuantityAvailable     int         `yaml:"quantity_available" json:"quantity_available"`
	RequiresAdvanceNotice bool        `yaml:"requires_advance_notice" json:"requires_advance_notice"`
	NoticeHoursRequired   int         `yaml:"notice_hours_required" json:"notice_hours_required"`
	Specifications        model.Specs `yaml:"specifications,omitempty" json:"specifications,omitempty"`
	SortOrder             int         `yaml:"sort_order" json:"sort_order"`
}

// CatalogDefaults fills values that individual entries omit.
type CatalogDefaults struct {
	MinAdvanceBookingHours int `yaml:"min_advance_booking_hours"`
	MaxAdvanceBookingDays  int `yaml:"max_advance_booking_days"`
	DefaultCapacity        int `yaml:"default_capacity"`
	SlotDurationMinutes    int `yaml:"slot_duration_minutes"`
	MaxConcurrentEvents    int `yaml:"max_concurrent_events"`
}

// Catalog is the root of catalog.yaml.
type Catalog struct {
	Defaults     CatalogDefaults     `yaml:"defaults"`
	Services     []ServiceConfig     `yaml:"services"`
	Locations    []LocationConfig    `yaml:"locations"`
	Windows      []WindowConfig      `yaml:"windows"`
	VenueWindows []VenueWindowConfig `yaml:"venue_windows"`
	Amenities    []AmenityConfig     `yaml:"amenities"`
}

// LoadCatalog loads, defaults and validates the catalog file.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		path = "configs/catalog.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}

	var cat Catalog
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	cat.applyDefaults()

	if err := cat.Validate(); err != nil {
		return nil, fmt.Errorf("validate catalog: %w", err)
	}

	return &cat, nil
}

func (c *Catalog) applyDefaults() {
	if c.Defaults.DefaultCapacity <= 0 {
		c.Defaults.DefaultCapacity = 1
	}
	if c.Defaults.SlotDurationMinutes <= 0 {
		c.Defaults.SlotDurationMinutes = 60
	}
	if c.Defaults.MaxConcurrentEvents <= 0 {
		c.Defaults.MaxConcurrentEvents = 1
	}
	for i := range c.Services {
		s := &c.Services[i]
		if s.MinAdvanceBookingHours == nil {
			v := c.Defaults.MinAdvanceBookingHours
			s.MinAdvanceBookingHours = &v
		}
		if s.MaxAdvanceBookingDays == nil {
			v := c.Defaults.MaxAdvanceBookingDays
			s.MaxAdvanceBookingDays = &v
		}
		if s.DefaultCapacity == 0 {
			s.DefaultCapacity = c.Defaults.DefaultCapacity
		}
		if s.DurationMinutes == 0 {
			s.DurationMinutes = c.Defaults.SlotDurationMinutes
		}
	}
	for i := range c.Windows {
		w := &c.Windows[i]
		if w.SlotDurationMinutes == 0 {
			w.SlotDurationMinutes = c.Defaults.SlotDurationMinutes
		}
		if w.MaxBookings == 0 {
			w.MaxBookings = c.serviceCapacity(w.ServiceID)
		}
		if w.PriceModifier == 0 {
			w.PriceModifier = 1
		}
	}
	for i := range c.VenueWindows {
		if c.VenueWindows[i].MaxConcurrentEvents == 0 {
			c.VenueWindows[i].MaxConcurrentEvents = c.Defaults.MaxConcurrentEvents
		}
	}
}

func (c *Catalog) serviceCapacity(serviceID int64) int {
	for _, s := range c.Services {
		if s.ID == serviceID && s.DefaultCapacity > 0 {
			return s.DefaultCapacity
		}
	}
	return c.Defaults.DefaultCapacity
}

// Validate checks references and converts every entry to its model form so
// malformed windows fail at load time.
func (c *Catalog) Validate() error {
	services := make(map[int64]bool)
	for i, s := range c.Services {
		if s.ID <= 0 {
			return fmt.Errorf("services[%d]: id must be positive, got %d", i, s.ID)
		}
		if services[s.ID] {
			return fmt.Errorf("services[%d]: duplicate id %d", i, s.ID)
		}
		services[s.ID] = true
		if s.Name == "" {
			return fmt.Errorf("services[%d]: name is required", i)
		}
		if s.BasePrice < 0 {
			return fmt.Errorf("services[%d]: base_price cannot be negative", i)
		}
		if s.DurationMinutes <= 0 {
			return fmt.Errorf("services[%d]: duration_minutes must be positive", i)
		}
	}

	locations := make(map[int64]bool)
	for i, l := range c.Locations {
		if l.ID <= 0 {
			return fmt.Errorf("locations[%d]: id must be positive, got %d", i, l.ID)
		}
		if locations[l.ID] {
			return fmt.Errorf("locations[%d]: duplicate id %d", i, l.ID)
		}
		locations[l.ID] = true
		if l.Name == "" {
			return fmt.Errorf("locations[%d]: name is required", i)
		}
		if l.Timezone != "" {
			if _, err := time.LoadLocation(l.Timezone); err != nil {
				return fmt.Errorf("locations[%d]: invalid timezone '%s'", i, l.Timezone)
			}
		}
	}

	windowIDs := make(map[int64]bool)
	for i, w := range c.Windows {
		prefix := fmt.Sprintf("windows[%d]", i)
		if w.ID <= 0 || windowIDs[w.ID] {
			return fmt.Errorf("%s: id must be positive and unique, got %d", prefix, w.ID)
		}
		windowIDs[w.ID] = true
		if !services[w.ServiceID] {
			return fmt.Errorf("%s: unknown service_id %d", prefix, w.ServiceID)
		}
		if w.LocationID != nil && !locations[*w.LocationID] {
			return fmt.Errorf("%s: unknown location_id %d", prefix, *w.LocationID)
		}
		mw, err := w.Model()
		if err != nil {
			return fmt.Errorf("%s: %w", prefix, err)
		}
		if err := mw.Validate(); err != nil {
			return fmt.Errorf("%s: %w", prefix, err)
		}
	}

	venueIDs := make(map[int64]bool)
	for i, w := range c.VenueWindows {
		prefix := fmt.Sprintf("venue_windows[%d]", i)
		if w.ID <= 0 || venueIDs[w.ID] {
			return fmt.Errorf("%s: id must be positive and unique, got %d", prefix, w.ID)
		}
		venueIDs[w.ID] = true
		if !locations[w.LocationID] {
			return fmt.Errorf("%s: unknown location_id %d", prefix, w.LocationID)
		}
		mw, err := w.Model()
		if err != nil {
			return fmt.Errorf("%s: %w", prefix, err)
		}
		if err := mw.Validate(); err != nil {
			return fmt.Errorf("%s: %w", prefix, err)
		}
	}

	type amenityKey struct {
		location int64
		kind     string
		name     string
	}
	amenityIDs := make(map[int64]bool)
	amenityNames := make(map[amenityKey]bool)
	for i, a := range c.Amenities {
		prefix := fmt.Sprintf("amenities[%d]", i)
		if a.ID <= 0 || amenityIDs[a.ID] {
			return fmt.Errorf("%s: id must be positive and unique, got %d", prefix, a.ID)
		}
		amenityIDs[a.ID] = true
		if !locations[a.LocationID] {
			return fmt.Errorf("%s: unknown location_id %d", prefix, a.LocationID)
		}
		key := amenityKey{a.LocationID, a.Type, strings.ToLower(strings.TrimSpace(a.Name))}
		if amenityNames[key] {
			return fmt.Errorf("%s: duplicate name '%s' for %s at location %d", prefix, a.Name, a.Type, a.LocationID)
		}
		amenityNames[key] = true
		ma := a.Model()
		if err := ma.Validate(); err != nil {
			return fmt.Errorf("%s: %w", prefix, err)
		}
	}

	return nil
}

// Model converts the entry to a service.
func (s ServiceConfig) Model() model.Service {
	out := model.Service{
		ID:              s.ID,
		Name:            s.Name,
		BasePrice:       s.BasePrice,
		DurationMinutes: s.DurationMinutes,
		DefaultCapacity: s.DefaultCapacity,
		IsActive:        s.IsActive,
	}
	if s.MinAdvanceBookingHours != nil {
		out.MinAdvanceBookingHours = *s.MinAdvanceBookingHours
	}
	if s.MaxAdvanceBookingDays != nil {
		out.MaxAdvanceBookingDays = *s.MaxAdvanceBookingDays
	}
	return out
}

// Model converts the entry to a location.
func (l LocationConfig) Model() model.ServiceLocation {
	return model.ServiceLocation{
		ID:       l.ID,
		Name:     l.Name,
		Address:  l.Address,
		Timezone: l.Timezone,
		IsActive: l.IsActive,
	}
}

// Model parses clocks and dates into an availability window.
func (w WindowConfig) Model() (model.AvailabilityWindow, error) {
	out := model.AvailabilityWindow{
		ID:                   w.ID,
		ServiceID:            w.ServiceID,
		LocationID:           w.LocationID,
		Pattern:              model.Pattern(w.Pattern),
		DayOfWeek:            w.DayOfWeek,
		MaxBookings:          w.MaxBookings,
		SlotDurationMinutes:  w.SlotDurationMinutes,
		BreakDurationMinutes: w.BreakDurationMinutes,
		MinAdvanceHours:      w.MinAdvanceHours,
		MaxAdvanceDays:       w.MaxAdvanceDays,
		PriceModifier:        w.PriceModifier,
		IsActive:             true,
		IsBookable:           w.IsBookable == nil || *w.IsBookable,
	}

	var err error
	if out.StartTime, err = interval.ParseClock(w.StartTime); err != nil {
		return out, fmt.Errorf("start_time: %w", err)
	}
	if out.EndTime, err = interval.ParseClock(w.EndTime); err != nil {
		return out, fmt.Errorf("end_time: %w", err)
	}
	if out.SpecificDate, err = parseDate(w.SpecificDate, "specific_date"); err != nil {
		return out, err
	}
	if out.StartDate, err = parseDate(w.StartDate, "start_date"); err != nil {
		return out, err
	}
	if out.EndDate, err = parseDate(w.EndDate, "end_date"); err != nil {
		return out, err
	}
	out.Normalize()
	return out, nil
}

// Model parses clocks and dates into a venue window.
func (w VenueWindowConfig) Model() (model.VenueAvailabilityWindow, error) {
	out := model.VenueAvailabilityWindow{
		ID:                  w.ID,
		LocationID:          w.LocationID,
		WindowType:          model.VenueWindowType(w.WindowType),
		DayOfWeek:           w.DayOfWeek,
		MaxConcurrentEvents: w.MaxConcurrentEvents,
		MinAdvanceHours:     w.MinAdvanceHours,
		MaxAdvanceDays:      w.MaxAdvanceDays,
		Restrictions:        w.Restrictions,
		Notes:               w.Notes,
		IsActive:            true,
	}

	var err error
	if out.EarliestAccess, err = interval.ParseClock(w.EarliestAccess); err != nil {
		return out, fmt.Errorf("earliest_access: %w", err)
	}
	if out.LatestDeparture, err = interval.ParseClock(w.LatestDeparture); err != nil {
		return out, fmt.Errorf("latest_departure: %w", err)
	}
	if w.QuietHoursStart != "" || w.QuietHoursEnd != "" {
		qs, err := interval.ParseClock(w.QuietHoursStart)
		if err != nil {
			return out, fmt.Errorf("quiet_hours_start: %w", err)
		}
		qe, err := interval.ParseClock(w.QuietHoursEnd)
		if err != nil {
			return out, fmt.Errorf("quiet_hours_end: %w", err)
		}
		out.QuietHoursStart, out.QuietHoursEnd = &qs, &qe
	}
	if out.SpecificDate, err = parseDate(w.SpecificDate, "specific_date"); err != nil {
		return out, err
	}
	if out.StartDate, err = parseDate(w.StartDate, "start_date"); err != nil {
		return out, err
	}
	if out.EndDate, err = parseDate(w.EndDate, "end_date"); err != nil {
		return out, err
	}
	return out, nil
}

// Model converts the entry to an amenity, coercing known specification keys.
func (a AmenityConfig) Model() model.VenueAmenity {
	out := model.VenueAmenity{
		ID:                    a.ID,
		LocationID:            a.LocationID,
		AmenityType:           model.AmenityType(a.Type),
		Name:                  a.Name,
		Description:           a.Description,
		IncludedInBooking:     a.IncludedInBooking,
		AdditionalCost:        a.AdditionalCost,
		QuantityAvailable:     a.QuantityAvailable,
		RequiresAdvanceNotice: a.RequiresAdvanceNotice,
		NoticeHoursRequired:   a.NoticeHoursRequired,
		Specifications:        a.Specifications,
		IsActive:              true,
		SortOrder:             a.SortOrder,
	}
	out.Specifications.Coerce(out.AmenityType)
	return out
}

func parseDate(s, field string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.ParseInLocation(dateLayout, s, time.UTC)
	if err != nil {
		return nil, fmt.Errorf("%s: invalid date format '%s', expected YYYY-MM-DD", field, s)
	}
	return &t, nil
}

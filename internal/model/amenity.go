package model

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// AmenityType groups venue amenities.
type AmenityType string

const (
	AmenityEquipment      AmenityType = "equipment"
	AmenityFurniture      AmenityType = "furniture"
	AmenityInfrastructure AmenityType = "infrastructure"
	AmenityService        AmenityType = "service"
	AmenityRestriction    AmenityType = "restriction"
)

// Valid reports whether t is a known amenity type.
func (t AmenityType) Valid() bool {
	switch t {
	case AmenityEquipment, AmenityFurniture, AmenityInfrastructure, AmenityService, AmenityRestriction:
		return true
	}
	return false
}

// SpecKind tags the variant held by a SpecValue.
type SpecKind string

const (
	SpecText   SpecKind = "text"
	SpecNumber SpecKind = "number"
	SpecFlag   SpecKind = "flag"
)

// SpecValue is one amenity specification value.
type SpecValue struct {
	Kind   SpecKind
	Text   string
	Number float64
	Flag   bool
}

func TextSpec(s string) SpecValue {
	return SpecValue{Kind: SpecText, Text: s}
}

func NumberSpec(n float64) SpecValue {
	return SpecValue{Kind: SpecNumber, Number: n}
}

func FlagSpec(b bool) SpecValue {
	return SpecValue{Kind: SpecFlag, Flag: b}
}

// ParseSpecValue infers the variant from a raw string: numbers first, then
// booleans, else text.
func ParseSpecValue(raw string) SpecValue {
	s := strings.TrimSpace(raw)
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return NumberSpec(n)
	}
	switch strings.ToLower(s) {
	case "true", "yes":
		return FlagSpec(true)
	case "false", "no":
		return FlagSpec(false)
	}
	return TextSpec(s)
}

// Matches compares two values: numbers within 10% of the wanted value, text
// case-insensitively, flags exactly.
func (v SpecValue) Matches(want SpecValue) bool {
	if v.Kind != want.Kind {
		return false
	}
	switch v.Kind {
	case SpecNumber:
		if want.Number == 0 {
			return v.Number == 0
		}
		return math.Abs(v.Number-want.Number) <= math.Abs(want.Number)*0.1
	case SpecFlag:
		return v.Flag == want.Flag
	default:
		return strings.EqualFold(strings.TrimSpace(v.Text), strings.TrimSpace(want.Text))
	}
}

func (v SpecValue) String() string {
	switch v.Kind {
	case SpecNumber:
		return strconv.FormatFloat(v.Number, 'f', -1, 64)
	case SpecFlag:
		return strconv.FormatBool(v.Flag)
	default:
		return v.Text
	}
}

// MarshalJSON writes the bare value.
func (v SpecValue) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case SpecNumber:
		return json.Marshal(v.Number)
	case SpecFlag:
		return json.Marshal(v.Flag)
	default:
		return json.Marshal(v.Text)
	}
}

// UnmarshalJSON accepts a JSON number, bool or string.
func (v *SpecValue) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch x := raw.(type) {
	case float64:
		*v = NumberSpec(x)
	case bool:
		*v = FlagSpec(x)
	case string:
		*v = TextSpec(x)
	default:
		return fmt.Errorf("unsupported specification value %s", string(data))
	}
	return nil
}

// UnmarshalYAML accepts scalars from the catalog file.
func (v *SpecValue) UnmarshalYAML(unmarshal func(any) error) error {
	var raw any
	if err := unmarshal(&raw); err != nil {
		return err
	}
	switch x := raw.(type) {
	case int:
		*v = NumberSpec(float64(x))
	case float64:
		*v = NumberSpec(x)
	case bool:
		*v = FlagSpec(x)
	case string:
		*v = TextSpec(x)
	default:
		return fmt.Errorf("unsupported specification value %v", raw)
	}
	return nil
}

// Specs is the key-value specification set of an amenity or requirement.
type Specs map[string]SpecValue

// specSchema lists the keys with a known kind per amenity type. Other keys are
// free-form.
var specSchema = map[AmenityType]map[string]SpecKind{
	AmenityEquipment: {
		"power_watts":  SpecNumber,
		"weight_kg":    SpecNumber,
		"wireless":     SpecFlag,
		"color":        SpecText,
		"brand":        SpecText,
		"height_m":     SpecNumber,
		"width_m":      SpecNumber,
		"outdoor_safe": SpecFlag,
	},
	AmenityFurniture: {
		"seats":    SpecNumber,
		"material": SpecText,
		"color":    SpecText,
		"length_m": SpecNumber,
		"width_m":  SpecNumber,
	},
	AmenityInfrastructure: {
		"capacity":     SpecNumber,
		"area_sqm":     SpecNumber,
		"power_amps":   SpecNumber,
		"wheelchair":   SpecFlag,
		"bandwidth_mb": SpecNumber,
	},
	AmenityService: {
		"staff":      SpecNumber,
		"hours":      SpecNumber,
		"provider":   SpecText,
		"vegetarian": SpecFlag,
	},
	AmenityRestriction: {
		"max_decibels": SpecNumber,
		"curfew":       SpecText,
		"smoking":      SpecFlag,
		"open_flame":   SpecFlag,
	},
}

// SpecKindFor returns the schema kind of key for t, if known.
func SpecKindFor(t AmenityType, key string) (SpecKind, bool) {
	k, ok := specSchema[t][key]
	return k, ok
}

// Coerce converts raw text specification values to the kinds the schema
// expects. Values that cannot be converted are left as text for Validate to
// report.
func (s Specs) Coerce(t AmenityType) {
	for key, v := range s {
		kind, ok := SpecKindFor(t, key)
		if !ok || v.Kind == kind || v.Kind != SpecText {
			continue
		}
		if parsed := ParseSpecValue(v.Text); parsed.Kind == kind {
			s[key] = parsed
		}
	}
}

// Validate checks known keys against the schema of t.
func (s Specs) Validate(t AmenityType) error {
	for key, v := range s {
		if strings.TrimSpace(key) == "" {
			return &ValidationError{Field: "specifications", Reason: "empty key"}
		}
		if kind, ok := SpecKindFor(t, key); ok && v.Kind != kind {
			return &ValidationError{
				Field:  "specifications." + key,
				Reason: fmt.Sprintf("must be a %s value for %s amenities", kind, t),
			}
		}
	}
	return nil
}

// VenueAmenity is an optional or included feature of a location.
type VenueAmenity struct {
	ID                    int64       `json:"id"`
	LocationID            int64       `json:"service_location_id"`
	AmenityType           AmenityType `json:"amenity_type"`
	Name                  string      `json:"name"`
	Description           string      `json:"description,omitempty"`
	IncludedInBooking     bool        `json:"included_in_booking"`
	AdditionalCost        int64       `json:"additional_cost"`
	QuantityAvailable     int         `json:"quantity_available"`
	RequiresAdvanceNotice bool        `json:"requires_advance_notice"`
	NoticeHoursRequired   int         `json:"notice_hours_required"`
	Specifications        Specs       `json:"specifications,omitempty"`
	IsActive              bool        `json:"is_active"`
	SortOrder             int         `json:"sort_order"`
	CreatedAt             time.Time   `json:"created_at"`
	UpdatedAt             time.Time   `json:"updated_at"`
}

// Validate enforces the per-amenity invariants. Name uniqueness within
// (location, type) is checked by the store.
func (a *VenueAmenity) Validate() error {
	if a.LocationID <= 0 {
		return &ValidationError{Field: "service_location_id", Reason: "is required"}
	}
	if !a.AmenityType.Valid() {
		return &ValidationError{Field: "amenity_type", Reason: "must be one of equipment, furniture, infrastructure, service, restriction"}
	}
	if strings.TrimSpace(a.Name) == "" {
		return &ValidationError{Field: "name", Reason: "is required"}
	}
	if a.AdditionalCost < 0 {
		return &ValidationError{Field: "additional_cost", Reason: "must not be negative"}
	}
	if a.AmenityType == AmenityRestriction && a.AdditionalCost != 0 {
		return &ValidationError{Field: "additional_cost", Reason: "must be 0 for restrictions"}
	}
	if a.QuantityAvailable < 0 {
		return &ValidationError{Field: "quantity_available", Reason: "must not be negative"}
	}
	if a.NoticeHoursRequired < 0 {
		return &ValidationError{Field: "notice_hours_required", Reason: "must not be negative"}
	}
	if a.RequiresAdvanceNotice && a.NoticeHoursRequired == 0 {
		return &ValidationError{Field: "notice_hours_required", Reason: "is required when advance notice is required"}
	}
	return a.Specifications.Validate(a.AmenityType)
}

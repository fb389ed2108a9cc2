// Package amenity matches client venue requirements against the amenities a
// location offers, prices the matches and works out the booking deadline
// implied by advance-notice amenities.
package amenity

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"venuebook/internal/model"
)

// Quality bands of a match score.
const (
	QualityFull    = "full"
	QualityPartial = "partial"
	QualityNone    = "none"
)

const (
	weightName     = 40.0
	weightCategory = 30.0
	weightSpecs    = 20.0
	weightQuantity = 10.0

	fullThreshold    = 80.0
	partialThreshold = 50.0
)

// Store loads the amenities of a location.
type Store interface {
	ListAmenities(ctx context.Context, locationID int64) ([]model.VenueAmenity, error)
}

// Requirement is one client-stated need.
type Requirement struct {
	Name           string            `json:"name"`
	Category       model.AmenityType `json:"category,omitempty"`
	Quantity       int               `json:"quantity"`
	Specifications model.Specs       `json:"specifications,omitempty"`
}

// Match pairs a requirement with the best amenity found for it.
type Match struct {
	Requirement Requirement         `json:"requirement"`
	Amenity     *model.VenueAmenity `json:"amenity,omitempty"`
	Score       float64             `json:"score"`
	Quality     string              `json:"quality"`
	Quote       *Quote              `json:"quote,omitempty"`
}

// Notice aggregates the advance notice demanded by matched amenities.
type Notice struct {
	Required       bool       `json:"required"`
	MaxHours       int        `json:"max_hours"`
	Amenities      []string   `json:"amenities,omitempty"`
	Deadline       *time.Time `json:"deadline,omitempty"`
	DeadlinePassed bool       `json:"deadline_passed"`
}

// MatchResult is the outcome of MatchRequirements.
type MatchResult struct {
	LocationID   int64         `json:"location_id"`
	Matches      []Match       `json:"matches"`
	Unmatched    []Requirement `json:"unmatched,omitempty"`
	FullCount    int           `json:"full_count"`
	PartialCount int           `json:"partial_count"`
	TotalCost    int64         `json:"total_cost"`
	Notice       Notice        `json:"notice"`
}

// Matcher scores requirements against a location's amenities.
type Matcher struct {
	store  Store
	logger *zerolog.Logger
	now    func() time.Time
}

// NewMatcher creates an amenity matcher.
func NewMatcher(store Store, logger *zerolog.Logger) *Matcher {
	l := logger.With().Str("component", "amenity").Logger()
	return &Matcher{store: store, logger: &l, now: time.Now}
}

// MatchRequirements picks, for each requirement independently, the
// best-scoring amenity of the location. A limited amenity may be picked for
// more than one requirement. eventDate, when given, anchors the notice
// deadline.
func (m *Matcher) MatchRequirements(ctx context.Context, locationID int64, reqs []Requirement, eventDate *time.Time) (*MatchResult, error) {
	for i := range reqs {
		if strings.TrimSpace(reqs[i].Name) == "" {
			return nil, &model.ValidationError{Field: fmt.Sprintf("requirements[%d].name", i), Reason: "is required"}
		}
		if reqs[i].Quantity < 0 {
			return nil, &model.ValidationError{Field: fmt.Sprintf("requirements[%d].quantity", i), Reason: "must not be negative"}
		}
		if reqs[i].Quantity == 0 {
			reqs[i].Quantity = 1
		}
	}

	all, err := m.store.ListAmenities(ctx, locationID)
	if err != nil {
		m.logger.Error().Err(err).Int64("location_id", locationID).Msg("load amenities")
		return nil, fmt.Errorf("load amenities of location %d: %w", locationID, err)
	}
	candidates := make([]model.VenueAmenity, 0, len(all))
	for _, a := range all {
		if a.IsActive && a.AmenityType != model.AmenityRestriction {
			candidates = append(candidates, a)
		}
	}

	result := &MatchResult{LocationID: locationID, Matches: make([]Match, 0, len(reqs))}
	for _, req := range reqs {
		match := bestMatch(req, candidates)
		result.Matches = append(result.Matches, match)
		switch match.Quality {
		case QualityFull:
			result.FullCount++
		case QualityPartial:
			result.PartialCount++
		default:
			result.Unmatched = append(result.Unmatched, req)
			continue
		}
		result.TotalCost += match.Quote.Total
	}
	result.Notice = m.notice(result.Matches, eventDate)

	m.logger.Debug().
		Int64("location_id", locationID).
		Int("requirements", len(reqs)).
		Int("full", result.FullCount).
		Int("partial", result.PartialCount).
		Msg("amenity requirements matched")
	return result, nil
}

func bestMatch(req Requirement, candidates []model.VenueAmenity) Match {
	best := Match{Requirement: req, Quality: QualityNone}
	for i := range candidates {
		a := &candidates[i]
		if s := Score(req, a); s > best.Score {
			best.Score = s
			best.Amenity = a
		}
	}
	best.Quality = qualityOf(best.Score)
	if best.Quality == QualityNone {
		best.Amenity = nil
		return best
	}
	q := Price(best.Amenity, req.Quantity)
	best.Quote = &q
	return best
}

func qualityOf(score float64) string {
	switch {
	case score >= fullThreshold:
		return QualityFull
	case score >= partialThreshold:
		return QualityPartial
	}
	return QualityNone
}

// Score rates how well a satisfies req on a 0-100 scale: name or description
// similarity 40, category 30, specification overlap 20, quantity 10.
func Score(req Requirement, a *model.VenueAmenity) float64 {
	score := weightName * textSimilarity(req.Name, a.Name, a.Description)
	if req.Category != "" && req.Category == a.AmenityType {
		score += weightCategory
	}
	score += weightSpecs * specOverlap(req.Specifications, a.Specifications)
	score += weightQuantity * quantityCover(req.Quantity, a.QuantityAvailable)
	return score
}

func textSimilarity(want, name, description string) float64 {
	w := normalize(want)
	n := normalize(name)
	if w == "" {
		return 0
	}
	if w == n {
		return 1
	}
	sim := 0.0
	if n != "" && (strings.Contains(n, w) || strings.Contains(w, n)) {
		sim = 0.8
	}
	if t := tokenOverlap(w, n); t > sim {
		sim = t
	}
	if d := 0.5 * tokenOverlap(w, normalize(description)); d > sim {
		sim = d
	}
	return sim
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// tokenOverlap is the share of want's words found in have.
func tokenOverlap(want, have string) float64 {
	wantWords := strings.Fields(want)
	if len(wantWords) == 0 {
		return 0
	}
	haveWords := make(map[string]struct{})
	for _, w := range strings.Fields(have) {
		haveWords[w] = struct{}{}
	}
	found := 0
	for _, w := range wantWords {
		if _, ok := haveWords[w]; ok {
			found++
		}
	}
	return float64(found) / float64(len(wantWords))
}

// specOverlap is the share of requested specification keys the amenity
// satisfies. No requested keys counts as full overlap.
func specOverlap(want, have model.Specs) float64 {
	if len(want) == 0 {
		return 1
	}
	matched := 0
	for key, v := range want {
		if got, ok := have[key]; ok && got.Matches(v) {
			matched++
		}
	}
	return float64(matched) / float64(len(want))
}

func quantityCover(want, available int) float64 {
	if want <= 0 || available >= want {
		return 1
	}
	if available <= 0 {
		return 0
	}
	return float64(available) / float64(want)
}

func (m *Matcher) notice(matches []Match, eventDate *time.Time) Notice {
	var n Notice
	seen := make(map[int64]bool)
	for _, match := range matches {
		if match.Amenity == nil || !match.Amenity.RequiresAdvanceNotice {
			continue
		}
		n.Required = true
		if !seen[match.Amenity.ID] {
			seen[match.Amenity.ID] = true
			n.Amenities = append(n.Amenities, match.Amenity.Name)
		}
		if match.Amenity.NoticeHoursRequired > n.MaxHours {
			n.MaxHours = match.Amenity.NoticeHoursRequired
		}
	}
	sort.Strings(n.Amenities)
	if n.Required && eventDate != nil {
		deadline := eventDate.Add(-time.Duration(n.MaxHours) * time.Hour)
		n.Deadline = &deadline
		n.DeadlinePassed = m.now().After(deadline)
	}
	return n
}

package scheduling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"venuebook/internal/config"
	"venuebook/internal/conflict"
	"venuebook/internal/model"
)

const (
	catalogWindow      = "window"
	catalogVenueWindow = "venue_window"
)

// CatalogResult summarises an applied catalog.
type CatalogResult struct {
	Applied   int                `json:"applied"`
	Removed   int                `json:"removed"`
	Unchanged int                `json:"unchanged"`
	Skipped   []string           `json:"skipped,omitempty"`
	Outcomes  []conflict.Outcome `json:"outcomes,omitempty"`
}

// catalogStep is one checked window change waiting to be committed. entry is
// empty when the window left the catalog.
type catalogStep struct {
	kind  string
	id    int64
	entry string
	apply func(ctx context.Context) ([]conflict.Outcome, error)
}

// ApplyCatalog brings the stored catalog in line with cat. Window entries go
// through the same checks as edits made over the API, and every one of them is
// checked before anything is written: a malformed entry, a critical venue
// conflict without override or a removed window that bookings still depend on
// refuses the whole catalog. Entries unchanged since they were last applied
// are left alone so later API edits to those windows survive a reload.
func (s *Service) ApplyCatalog(ctx context.Context, cat *config.Catalog) (*CatalogResult, error) {
	if cat == nil {
		return nil, errors.New("catalog is nil")
	}
	result := &CatalogResult{}
	steps, err := s.planCatalog(ctx, cat, result)
	if err != nil {
		return result, err
	}
	if err := s.store.SyncCatalog(ctx, cat); err != nil {
		return result, err
	}

	// Each step is recorded as soon as it commits, so a failure part way
	// through is resumed by the next reload.
	for _, step := range steps {
		outcomes, err := step.apply(ctx)
		if err != nil {
			return result, fmt.Errorf("apply %s %d: %w", step.kind, step.id, err)
		}
		result.Outcomes = append(result.Outcomes, outcomes...)
		if step.entry == "" {
			err = s.store.DeleteCatalogEntry(ctx, step.kind, step.id)
			result.Removed++
		} else {
			err = s.store.SaveCatalogEntry(ctx, step.kind, step.id, step.entry)
			result.Applied++
		}
		if err != nil {
			return result, err
		}
	}

	if err := s.invalidate(ctx, nil); err != nil {
		s.logger.Error().Err(err).Msg("invalidate after catalog apply")
	}
	s.logger.Info().
		Int("applied", result.Applied).
		Int("removed", result.Removed).
		Int("unchanged", result.Unchanged).
		Int("skipped", len(result.Skipped)).
		Int("handled_bookings", len(result.Outcomes)).
		Msg("catalog applied")
	return result, nil
}

func (s *Service) planCatalog(ctx context.Context, cat *config.Catalog, result *CatalogResult) ([]catalogStep, error) {
	var (
		steps []catalogStep
		errs  []error
	)
	add := func(step *catalogStep, err error) {
		switch {
		case err != nil:
			errs = append(errs, err)
		case step != nil:
			steps = append(steps, *step)
		}
	}

	listed := map[string]map[int64]bool{
		catalogWindow:      make(map[int64]bool, len(cat.Windows)),
		catalogVenueWindow: make(map[int64]bool, len(cat.VenueWindows)),
	}
	for _, wc := range cat.Windows {
		listed[catalogWindow][wc.ID] = true
		add(s.planWindow(ctx, wc, result))
	}
	for _, vc := range cat.VenueWindows {
		listed[catalogVenueWindow][vc.ID] = true
		add(s.planVenueWindow(ctx, vc, result))
	}
	for _, kind := range []string{catalogWindow, catalogVenueWindow} {
		ids, err := s.store.CatalogEntryIDs(ctx, kind)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			if !listed[kind][id] {
				add(s.planRemoval(ctx, kind, id))
			}
		}
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return steps, nil
}

// catalogChanged reports whether v differs from the entry last applied for
// the window.
func (s *Service) catalogChanged(ctx context.Context, kind string, id int64, v any) (string, bool, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", false, fmt.Errorf("encode %s %d: %w", kind, id, err)
	}
	entry := string(data)
	applied, found, err := s.store.CatalogEntry(ctx, kind, id)
	if err != nil {
		return "", false, err
	}
	return entry, !found || applied != entry, nil
}

func (s *Service) planWindow(ctx context.Context, wc config.WindowConfig, result *CatalogResult) (*catalogStep, error) {
	entry, changed, err := s.catalogChanged(ctx, catalogWindow, wc.ID, wc)
	if err != nil {
		return nil, err
	}
	if !changed {
		result.Unchanged++
		return nil, nil
	}

	current, err := s.store.GetWindow(ctx, wc.ID)
	switch {
	case errors.Is(err, model.ErrNotFound):
		current = nil
	case err != nil:
		return nil, err
	case current.DeletedAt != nil:
		result.Skipped = append(result.Skipped, fmt.Sprintf("window %d was deleted", wc.ID))
		return nil, nil
	}

	proposed, err := wc.Model()
	if err != nil {
		return nil, fmt.Errorf("window %d: %w", wc.ID, err)
	}
	res, err := s.checkWindowChange(ctx, current, &proposed)
	if err != nil {
		return nil, fmt.Errorf("window %d: %w", wc.ID, err)
	}
	return &catalogStep{kind: catalogWindow, id: wc.ID, entry: entry, apply: func(ctx context.Context) ([]conflict.Outcome, error) {
		err := s.commitWindow(ctx, current, res)
		return res.Outcomes, err
	}}, nil
}

func (s *Service) planVenueWindow(ctx context.Context, vc config.VenueWindowConfig, result *CatalogResult) (*catalogStep, error) {
	override := vc.Override
	vc.Override = false
	entry, changed, err := s.catalogChanged(ctx, catalogVenueWindow, vc.ID, vc)
	if err != nil {
		return nil, err
	}
	if !changed {
		result.Unchanged++
		return nil, nil
	}

	current, err := s.store.GetVenueWindow(ctx, vc.ID)
	switch {
	case errors.Is(err, model.ErrNotFound):
		current = nil
	case err != nil:
		return nil, err
	case current.DeletedAt != nil:
		result.Skipped = append(result.Skipped, fmt.Sprintf("venue window %d was deleted", vc.ID))
		return nil, nil
	}

	proposed, err := vc.Model()
	if err != nil {
		return nil, fmt.Errorf("venue window %d: %w", vc.ID, err)
	}
	if err := proposed.Validate(); err != nil {
		return nil, fmt.Errorf("venue window %d: %w", vc.ID, err)
	}
	res, err := s.checkVenueChange(ctx, current, &proposed, override)
	if err != nil {
		return nil, fmt.Errorf("venue window %d: %w", vc.ID, err)
	}
	return &catalogStep{kind: catalogVenueWindow, id: vc.ID, entry: entry, apply: func(ctx context.Context) ([]conflict.Outcome, error) {
		err := s.commitVenueWindow(ctx, current, res)
		return res.Outcomes, err
	}}, nil
}

// planRemoval soft-deletes a window that was applied from the catalog and is
// no longer listed. Windows already deleted over the API are only forgotten.
func (s *Service) planRemoval(ctx context.Context, kind string, id int64) (*catalogStep, error) {
	step := &catalogStep{kind: kind, id: id, apply: func(context.Context) ([]conflict.Outcome, error) {
		return nil, nil
	}}

	if kind == catalogWindow {
		w, err := s.store.GetWindow(ctx, id)
		if errors.Is(err, model.ErrNotFound) || (err == nil && w.DeletedAt != nil) {
			return step, nil
		}
		if err != nil {
			return nil, err
		}
		report, err := s.analyzer.AssessServiceWindowDeletion(ctx, w)
		if err != nil {
			return nil, err
		}
		if report.HasConflicts {
			return nil, dependencyError("availability window", id, report)
		}
		step.apply = func(ctx context.Context) ([]conflict.Outcome, error) {
			if err := s.store.SoftDeleteWindow(ctx, id); err != nil {
				return nil, err
			}
			s.afterWindowChange(ctx, id, "delete", report, w.LocationID)
			return nil, nil
		}
		return step, nil
	}

	w, err := s.store.GetVenueWindow(ctx, id)
	if errors.Is(err, model.ErrNotFound) || (err == nil && w.DeletedAt != nil) {
		return step, nil
	}
	if err != nil {
		return nil, err
	}
	report, err := s.analyzer.AssessDeletionImpact(ctx, w)
	if err != nil {
		return nil, err
	}
	if report.HasConflicts {
		return nil, dependencyError("venue window", id, report)
	}
	step.apply = func(ctx context.Context) ([]conflict.Outcome, error) {
		if err := s.store.SoftDeleteVenueWindow(ctx, id); err != nil {
			return nil, err
		}
		s.afterVenueWindowChange(ctx, id, "delete", report, w.LocationID)
		return nil, nil
	}
	return step, nil
}

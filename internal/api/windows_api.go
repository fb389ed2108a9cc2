package api

import (
	"net/http"
	"time"

	"venuebook/internal/amenity"
	"venuebook/internal/config"
	"venuebook/internal/metrics"
	"venuebook/internal/model"
)

// Window bodies use the catalog entry format so clocks and dates are written
// the same way in the API and in catalog.yaml.

func decodeWindow(r *http.Request) (*model.AvailabilityWindow, error) {
	var req config.WindowConfig
	if err := decodeJSON(r, &req); err != nil {
		return nil, err
	}
	w, err := req.Model()
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// decodeVenueWindow reads a venue window body. Override may be set in the
// body or with ?override=true.
func decodeVenueWindow(r *http.Request) (*model.VenueAvailabilityWindow, bool, error) {
	var req config.VenueWindowConfig
	if err := decodeJSON(r, &req); err != nil {
		return nil, false, err
	}
	w, err := req.Model()
	if err != nil {
		return nil, false, err
	}
	return &w, req.Override || queryBool(r, "override"), nil
}

// POST /api/windows
func (s *HTTPServer) handleCreateWindow(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("create_window")

	win, err := decodeWindow(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := s.svc.CreateWindow(r.Context(), win)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// PUT /api/windows/{id}
func (s *HTTPServer) handleUpdateWindow(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("update_window")

	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	win, err := decodeWindow(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := s.svc.UpdateWindow(r.Context(), id, win)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleDeleteWindow answers 409 with the dependent bookings unless force=true.
// DELETE /api/windows/{id}[?force=true]
func (s *HTTPServer) handleDeleteWindow(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("delete_window")

	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	report, err := s.svc.DeleteWindow(r.Context(), id, queryBool(r, "force"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// POST /api/venue-windows[?override=true]
func (s *HTTPServer) handleCreateVenueWindow(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("create_venue_window")

	win, override, err := decodeVenueWindow(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := s.svc.CreateVenueWindow(r.Context(), win, override)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// handleUpdateVenueWindow answers 409 with the conflicts and affected
// bookings when the change involves maintenance and override is not set.
// PUT /api/venue-windows/{id}[?override=true]
func (s *HTTPServer) handleUpdateVenueWindow(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("update_venue_window")

	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	win, override, err := decodeVenueWindow(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := s.svc.UpdateVenueWindow(r.Context(), id, win, override)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// DELETE /api/venue-windows/{id}[?force=true]
func (s *HTTPServer) handleDeleteVenueWindow(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("delete_venue_window")

	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	report, err := s.svc.DeleteVenueWindow(r.Context(), id, queryBool(r, "force"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// POST /api/locations/{id}/amenities
func (s *HTTPServer) handleCreateAmenity(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("create_amenity")

	locationID, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req config.AmenityConfig
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.ID = 0
	req.LocationID = locationID
	a := req.Model()
	created, err := s.svc.CreateAmenity(r.Context(), &a)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// PUT /api/amenities/{id}
func (s *HTTPServer) handleUpdateAmenity(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("update_amenity")

	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req config.AmenityConfig
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	a := req.Model()
	updated, err := s.svc.UpdateAmenity(r.Context(), id, &a)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// DELETE /api/amenities/{id}[?force=true]
func (s *HTTPServer) handleDeleteAmenity(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("delete_amenity")

	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.svc.DeleteAmenity(r.Context(), id, queryBool(r, "force")); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// MatchRequest is the request body for POST /api/locations/{id}/amenities/match.
type MatchRequest struct {
	Requirements []amenity.Requirement `json:"requirements"`
	EventDate    string                `json:"event_date,omitempty"` // YYYY-MM-DD or RFC 3339
}

// POST /api/locations/{id}/amenities/match
func (s *HTTPServer) handleMatchAmenities(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("match_amenities")

	locationID, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req MatchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Requirements) == 0 {
		writeError(w, http.StatusBadRequest, "requirements are required")
		return
	}

	var eventDate *time.Time
	if req.EventDate != "" {
		t, err := s.parseEventDate(req.EventDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid event_date format; expected YYYY-MM-DD or RFC 3339")
			return
		}
		eventDate = &t
	}

	res, err := s.svc.MatchAmenities(r.Context(), locationID, req.Requirements, eventDate)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *HTTPServer) parseEventDate(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.ParseInLocation(dateLayout, raw, s.cfg.Location)
}

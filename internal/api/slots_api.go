package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"venuebook/internal/availability"
	"venuebook/internal/export"
	"venuebook/internal/metrics"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// SlotsResponse is the response for the slot listing endpoints.
type SlotsResponse struct {
	LocationID int64               `json:"location_id"`
	ServiceID  int64               `json:"service_id,omitempty"`
	Slots      []availability.Slot `json:"slots"`
	Count      int                 `json:"count"`
	// DurationOptions maps a slot start to the lengths in minutes bookable
	// from it by chaining back-to-back slots.
	DurationOptions map[string][]int `json:"duration_options,omitempty"`
	Period     struct {
		Start string `json:"start"`
		End   string `json:"end"`
	} `json:"period"`
}

func newSlotsResponse(locationID, serviceID int64, slots []availability.Slot, start, end time.Time) SlotsResponse {
	if slots == nil {
		slots = []availability.Slot{}
	}
	resp := SlotsResponse{LocationID: locationID, ServiceID: serviceID, Slots: slots, Count: len(slots)}
	resp.Period.Start = start.Format(dateLayout)
	resp.Period.End = end.Format(dateLayout)
	return resp
}

type venueQuery struct {
	locationID int64
	start, end time.Time
	duration   int
	opts       availability.Options
}

func (s *HTTPServer) parseVenueQuery(r *http.Request) (*venueQuery, error) {
	locationID, err := pathID(r)
	if err != nil {
		return nil, err
	}
	start, end, err := s.dateRange(r)
	if err != nil {
		return nil, err
	}

	raw := r.URL.Query().Get("duration")
	if raw == "" {
		return nil, fmt.Errorf("duration is required")
	}
	duration, err := strconv.Atoi(raw)
	if err != nil || duration <= 0 {
		return nil, fmt.Errorf("duration must be a positive number of minutes")
	}
	serviceID, err := queryInt(r, "service_id")
	if err != nil {
		return nil, err
	}
	step, err := queryInt(r, "step")
	if err != nil {
		return nil, err
	}

	return &venueQuery{
		locationID: locationID,
		start:      start,
		end:        end,
		duration:   duration,
		opts:       availability.Options{ServiceID: serviceID, StepMinutes: int(step)},
	}, nil
}

// handleLocationSlots lists bookable slots of a venue.
// GET /api/locations/{id}/slots?start=&end=&duration=[&service_id=&step=]
func (s *HTTPServer) handleLocationSlots(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("location_slots")

	q, err := s.parseVenueQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	slots, err := s.svc.GetAvailableSlots(r.Context(), q.locationID, q.start, q.end, q.duration, q.opts)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newSlotsResponse(q.locationID, q.opts.ServiceID, slots, q.start, q.end))
}

// handleCalendar returns the public availability calendar.
// GET /api/locations/{id}/calendar?start=&end=&duration=
func (s *HTTPServer) handleCalendar(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("calendar")

	q, err := s.parseVenueQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	cal, err := s.svc.Calendar(r.Context(), q.locationID, q.start, q.end, q.duration, q.opts)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cal)
}

// handleCalendarExport returns the calendar as an Excel workbook.
// GET /api/locations/{id}/calendar.xlsx?start=&end=&duration=
func (s *HTTPServer) handleCalendarExport(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("calendar_export")

	q, err := s.parseVenueQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	cal, err := s.svc.Calendar(r.Context(), q.locationID, q.start, q.end, q.duration, q.opts)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	var buf bytes.Buffer
	if err := export.WriteCalendar(cal, &buf); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	filename := fmt.Sprintf("availability_%d_%s_%s.xlsx", q.locationID, cal.StartDate, cal.EndDate)
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func durationOptions(slots []availability.Slot) map[string][]int {
	out := make(map[string][]int, len(slots))
	for _, run := range availability.FindConsecutive(slots) {
		for _, slot := range run {
			out[slot.Start.Format(time.RFC3339)] = availability.DurationOptions(run, slot.Start)
		}
	}
	return out
}

// handleServiceSlots lists the slots of a service at a location with
// remaining capacity, price and the longer bookings each start allows.
// min_consecutive keeps only starts with that many back-to-back slots.
// GET /api/services/{id}/slots?location_id=&start=&end=[&min_consecutive=]
func (s *HTTPServer) handleServiceSlots(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("service_slots")

	serviceID, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	locationID, err := queryInt(r, "location_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if locationID <= 0 {
		writeError(w, http.StatusBadRequest, "location_id is required")
		return
	}
	start, end, err := s.dateRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	minRun, err := queryInt(r, "min_consecutive")
	if err != nil || minRun < 0 {
		writeError(w, http.StatusBadRequest, "min_consecutive must be a non-negative integer")
		return
	}

	slots, err := s.svc.ServiceSlots(r.Context(), serviceID, locationID, start, end)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	options := durationOptions(slots)
	if minRun > 1 {
		kept := make([]availability.Slot, 0, len(slots))
		for _, slot := range slots {
			if availability.CanBookConsecutive(slots, slot.Start, int(minRun)) {
				kept = append(kept, slot)
			}
		}
		slots = kept
	}
	resp := newSlotsResponse(locationID, serviceID, slots, start, end)
	resp.DurationOptions = make(map[string][]int, len(resp.Slots))
	for _, slot := range resp.Slots {
		key := slot.Start.Format(time.RFC3339)
		resp.DurationOptions[key] = options[key]
	}
	writeJSON(w, http.StatusOK, resp)
}

package api

import (
	"context"
	"net/http"
	"time"

	"venuebook/internal/metrics"
	"venuebook/internal/scheduling"
)

// CapacityRequest is the request body for the /api/capacity endpoints.
type CapacityRequest struct {
	ServiceID    int64     `json:"service_id"`
	LocationID   *int64    `json:"location_id,omitempty"`
	SlotDatetime time.Time `json:"slot_datetime"`
	Count        int       `json:"count,omitempty"`
	Reason       string    `json:"reason,omitempty"`
}

// CapacityResponse reports whether the slot accepted the change.
type CapacityResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

var capacityRejections = map[string]string{
	"reserve": "not enough capacity left in slot",
	"release": "slot has fewer bookings than requested",
	"block":   "not enough free capacity to block",
	"unblock": "slot has fewer blocked places than requested",
}

// handleCapacity applies op to a capacity slot. A rejected change answers 409
// with success false.
// POST /api/capacity/{reserve,release,block,unblock}
func (s *HTTPServer) handleCapacity(op string) http.HandlerFunc {
	route := "capacity_" + op
	return func(w http.ResponseWriter, r *http.Request) {
		metrics.IncHTTP(route)

		var req CapacityRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if req.Count == 0 {
			req.Count = 1
		}
		if req.Count < 0 {
			writeError(w, http.StatusBadRequest, "count must be positive")
			return
		}

		ref := scheduling.SlotRef{ServiceID: req.ServiceID, LocationID: req.LocationID, SlotDatetime: req.SlotDatetime}
		var (
			ok  bool
			err error
		)
		switch op {
		case "reserve":
			ok, err = s.svc.ReserveSlot(r.Context(), ref, req.Count)
		case "release":
			ok, err = s.svc.ReleaseSlot(r.Context(), ref, req.Count)
		case "block":
			ok, err = s.svc.BlockSlot(r.Context(), ref, req.Count, req.Reason)
		case "unblock":
			ok, err = s.svc.UnblockSlot(r.Context(), ref, req.Count)
		}
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		if !ok {
			writeJSON(w, http.StatusConflict, CapacityResponse{Success: false, Error: capacityRejections[op]})
			return
		}
		writeJSON(w, http.StatusOK, CapacityResponse{Success: true})
	}
}

// handleCloseSlot closes or reopens a whole capacity slot.
// POST /api/capacity/{close,open}
func (s *HTTPServer) handleCloseSlot(closed bool) http.HandlerFunc {
	route := "capacity_open"
	if closed {
		route = "capacity_close"
	}
	return func(w http.ResponseWriter, r *http.Request) {
		metrics.IncHTTP(route)

		var req CapacityRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		ref := scheduling.SlotRef{ServiceID: req.ServiceID, LocationID: req.LocationID, SlotDatetime: req.SlotDatetime}
		var err error
		if closed {
			err = s.svc.CloseSlot(r.Context(), ref, req.Reason)
		} else {
			err = s.svc.OpenSlot(r.Context(), ref)
		}
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, CapacityResponse{Success: true})
	}
}

// handleSlotStatus reports the capacity of one slot without creating it.
// GET /api/capacity?service_id=&slot_datetime=[&location_id=]
func (s *HTTPServer) handleSlotStatus(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("capacity_status")

	serviceID, err := queryInt(r, "service_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	at, err := time.Parse(time.RFC3339, r.URL.Query().Get("slot_datetime"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid slot_datetime; expected RFC 3339")
		return
	}
	ref := scheduling.SlotRef{ServiceID: serviceID, SlotDatetime: at}
	locationID, err := queryInt(r, "location_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if locationID > 0 {
		ref.LocationID = &locationID
	}

	status, err := s.svc.GetSlotStatus(r.Context(), ref)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// BookingCommittedRequest is the optional body of the committed hook.
type BookingCommittedRequest struct {
	Amenities []scheduling.AmenityAttachment `json:"amenities"`
}

// handleBookingCommitted is called by the booking writer after a booking is
// stored, with the amenities the booking reserves.
// POST /api/bookings/{id}/committed
func (s *HTTPServer) handleBookingCommitted(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("booking_committed")

	var req BookingCommittedRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	s.bookingHook(w, r, func(ctx context.Context, id int64) error {
		return s.svc.BookingCommitted(ctx, id, req.Amenities)
	})
}

// POST /api/bookings/{id}/cancelled
func (s *HTTPServer) handleBookingCancelled(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("booking_cancelled")
	s.bookingHook(w, r, s.svc.BookingCancelled)
}

func (s *HTTPServer) bookingHook(w http.ResponseWriter, r *http.Request, hook func(ctx context.Context, id int64) error) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := hook(r.Context(), id); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

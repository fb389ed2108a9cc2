// Package api exposes the scheduling facade as JSON over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"venuebook/internal/amenity"
	"venuebook/internal/availability"
	"venuebook/internal/conflict"
	"venuebook/internal/metrics"
	"venuebook/internal/model"
	"venuebook/internal/scheduling"
)

const dateLayout = "2006-01-02"

// Scheduler is the facade the handlers call.
type Scheduler interface {
	GetAvailableSlots(ctx context.Context, locationID int64, startDate, endDate time.Time, durationMinutes int, opts availability.Options) ([]availability.Slot, error)
	ServiceSlots(ctx context.Context, serviceID, locationID int64, startDate, endDate time.Time) ([]availability.Slot, error)
	Calendar(ctx context.Context, locationID int64, startDate, endDate time.Time, durationMinutes int, opts availability.Options) (*availability.Calendar, error)

	ReserveSlot(ctx context.Context, ref scheduling.SlotRef, count int) (bool, error)
	ReleaseSlot(ctx context.Context, ref scheduling.SlotRef, count int) (bool, error)
	BlockSlot(ctx context.Context, ref scheduling.SlotRef, count int, reason string) (bool, error)
	UnblockSlot(ctx context.Context, ref scheduling.SlotRef, count int) (bool, error)
	CloseSlot(ctx context.Context, ref scheduling.SlotRef, reason string) error
	OpenSlot(ctx context.Context, ref scheduling.SlotRef) error
	GetSlotStatus(ctx context.Context, ref scheduling.SlotRef) (*scheduling.SlotStatus, error)

	CreateWindow(ctx context.Context, w *model.AvailabilityWindow) (*scheduling.WindowResult, error)
	UpdateWindow(ctx context.Context, id int64, w *model.AvailabilityWindow) (*scheduling.WindowResult, error)
	DeleteWindow(ctx context.Context, id int64, force bool) (*conflict.ImpactReport, error)

	CreateVenueWindow(ctx context.Context, w *model.VenueAvailabilityWindow, override bool) (*scheduling.VenueWindowResult, error)
	UpdateVenueWindow(ctx context.Context, id int64, w *model.VenueAvailabilityWindow, override bool) (*scheduling.VenueWindowResult, error)
	DeleteVenueWindow(ctx context.Context, id int64, force bool) (*conflict.ImpactReport, error)

	CreateAmenity(ctx context.Context, a *model.VenueAmenity) (*model.VenueAmenity, error)
	UpdateAmenity(ctx context.Context, id int64, a *model.VenueAmenity) (*model.VenueAmenity, error)
	DeleteAmenity(ctx context.Context, id int64, force bool) error
	MatchAmenities(ctx context.Context, locationID int64, reqs []amenity.Requirement, eventDate *time.Time) (*amenity.MatchResult, error)

	BookingCommitted(ctx context.Context, bookingID int64, amenities []scheduling.AmenityAttachment) error
	BookingCancelled(ctx context.Context, bookingID int64) error
}

// Config holds the listener and request settings.
type Config struct {
	Addr           string
	RateLimitRPS   float64
	RateLimitBurst int
	// Location interprets YYYY-MM-DD query dates.
	Location *time.Location
}

// HTTPServer serves the booking API.
type HTTPServer struct {
	svc     Scheduler
	cfg     Config
	limiter *rate.Limiter
	server  *http.Server
	logger  *zerolog.Logger
}

// NewHTTPServer wires the routes behind the rate limiter.
func NewHTTPServer(cfg Config, svc Scheduler, logger *zerolog.Logger) *HTTPServer {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 20
	}
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 40
	}

	l := logger.With().Str("component", "api").Logger()
	s := &HTTPServer{
		svc:     svc,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst),
		logger:  &l,
	}

	mux := http.NewServeMux()
	s.routes(mux)
	s.server = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.logRequests(s.rateLimit(mux)),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *HTTPServer) routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/locations/{id}/slots", s.handleLocationSlots)
	mux.HandleFunc("GET /api/locations/{id}/calendar", s.handleCalendar)
	mux.HandleFunc("GET /api/locations/{id}/calendar.xlsx", s.handleCalendarExport)
	mux.HandleFunc("GET /api/services/{id}/slots", s.handleServiceSlots)

	mux.HandleFunc("POST /api/capacity/reserve", s.handleCapacity("reserve"))
	mux.HandleFunc("POST /api/capacity/release", s.handleCapacity("release"))
	mux.HandleFunc("POST /api/capacity/block", s.handleCapacity("block"))
	mux.HandleFunc("POST /api/capacity/unblock", s.handleCapacity("unblock"))
	mux.HandleFunc("POST /api/capacity/close", s.handleCloseSlot(true))
	mux.HandleFunc("POST /api/capacity/open", s.handleCloseSlot(false))
	mux.HandleFunc("GET /api/capacity", s.handleSlotStatus)

	mux.HandleFunc("POST /api/windows", s.handleCreateWindow)
	mux.HandleFunc("PUT /api/windows/{id}", s.handleUpdateWindow)
	mux.HandleFunc("DELETE /api/windows/{id}", s.handleDeleteWindow)

	mux.HandleFunc("POST /api/venue-windows", s.handleCreateVenueWindow)
	mux.HandleFunc("PUT /api/venue-windows/{id}", s.handleUpdateVenueWindow)
	mux.HandleFunc("DELETE /api/venue-windows/{id}", s.handleDeleteVenueWindow)

	mux.HandleFunc("POST /api/locations/{id}/amenities", s.handleCreateAmenity)
	mux.HandleFunc("POST /api/locations/{id}/amenities/match", s.handleMatchAmenities)
	mux.HandleFunc("PUT /api/amenities/{id}", s.handleUpdateAmenity)
	mux.HandleFunc("DELETE /api/amenities/{id}", s.handleDeleteAmenity)

	mux.HandleFunc("POST /api/bookings/{id}/committed", s.handleBookingCommitted)
	mux.HandleFunc("POST /api/bookings/{id}/cancelled", s.handleBookingCancelled)
}

// Handler returns the root handler, middleware included.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

// Start listens until Shutdown is called.
func (s *HTTPServer) Start() error {
	s.logger.Info().Str("addr", s.cfg.Addr).Msg("api listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			metrics.IncThrottled()
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *HTTPServer) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(started)).
			Msg("request")
	})
}

// conflictResponse carries the records that blocked a change.
type conflictResponse struct {
	Error      string                   `json:"error"`
	Conflicts  []conflict.Conflict      `json:"conflicts,omitempty"`
	Impacts    []conflict.BookingImpact `json:"impacts,omitempty"`
	Dependents any                      `json:"dependents,omitempty"`
}

// writeServiceError maps facade errors onto status codes.
func (s *HTTPServer) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		configErr     *model.ConfigurationError
		validationErr *model.ValidationError
		dependencyErr *model.DependencyError
		criticalErr   *conflict.CriticalConflictError
	)
	switch {
	case errors.As(err, &configErr), errors.As(err, &validationErr), errors.Is(err, availability.ErrRangeTooLarge):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, model.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &criticalErr):
		writeJSON(w, http.StatusConflict, conflictResponse{
			Error:     err.Error(),
			Conflicts: criticalErr.Conflicts,
			Impacts:   criticalErr.Impacts,
		})
	case errors.As(err, &dependencyErr):
		writeJSON(w, http.StatusConflict, conflictResponse{
			Error:      err.Error(),
			Dependents: dependencyErr.Dependents,
		})
	default:
		s.logger.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeJSON(r *http.Request, v any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

// pathID parses the {id} wildcard.
func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", r.PathValue("id"))
	}
	return id, nil
}

func queryBool(r *http.Request, name string) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get(name))
	return v
}

// queryInt returns 0 when the parameter is absent.
func queryInt(r *http.Request, name string) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s; expected an integer", name)
	}
	return v, nil
}

// dateRange reads the start and end query dates in the configured zone.
func (s *HTTPServer) dateRange(r *http.Request) (time.Time, time.Time, error) {
	q := r.URL.Query()
	if q.Get("start") == "" || q.Get("end") == "" {
		return time.Time{}, time.Time{}, fmt.Errorf("start and end are required")
	}
	start, err := time.ParseInLocation(dateLayout, q.Get("start"), s.cfg.Location)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid start format; expected YYYY-MM-DD")
	}
	end, err := time.ParseInLocation(dateLayout, q.Get("end"), s.cfg.Location)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid end format; expected YYYY-MM-DD")
	}
	return start, end, nil
}

package conflict

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"venuebook/internal/availability"
	"venuebook/internal/interval"
	"venuebook/internal/metrics"
	"venuebook/internal/model"
)

// Action is the recommended handling of an affected booking.
type Action string

const (
	ActionAutoReschedule Action = "auto_reschedule"
	ActionManualReview   Action = "manual_review"
	ActionCancelBooking  Action = "cancel_booking"
)

// Change names the window edit a report was built for.
type Change string

const (
	ChangeUpdate Change = "update"
	ChangeDelete Change = "delete"
)

// BookingImpact describes one booking a window change breaks.
type BookingImpact struct {
	BookingID         int64               `json:"booking_id"`
	ServiceID         int64               `json:"service_id"`
	LocationID        int64               `json:"service_location_id"`
	ScheduledAt       time.Time           `json:"scheduled_at"`
	EndsAt            time.Time           `json:"ends_at"`
	Status            model.BookingStatus `json:"status"`
	Severity          Severity            `json:"severity"`
	Reason            string              `json:"reason"`
	RecommendedAction Action              `json:"recommended_action"`
}

// ImpactReport lists the bookings affected by a window change.
type ImpactReport struct {
	ReportID      string          `json:"report_id"`
	WindowID      int64           `json:"window_id"`
	Change        Change          `json:"change"`
	HasConflicts  bool            `json:"has_conflicts"`
	TotalAffected int             `json:"total_affected"`
	Impacts       []BookingImpact `json:"impacts"`
	GeneratedAt   time.Time       `json:"generated_at"`
}

// Critical reports whether any impact is critical.
func (r *ImpactReport) Critical() bool {
	for _, i := range r.Impacts {
		if i.Severity == SeverityCritical {
			return true
		}
	}
	return false
}

// Store is the booking and window access the analyzer needs.
type Store interface {
	ListVenueWindows(ctx context.Context, locationID int64) ([]model.VenueAvailabilityWindow, error)
	ListWindowsForService(ctx context.Context, serviceID int64) ([]model.AvailabilityWindow, error)
	ListActiveBookingsFrom(ctx context.Context, locationID int64, from time.Time) ([]model.Booking, error)
	ListActiveBookingsForService(ctx context.Context, serviceID int64, locationID *int64, from time.Time) ([]model.Booking, error)
	RescheduleBooking(ctx context.Context, id int64, start, end time.Time) error
	CancelBooking(ctx context.Context, id int64, reason string) error
	FlagBookingForReview(ctx context.Context, id int64, reason string) error
}

// SlotFinder searches alternative slots for rescheduling.
type SlotFinder interface {
	GetAvailableSlots(ctx context.Context, locationID int64, startDate, endDate time.Time, durationMinutes int, opts availability.Options) ([]availability.Slot, error)
}

// Config tunes impact handling.
type Config struct {
	Location *time.Location
	// ManualReviewWindow routes bookings starting sooner than this to a human.
	ManualReviewWindow time.Duration
	SearchBeforeDays   int
	SearchAfterDays    int
	// ForceCancel cancels bookings that could not be rescheduled instead of
	// flagging them for review.
	ForceCancel bool
}

// Analyzer assesses and resolves the booking impact of window changes.
type Analyzer struct {
	store  Store
	finder SlotFinder
	cfg    Config
	logger *zerolog.Logger
	now    func() time.Time
}

// NewAnalyzer creates an analyzer.
func NewAnalyzer(store Store, finder SlotFinder, cfg Config, logger *zerolog.Logger) *Analyzer {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.ManualReviewWindow <= 0 {
		cfg.ManualReviewWindow = 48 * time.Hour
	}
	if cfg.SearchBeforeDays <= 0 {
		cfg.SearchBeforeDays = 3
	}
	if cfg.SearchAfterDays <= 0 {
		cfg.SearchAfterDays = 7
	}
	l := logger.With().Str("component", "conflict").Logger()
	return &Analyzer{store: store, finder: finder, cfg: cfg, logger: &l, now: time.Now}
}

// SetNow overrides the clock.
func (a *Analyzer) SetNow(now func() time.Time) {
	a.now = now
}

// CheckVenueWindow detects the conflicts of w with the other windows of its
// location.
func (a *Analyzer) CheckVenueWindow(ctx context.Context, w *model.VenueAvailabilityWindow) ([]Conflict, error) {
	existing, err := a.store.ListVenueWindows(ctx, w.LocationID)
	if err != nil {
		return nil, fmt.Errorf("load venue windows of location %d: %w", w.LocationID, err)
	}
	conflicts := DetectConflicts(w, existing)
	countConflicts(conflicts)
	return conflicts, nil
}

// CheckServiceWindow detects the conflicts of w with the other windows of
// its service.
func (a *Analyzer) CheckServiceWindow(ctx context.Context, w *model.AvailabilityWindow) ([]Conflict, error) {
	existing, err := a.store.ListWindowsForService(ctx, w.ServiceID)
	if err != nil {
		return nil, fmt.Errorf("load windows of service %d: %w", w.ServiceID, err)
	}
	conflicts := DetectWindowConflicts(w, existing)
	countConflicts(conflicts)
	return conflicts, nil
}

func countConflicts(conflicts []Conflict) {
	for _, c := range conflicts {
		metrics.IncConflict(string(c.Severity))
	}
}

// AssessBookingImpact compares the current and proposed versions of a venue
// window against the future bookings of its location. A booking the current
// window admits is affected when the proposed window no longer does and no
// other window of the location does either. A proposed maintenance window affects every booking on the
// days it applies, with critical severity.
func (a *Analyzer) AssessBookingImpact(ctx context.Context, current, proposed *model.VenueAvailabilityWindow) (*ImpactReport, error) {
	bookings, others, err := a.venueContext(ctx, current)
	if err != nil {
		return nil, err
	}
	report := a.newReport(current.ID, ChangeUpdate)
	now := a.now()

	for i := range bookings {
		b := &bookings[i]
		day := a.bookingDay(b)
		appliesNow := proposed.IsUsable() && proposed.AppliesOn(day)

		if appliesNow && proposed.IsMaintenance() {
			report.add(b, SeverityCritical, "venue closed for maintenance", a.action(b, now, true))
			continue
		}
		if !venueAdmits(current, b, day) {
			continue
		}
		if venueAdmits(proposed, b, day) || coveredByAny(others, b, day) {
			continue
		}
		var reason string
		switch {
		case !appliesNow:
			reason = "window no longer applies on the booking date"
		case !proposed.AccessSpan(day).Contains(b.Range()):
			reason = fmt.Sprintf("booking outside new access hours %s-%s", proposed.EarliestAccess, proposed.LatestDeparture)
		default:
			reason = "booking falls inside new quiet hours"
		}
		report.add(b, SeverityHigh, reason, a.action(b, now, false))
	}
	a.logReport(report, current.LocationID)
	return report, nil
}

// AssessDeletionImpact lists the future bookings that only w admits. Every
// impact is high severity and routed to manual review.
func (a *Analyzer) AssessDeletionImpact(ctx context.Context, w *model.VenueAvailabilityWindow) (*ImpactReport, error) {
	report := a.newReport(w.ID, ChangeDelete)
	if w.IsMaintenance() || !w.IsUsable() {
		return report, nil
	}
	bookings, others, err := a.venueContext(ctx, w)
	if err != nil {
		return nil, err
	}
	for i := range bookings {
		b := &bookings[i]
		day := a.bookingDay(b)
		if !venueAdmits(w, b, day) || coveredByAny(others, b, day) {
			continue
		}
		report.add(b, SeverityHigh, "booking depends solely on the deleted window", ActionManualReview)
	}
	a.logReport(report, w.LocationID)
	return report, nil
}

// AssessServiceWindowDeletion lists the future bookings of the window's
// service that no other window of the service can hold.
func (a *Analyzer) AssessServiceWindowDeletion(ctx context.Context, w *model.AvailabilityWindow) (*ImpactReport, error) {
	report := a.newReport(w.ID, ChangeDelete)
	if !w.IsUsable() {
		return report, nil
	}
	bookings, others, err := a.serviceContext(ctx, w)
	if err != nil {
		return nil, err
	}
	for i := range bookings {
		b := &bookings[i]
		day := a.bookingDay(b)
		if !serviceWindowHolds(w, b, day) || heldByAny(others, b, day) {
			continue
		}
		report.add(b, SeverityHigh, "booking depends solely on the deleted window", ActionManualReview)
	}
	a.logReport(report, 0)
	return report, nil
}

// AssessServiceWindowUpdate lists the future bookings that current holds and
// that neither proposed nor any other window of the service can hold once
// the update is stored. Affected bookings are high severity and routed to
// manual review, since the reschedule search only knows venue hours.
func (a *Analyzer) AssessServiceWindowUpdate(ctx context.Context, current, proposed *model.AvailabilityWindow) (*ImpactReport, error) {
	report := a.newReport(current.ID, ChangeUpdate)
	if !current.IsUsable() {
		return report, nil
	}
	bookings, others, err := a.serviceContext(ctx, current)
	if err != nil {
		return nil, err
	}
	sameService := proposed.ServiceID == current.ServiceID
	for i := range bookings {
		b := &bookings[i]
		day := a.bookingDay(b)
		if !serviceWindowHolds(current, b, day) || heldByAny(others, b, day) {
			continue
		}
		if sameService && serviceWindowHolds(proposed, b, day) {
			continue
		}
		reason := "booking outside the updated window"
		switch {
		case !sameService:
			reason = "window moved to another service"
		case !proposed.IsUsable():
			reason = "window no longer bookable"
		}
		report.add(b, SeverityHigh, reason, ActionManualReview)
	}
	a.logReport(report, 0)
	return report, nil
}

// serviceContext loads the future bookings w could hold and the other usable
// windows of its service.
func (a *Analyzer) serviceContext(ctx context.Context, w *model.AvailabilityWindow) ([]model.Booking, []model.AvailabilityWindow, error) {
	all, err := a.store.ListWindowsForService(ctx, w.ServiceID)
	if err != nil {
		return nil, nil, fmt.Errorf("load windows of service %d: %w", w.ServiceID, err)
	}
	bookings, err := a.store.ListActiveBookingsForService(ctx, w.ServiceID, w.LocationID, a.now())
	if err != nil {
		return nil, nil, fmt.Errorf("load bookings of service %d: %w", w.ServiceID, err)
	}
	others := make([]model.AvailabilityWindow, 0, len(all))
	for _, o := range all {
		if o.ID != w.ID && o.IsUsable() {
			others = append(others, o)
		}
	}
	return bookings, others, nil
}

// Outcome is what HandleAffectedBookings did with one booking.
type Outcome struct {
	BookingID int64      `json:"booking_id"`
	Action    Action     `json:"action"`
	Result    string     `json:"result"`
	NewStart  *time.Time `json:"new_start,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// Handling results.
const (
	ResultRescheduled = "rescheduled"
	ResultFlagged     = "flagged"
	ResultCancelled   = "cancelled"
	ResultFailed      = "failed"
)

// HandleAffectedBookings applies the recommended action of every impact in
// the report. A booking that cannot be rescheduled is flagged for review, or
// cancelled when ForceCancel is set. Failures do not stop the remaining
// bookings and are returned joined.
func (a *Analyzer) HandleAffectedBookings(ctx context.Context, report *ImpactReport) ([]Outcome, error) {
	outcomes := make([]Outcome, 0, len(report.Impacts))
	var errs []error

	for _, impact := range report.Impacts {
		out := Outcome{BookingID: impact.BookingID, Action: impact.RecommendedAction}
		var err error

		switch impact.RecommendedAction {
		case ActionAutoReschedule:
			var start *time.Time
			start, err = a.reschedule(ctx, impact)
			if err == nil && start != nil {
				out.Result, out.NewStart = ResultRescheduled, start
				break
			}
			if err != nil {
				a.logger.Warn().Err(err).Int64("booking_id", impact.BookingID).Msg("auto reschedule failed")
			}
			out.Result, err = a.fallback(ctx, impact)
		case ActionCancelBooking:
			err = a.store.CancelBooking(ctx, impact.BookingID, impact.Reason)
			out.Result = ResultCancelled
		default:
			err = a.store.FlagBookingForReview(ctx, impact.BookingID, impact.Reason)
			out.Result = ResultFlagged
		}

		if err != nil {
			out.Result, out.Error = ResultFailed, err.Error()
			a.logger.Error().Err(err).
				Int64("booking_id", impact.BookingID).
				Int64("location_id", impact.LocationID).
				Int64("window_id", report.WindowID).
				Str("action", string(impact.RecommendedAction)).
				Msg("handle affected booking")
			errs = append(errs, fmt.Errorf("booking %d: %w", impact.BookingID, err))
		}
		metrics.IncBookingImpact(out.Result)
		outcomes = append(outcomes, out)
	}
	return outcomes, errors.Join(errs...)
}

// reschedule moves the booking to the closest free slot of the same length
// within the search window. It returns nil when nothing fits.
func (a *Analyzer) reschedule(ctx context.Context, impact BookingImpact) (*time.Time, error) {
	duration := int(impact.EndsAt.Sub(impact.ScheduledAt) / time.Minute)
	day := impact.ScheduledAt.In(a.cfg.Location)
	from := day.AddDate(0, 0, -a.cfg.SearchBeforeDays)
	if today := a.now().In(a.cfg.Location); from.Before(today) {
		from = today
	}
	to := day.AddDate(0, 0, a.cfg.SearchAfterDays)

	slots, err := a.finder.GetAvailableSlots(ctx, impact.LocationID, from, to, duration, availability.Options{
		ServiceID:        impact.ServiceID,
		ExcludeBookingID: impact.BookingID,
		SkipCache:        true,
	})
	if err != nil {
		return nil, err
	}
	if len(slots) == 0 {
		return nil, nil
	}
	sort.SliceStable(slots, func(i, j int) bool {
		return distance(slots[i].Start, impact.ScheduledAt) < distance(slots[j].Start, impact.ScheduledAt)
	})
	best := slots[0]
	if err := a.store.RescheduleBooking(ctx, impact.BookingID, best.Start, best.End); err != nil {
		return nil, err
	}
	a.logger.Info().
		Int64("booking_id", impact.BookingID).
		Time("from", impact.ScheduledAt).
		Time("to", best.Start).
		Msg("booking rescheduled")
	return &best.Start, nil
}

func (a *Analyzer) fallback(ctx context.Context, impact BookingImpact) (string, error) {
	if a.cfg.ForceCancel {
		return ResultCancelled, a.store.CancelBooking(ctx, impact.BookingID, impact.Reason+"; no alternative slot")
	}
	return ResultFlagged, a.store.FlagBookingForReview(ctx, impact.BookingID, impact.Reason+"; no alternative slot")
}

func distance(a, b time.Time) time.Duration {
	d := a.Sub(b)
	if d < 0 {
		return -d
	}
	return d
}

// action picks the handling of an affected booking: bookings starting soon
// go to a human, maintenance cancels, everything else is rescheduled.
func (a *Analyzer) action(b *model.Booking, now time.Time, maintenance bool) Action {
	switch {
	case b.ScheduledAt.Sub(now) < a.cfg.ManualReviewWindow:
		return ActionManualReview
	case maintenance:
		return ActionCancelBooking
	default:
		return ActionAutoReschedule
	}
}

// venueContext loads the future bookings of w's location and the other
// usable windows that could still admit them.
func (a *Analyzer) venueContext(ctx context.Context, w *model.VenueAvailabilityWindow) ([]model.Booking, []model.VenueAvailabilityWindow, error) {
	bookings, err := a.store.ListActiveBookingsFrom(ctx, w.LocationID, a.now())
	if err != nil {
		a.logger.Error().Err(err).Int64("location_id", w.LocationID).Int64("window_id", w.ID).Msg("load bookings")
		return nil, nil, fmt.Errorf("load bookings of location %d: %w", w.LocationID, err)
	}
	all, err := a.store.ListVenueWindows(ctx, w.LocationID)
	if err != nil {
		a.logger.Error().Err(err).Int64("location_id", w.LocationID).Int64("window_id", w.ID).Msg("load venue windows")
		return nil, nil, fmt.Errorf("load venue windows of location %d: %w", w.LocationID, err)
	}
	others := make([]model.VenueAvailabilityWindow, 0, len(all))
	for _, o := range all {
		if o.ID != w.ID && o.IsUsable() {
			others = append(others, o)
		}
	}
	return bookings, others, nil
}

func (a *Analyzer) bookingDay(b *model.Booking) time.Time {
	return interval.Date(b.ScheduledAt.In(a.cfg.Location))
}

func (a *Analyzer) newReport(windowID int64, change Change) *ImpactReport {
	return &ImpactReport{
		ReportID:    uuid.NewString(),
		WindowID:    windowID,
		Change:      change,
		Impacts:     []BookingImpact{},
		GeneratedAt: a.now(),
	}
}

func (a *Analyzer) logReport(r *ImpactReport, locationID int64) {
	if !r.HasConflicts {
		return
	}
	a.logger.Warn().
		Str("report_id", r.ReportID).
		Int64("window_id", r.WindowID).
		Int64("location_id", locationID).
		Str("change", string(r.Change)).
		Int("affected", r.TotalAffected).
		Msg("window change affects bookings")
}

func (r *ImpactReport) add(b *model.Booking, severity Severity, reason string, action Action) {
	r.Impacts = append(r.Impacts, BookingImpact{
		BookingID:         b.ID,
		ServiceID:         b.ServiceID,
		LocationID:        b.LocationID,
		ScheduledAt:       b.ScheduledAt,
		EndsAt:            b.EndsAt,
		Status:            b.Status,
		Severity:          severity,
		Reason:            reason,
		RecommendedAction: action,
	})
	r.TotalAffected = len(r.Impacts)
	r.HasConflicts = true
}

// venueAdmits reports whether w lets the booking run on day: open that day,
// within access hours and clear of quiet hours.
func venueAdmits(w *model.VenueAvailabilityWindow, b *model.Booking, day time.Time) bool {
	if !w.IsUsable() || w.IsMaintenance() || !w.AppliesOn(day) {
		return false
	}
	if !w.AccessSpan(day).Contains(b.Range()) {
		return false
	}
	if quiet, ok := w.QuietSpan(day); ok && quiet.Overlaps(b.Range()) {
		return false
	}
	return true
}

func coveredByAny(windows []model.VenueAvailabilityWindow, b *model.Booking, day time.Time) bool {
	for i := range windows {
		if windows[i].IsMaintenance() && windows[i].AppliesOn(day) {
			return false
		}
	}
	for i := range windows {
		if venueAdmits(&windows[i], b, day) {
			return true
		}
	}
	return false
}

func heldByAny(windows []model.AvailabilityWindow, b *model.Booking, day time.Time) bool {
	for i := range windows {
		if serviceWindowHolds(&windows[i], b, day) {
			return true
		}
	}
	return false
}

// serviceWindowHolds reports whether the booking fits inside the window's
// span on day or in the overnight tail of the previous day.
func serviceWindowHolds(w *model.AvailabilityWindow, b *model.Booking, day time.Time) bool {
	if !w.IsUsable() || !w.AppliesToLocation(b.LocationID) {
		return false
	}
	for _, d := range []time.Time{day, day.AddDate(0, 0, -1)} {
		if !w.AppliesOn(d) {
			continue
		}
		start, end := interval.DaySpan(d, w.StartTime, w.EndTime)
		if interval.Contains(start, end, b.ScheduledAt, b.EndsAt) {
			return true
		}
	}
	return false
}

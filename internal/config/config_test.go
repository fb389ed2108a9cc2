package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"venuebook/internal/interval"
	"venuebook/internal/metrics"
	"venuebook/internal/model"
)

const catalogYAML = `
defaults:
  min_advance_booking_hours: 2
  max_advance_booking_days: 60
  default_capacity: 2
services:
  - id: 1
    name: Photo session
    base_price: 10000
    duration_minutes: 60
    is_active: true
locations:
  - id: 10
    name: Loft
    timezone: UTC
    is_active: true
windows:
  - id: 100
    service_id: 1
    pattern: weekly
    day_of_week: 1
    start_time: "09:00"
    end_time: "17:00"
    slot_duration_minutes: 60
venue_windows:
  - id: 200
    location_id: 10
    window_type: regular
    earliest_access: "08:00"
    latest_departure: "23:00"
    quiet_hours_start: "22:00"
    quiet_hours_end: "23:00"
    restrictions: ["no confetti"]
amenities:
  - id: 300
    location_id: 10
    type: equipment
    name: Balloon Arch
    additional_cost: 5000
    quantity_available: 10
    specifications:
      height_m: "3"
      color: white
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_ExpandsEnvAndAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("VENUEBOOK_TEST_DB", filepath.Join(dir, "db", "test.db"))
	path := writeFile(t, "config.yaml", "database:\n  path: ${VENUEBOOK_TEST_DB}\nredis:\n  enabled: true\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "db", "test.db"), cfg.Database.Path)
	assert.DirExists(t, filepath.Join(dir, "db"))
	assert.Equal(t, 10*time.Minute, cfg.CacheTTL())
	assert.Equal(t, 90, cfg.Booking.MaxRangeDays)
	assert.Equal(t, 30, cfg.Booking.GridStepMinutes)
	assert.Equal(t, "0 3 * * *", cfg.Booking.PurgeSchedule)
	assert.Equal(t, 30*24*time.Hour, cfg.PurgeAge())
	assert.Equal(t, 48*time.Hour, cfg.ManualReviewWindow())
	assert.Equal(t, 8090, cfg.Monitoring.HealthCheckPort)
	assert.Equal(t, "data/backups", cfg.Backup.Dir)
	assert.Equal(t, 7, cfg.Backup.RetentionDays)
}

func TestLoad_RejectsUnknownTimezone(t *testing.T) {
	path := writeFile(t, "config.yaml", "database:\n  path: "+filepath.Join(t.TempDir(), "x.db")+"\nbooking:\n  timezone: Mars/Olympus\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "booking.timezone")
}

func TestLoadCatalog(t *testing.T) {
	cat, err := LoadCatalog(writeFile(t, "catalog.yaml", catalogYAML))
	require.NoError(t, err)

	require.Len(t, cat.Services, 1)
	svc := cat.Services[0].Model()
	assert.Equal(t, 2, svc.MinAdvanceBookingHours)
	assert.Equal(t, 60, svc.MaxAdvanceBookingDays)
	assert.Equal(t, 2, svc.DefaultCapacity)

	w, err := cat.Windows[0].Model()
	require.NoError(t, err)
	assert.Equal(t, model.PatternWeekly, w.Pattern)
	assert.Equal(t, 2, w.MaxBookings, "inherits the service capacity")
	assert.Equal(t, interval.MustClock("09:00"), w.StartTime)
	assert.Equal(t, 1.0, w.PriceModifier)
	assert.True(t, w.IsBookable)

	vw, err := cat.VenueWindows[0].Model()
	require.NoError(t, err)
	require.NotNil(t, vw.QuietHoursStart)
	assert.Equal(t, interval.MustClock("22:00"), *vw.QuietHoursStart)
	assert.Equal(t, 1, vw.MaxConcurrentEvents)

	a := cat.Amenities[0].Model()
	assert.Equal(t, model.NumberSpec(3), a.Specifications["height_m"])
	assert.Equal(t, model.TextSpec("white"), a.Specifications["color"])
}

func TestCatalog_Validate(t *testing.T) {
	base := func() *Catalog {
		cat, err := LoadCatalog(writeFile(t, "catalog.yaml", catalogYAML))
		require.NoError(t, err)
		return cat
	}

	tests := []struct {
		name    string
		mutate  func(c *Catalog)
		wantErr string
	}{
		{"zero slot duration", func(c *Catalog) { c.Windows[0].SlotDurationMinutes = -1 }, "windows[0]"},
		{"bad clock", func(c *Catalog) { c.Windows[0].StartTime = "9am" }, "windows[0]: start_time"},
		{"unknown service", func(c *Catalog) { c.Windows[0].ServiceID = 99 }, "unknown service_id 99"},
		{"venue hours inverted", func(c *Catalog) { c.VenueWindows[0].LatestDeparture = "07:00" }, "venue_windows[0]"},
		{"restriction with cost", func(c *Catalog) { c.Amenities[0].Type = "restriction" }, "amenities[0]"},
		{"duplicate amenity", func(c *Catalog) {
			dup := c.Amenities[0]
			dup.ID = 301
			dup.Name = "balloon arch"
			c.Amenities = append(c.Amenities, dup)
		}, "amenities[1]: duplicate name"},
		{"bad date", func(c *Catalog) {
			c.Windows[0].Pattern = "specific_date"
			c.Windows[0].SpecificDate = "01/02/2024"
		}, "specific_date: invalid date format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cat := base()
			tt.mutate(cat)
			err := cat.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestWatchCatalog_ReloadsOnChange(t *testing.T) {
	path := writeFile(t, "catalog.yaml", catalogYAML)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	logger := zerolog.Nop()
	require.NoError(t, WatchCatalog(ctx, path, 10*time.Millisecond, &logger, func(context.Context, *Catalog) error {
		calls.Add(1)
		return nil
	}))
	assert.Equal(t, int32(1), calls.Load(), "initial load")

	future := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(path, future, future))

	assert.Eventually(t, func() bool { return calls.Load() == 2 }, time.Second, 10*time.Millisecond)
}

func counterValue(c prometheus.Counter) float64 {
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		return -1
	}
	return m.GetCounter().GetValue()
}

func TestWatchCatalog_CountsRejectedReloads(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		apply func(context.Context, *Catalog) error
		calls int32
	}{
		{
			name:  "invalid file",
			body:  "services: [{id: 0}]",
			apply: func(context.Context, *Catalog) error { return nil },
			calls: 1,
		},
		{
			name:  "apply refused",
			body:  catalogYAML,
			apply: func(context.Context, *Catalog) error { return errors.New("critical conflict") },
			calls: 2,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, "catalog.yaml", catalogYAML)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			var calls atomic.Int32
			logger := zerolog.Nop()
			require.NoError(t, WatchCatalog(ctx, path, 10*time.Millisecond, &logger, func(ctx context.Context, cat *Catalog) error {
				if calls.Add(1) == 1 {
					return nil
				}
				return tt.apply(ctx, cat)
			}))
			failed := counterValue(metrics.CatalogSyncs(false))

			require.NoError(t, os.WriteFile(path, []byte(tt.body), 0o644))
			future := time.Now().Add(time.Minute)
			require.NoError(t, os.Chtimes(path, future, future))

			assert.Eventually(t, func() bool {
				return counterValue(metrics.CatalogSyncs(false)) == failed+1
			}, time.Second, 10*time.Millisecond)
			assert.Equal(t, tt.calls, calls.Load())
		})
	}
}

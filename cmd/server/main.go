package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"venuebook/internal/amenity"
	"venuebook/internal/api"
	"venuebook/internal/availability"
	"venuebook/internal/cache"
	"venuebook/internal/capacity"
	"venuebook/internal/config"
	"venuebook/internal/conflict"
	"venuebook/internal/db"
	"venuebook/internal/events"
	"venuebook/internal/jobs"
	"venuebook/internal/metrics"
	"venuebook/internal/model"
	"venuebook/internal/scheduling"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := config.Load(os.Getenv("VENUEBOOK_CONFIG_PATH"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := newLogger(cfg)

	loc, err := cfg.Location()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid booking timezone")
	}

	database, err := db.Open(cfg.Database.Path, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("open db error")
	}
	defer database.Close()

	var (
		resultCache cache.Cache
		rdb         *redis.Client
	)
	if cfg.Redis.Enabled && cfg.Redis.Address != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Address, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		resultCache = cache.NewRedis(rdb, cfg.CacheTTL())
	} else {
		logger.Warn().Msg("redis disabled, using in-process availability cache")
		resultCache = cache.NewMemory(cfg.CacheTTL())
	}

	tracker := capacity.NewTracker(database, &logger)
	engine := availability.NewEngine(database, tracker, resultCache, availability.Config{
		Location:        loc,
		GridStepMinutes: cfg.Booking.GridStepMinutes,
		MaxRangeDays:    cfg.Booking.MaxRangeDays,
		DefaultLimits: model.AdvanceLimits{
			MinHours: cfg.Booking.MinAdvanceHours,
			MaxDays:  cfg.Booking.MaxAdvanceDays,
		},
	}, &logger)
	analyzer := conflict.NewAnalyzer(database, engine, conflict.Config{
		Location:           loc,
		ManualReviewWindow: cfg.ManualReviewWindow(),
		SearchBeforeDays:   cfg.Booking.RescheduleSearchBefore,
		SearchAfterDays:    cfg.Booking.RescheduleSearchAfter,
		ForceCancel:        cfg.Booking.ForceCancelUnresolved,
	}, &logger)
	matcher := amenity.NewMatcher(database, &logger)

	bus := events.NewEventBus()
	for _, eventType := range []string{
		events.BookingCommitted, events.BookingCancelled,
		events.WindowChanged, events.VenueWindowChanged, events.AmenityChanged,
	} {
		bus.Subscribe(eventType, func(e events.Event) error {
			logger.Debug().Str("event", e.Type).Str("event_id", e.ID).Int64("location_id", e.LocationID).Msg("domain event")
			return nil
		})
	}

	svc := scheduling.NewService(database, engine, tracker, analyzer, matcher, bus, &logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Monitoring.PrometheusEnabled {
		metrics.Register()
	}

	err = config.WatchCatalog(ctx, cfg.Booking.CatalogPath, cfg.CatalogPollInterval(), &logger, func(ctx context.Context, cat *config.Catalog) error {
		return applyCatalog(ctx, svc, cat, &logger)
	})
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.Booking.CatalogPath).Msg("load catalog error")
	}

	purge, err := jobs.NewScheduler(jobs.Config{
		Schedule: cfg.Booking.PurgeSchedule,
		Location: loc,
		Age:      cfg.PurgeAge(),
	}, tracker, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("purge scheduler error")
	}
	purge.Start()

	var backup *jobs.Backup
	if cfg.Backup.Enabled {
		backup, err = jobs.NewBackup(jobs.BackupConfig{
			Schedule:      cfg.Backup.Schedule,
			Location:      loc,
			Dir:           cfg.Backup.Dir,
			RetentionDays: cfg.Backup.RetentionDays,
		}, database, &logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("backup scheduler error")
		}
		backup.Start()
	}

	checks := []api.ReadyCheck{{Name: "sqlite", Check: database.Ping}}
	if rdb != nil {
		checks = append(checks, api.ReadyCheck{Name: "redis", Check: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
	}
	go serveOps(ctx, cfg.Monitoring.HealthCheckPort, api.NewOpsMux(false, checks...), "health", &logger)
	if cfg.Monitoring.PrometheusEnabled {
		go serveOps(ctx, cfg.Monitoring.PrometheusPort, api.NewOpsMux(true), "metrics", &logger)
	}

	server := api.NewHTTPServer(api.Config{
		Addr:           fmt.Sprintf(":%d", cfg.HTTP.Port),
		RateLimitRPS:   cfg.HTTP.RateLimitRPS,
		RateLimitBurst: cfg.HTTP.RateLimitBurst,
		Location:       loc,
	}, svc, &logger)
	go func() {
		if err := server.Start(); err != nil {
			logger.Error().Err(err).Msg("api server error")
			stop()
		}
	}()

	logger.Info().Str("timezone", loc.String()).Msg("venuebook started")
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("api shutdown error")
	}
	purge.Stop(shutdownCtx)
	if backup != nil {
		backup.Stop(shutdownCtx)
	}
	logger.Info().Msg("venuebook stopped")
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	var out io.Writer = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	if cfg.Logging.JSON {
		out = os.Stdout
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

// applyCatalog pushes a (re)loaded catalog through the scheduling facade so
// window changes get the same impact checks as API edits.
func applyCatalog(ctx context.Context, svc *scheduling.Service, cat *config.Catalog, logger *zerolog.Logger) error {
	result, err := svc.ApplyCatalog(ctx, cat)
	if err != nil {
		return err
	}
	for _, skipped := range result.Skipped {
		logger.Warn().Str("entry", skipped).Msg("catalog entry not applied")
	}
	logger.Info().
		Int("services", len(cat.Services)).
		Int("locations", len(cat.Locations)).
		Int("windows_applied", result.Applied).
		Int("windows_removed", result.Removed).
		Msg("catalog in force")
	return nil
}

func serveOps(ctx context.Context, port int, handler http.Handler, name string, logger *zerolog.Logger) {
	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: handler, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Str("server", name).Msg("ops server error")
	}
}

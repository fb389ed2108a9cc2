// Package jobs runs periodic maintenance on a cron schedule.
package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Purger deletes capacity slots that were never used and are older than age.
type Purger interface {
	PurgeStale(ctx context.Context, age time.Duration) (int64, error)
}

// Config holds the purge schedule.
type Config struct {
	// Schedule is a standard five-field cron expression.
	Schedule string
	Location *time.Location
	Age      time.Duration
	// Timeout bounds a single run.
	Timeout time.Duration
}

// Scheduler runs the capacity purge on its cron schedule.
type Scheduler struct {
	cfg      Config
	purger   Purger
	cron     *cron.Cron
	schedule cron.Schedule
	logger   *zerolog.Logger

	mu         sync.Mutex
	running    bool
	lastRun    time.Time
	lastPurged int64
}

// NewScheduler parses the schedule and registers the purge job.
func NewScheduler(cfg Config, purger Purger, logger *zerolog.Logger) (*Scheduler, error) {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	schedule, err := cron.ParseStandard(cfg.Schedule)
	if err != nil {
		return nil, fmt.Errorf("parse purge schedule %q: %w", cfg.Schedule, err)
	}

	l := logger.With().Str("component", "jobs").Logger()
	s := &Scheduler{
		cfg:      cfg,
		purger:   purger,
		cron:     cron.New(cron.WithLocation(cfg.Location)),
		schedule: schedule,
		logger:   &l,
	}
	s.cron.Schedule(schedule, cron.FuncJob(func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)
		defer cancel()
		_, _ = s.RunNow(ctx)
	}))
	return s, nil
}

// Start begins running the job in the background.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.cron.Start()
	s.logger.Info().
		Str("schedule", s.cfg.Schedule).
		Time("next_run", s.NextRun(time.Now())).
		Msg("capacity purge scheduled")
}

// Stop halts the schedule and waits for a running job until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
		s.logger.Warn().Msg("capacity purge still running at shutdown")
	}
}

// RunNow purges immediately and returns the number of slots removed.
func (s *Scheduler) RunNow(ctx context.Context) (int64, error) {
	started := time.Now()
	n, err := s.purger.PurgeStale(ctx, s.cfg.Age)
	if err != nil {
		s.logger.Error().Err(err).Msg("capacity purge failed")
		return 0, err
	}

	s.mu.Lock()
	s.lastRun = started
	s.lastPurged = n
	s.mu.Unlock()

	s.logger.Info().Int64("purged", n).Dur("duration", time.Since(started)).Msg("capacity purge finished")
	return n, nil
}

// NextRun returns the first scheduled run after t.
func (s *Scheduler) NextRun(t time.Time) time.Time {
	return s.schedule.Next(t.In(s.cfg.Location))
}

// LastRun reports when the last successful purge started and what it removed.
func (s *Scheduler) LastRun() (time.Time, int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun, s.lastPurged
}

// IsRunning reports whether the schedule is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

package jobs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const backupPrefix = "venuebook_"

// Snapshotter writes a consistent copy of the database.
type Snapshotter interface {
	BackupTo(ctx context.Context, path string) error
}

// BackupConfig holds the backup schedule and retention.
type BackupConfig struct {
	Schedule      string
	Location      *time.Location
	Dir           string
	RetentionDays int
	Timeout       time.Duration
}

// Backup snapshots the database on a cron schedule and removes snapshots
// older than the retention period.
type Backup struct {
	cfg    BackupConfig
	store  Snapshotter
	cron   *cron.Cron
	logger *zerolog.Logger
	now    func() time.Time

	mu      sync.Mutex
	running bool
}

// NewBackup parses the schedule and registers the backup job.
func NewBackup(cfg BackupConfig, store Snapshotter, logger *zerolog.Logger) (*Backup, error) {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Minute
	}
	if cfg.Dir == "" {
		return nil, fmt.Errorf("backup directory is required")
	}
	schedule, err := cron.ParseStandard(cfg.Schedule)
	if err != nil {
		return nil, fmt.Errorf("parse backup schedule %q: %w", cfg.Schedule, err)
	}

	l := logger.With().Str("component", "backup").Logger()
	b := &Backup{
		cfg:    cfg,
		store:  store,
		cron:   cron.New(cron.WithLocation(cfg.Location)),
		logger: &l,
		now:    time.Now,
	}
	b.cron.Schedule(schedule, cron.FuncJob(func() {
		ctx, cancel := context.WithTimeout(context.Background(), b.cfg.Timeout)
		defer cancel()
		if _, err := b.RunNow(ctx); err != nil {
			return
		}
		b.Cleanup()
	}))
	return b, nil
}

// Start begins running the job in the background.
func (b *Backup) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return
	}
	b.running = true
	b.cron.Start()
	b.logger.Info().Str("schedule", b.cfg.Schedule).Str("dir", b.cfg.Dir).Msg("database backup scheduled")
}

// Stop halts the schedule and waits for a running backup until ctx is done.
func (b *Backup) Stop(ctx context.Context) {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	b.mu.Unlock()

	select {
	case <-b.cron.Stop().Done():
	case <-ctx.Done():
		b.logger.Warn().Msg("database backup still running at shutdown")
	}
}

// RunNow writes a snapshot and returns its path.
func (b *Backup) RunNow(ctx context.Context) (string, error) {
	if err := os.MkdirAll(b.cfg.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create backup directory: %w", err)
	}
	path := filepath.Join(b.cfg.Dir, backupPrefix+b.now().Format("20060102_150405")+".db")
	if err := b.store.BackupTo(ctx, path); err != nil {
		b.logger.Error().Err(err).Str("path", path).Msg("database backup failed")
		return "", err
	}
	b.logger.Info().Str("path", path).Msg("database backup completed")
	return path, nil
}

// Cleanup removes snapshots older than the retention period and returns how
// many were deleted. Files not written by the job are left alone.
func (b *Backup) Cleanup() int {
	if b.cfg.RetentionDays <= 0 {
		return 0
	}
	files, err := os.ReadDir(b.cfg.Dir)
	if err != nil {
		b.logger.Error().Err(err).Msg("read backup directory")
		return 0
	}

	cutoff := b.now().AddDate(0, 0, -b.cfg.RetentionDays)
	removed := 0
	for _, file := range files {
		if file.IsDir() || !strings.HasPrefix(file.Name(), backupPrefix) {
			continue
		}
		info, err := file.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(b.cfg.Dir, file.Name())); err != nil {
			b.logger.Warn().Err(err).Str("file", file.Name()).Msg("delete old backup")
			continue
		}
		removed++
	}
	if removed > 0 {
		b.logger.Info().Int("removed", removed).Msg("old backups deleted")
	}
	return removed
}

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`

	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`

	Cache struct {
		TTLSeconds int `yaml:"ttl_seconds"`
	} `yaml:"cache"`

	HTTP struct {
		Port           int     `yaml:"port"`
		RateLimitRPS   float64 `yaml:"rate_limit_rps"`
		RateLimitBurst int     `yaml:"rate_limit_burst"`
	} `yaml:"http"`

	Monitoring struct {
		HealthCheckPort   int  `yaml:"health_check_port"`
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port"`
	} `yaml:"monitoring"`

	Booking struct {
		Timezone               string `yaml:"timezone"`
		MinAdvanceHours        int    `yaml:"min_advance_hours"`
		MaxAdvanceDays         int    `yaml:"max_advance_days"`
		GridStepMinutes        int    `yaml:"grid_step_minutes"`
		MaxRangeDays           int    `yaml:"max_range_days"`
		PurgeAfterDays         int    `yaml:"purge_after_days"`
		PurgeSchedule          string `yaml:"purge_schedule"`
		ManualReviewHours      int    `yaml:"manual_review_hours"`
		ForceCancelUnresolved  bool   `yaml:"force_cancel_unresolved"`
		CatalogPath            string `yaml:"catalog_path"`
		CatalogPollSeconds     int    `yaml:"catalog_poll_seconds"`
		RescheduleSearchBefore int    `yaml:"reschedule_search_before_days"`
		RescheduleSearchAfter  int    `yaml:"reschedule_search_after_days"`
	} `yaml:"booking"`

	Backup struct {
		Enabled       bool   `yaml:"enabled"`
		Schedule      string `yaml:"schedule"`
		Dir           string `yaml:"dir"`
		RetentionDays int    `yaml:"retention_days"`
	} `yaml:"backup"`

	Logging struct {
		Level string `yaml:"level"`
		JSON  bool   `yaml:"json"`
	} `yaml:"logging"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		path = "configs/config.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Support ${ENV_VAR} placeholders in YAML config.
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	if _, err = cfg.Location(); err != nil {
		return nil, fmt.Errorf("booking.timezone: %w", err)
	}

	if err = os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Database.Path == "" {
		c.Database.Path = "data/venuebook.db"
	}
	if c.Redis.Address == "" {
		c.Redis.Address = "localhost:6379"
	}
	if c.Cache.TTLSeconds <= 0 {
		c.Cache.TTLSeconds = 600
	}
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 8080
	}
	if c.HTTP.RateLimitRPS <= 0 {
		c.HTTP.RateLimitRPS = 20
	}
	if c.HTTP.RateLimitBurst <= 0 {
		c.HTTP.RateLimitBurst = 40
	}
	if c.Monitoring.HealthCheckPort == 0 {
		c.Monitoring.HealthCheckPort = 8090
	}
	if c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if c.Booking.Timezone == "" {
		c.Booking.Timezone = "UTC"
	}
	if c.Booking.GridStepMinutes <= 0 {
		c.Booking.GridStepMinutes = 30
	}
	if c.Booking.MaxRangeDays <= 0 {
		c.Booking.MaxRangeDays = 90
	}
	if c.Booking.PurgeAfterDays <= 0 {
		c.Booking.PurgeAfterDays = 30
	}
	if c.Booking.PurgeSchedule == "" {
		c.Booking.PurgeSchedule = "0 3 * * *"
	}
	if c.Booking.ManualReviewHours <= 0 {
		c.Booking.ManualReviewHours = 48
	}
	if c.Booking.CatalogPath == "" {
		c.Booking.CatalogPath = "configs/catalog.yaml"
	}
	if c.Booking.CatalogPollSeconds <= 0 {
		c.Booking.CatalogPollSeconds = 30
	}
	if c.Booking.RescheduleSearchBefore <= 0 {
		c.Booking.RescheduleSearchBefore = 3
	}
	if c.Booking.RescheduleSearchAfter <= 0 {
		c.Booking.RescheduleSearchAfter = 7
	}
	if c.Backup.Schedule == "" {
		c.Backup.Schedule = "30 3 * * *"
	}
	if c.Backup.Dir == "" {
		c.Backup.Dir = "data/backups"
	}
	if c.Backup.RetentionDays <= 0 {
		c.Backup.RetentionDays = 7
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Location returns the time zone in which dates and clocks are interpreted.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Booking.Timezone)
}

func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLSeconds) * time.Second
}

func (c *Config) PurgeAge() time.Duration {
	return time.Duration(c.Booking.PurgeAfterDays) * 24 * time.Hour
}

func (c *Config) CatalogPollInterval() time.Duration {
	return time.Duration(c.Booking.CatalogPollSeconds) * time.Second
}

func (c *Config) ManualReviewWindow() time.Duration {
	return time.Duration(c.Booking.ManualReviewHours) * time.Hour
}

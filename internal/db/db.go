package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/rs/zerolog"

	"venuebook/internal/interval"
)

const dateLayout = "2006-01-02"

// DB wraps sql.DB with the scheduling repositories.
type DB struct {
	*sql.DB
	logger *zerolog.Logger
}

// Open initializes the database at path and creates tables if they don't exist.
func Open(path string, logger *zerolog.Logger) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on"
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	l := logger.With().Str("component", "db").Logger()
	instance := &DB{DB: sqlDB, logger: &l}

	if err := instance.createTables(); err != nil {
		return nil, fmt.Errorf("create tables: %w", err)
	}

	l.Info().Str("path", path).Msg("Database initialized")
	return instance, nil
}

func (db *DB) createTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS services (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			base_price INTEGER NOT NULL DEFAULT 0,
			duration_minutes INTEGER NOT NULL DEFAULT 60,
			min_advance_booking_hours INTEGER NOT NULL DEFAULT 0,
			max_advance_booking_days INTEGER NOT NULL DEFAULT 0,
			default_capacity INTEGER NOT NULL DEFAULT 1,
			is_active BOOLEAN NOT NULL DEFAULT 1,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS service_locations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			address TEXT,
			timezone TEXT,
			is_active BOOLEAN NOT NULL DEFAULT 1,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS availability_windows (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			service_id INTEGER NOT NULL,
			location_id INTEGER,
			pattern TEXT NOT NULL,
			day_of_week INTEGER,
			specific_date TEXT,
			start_date TEXT,
			end_date TEXT,
			start_time TEXT NOT NULL,
			end_time TEXT NOT NULL,
			max_bookings INTEGER NOT NULL DEFAULT 1,
			slot_duration_minutes INTEGER NOT NULL,
			break_duration_minutes INTEGER NOT NULL DEFAULT 0,
			min_advance_hours INTEGER,
			max_advance_days INTEGER,
			price_modifier REAL NOT NULL DEFAULT 1,
			is_active BOOLEAN NOT NULL DEFAULT 1,
			is_bookable BOOLEAN NOT NULL DEFAULT 1,
			deleted_at DATETIME,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS venue_availability_windows (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			service_location_id INTEGER NOT NULL,
			window_type TEXT NOT NULL,
			day_of_week INTEGER,
			specific_date TEXT,
			start_date TEXT,
			end_date TEXT,
			earliest_access TEXT NOT NULL,
			latest_departure TEXT NOT NULL,
			quiet_hours_start TEXT,
			quiet_hours_end TEXT,
			max_concurrent_events INTEGER NOT NULL DEFAULT 1,
			min_advance_hours INTEGER,
			max_advance_days INTEGER,
			restrictions TEXT,
			notes TEXT,
			is_active BOOLEAN NOT NULL DEFAULT 1,
			deleted_at DATETIME,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		// location_id 0 stands for "any location" so the unique key holds.
		`CREATE TABLE IF NOT EXISTS capacity_slots (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			service_id INTEGER NOT NULL,
			location_id INTEGER NOT NULL DEFAULT 0,
			slot_datetime DATETIME NOT NULL,
			max_capacity INTEGER NOT NULL DEFAULT 1,
			current_bookings INTEGER NOT NULL DEFAULT 0,
			blocked_slots INTEGER NOT NULL DEFAULT 0,
			is_blocked BOOLEAN NOT NULL DEFAULT 0,
			block_reason TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(service_id, location_id, slot_datetime)
		)`,
		`CREATE TABLE IF NOT EXISTS bookings (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			service_id INTEGER NOT NULL,
			service_location_id INTEGER NOT NULL,
			scheduled_at DATETIME NOT NULL,
			ends_at DATETIME NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			cancellation_reason TEXT,
			needs_review BOOLEAN NOT NULL DEFAULT 0,
			review_reason TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS venue_amenities (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			service_location_id INTEGER NOT NULL,
			amenity_type TEXT NOT NULL,
			name TEXT NOT NULL,
			name_key TEXT NOT NULL,
			description TEXT,
			included_in_booking BOOLEAN NOT NULL DEFAULT 0,
			additional_cost INTEGER NOT NULL DEFAULT 0,
			quantity_available INTEGER NOT NULL DEFAULT 1,
			requires_advance_notice BOOLEAN NOT NULL DEFAULT 0,
			notice_hours_required INTEGER NOT NULL DEFAULT 0,
			specifications TEXT,
			is_active BOOLEAN NOT NULL DEFAULT 1,
			sort_order INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(service_location_id, amenity_type, name_key)
		)`,
		`CREATE TABLE IF NOT EXISTS booking_amenities (
			booking_id INTEGER NOT NULL,
			amenity_id INTEGER NOT NULL,
			quantity INTEGER NOT NULL DEFAULT 1,
			PRIMARY KEY (booking_id, amenity_id),
			FOREIGN KEY (booking_id) REFERENCES bookings(id) ON DELETE CASCADE,
			FOREIGN KEY (amenity_id) REFERENCES venue_amenities(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS audit_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			entity TEXT NOT NULL,
			entity_id INTEGER NOT NULL,
			action TEXT NOT NULL,
			details TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS catalog_entries (
			kind TEXT NOT NULL,
			entity_id INTEGER NOT NULL,
			entry TEXT NOT NULL,
			synced_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (kind, entity_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_windows_service ON availability_windows(service_id)`,
		`CREATE INDEX IF NOT EXISTS idx_venue_windows_location ON venue_availability_windows(service_location_id)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_location_time ON bookings(service_location_id, scheduled_at, ends_at)`,
		`CREATE INDEX IF NOT EXISTS idx_capacity_datetime ON capacity_slots(slot_datetime)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_entity ON audit_log(entity, entity_id)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("query %q: %w", trimSQL(query), err)
		}
	}
	return nil
}

// Ping checks connectivity for readiness checks.
func (db *DB) Ping(ctx context.Context) error {
	return db.PingContext(ctx)
}

// BackupTo writes a consistent copy of the database to path. path must not
// exist yet.
func (db *DB) BackupTo(ctx context.Context, path string) error {
	if _, err := db.ExecContext(ctx, "VACUUM INTO ?", path); err != nil {
		return fmt.Errorf("backup to %s: %w", path, err)
	}
	return nil
}

func trimSQL(s string) string {
	if len(s) > 60 {
		return s[:60] + "..."
	}
	return s
}

// ts normalizes instants before binding so stored values compare lexically.
func ts(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}

func nullDate(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(dateLayout), Valid: true}
}

func scanDate(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := time.ParseInLocation(dateLayout, ns.String, time.UTC)
	if err != nil {
		return nil, fmt.Errorf("parse date %q: %w", ns.String, err)
	}
	return &t, nil
}

func nullClock(c *interval.Clock) sql.NullString {
	if c == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: c.String(), Valid: true}
}

func scanClock(ns sql.NullString) (*interval.Clock, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	c, err := interval.ParseClock(ns.String)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func scanInt(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

func nullID(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func scanID(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: ts(*t), Valid: true}
}

func scanTime(n sql.NullTime) *time.Time {
	if !n.Valid {
		return nil
	}
	t := n.Time
	return &t
}

func marshalJSON(v any) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

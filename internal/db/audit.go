package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// AuditEntry is one recorded administrative change.
type AuditEntry struct {
	ID        int64
	Entity    string
	EntityID  int64
	Action    string
	Details   string
	CreatedAt time.Time
}

// LogAudit records an administrative change. details is stored as JSON.
func (db *DB) LogAudit(ctx context.Context, entity string, entityID int64, action string, details any) error {
	payload, err := marshalJSON(details)
	if err != nil {
		return fmt.Errorf("encode audit details: %w", err)
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO audit_log (entity, entity_id, action, details, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		entity, entityID, action, payload, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// ListAudit returns the audit trail of one entity, newest first.
func (db *DB) ListAudit(ctx context.Context, entity string, entityID int64) ([]AuditEntry, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, entity, entity_id, action, details, created_at
		FROM audit_log
		WHERE entity = ? AND entity_id = ?
		ORDER BY id DESC`,
		entity, entityID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []AuditEntry
	for rows.Next() {
		var (
			e       AuditEntry
			details sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.Entity, &e.EntityID, &e.Action, &details, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Details = details.String
		result = append(result, e)
	}
	return result, rows.Err()
}

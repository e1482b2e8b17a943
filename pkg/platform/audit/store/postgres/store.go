package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	audit "irisvault/pkg/platform/audit"
)

const schema = `
CREATE TABLE IF NOT EXISTS audit_events (
	id             UUID PRIMARY KEY,
	category       TEXT NOT NULL,
	timestamp      TIMESTAMPTZ NOT NULL,
	action         TEXT NOT NULL,
	account_number TEXT NOT NULL DEFAULT '',
	user_id        TEXT NOT NULL DEFAULT '',
	success        BOOLEAN NOT NULL DEFAULT FALSE,
	reason         TEXT NOT NULL DEFAULT '',
	device_info    TEXT NOT NULL DEFAULT '',
	request_id     TEXT NOT NULL DEFAULT '',
	client_ip      TEXT NOT NULL DEFAULT '',
	details        JSONB
);
CREATE INDEX IF NOT EXISTS audit_events_account_idx ON audit_events (account_number, timestamp);
`

// Store implements audit.Store on PostgreSQL.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open connects with the lib/pq driver and verifies the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// EnsureSchema creates the audit table if it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create audit schema: %w", err)
	}
	return nil
}

// Append inserts an event. Re-inserting the same ID is a no-op.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	eventID := uuid.New()
	if event.ID != "" {
		parsed, err := uuid.Parse(event.ID)
		if err != nil {
			return fmt.Errorf("parse audit event id: %w", err)
		}
		eventID = parsed
	}
	category := event.Category
	if category == "" {
		category = event.Action.Category()
	}

	var details []byte
	if len(event.Details) > 0 {
		var err error
		details, err = json.Marshal(event.Details)
		if err != nil {
			return fmt.Errorf("marshal audit details: %w", err)
		}
	}

	query := `
		INSERT INTO audit_events (
			id, category, timestamp, action, account_number, user_id,
			success, reason, device_info, request_id, client_ip, details
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO NOTHING
	`
	_, err := s.db.ExecContext(ctx, query,
		eventID,
		string(category),
		event.Timestamp,
		string(event.Action),
		event.AccountNumber,
		event.UserID,
		event.Success,
		event.Reason,
		event.DeviceInfo,
		event.RequestID,
		event.ClientIP,
		details,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// ListByAccount returns events for an account, oldest first.
func (s *Store) ListByAccount(ctx context.Context, accountNumber string) ([]audit.Event, error) {
	query := `
		SELECT id, category, timestamp, action, account_number, user_id,
		       success, reason, device_info, request_id, client_ip, details
		FROM audit_events
		WHERE account_number = $1
		ORDER BY timestamp ASC
	`
	rows, err := s.db.QueryContext(ctx, query, accountNumber)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]audit.Event, error) {
	var events []audit.Event
	for rows.Next() {
		var (
			event    audit.Event
			id       uuid.UUID
			category string
			action   string
			details  []byte
		)
		err := rows.Scan(
			&id,
			&category,
			&event.Timestamp,
			&action,
			&event.AccountNumber,
			&event.UserID,
			&event.Success,
			&event.Reason,
			&event.DeviceInfo,
			&event.RequestID,
			&event.ClientIP,
			&details,
		)
		if err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		event.ID = id.String()
		event.Category = audit.EventCategory(category)
		event.Action = audit.AuditEvent(action)
		if len(details) > 0 {
			if err := json.Unmarshal(details, &event.Details); err != nil {
				return nil, fmt.Errorf("decode audit details: %w", err)
			}
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}

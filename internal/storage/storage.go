package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a looked-up row does not exist.
var ErrNotFound = errors.New("not found")

// Storage persists events, registrations and WhatsApp bookkeeping in sqlite.
// Every mutating method is a single statement, so concurrent writers are
// serialized by sqlite rather than by locks held here.
type Storage struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	date       TEXT NOT NULL DEFAULT '',
	location   TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS guests (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	phone      TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS event_registrations (
	id                     TEXT PRIMARY KEY,
	event_id               TEXT NOT NULL REFERENCES events(id) ON DELETE CASCADE,
	guest_id               TEXT NOT NULL REFERENCES guests(id) ON DELETE CASCADE,
	rsvp_status            TEXT NOT NULL DEFAULT '',
	responded_on           INTEGER,
	estimated_pax          INTEGER,
	additional_guest_count INTEGER,
	created_at             INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS event_registrations_event ON event_registrations(event_id, created_at);

CREATE TABLE IF NOT EXISTS wa_send_map (
	id                    TEXT PRIMARY KEY,
	wa_id                 TEXT NOT NULL,
	event_id              TEXT NOT NULL REFERENCES events(id) ON DELETE CASCADE,
	event_registration_id TEXT NOT NULL REFERENCES event_registrations(id) ON DELETE CASCADE,
	template_wamid        TEXT,
	created_at            INTEGER NOT NULL,
	updated_at            INTEGER NOT NULL,
	expires_at            INTEGER NOT NULL,
	consumed_at           INTEGER
);
CREATE UNIQUE INDEX IF NOT EXISTS wa_send_map_wamid ON wa_send_map(template_wamid) WHERE template_wamid IS NOT NULL;
CREATE UNIQUE INDEX IF NOT EXISTS wa_send_map_scope ON wa_send_map(wa_id, event_id) WHERE template_wamid IS NULL;
CREATE INDEX IF NOT EXISTS wa_send_map_lookup ON wa_send_map(wa_id, expires_at);

CREATE TABLE IF NOT EXISTS message_templates (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	version    INTEGER NOT NULL DEFAULT 1,
	body       TEXT NOT NULL,
	variables  TEXT NOT NULL DEFAULT '[]',
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS queued_messages (
	id              TEXT PRIMARY KEY,
	event_id        TEXT NOT NULL REFERENCES events(id) ON DELETE CASCADE,
	registration_id TEXT NOT NULL REFERENCES event_registrations(id) ON DELETE CASCADE,
	template_id     TEXT NOT NULL REFERENCES message_templates(id),
	rendered_text   TEXT NOT NULL,
	created_at      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS queued_messages_registration ON queued_messages(registration_id, created_at);

CREATE TABLE IF NOT EXISTS custom_field_values (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	label       TEXT NOT NULL DEFAULT '',
	target_kind TEXT NOT NULL,
	target_id   TEXT NOT NULL,
	value       TEXT NOT NULL,
	UNIQUE (name, target_kind, target_id)
);
`

// NewStorage opens (creating if needed) the sqlite database at filePath
func NewStorage(filePath string) (*Storage, error) {
	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL", filePath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Storage{db: db}, nil
}

// Close releases the database handle
func (s *Storage) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable
func (s *Storage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func toNanos(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func nullableTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toNanos(*t), Valid: true}
}

func timePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromNanos(n.Int64)
	return &t
}

func nullableInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func intPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

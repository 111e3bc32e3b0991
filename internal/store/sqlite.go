// ABOUTME: SQLite implementation of the telemetry event store using modernc.org/sqlite
// ABOUTME: Supports file-backed and :memory: databases with schema creation on open.

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore persists telemetry records in a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path and ensures the
// schema exists. Use ":memory:" for an ephemeral store in tests.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// modernc/sqlite serializes access per connection; a single connection
	// avoids table-lock errors under concurrent writers.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.createSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS telemetry_events (
			id          TEXT PRIMARY KEY,
			record_type TEXT NOT NULL,
			payload     TEXT NOT NULL,
			timestamp   TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_telemetry_events_timestamp
			ON telemetry_events (timestamp DESC);
	`)
	return err
}

// SaveEvent inserts one telemetry record. A missing ID or timestamp is
// filled in.
func (s *SQLiteStore) SaveEvent(ctx context.Context, rec *TelemetryRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	payload, err := json.Marshal(rec.Payload)
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO telemetry_events (id, record_type, payload, timestamp) VALUES (?, ?, ?, ?)`,
		rec.ID, rec.RecordType, string(payload), rec.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting event: %w", err)
	}
	return nil
}

// RecentEvents returns up to limit records, newest first.
func (s *SQLiteStore) RecentEvents(ctx context.Context, limit int) ([]*TelemetryRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, record_type, payload, timestamp
		 FROM telemetry_events ORDER BY timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var out []*TelemetryRecord
	for rows.Next() {
		var (
			rec     TelemetryRecord
			payload string
			ts      string
		)
		if err := rows.Scan(&rec.ID, &rec.RecordType, &payload, &ts); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		if err := json.Unmarshal([]byte(payload), &rec.Payload); err != nil {
			return nil, fmt.Errorf("decoding payload for event %s: %w", rec.ID, err)
		}
		rec.Timestamp, err = time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("parsing timestamp for event %s: %w", rec.ID, err)
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// CountEvents returns the total number of stored records.
func (s *SQLiteStore) CountEvents(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM telemetry_events`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting events: %w", err)
	}
	return n, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

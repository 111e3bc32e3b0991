// ABOUTME: Event store interface and record types for drained telemetry.
// ABOUTME: The hub keeps no command history beyond these telemetry records.

package store

import (
	"context"
	"time"
)

// TelemetryRecord is one persisted telemetry event.
type TelemetryRecord struct {
	ID         string
	RecordType string
	Payload    map[string]any
	Timestamp  time.Time
}

// Store persists telemetry records drained from the pipeline.
type Store interface {
	SaveEvent(ctx context.Context, rec *TelemetryRecord) error
	RecentEvents(ctx context.Context, limit int) ([]*TelemetryRecord, error)
	CountEvents(ctx context.Context) (int, error)
	Close() error
}

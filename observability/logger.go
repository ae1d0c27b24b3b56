// Package observability records domain-level events (batch commits, rule
// and policy mutations, compaction/upgrade triggers) for operator
// diagnostics, independent of the request-scoped slog logging done at the
// HTTP layer.
package observability

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/outbackwave/cdxindex/idgen"
)

// BusinessEvent represents a domain-level event to record.
type BusinessEvent struct {
	EventType   string
	ServiceName string
	EntityType  string
	EntityID    string
	Action      string
	Details     string // optional JSON
	Success     bool
}

// EventLogger writes business events to a collection's event log.
type EventLogger struct {
	db    *sql.DB
	newID idgen.Generator
}

// EventLoggerOption configures an EventLogger.
type EventLoggerOption func(*EventLogger)

// WithEventIDGenerator sets a custom ID generator for event IDs.
func WithEventIDGenerator(gen idgen.Generator) EventLoggerOption {
	return func(l *EventLogger) { l.newID = gen }
}

// NewEventLogger creates a logger backed by the given database, which must
// already have Init applied.
func NewEventLogger(db *sql.DB, opts ...EventLoggerOption) *EventLogger {
	l := &EventLogger{
		db:    db,
		newID: idgen.Prefixed("evt_", idgen.Default),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// LogEvent records a business event. Non-blocking in effect: errors are
// logged via slog but do not propagate, so a failing event log never blocks
// the write path it is describing.
func (l *EventLogger) LogEvent(ctx context.Context, event BusinessEvent) {
	eventID := l.newID()
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO business_event_logs (
			event_id, event_type, service_name, entity_type, entity_id,
			action, details, success, created_at
		) VALUES (?,?,?,?,?,?,?,?,?)`,
		eventID, event.EventType, event.ServiceName, event.EntityType, event.EntityID,
		event.Action, event.Details, event.Success, time.Now().Unix())
	if err != nil {
		slog.Error("observability event log failed", "error", err, "event_type", event.EventType)
	}
}

// RetentionConfig specifies event log retention in days. Zero means no cleanup.
type RetentionConfig struct {
	EventLogsDays  int
	RunVacuumAfter bool
}

// Cleanup deletes event log records older than the configured retention.
func Cleanup(ctx context.Context, db *sql.DB, cfg RetentionConfig) error {
	if cfg.EventLogsDays > 0 {
		cutoff := time.Now().Unix() - int64(cfg.EventLogsDays*86400)
		if _, err := db.ExecContext(ctx, `DELETE FROM business_event_logs WHERE created_at < ?`, cutoff); err != nil {
			return fmt.Errorf("cleanup business_event_logs: %w", err)
		}
	}
	if cfg.RunVacuumAfter {
		if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
			return fmt.Errorf("vacuum: %w", err)
		}
	}
	return nil
}

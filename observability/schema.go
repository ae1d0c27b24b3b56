package observability

import "database/sql"

// Schema is the DDL for the business event log kept alongside a
// collection's index, under its own database file separate from the
// capture/alias/access keyspaces (those are grouped by a leading namespace
// byte in the ordered store; event logs get a dedicated table since they
// are never range-scanned by SURT).
const Schema = `
CREATE TABLE IF NOT EXISTS business_event_logs (
    event_id      TEXT PRIMARY KEY,
    event_type    TEXT NOT NULL,
    service_name  TEXT NOT NULL,
    entity_type   TEXT,
    entity_id     TEXT,
    action        TEXT NOT NULL,
    details       TEXT,
    success       INTEGER NOT NULL DEFAULT 1,
    created_at    INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
);
CREATE INDEX IF NOT EXISTS idx_event_logs_type ON business_event_logs(event_type, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_event_logs_service ON business_event_logs(service_name, created_at DESC);
`

// Init applies the observability schema to the given database.
func Init(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}

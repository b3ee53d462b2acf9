// Package observability records domain-level events for the pipeline.
//
// Events land in an SQLite table next to the pipeline's own data, so one
// query answers "what happened to this import". Recording is best-effort:
// a failing event store logs a warning and never blocks the pipeline.
package observability

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/hazyhaar/marque/idgen"
)

// Event types recorded by the pipeline.
const (
	EventImportStarted   = "import_started"
	EventImportCompleted = "import_completed"
	EventImportFailed    = "import_failed"
	EventFetchClassified = "fetch_classified"
	EventIndexWritten    = "index_written"
	EventIndexDeferred   = "index_deferred"
)

// Event is a domain-level record.
type Event struct {
	Type     string
	Entity   string // entity type: bookmark, import_job
	EntityID string
	Owner    string
	Detail   string // optional JSON
	Success  bool
}

const schema = `
CREATE TABLE IF NOT EXISTS pipeline_events (
    event_id   TEXT PRIMARY KEY,
    event_type TEXT NOT NULL,
    entity     TEXT NOT NULL DEFAULT '',
    entity_id  TEXT NOT NULL DEFAULT '',
    owner      TEXT NOT NULL DEFAULT '',
    detail     TEXT NOT NULL DEFAULT '',
    success    INTEGER NOT NULL DEFAULT 1,
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_entity ON pipeline_events(entity, entity_id);
CREATE INDEX IF NOT EXISTS idx_events_time ON pipeline_events(created_at DESC);
`

// EventLogger writes pipeline events.
type EventLogger struct {
	db    *sql.DB
	newID idgen.Generator
}

// NewEventLogger creates a logger backed by db and applies the schema.
func NewEventLogger(db *sql.DB) (*EventLogger, error) {
	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("observability schema: %w", err)
		}
	}
	return &EventLogger{
		db:    db,
		newID: idgen.Prefixed("evt_", idgen.Default),
	}, nil
}

// Log records an event. Non-blocking: errors are logged via slog but do not
// propagate.
func (l *EventLogger) Log(ctx context.Context, e Event) {
	if l == nil {
		return
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO pipeline_events (event_id, event_type, entity, entity_id, owner, detail, success, created_at)
		VALUES (?,?,?,?,?,?,?,?)`,
		l.newID(), e.Type, e.Entity, e.EntityID, e.Owner, e.Detail, e.Success, time.Now().Unix())
	if err != nil {
		slog.Warn("observability: event log failed", "error", err, "event_type", e.Type)
	}
}

// CountByType returns event counts grouped by event type (stats surface).
func (l *EventLogger) CountByType(ctx context.Context) (map[string]int, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT event_type, COUNT(*) FROM pipeline_events GROUP BY event_type`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var typ string
		var n int
		if err := rows.Scan(&typ, &n); err != nil {
			return nil, err
		}
		out[typ] = n
	}
	return out, rows.Err()
}

// SetupLogger installs a JSON or text slog handler at the given level as the
// process default and returns it.
func SetupLogger(level slog.Level, json bool) *slog.Logger {
	var h slog.Handler
	if json {
		h = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		h = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	logger := slog.New(h)
	slog.SetDefault(logger)
	return logger
}

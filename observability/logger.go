package observability

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hazyhaar/msadapter/kit"
)

// Event types.
const (
	EventAmbiguousLink = "ambiguous_link"
	EventWidgetFailed  = "widget_failed"
	EventRuleFailed    = "rule_failed"
	EventMappingReload = "mapping_reload"
)

// Event is a notable adapter occurrence worth keeping past the log.
type Event struct {
	Type    string
	PageURL string
	Rule    string
	Detail  string
}

// EventLogger writes adapter events.
type EventLogger struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewEventLogger returns a logger writing to db.
func NewEventLogger(db *sql.DB, logger *slog.Logger) *EventLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventLogger{db: db, logger: logger, now: time.Now}
}

// Log records ev with the request trace id. Failures are logged and
// swallowed. A nil logger discards the event.
func (l *EventLogger) Log(ctx context.Context, ev Event) {
	if l == nil {
		return
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO adapter_events (event_id, event_type, page_url, rule, detail, trace_id, created_at)
		VALUES (?,?,?,?,?,?,?)`,
		uuid.NewString(), ev.Type, ev.PageURL, ev.Rule, ev.Detail, kit.GetTraceID(ctx), l.now().UnixMilli())
	if err != nil {
		l.logger.Error("observability: event log failed", "error", err, "event_type", ev.Type)
	}
}

// Recent returns the latest events of type (all types when empty).
func (l *EventLogger) Recent(ctx context.Context, eventType string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT event_type, COALESCE(page_url,''), COALESCE(rule,''), COALESCE(detail,'') FROM adapter_events`
	args := []any{}
	if eventType != "" {
		q += ` WHERE event_type = ?`
		args = append(args, eventType)
	}
	q += ` ORDER BY created_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()
	var out []Event
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.Type, &ev.PageURL, &ev.Rule, &ev.Detail); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Cleanup deletes events older than retention.
func (l *EventLogger) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	res, err := l.db.ExecContext(ctx, `DELETE FROM adapter_events WHERE created_at < ?`, l.now().Add(-retention).UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("cleanup events: %w", err)
	}
	return res.RowsAffected()
}

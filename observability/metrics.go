// Package observability records adapter metrics and notable events in
// SQLite.
//
// Metric persistence never blocks page rendering: datapoints are buffered
// and written in batches by a background goroutine, and a failing database
// is logged, never returned to the caller.
package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Metric names recorded by the adapter.
const (
	MetricPageDurationMs = "page_duration_ms"
	MetricRuleChanges    = "rule_changes"
	MetricBatchChanges   = "batch_changes"
	MetricWidgetLoadMs   = "widget_load_ms"
	MetricWidgetFailures = "widget_failures"
	MetricAmbiguousLinks = "ambiguous_links"
	MetricMappingReloads = "mapping_reloads"
	MetricMappingEntries = "mapping_entries"
)

// Units.
const (
	UnitCount        = "count"
	UnitMilliseconds = "milliseconds"
)

// Metric is a single timeseries datapoint.
type Metric struct {
	Name      string            `json:"name"`
	Timestamp time.Time         `json:"timestamp"`
	Value     float64           `json:"value"`
	Labels    map[string]string `json:"labels,omitempty"`
	Unit      string            `json:"unit,omitempty"`
}

// MetricsManager buffers metrics and flushes them to SQLite in batches.
type MetricsManager struct {
	db       *sql.DB
	capacity int
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	pending []*Metric
	kick    chan struct{}

	writeMu   sync.Mutex
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewMetricsManager starts a manager flushing every interval or as soon as
// capacity datapoints are queued. Close must be called to stop it.
func NewMetricsManager(db *sql.DB, capacity int, interval time.Duration, logger *slog.Logger) *MetricsManager {
	if capacity <= 0 {
		capacity = 100
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	mm := &MetricsManager{
		db:       db,
		capacity: capacity,
		interval: interval,
		logger:   logger,
		pending:  make([]*Metric, 0, capacity),
		kick:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go mm.loop()
	return mm
}

// Record queues a metric. A nil manager discards it.
func (mm *MetricsManager) Record(m *Metric) {
	if mm == nil {
		return
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	mm.mu.Lock()
	mm.pending = append(mm.pending, m)
	full := len(mm.pending) >= mm.capacity
	mm.mu.Unlock()
	if full {
		select {
		case mm.kick <- struct{}{}:
		default:
		}
	}
}

// Count records a count metric with labels.
func (mm *MetricsManager) Count(name string, n int, labels map[string]string) {
	mm.Record(&Metric{Name: name, Value: float64(n), Labels: labels, Unit: UnitCount})
}

// Duration records a duration metric in milliseconds.
func (mm *MetricsManager) Duration(name string, d time.Duration, labels map[string]string) {
	mm.Record(&Metric{Name: name, Value: float64(d.Microseconds()) / 1000, Labels: labels, Unit: UnitMilliseconds})
}

// Filter selects stored metrics. Zero fields match everything.
type Filter struct {
	Name  string
	Since time.Time
	Until time.Time
	Limit int
}

func (f Filter) where() (string, []any) {
	var conds []string
	var args []any
	if f.Name != "" {
		conds = append(conds, "metric_name = ?")
		args = append(args, f.Name)
	}
	if !f.Since.IsZero() {
		conds = append(conds, "timestamp >= ?")
		args = append(args, f.Since.UnixMilli())
	}
	if !f.Until.IsZero() {
		conds = append(conds, "timestamp <= ?")
		args = append(args, f.Until.UnixMilli())
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// Query returns the stored metrics matching f, newest first.
func (mm *MetricsManager) Query(ctx context.Context, f Filter) ([]*Metric, error) {
	where, args := f.where()
	q := "SELECT metric_name, timestamp, value, labels, unit FROM metrics_timeseries" + where +
		" ORDER BY timestamp DESC, rowid DESC"
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := mm.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query metrics: %w", err)
	}
	defer rows.Close()

	var out []*Metric
	for rows.Next() {
		var (
			m      Metric
			ts     int64
			labels sql.NullString
			unit   sql.NullString
		)
		if err := rows.Scan(&m.Name, &ts, &m.Value, &labels, &unit); err != nil {
			return nil, fmt.Errorf("scan metric: %w", err)
		}
		m.Timestamp = time.UnixMilli(ts)
		m.Unit = unit.String
		if labels.Valid {
			_ = json.Unmarshal([]byte(labels.String), &m.Labels)
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

// Summary aggregates one metric over a window.
type Summary struct {
	Name  string  `json:"name"`
	Unit  string  `json:"unit,omitempty"`
	Count int64   `json:"count"`
	Sum   float64 `json:"sum"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
}

// Summarize aggregates stored metrics per name. Filter.Name and the time
// range narrow the set; Limit is ignored.
func (mm *MetricsManager) Summarize(ctx context.Context, f Filter) ([]Summary, error) {
	where, args := f.where()
	rows, err := mm.db.QueryContext(ctx,
		`SELECT metric_name, COALESCE(MAX(unit), ''), COUNT(*), SUM(value), MIN(value), MAX(value)
		 FROM metrics_timeseries`+where+` GROUP BY metric_name ORDER BY metric_name`, args...)
	if err != nil {
		return nil, fmt.Errorf("summarize metrics: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var s Summary
		if err := rows.Scan(&s.Name, &s.Unit, &s.Count, &s.Sum, &s.Min, &s.Max); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		if s.Count > 0 {
			s.Avg = s.Sum / float64(s.Count)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Cleanup deletes metrics older than retention.
func (mm *MetricsManager) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	res, err := mm.db.ExecContext(ctx, "DELETE FROM metrics_timeseries WHERE timestamp < ?",
		time.Now().Add(-retention).UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("cleanup metrics: %w", err)
	}
	return res.RowsAffected()
}

// Flush writes queued metrics now.
func (mm *MetricsManager) Flush() {
	mm.mu.Lock()
	batch := mm.pending
	mm.pending = make([]*Metric, 0, mm.capacity)
	mm.mu.Unlock()
	mm.write(batch)
}

// Close flushes remaining metrics and stops the background goroutine.
func (mm *MetricsManager) Close() error {
	mm.closeOnce.Do(func() {
		close(mm.stop)
		<-mm.done
	})
	return nil
}

func (mm *MetricsManager) loop() {
	defer close(mm.done)
	ticker := time.NewTicker(mm.interval)
	defer ticker.Stop()
	for {
		select {
		case <-mm.stop:
			mm.Flush()
			return
		case <-ticker.C:
			mm.Flush()
		case <-mm.kick:
			mm.Flush()
		}
	}
}

// write inserts batch in one transaction. Batches are serialized so
// datapoints land in the order they were flushed.
func (mm *MetricsManager) write(batch []*Metric) {
	if len(batch) == 0 {
		return
	}
	mm.writeMu.Lock()
	defer mm.writeMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tx, err := mm.db.BeginTx(ctx, nil)
	if err != nil {
		mm.logger.Error("observability: metrics begin tx", "error", err, "dropped", len(batch))
		return
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO metrics_timeseries (metric_id, metric_name, timestamp, value, labels, unit) VALUES (?,?,?,?,?,?)`)
	if err != nil {
		mm.logger.Error("observability: metrics prepare", "error", err, "dropped", len(batch))
		return
	}
	defer stmt.Close()

	for _, m := range batch {
		var labels sql.NullString
		if len(m.Labels) > 0 {
			if b, err := json.Marshal(m.Labels); err == nil {
				labels = sql.NullString{String: string(b), Valid: true}
			}
		}
		if _, err := stmt.ExecContext(ctx, uuid.NewString(), m.Name, m.Timestamp.UnixMilli(), m.Value, labels, m.Unit); err != nil {
			mm.logger.Error("observability: metrics insert", "error", err, "metric", m.Name)
		}
	}
	if err := tx.Commit(); err != nil {
		mm.logger.Error("observability: metrics commit", "error", err, "dropped", len(batch))
	}
}

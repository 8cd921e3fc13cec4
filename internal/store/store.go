// Package store persists the adapter's server-side state in SQLite: the
// member snapshot cache the widget client reads through, and the log of
// rewrite runs.
package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hazyhaar/msadapter/dbopen"
)

// Schema is applied on Open.
const Schema = `
CREATE TABLE IF NOT EXISTS member_cache (
	token_hash TEXT PRIMARY KEY,
	member     TEXT NOT NULL,
	fetched_at INTEGER NOT NULL,
	expires_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_member_cache_expires ON member_cache(expires_at);

CREATE TABLE IF NOT EXISTS rewrite_runs (
	id          TEXT PRIMARY KEY,
	url         TEXT NOT NULL,
	mode        TEXT NOT NULL,
	source      TEXT NOT NULL,
	authed      INTEGER NOT NULL DEFAULT 0,
	pre_total   INTEGER NOT NULL DEFAULT 0,
	post_total  INTEGER NOT NULL DEFAULT 0,
	ambiguous   INTEGER NOT NULL DEFAULT 0,
	failed      INTEGER NOT NULL DEFAULT 0,
	widget_err  TEXT NOT NULL DEFAULT '',
	duration_ms INTEGER NOT NULL DEFAULT 0,
	created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_rewrite_runs_created ON rewrite_runs(created_at);
`

// ErrNotFound is returned when a cache entry is missing or expired.
var ErrNotFound = errors.New("store: not found")

// Store wraps the adapter database.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (or creates) the database at path and applies Schema.
func Open(path string, opts ...dbopen.Option) (*Store, error) {
	opts = append([]dbopen.Option{dbopen.WithMkdirAll(), dbopen.WithSchema(Schema)}, opts...)
	db, err := dbopen.Open(path, opts...)
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// New wraps an already-open database and applies Schema.
func New(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(Schema); err != nil {
		return nil, fmt.Errorf("store: schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// DB exposes the underlying handle for components sharing the database.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// TokenHash is the cache key for a member token. Raw tokens are never
// stored.
func TokenHash(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// GetMember returns the cached member JSON for token.
func (s *Store) GetMember(ctx context.Context, token string) ([]byte, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT member FROM member_cache WHERE token_hash = ? AND expires_at > ?`,
		TokenHash(token), s.now().UnixMilli()).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get member: %w", err)
	}
	return []byte(raw), nil
}

// PutMember caches member JSON for token until ttl elapses.
func (s *Store) PutMember(ctx context.Context, token string, member []byte, ttl time.Duration) error {
	now := s.now()
	_, err := dbopen.Exec(ctx, s.db,
		`INSERT INTO member_cache (token_hash, member, fetched_at, expires_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(token_hash) DO UPDATE SET member = excluded.member,
		   fetched_at = excluded.fetched_at, expires_at = excluded.expires_at`,
		TokenHash(token), string(member), now.UnixMilli(), now.Add(ttl).UnixMilli())
	if err != nil {
		return fmt.Errorf("store: put member: %w", err)
	}
	return nil
}

// DeleteMember drops the cache entry for token.
func (s *Store) DeleteMember(ctx context.Context, token string) error {
	if _, err := dbopen.Exec(ctx, s.db, `DELETE FROM member_cache WHERE token_hash = ?`, TokenHash(token)); err != nil {
		return fmt.Errorf("store: delete member: %w", err)
	}
	return nil
}

// PurgeExpired removes expired cache entries and returns how many went.
func (s *Store) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := dbopen.Exec(ctx, s.db, `DELETE FROM member_cache WHERE expires_at <= ?`, s.now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("store: purge: %w", err)
	}
	return res.RowsAffected()
}

// Run is one pass of the entry sequence over a page.
type Run struct {
	ID        string        `json:"id"`
	URL       string        `json:"url"`
	Mode      string        `json:"mode"`
	Source    string        `json:"source"`
	Authed    bool          `json:"authed"`
	PreTotal  int           `json:"pre_total"`
	PostTotal int           `json:"post_total"`
	Ambiguous int           `json:"ambiguous"`
	Failed    int           `json:"failed"`
	WidgetErr string        `json:"widget_err,omitempty"`
	Duration  time.Duration `json:"duration_ns"`
	CreatedAt time.Time     `json:"created_at"`
}

// RecordRun stores r, assigning an id and timestamp when missing.
func (s *Store) RecordRun(ctx context.Context, r *Run) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now()
	}
	authed := 0
	if r.Authed {
		authed = 1
	}
	_, err := dbopen.Exec(ctx, s.db,
		`INSERT INTO rewrite_runs (id, url, mode, source, authed, pre_total, post_total,
		   ambiguous, failed, widget_err, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.URL, r.Mode, r.Source, authed, r.PreTotal, r.PostTotal,
		r.Ambiguous, r.Failed, r.WidgetErr, r.Duration.Milliseconds(), r.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("store: record run: %w", err)
	}
	return nil
}

// RecentRuns returns the latest runs, newest first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, url, mode, source, authed, pre_total, post_total, ambiguous, failed,
		        widget_err, duration_ms, created_at
		 FROM rewrite_runs ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: recent runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		var authed int
		var durMs, created int64
		if err := rows.Scan(&r.ID, &r.URL, &r.Mode, &r.Source, &authed, &r.PreTotal, &r.PostTotal,
			&r.Ambiguous, &r.Failed, &r.WidgetErr, &durMs, &created); err != nil {
			return nil, fmt.Errorf("store: scan run: %w", err)
		}
		r.Authed = authed == 1
		r.Duration = time.Duration(durMs) * time.Millisecond
		r.CreatedAt = time.UnixMilli(created)
		out = append(out, r)
	}
	return out, rows.Err()
}

// PurgeRuns deletes runs older than the cutoff.
func (s *Store) PurgeRuns(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := s.now().Add(-olderThan).UnixMilli()
	res, err := dbopen.Exec(ctx, s.db, `DELETE FROM rewrite_runs WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("store: purge runs: %w", err)
	}
	return res.RowsAffected()
}

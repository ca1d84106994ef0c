package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/couchcryptid/agrodecision-cache/internal/domain"
)

// SQLite is the durable backend. Writes go through a single connection;
// reads use a separate query-only pool.
type SQLite struct {
	readDB  *sql.DB
	writeDB *sql.DB
	opts    Options
}

// OpenSQLite opens (creating if needed) the database at dbPath.
func OpenSQLite(dbPath string, opts Options) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("creating cache dir: %w", err)
	}

	writeDB, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening write db: %w", err)
	}
	writeDB.SetMaxOpenConns(1)

	readDB, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=query_only(1)")
	if err != nil {
		writeDB.Close()
		return nil, fmt.Errorf("opening read db: %w", err)
	}

	s := &SQLite{readDB: readDB, writeDB: writeDB, opts: opts.withDefaults()}
	if err := s.init(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) init() error {
	_, err := s.writeDB.Exec(`
		CREATE TABLE IF NOT EXISTS resources (
			key          TEXT PRIMARY KEY,
			value        BLOB NOT NULL,
			content_type TEXT NOT NULL DEFAULT '',
			stored_at    INTEGER NOT NULL,
			accessed_at  INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_resources_accessed ON resources(accessed_at);

		CREATE TABLE IF NOT EXISTS pending_sync (
			id         TEXT PRIMARY KEY,
			tag        TEXT NOT NULL,
			kind       TEXT NOT NULL,
			payload    BLOB NOT NULL,
			created_at INTEGER NOT NULL,
			attempts   INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_pending_created ON pending_sync(created_at);

		CREATE TABLE IF NOT EXISTS history (
			seq      INTEGER PRIMARY KEY AUTOINCREMENT,
			id       TEXT NOT NULL UNIQUE,
			type     TEXT NOT NULL,
			date     INTEGER NOT NULL,
			location TEXT,
			payload  BLOB
		);
	`)
	if err != nil {
		return fmt.Errorf("initializing schema: %w", err)
	}
	return nil
}

// Close releases both handles.
func (s *SQLite) Close() error {
	var errs []error
	if s.readDB != nil {
		errs = append(errs, s.readDB.Close())
	}
	if s.writeDB != nil {
		errs = append(errs, s.writeDB.Close())
	}
	return errors.Join(errs...)
}

func (s *SQLite) now() int64 {
	return s.opts.Clock.Now().UnixNano()
}

// Get returns the entry for key and marks it as recently accessed. Expired
// entries are deleted and reported as ErrNotFound.
func (s *SQLite) Get(ctx context.Context, key string) (Entry, error) {
	var (
		e        Entry
		storedAt int64
	)
	err := s.readDB.QueryRowContext(ctx,
		"SELECT key, value, content_type, stored_at FROM resources WHERE key = ?", key,
	).Scan(&e.Key, &e.Value, &e.ContentType, &storedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("reading %s: %w", key, err)
	}
	e.StoredAt = time.Unix(0, storedAt).UTC()

	if s.opts.expired(e.StoredAt) {
		deleted, err := s.deleteExpired(ctx, key, storedAt)
		if err != nil {
			return Entry{}, err
		}
		if deleted {
			s.opts.evicted(1)
		}
		return Entry{}, ErrNotFound
	}

	if _, err := s.writeDB.ExecContext(ctx,
		"UPDATE resources SET accessed_at = ? WHERE key = ?", s.now(), key,
	); err != nil {
		return Entry{}, fmt.Errorf("touching %s: %w", key, err)
	}
	return e, nil
}

// deleteExpired removes key only while it still holds the value stored at
// storedAt, so a Put racing the expired read keeps its fresh value.
func (s *SQLite) deleteExpired(ctx context.Context, key string, storedAt int64) (bool, error) {
	res, err := s.writeDB.ExecContext(ctx,
		"DELETE FROM resources WHERE key = ? AND stored_at = ?", key, storedAt)
	if err != nil {
		return false, fmt.Errorf("deleting expired %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Put stores e, replacing any previous value for its key, and evicts the
// least recently accessed entries beyond MaxEntries.
func (s *SQLite) Put(ctx context.Context, e Entry) error {
	now := s.now()
	storedAt := now
	if !e.StoredAt.IsZero() {
		storedAt = e.StoredAt.UnixNano()
	}

	tx, err := s.writeDB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO resources (key, value, content_type, stored_at, accessed_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			content_type = excluded.content_type,
			stored_at = excluded.stored_at,
			accessed_at = excluded.accessed_at
	`, e.Key, e.Value, e.ContentType, storedAt, now)
	if err != nil {
		return fmt.Errorf("storing %s: %w", e.Key, err)
	}

	var count int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM resources").Scan(&count); err != nil {
		return fmt.Errorf("counting resources: %w", err)
	}
	excess := count - s.opts.MaxEntries
	if excess > 0 {
		_, err := tx.ExecContext(ctx, `
			DELETE FROM resources WHERE key IN (
				SELECT key FROM resources ORDER BY accessed_at ASC, rowid ASC LIMIT ?
			)`, excess)
		if err != nil {
			return fmt.Errorf("evicting resources: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	if excess > 0 {
		s.opts.evicted(excess)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *SQLite) Delete(ctx context.Context, key string) error {
	if _, err := s.writeDB.ExecContext(ctx, "DELETE FROM resources WHERE key = ?", key); err != nil {
		return fmt.Errorf("deleting %s: %w", key, err)
	}
	return nil
}

// Clear removes every cached resource. The queue and history are kept.
func (s *SQLite) Clear(ctx context.Context) error {
	if _, err := s.writeDB.ExecContext(ctx, "DELETE FROM resources"); err != nil {
		return fmt.Errorf("clearing resources: %w", err)
	}
	return nil
}

// Len returns the number of cached resources.
func (s *SQLite) Len(ctx context.Context) (int, error) {
	return s.count(ctx, "resources")
}

func (s *SQLite) count(ctx context.Context, table string) (int, error) {
	var n int
	if err := s.readDB.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil { //nolint:gosec
		return 0, fmt.Errorf("counting %s: %w", table, err)
	}
	return n, nil
}

// Enqueue adds item to the pending queue, assigning an ID and creation time
// when missing.
func (s *SQLite) Enqueue(ctx context.Context, item domain.PendingSyncItem) error {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = s.opts.Clock.Now()
	}
	if item.Payload == nil {
		item.Payload = json.RawMessage("null")
	}
	_, err := s.writeDB.ExecContext(ctx, `
		INSERT INTO pending_sync (id, tag, kind, payload, created_at, attempts)
		VALUES (?, ?, ?, ?, ?, ?)
	`, item.ID, item.Tag, item.Kind, []byte(item.Payload), item.CreatedAt.UnixNano(), item.Attempts)
	if err != nil {
		return fmt.Errorf("enqueueing %s: %w", item.ID, err)
	}
	return nil
}

// Pending returns queued items, oldest first.
func (s *SQLite) Pending(ctx context.Context, limit int) ([]domain.PendingSyncItem, error) {
	query := "SELECT id, tag, kind, payload, created_at, attempts FROM pending_sync ORDER BY created_at ASC, rowid ASC"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := s.readDB.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying pending items: %w", err)
	}
	defer rows.Close()

	var items []domain.PendingSyncItem
	for rows.Next() {
		var (
			item      domain.PendingSyncItem
			payload   []byte
			createdAt int64
		)
		if err := rows.Scan(&item.ID, &item.Tag, &item.Kind, &payload, &createdAt, &item.Attempts); err != nil {
			return nil, fmt.Errorf("scanning pending item: %w", err)
		}
		item.Payload = json.RawMessage(payload)
		item.CreatedAt = time.Unix(0, createdAt).UTC()
		items = append(items, item)
	}
	return items, rows.Err()
}

// Remove deletes a replayed item.
func (s *SQLite) Remove(ctx context.Context, id string) error {
	res, err := s.writeDB.ExecContext(ctx, "DELETE FROM pending_sync WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("removing %s: %w", id, err)
	}
	return affected(res, id)
}

// MarkAttempt bumps the attempt counter of a queued item.
func (s *SQLite) MarkAttempt(ctx context.Context, id string) error {
	res, err := s.writeDB.ExecContext(ctx, "UPDATE pending_sync SET attempts = attempts + 1 WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("marking attempt on %s: %w", id, err)
	}
	return affected(res, id)
}

// PendingCount returns the queue length.
func (s *SQLite) PendingCount(ctx context.Context) (int, error) {
	return s.count(ctx, "pending_sync")
}

func affected(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("pending item %s: %w", id, ErrNotFound)
	}
	return nil
}

// Append records e and drops the oldest entries beyond HistoryLimit.
func (s *SQLite) Append(ctx context.Context, e domain.HistoryEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Date.IsZero() {
		e.Date = s.opts.Clock.Now()
	}
	var location []byte
	if e.Location != nil {
		b, err := json.Marshal(e.Location)
		if err != nil {
			return fmt.Errorf("encoding history location: %w", err)
		}
		location = b
	}

	tx, err := s.writeDB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO history (id, type, date, location, payload) VALUES (?, ?, ?, ?, ?)",
		e.ID, e.Type, e.Date.UnixNano(), nullable(location), nullable(e.Payload),
	); err != nil {
		return fmt.Errorf("appending history: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM history WHERE seq NOT IN (
			SELECT seq FROM history ORDER BY seq DESC LIMIT ?
		)`, s.opts.HistoryLimit); err != nil {
		return fmt.Errorf("trimming history: %w", err)
	}
	return tx.Commit()
}

// List returns history entries, newest first.
func (s *SQLite) List(ctx context.Context, limit int) ([]domain.HistoryEntry, error) {
	query := "SELECT id, type, date, location, payload FROM history ORDER BY seq DESC"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := s.readDB.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	var entries []domain.HistoryEntry
	for rows.Next() {
		var (
			e        domain.HistoryEntry
			date     int64
			location []byte
			payload  []byte
		)
		if err := rows.Scan(&e.ID, &e.Type, &date, &location, &payload); err != nil {
			return nil, fmt.Errorf("scanning history: %w", err)
		}
		e.Date = time.Unix(0, date).UTC()
		if len(location) > 0 {
			var loc domain.Location
			if err := json.Unmarshal(location, &loc); err != nil {
				return nil, fmt.Errorf("decoding history location %s: %w", e.ID, err)
			}
			e.Location = &loc
		}
		if len(payload) > 0 {
			e.Payload = json.RawMessage(payload)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ClearHistory removes every history entry.
func (s *SQLite) ClearHistory(ctx context.Context) error {
	if _, err := s.writeDB.ExecContext(ctx, "DELETE FROM history"); err != nil {
		return fmt.Errorf("clearing history: %w", err)
	}
	return nil
}

func nullable(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

// Package storage is the local SQLite store: the admin session token and
// the outbox of ledger events waiting to be published.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"membership/internal/core"
	"membership/internal/log"
)

const (
	tokenKey     = "token"
	sessionIDKey = "session_id"
)

// Outbox statuses.
const (
	StatusPending   = "pending"
	StatusPublished = "published"
	StatusFailed    = "failed"
)

// OutboxEvent is a ledger event waiting in the outbox.
type OutboxEvent struct {
	Event     core.LedgerEvent
	Status    string
	Attempts  int
	LastError string
	CreatedAt time.Time
}

type SQLiteRepository struct {
	db     *sql.DB
	logger *log.Logger
	now    func() time.Time
}

func NewSQLiteRepository(dbPath string, logger *log.Logger) (*SQLiteRepository, error) {
	if logger == nil {
		logger = log.Discard()
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// One writer at a time; SQLite would otherwise return SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	version, err := RunMigrations(dbPath)
	if err != nil {
		db.Close()
		return nil, err
	}

	r := &SQLiteRepository{db: db, logger: logger.WithComponent(log.ComponentStorage), now: time.Now}
	r.logger.Info("SQLite store ready", "path", dbPath, "schema_version", version)
	return r, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *SQLiteRepository) stamp() string {
	return r.now().UTC().Format(time.RFC3339Nano)
}

// Token returns the stored access token, or "" when signed out.
func (r *SQLiteRepository) Token(ctx context.Context) (string, error) {
	return r.sessionValue(ctx, tokenKey)
}

func (r *SQLiteRepository) SetToken(ctx context.Context, token string) error {
	return r.setSessionValue(ctx, tokenKey, token)
}

// SessionID returns the id of the client session bound to the token.
func (r *SQLiteRepository) SessionID(ctx context.Context) (string, error) {
	return r.sessionValue(ctx, sessionIDKey)
}

func (r *SQLiteRepository) SetSessionID(ctx context.Context, id string) error {
	return r.setSessionValue(ctx, sessionIDKey, id)
}

// Clear drops the token and the session bound to it.
func (r *SQLiteRepository) Clear(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM session WHERE key IN (?, ?)`, tokenKey, sessionIDKey); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) sessionValue(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, `SELECT value FROM session WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read session %s: %w", key, err)
	}
	return value, nil
}

func (r *SQLiteRepository) setSessionValue(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO session (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, r.stamp())
	if err != nil {
		return fmt.Errorf("store session %s: %w", key, err)
	}
	return nil
}

// EnqueueEvent stores ev as pending. Enqueuing the same event id twice is a no-op.
func (r *SQLiteRepository) EnqueueEvent(ctx context.Context, ev core.LedgerEvent) error {
	if err := ev.Validate(); err != nil {
		return fmt.Errorf("enqueue event: %w", err)
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	now := r.stamp()
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO outbox_events (id, event_type, member_id, payload, status, attempts, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 0, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		ev.ID, string(ev.Type), ev.MemberID, string(payload), StatusPending, now, now)
	if err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}
	r.logger.DebugContext(ctx, "Event stored in outbox", log.FieldEventID, ev.ID, log.FieldEventType, ev.Type)
	return nil
}

// PendingEvents returns up to limit pending events, oldest first.
func (r *SQLiteRepository) PendingEvents(ctx context.Context, limit int) ([]OutboxEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT payload, status, attempts, COALESCE(last_error, ''), created_at
		FROM outbox_events
		WHERE status = ?
		ORDER BY created_at, id
		LIMIT ?`, StatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("query pending events: %w", err)
	}
	defer rows.Close()

	var out []OutboxEvent
	for rows.Next() {
		var (
			payload, created string
			ev               OutboxEvent
		)
		if err := rows.Scan(&payload, &ev.Status, &ev.Attempts, &ev.LastError, &created); err != nil {
			return nil, fmt.Errorf("scan outbox event: %w", err)
		}
		if err := json.Unmarshal([]byte(payload), &ev.Event); err != nil {
			return nil, fmt.Errorf("decode outbox payload: %w", err)
		}
		if ev.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) MarkPublished(ctx context.Context, id string) error {
	now := r.stamp()
	res, err := r.db.ExecContext(ctx, `
		UPDATE outbox_events SET status = ?, published_at = ?, updated_at = ?, last_error = NULL
		WHERE id = ?`, StatusPublished, now, now, id)
	if err != nil {
		return fmt.Errorf("mark event published: %w", err)
	}
	return expectOne(res, id)
}

// MarkFailed counts a failed attempt. Once attempts reach maxAttempts the
// event is parked as failed and no longer returned by PendingEvents.
func (r *SQLiteRepository) MarkFailed(ctx context.Context, id string, cause error, maxAttempts int) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE outbox_events
		SET attempts = attempts + 1,
		    last_error = ?,
		    updated_at = ?,
		    status = CASE WHEN attempts + 1 >= ? THEN ? ELSE status END
		WHERE id = ?`, msg, r.stamp(), maxAttempts, StatusFailed, id)
	if err != nil {
		return fmt.Errorf("mark event failed: %w", err)
	}
	if err := expectOne(res, id); err != nil {
		return err
	}
	r.logger.WarnContext(ctx, "Outbox event publish failed", log.FieldEventID, id, log.FieldError, msg)
	return nil
}

// CountByStatus reports the outbox size per status.
func (r *SQLiteRepository) CountByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM outbox_events GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count outbox events: %w", err)
	}
	defer rows.Close()

	out := map[string]int{StatusPending: 0, StatusPublished: 0, StatusFailed: 0}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan outbox count: %w", err)
		}
		out[status] = n
	}
	return out, rows.Err()
}

var ErrEventNotFound = errors.New("outbox event not found")

func expectOne(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", id, ErrEventNotFound)
	}
	return nil
}

package persistence

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/MimeLyc/batch-transcriber/internal/dispatch"
	_ "modernc.org/sqlite"
)

const (
	stateReady   = "ready"
	stateClaimed = "claimed"
	stateAcked   = "acked"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// SQLiteQueue is a durable work queue shared by the API process and any
// number of worker processes pointing at the same database file.
type SQLiteQueue struct {
	db    *sql.DB
	queue string
	now   func() time.Time
}

func NewSQLiteQueue(path, queue string) (*SQLiteQueue, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("db path is required")
	}
	if strings.TrimSpace(queue) == "" {
		return nil, fmt.Errorf("queue name is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	q := &SQLiteQueue{
		db:    db,
		queue: queue,
		now:   time.Now,
	}
	if err := q.init(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return q, nil
}

func (q *SQLiteQueue) Close() error {
	if q == nil || q.db == nil {
		return nil
	}
	return q.db.Close()
}

func (q *SQLiteQueue) init(ctx context.Context) error {
	if _, err := q.db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
		return fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := q.db.ExecContext(ctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := q.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		version := migrationVersion(entry.Name())
		if version <= 0 {
			continue
		}
		var exists int
		if err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, version).Scan(&exists); err != nil {
			return fmt.Errorf("check migration %s: %w", entry.Name(), err)
		}
		if exists > 0 {
			continue
		}
		// embed.FS paths always use forward slashes
		content, err := migrationFiles.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		if _, err := q.db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("apply migration %s: %w", entry.Name(), err)
		}
		if _, err := q.db.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, version); err != nil {
			return fmt.Errorf("record migration %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// migrationVersion extracts the leading integer from a migration filename (e.g. "001_init.sql" → 1).
func migrationVersion(name string) int {
	for i, c := range name {
		if c < '0' || c > '9' {
			if i == 0 {
				return 0
			}
			n, _ := strconv.Atoi(name[:i])
			return n
		}
	}
	n, _ := strconv.Atoi(name)
	return n
}

// Enqueue inserts a ready message. A key that is still ready or claimed is
// rejected with dispatch.ErrDuplicate; an acked key may be enqueued again.
func (q *SQLiteQueue) Enqueue(ctx context.Context, key string, payload []byte) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("message key is required")
	}
	res, err := q.db.ExecContext(
		ctx,
		`INSERT INTO dispatch_messages (queue, msg_key, payload_json, state, enqueued_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(queue, msg_key) DO UPDATE SET
			payload_json=excluded.payload_json,
			state=excluded.state,
			enqueued_at=excluded.enqueued_at,
			claimed_at=NULL,
			claimed_by='',
			acked_at=NULL
		 WHERE dispatch_messages.state = ?`,
		q.queue,
		key,
		string(payload),
		stateReady,
		q.now().UnixMilli(),
		stateAcked,
	)
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", key, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", key, err)
	}
	if affected == 0 {
		return fmt.Errorf("enqueue %s: %w", key, dispatch.ErrDuplicate)
	}
	return nil
}

// Claim moves the oldest ready message to claimed in a single statement so
// concurrent workers never receive the same message.
func (q *SQLiteQueue) Claim(ctx context.Context, workerID string) (*dispatch.Delivery, error) {
	now := q.now().UnixMilli()
	row := q.db.QueryRowContext(
		ctx,
		`UPDATE dispatch_messages SET
			state = ?,
			claimed_at = ?,
			claimed_by = ?
		 WHERE queue = ? AND msg_key = (
			SELECT msg_key FROM dispatch_messages
			WHERE queue = ? AND state = ?
			ORDER BY enqueued_at ASC, rowid ASC
			LIMIT 1
		 )
		 RETURNING msg_key, payload_json, enqueued_at, claimed_at, claimed_by`,
		stateClaimed,
		now,
		workerID,
		q.queue,
		q.queue,
		stateReady,
	)

	var (
		d          dispatch.Delivery
		payload    string
		enqueuedAt int64
		claimedAt  int64
	)
	if err := row.Scan(&d.Key, &payload, &enqueuedAt, &claimedAt, &d.ClaimedBy); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("claim message: %w", err)
	}
	d.Payload = []byte(payload)
	d.EnqueuedAt = time.UnixMilli(enqueuedAt).UTC()
	d.ClaimedAt = time.UnixMilli(claimedAt).UTC()
	return &d, nil
}

func (q *SQLiteQueue) Ack(ctx context.Context, key string) error {
	res, err := q.db.ExecContext(
		ctx,
		`UPDATE dispatch_messages SET state = ?, acked_at = ?
		 WHERE queue = ? AND msg_key = ? AND state = ?`,
		stateAcked,
		q.now().UnixMilli(),
		q.queue,
		key,
		stateClaimed,
	)
	if err != nil {
		return fmt.Errorf("ack %s: %w", key, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("ack %s: %w", key, err)
	}
	if affected == 0 {
		return fmt.Errorf("ack %s: message is not claimed", key)
	}
	return nil
}

func (q *SQLiteQueue) Stale(ctx context.Context, olderThan time.Duration) ([]dispatch.Delivery, error) {
	cutoff := q.now().Add(-olderThan).UnixMilli()
	rows, err := q.db.QueryContext(
		ctx,
		`SELECT msg_key, payload_json, enqueued_at, claimed_at, claimed_by
		 FROM dispatch_messages
		 WHERE queue = ? AND state = ? AND claimed_at <= ?
		 ORDER BY claimed_at ASC`,
		q.queue,
		stateClaimed,
		cutoff,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]dispatch.Delivery, 0)
	for rows.Next() {
		var (
			d          dispatch.Delivery
			payload    string
			enqueuedAt int64
			claimedAt  int64
		)
		if err := rows.Scan(&d.Key, &payload, &enqueuedAt, &claimedAt, &d.ClaimedBy); err != nil {
			return nil, err
		}
		d.Payload = []byte(payload)
		d.EnqueuedAt = time.UnixMilli(enqueuedAt).UTC()
		d.ClaimedAt = time.UnixMilli(claimedAt).UTC()
		ret = append(ret, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}

// QueueStats counts messages per state.
type QueueStats struct {
	Ready   int `json:"ready"`
	Claimed int `json:"claimed"`
	Acked   int `json:"acked"`
}

func (q *SQLiteQueue) Stats(ctx context.Context) (QueueStats, error) {
	rows, err := q.db.QueryContext(
		ctx,
		`SELECT state, COUNT(*) FROM dispatch_messages WHERE queue = ? GROUP BY state`,
		q.queue,
	)
	if err != nil {
		return QueueStats{}, err
	}
	defer rows.Close()

	var stats QueueStats
	for rows.Next() {
		var state string
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return QueueStats{}, err
		}
		switch state {
		case stateReady:
			stats.Ready = count
		case stateClaimed:
			stats.Claimed = count
		case stateAcked:
			stats.Acked = count
		}
	}
	return stats, rows.Err()
}

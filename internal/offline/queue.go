// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package offline provides the process-wide connectivity signal and the
// durable queue for writes issued while disconnected.
package offline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// =============================================================================
// SCHEMA
// =============================================================================

const (
	// SchemaVersion tracks the queue schema version for migrations
	SchemaVersion = 1
)

// SQLite schema for the durable operation queue
const Schema = `
-- Metadata table for schema version
CREATE TABLE IF NOT EXISTS metadata (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
) WITHOUT ROWID;

-- Operations table: pending writes in FIFO order
CREATE TABLE IF NOT EXISTS operations (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,  -- FIFO position
    id TEXT NOT NULL UNIQUE,                -- stable local id
    kind TEXT NOT NULL,                     -- operation kind
    target_id INTEGER NOT NULL,             -- target entity (message id for feedback)
    payload TEXT NOT NULL,                  -- JSON payload
    attempts INTEGER NOT NULL DEFAULT 0,
    last_error TEXT NOT NULL DEFAULT '',
    enqueued_at INTEGER NOT NULL            -- Unix millis
);

-- One pending operation per (kind, target); a newer write replaces the
-- payload in place, keeping the original queue position.
CREATE UNIQUE INDEX IF NOT EXISTS idx_operations_target ON operations(kind, target_id);
`

// InitMetadata initializes the metadata table with default values
const InitMetadata = `
INSERT OR IGNORE INTO metadata (key, value) VALUES ('schema_version', '1');
INSERT OR IGNORE INTO metadata (key, value) VALUES ('created_at', strftime('%s', 'now'));
`

// =============================================================================
// OPERATION TYPES
// =============================================================================

// Kind identifies the class of a queued operation.
type Kind string

const (
	// KindFeedback is a message rating write.
	KindFeedback Kind = "feedback"
)

// Operation is one durable queued write. Payload is opaque JSON owned by the
// component that enqueued it.
type Operation struct {
	ID         string
	Kind       Kind
	TargetID   int64
	Payload    string
	Attempts   int
	LastError  string
	EnqueuedAt time.Time
}

// =============================================================================
// ERRORS
// =============================================================================

var (
	ErrQueueClosed = errors.New("offline queue is closed")
)

// =============================================================================
// QUEUE
// =============================================================================

// drainPace is the minimum spacing between replayed operations, so a
// reconnect does not burst weeks of buffered writes at the backend.
var drainPace = rate.Every(200 * time.Millisecond)

// Queue is the durable FIFO of writes issued while disconnected. Operations
// persist across restarts and reconnects until the backend acknowledges them;
// they are never discarded automatically.
//
// Any caller may enqueue. Draining is single-flight: a Drain call while
// another is in progress is a no-op.
type Queue struct {
	db      *sql.DB
	limiter *rate.Limiter

	draining atomic.Bool
	closed   atomic.Bool
}

// OpenQueue opens (creating if necessary) the queue database at path.
func OpenQueue(path string) (*Queue, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create queue directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open queue database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create queue schema: %w", err)
	}
	if _, err := db.Exec(InitMetadata); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize queue metadata: %w", err)
	}

	return &Queue{
		db:      db,
		limiter: rate.NewLimiter(drainPace, 1),
	}, nil
}

// Close releases the queue database. Pending operations stay on disk.
func (q *Queue) Close() error {
	if !q.closed.CompareAndSwap(false, true) {
		return nil
	}
	return q.db.Close()
}

// =============================================================================
// ENQUEUE
// =============================================================================

// Enqueue appends an operation and returns its stable local id. A second
// enqueue for the same (kind, target) replaces the pending payload in place,
// keeping the original queue position and id: for last-write-wins operations
// such as feedback only the newest value is worth replaying.
func (q *Queue) Enqueue(kind Kind, targetID int64, payload string) (string, error) {
	if q.closed.Load() {
		return "", ErrQueueClosed
	}

	tx, err := q.db.Begin()
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var existing string
	err = tx.QueryRow(
		`SELECT id FROM operations WHERE kind = ? AND target_id = ?`,
		string(kind), targetID,
	).Scan(&existing)

	switch {
	case err == nil:
		_, err = tx.Exec(
			`UPDATE operations SET payload = ?, attempts = 0, last_error = '' WHERE id = ?`,
			payload, existing,
		)
		if err != nil {
			return "", fmt.Errorf("failed to replace queued operation: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return "", fmt.Errorf("failed to commit queue update: %w", err)
		}
		return existing, nil

	case errors.Is(err, sql.ErrNoRows):
		id := uuid.NewString()
		_, err = tx.Exec(
			`INSERT INTO operations (id, kind, target_id, payload, enqueued_at) VALUES (?, ?, ?, ?, ?)`,
			id, string(kind), targetID, payload, time.Now().UnixMilli(),
		)
		if err != nil {
			return "", fmt.Errorf("failed to enqueue operation: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return "", fmt.Errorf("failed to commit enqueue: %w", err)
		}
		return id, nil

	default:
		return "", fmt.Errorf("failed to query queued operations: %w", err)
	}
}

// =============================================================================
// DRAIN
// =============================================================================

// Drain replays queued operations in FIFO order through apply. An operation
// is removed once apply returns nil and left in place otherwise, with its
// attempt count and last error recorded for the next reconnect.
//
// Drain is single-flight: if another drain is in progress the call returns
// immediately with no work done. Returns the number of acknowledged
// operations.
func (q *Queue) Drain(ctx context.Context, apply func(ctx context.Context, op Operation) error) (int, error) {
	if q.closed.Load() {
		return 0, ErrQueueClosed
	}
	if !q.draining.CompareAndSwap(false, true) {
		return 0, nil
	}
	defer q.draining.Store(false)

	ops, err := q.Pending()
	if err != nil {
		return 0, err
	}

	acked := 0
	for _, op := range ops {
		if err := ctx.Err(); err != nil {
			return acked, err
		}
		// Going back offline mid-drain leaves the rest for the next reconnect.
		if !IsOnline() {
			return acked, nil
		}

		if err := q.limiter.Wait(ctx); err != nil {
			return acked, err
		}

		if err := apply(ctx, op); err != nil {
			log.Printf("WARNING: Queued %s operation %s failed (attempt %d): %v",
				op.Kind, op.ID, op.Attempts+1, err)
			if _, dbErr := q.db.Exec(
				`UPDATE operations SET attempts = attempts + 1, last_error = ? WHERE id = ?`,
				err.Error(), op.ID,
			); dbErr != nil {
				log.Printf("WARNING: Failed to record queue attempt: %v", dbErr)
			}
			continue
		}

		if _, err := q.db.Exec(`DELETE FROM operations WHERE id = ?`, op.ID); err != nil {
			return acked, fmt.Errorf("failed to remove acknowledged operation: %w", err)
		}
		acked++
	}
	return acked, nil
}

// =============================================================================
// INSPECTION
// =============================================================================

// Len returns the number of pending operations.
func (q *Queue) Len() (int, error) {
	if q.closed.Load() {
		return 0, ErrQueueClosed
	}
	var n int
	if err := q.db.QueryRow(`SELECT COUNT(*) FROM operations`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count queued operations: %w", err)
	}
	return n, nil
}

// Pending returns the queued operations in FIFO order.
func (q *Queue) Pending() ([]Operation, error) {
	if q.closed.Load() {
		return nil, ErrQueueClosed
	}

	rows, err := q.db.Query(
		`SELECT id, kind, target_id, payload, attempts, last_error, enqueued_at
		 FROM operations ORDER BY seq`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list queued operations: %w", err)
	}
	defer rows.Close()

	var ops []Operation
	for rows.Next() {
		var op Operation
		var kind string
		var enqueuedMillis int64
		if err := rows.Scan(&op.ID, &kind, &op.TargetID, &op.Payload,
			&op.Attempts, &op.LastError, &enqueuedMillis); err != nil {
			return nil, fmt.Errorf("failed to scan queued operation: %w", err)
		}
		op.Kind = Kind(kind)
		op.EnqueuedAt = time.UnixMilli(enqueuedMillis)
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate queued operations: %w", err)
	}
	return ops, nil
}

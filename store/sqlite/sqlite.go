/*
Package sqlite provides the SQLite-backed implementation of the storage
interfaces.

INTERFACES IMPLEMENTED:
  versioned.Store: heads / history / snapshots persistence
  jobs.Store:      durable job queue rows

APPEND-ONLY ENFORCEMENT:
  - No UPDATE or DELETE statements touch the history or snapshots tables
  - Only the heads table is ever repointed, and only inside the same
    transaction that inserted the new history row

KEY TABLES:
  entity_counters: per-type allocation of entity numbers (never reused)
  heads:           one row per entity, current history pointer
  history:         immutable audit rows; facets_json carries the complete
                   facet -> snapshot mapping for point-in-time reads
  snapshots:       immutable facet value blocks
  jobs:            durable queue (type, payload, schedule, retry budget)

TRANSACTIONS:
  WithTx runs a function inside one database transaction carried on the
  context; every Store method joins a transaction found there. The job
  executor uses this to scope a handler's writes to the job, and the sale
  workflow uses it to serialize read-reconcile-append per entity. Nested
  WithTx calls join the outer transaction.

WAL MODE:
  Opened with WAL and foreign keys on, single writer connection, matching
  SQLite's one-writer model.

USAGE:
  store, err := sqlite.New("./data/coursesales.db")  // or ":memory:"
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/giltayar/coursesales/jobs"
	"github.com/giltayar/coursesales/versioned"
)

// Store implements versioned.Store and jobs.Store using SQLite.
type Store struct {
	db *sql.DB
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite supports one writer at a time; a single connection avoids
	// SQLITE_BUSY and keeps ":memory:" databases coherent.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS entity_counters (
		entity_type TEXT PRIMARY KEY,
		last_number INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS heads (
		entity_type TEXT NOT NULL,
		entity_number INTEGER NOT NULL,
		current_history_id TEXT NOT NULL,
		PRIMARY KEY (entity_type, entity_number)
	);

	-- Append-only audit trail. facets_json holds the complete
	-- facet -> snapshot id mapping as of this row.
	CREATE TABLE IF NOT EXISTS history (
		id TEXT PRIMARY KEY,
		entity_type TEXT NOT NULL,
		entity_number INTEGER NOT NULL,
		timestamp TEXT NOT NULL,
		operation TEXT NOT NULL,
		reason TEXT,
		facets_json TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_history_entity
		ON history(entity_type, entity_number, timestamp);

	CREATE TABLE IF NOT EXISTS snapshots (
		id TEXT PRIMARY KEY,
		facet TEXT NOT NULL,
		data_json TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		job_type TEXT NOT NULL,
		payload_json TEXT NOT NULL,
		scheduled_at TEXT,
		retries INTEGER NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_jobs_scheduled ON jobs(scheduled_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

// =============================================================================
// TRANSACTIONS - context-carried, joined by every Store method
// =============================================================================

type txKey struct{}

// WithTx executes fn within a transaction carried on the context it passes
// to fn. If fn returns an error the transaction is rolled back. Calls that
// already run inside a WithTx join the existing transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return fn(ctx)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) q(ctx context.Context) querier {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return s.db
}

// =============================================================================
// VERSIONED STORE
// =============================================================================

func (s *Store) CreateEntity(ctx context.Context, rec versioned.HistoryRecord, snaps []versioned.Snapshot) (versioned.EntityNumber, error) {
	var num versioned.EntityNumber
	err := s.WithTx(ctx, func(ctx context.Context) error {
		q := s.q(ctx)

		// Allocate the next entity number for this type.
		if _, err := q.ExecContext(ctx, `
			INSERT INTO entity_counters (entity_type, last_number) VALUES (?, 1)
			ON CONFLICT(entity_type) DO UPDATE SET last_number = last_number + 1
		`, rec.EntityType); err != nil {
			return fmt.Errorf("allocate entity number: %w", err)
		}
		var n int64
		if err := q.QueryRowContext(ctx,
			`SELECT last_number FROM entity_counters WHERE entity_type = ?`,
			rec.EntityType,
		).Scan(&n); err != nil {
			return fmt.Errorf("read entity counter: %w", err)
		}
		num = versioned.EntityNumber(n)
		rec.EntityNumber = num

		if err := insertSnapshots(ctx, q, snaps); err != nil {
			return err
		}
		if err := insertHistory(ctx, q, rec); err != nil {
			return err
		}

		if _, err := q.ExecContext(ctx, `
			INSERT INTO heads (entity_type, entity_number, current_history_id)
			VALUES (?, ?, ?)
		`, rec.EntityType, rec.EntityNumber, rec.ID); err != nil {
			return fmt.Errorf("create head: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return num, nil
}

func (s *Store) AppendHistory(ctx context.Context, rec versioned.HistoryRecord, snaps []versioned.Snapshot) error {
	return s.WithTx(ctx, func(ctx context.Context) error {
		q := s.q(ctx)

		if err := insertSnapshots(ctx, q, snaps); err != nil {
			return err
		}
		if err := insertHistory(ctx, q, rec); err != nil {
			return err
		}

		res, err := q.ExecContext(ctx, `
			UPDATE heads SET current_history_id = ?
			WHERE entity_type = ? AND entity_number = ?
		`, rec.ID, rec.EntityType, rec.EntityNumber)
		if err != nil {
			return fmt.Errorf("repoint head: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("repoint head: %w", err)
		}
		if affected == 0 {
			return &versioned.NotFoundError{EntityType: rec.EntityType, EntityNumber: rec.EntityNumber}
		}
		return nil
	})
}

func insertSnapshots(ctx context.Context, q querier, snaps []versioned.Snapshot) error {
	for _, snap := range snaps {
		if _, err := q.ExecContext(ctx, `
			INSERT INTO snapshots (id, facet, data_json, created_at)
			VALUES (?, ?, ?, ?)
		`, snap.ID, snap.Facet, string(snap.Data), formatTime(snap.CreatedAt)); err != nil {
			return fmt.Errorf("insert snapshot: %w", err)
		}
	}
	return nil
}

func insertHistory(ctx context.Context, q querier, rec versioned.HistoryRecord) error {
	facetsJSON, err := json.Marshal(rec.Facets)
	if err != nil {
		return fmt.Errorf("encode facets: %w", err)
	}
	if _, err := q.ExecContext(ctx, `
		INSERT INTO history (id, entity_type, entity_number, timestamp, operation, reason, facets_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.EntityType, rec.EntityNumber, formatTime(rec.Timestamp),
		rec.Operation, rec.Reason, string(facetsJSON)); err != nil {
		return fmt.Errorf("insert history: %w", err)
	}
	return nil
}

func (s *Store) Head(ctx context.Context, typ versioned.EntityType, num versioned.EntityNumber) (versioned.HistoryID, error) {
	var id string
	err := s.q(ctx).QueryRowContext(ctx, `
		SELECT current_history_id FROM heads
		WHERE entity_type = ? AND entity_number = ?
	`, typ, num).Scan(&id)
	if err == sql.ErrNoRows {
		return "", &versioned.NotFoundError{EntityType: typ, EntityNumber: num}
	}
	if err != nil {
		return "", fmt.Errorf("query head: %w", err)
	}
	return versioned.HistoryID(id), nil
}

func (s *Store) History(ctx context.Context, id versioned.HistoryID) (versioned.HistoryRecord, error) {
	var (
		rec        versioned.HistoryRecord
		ts         string
		reason     sql.NullString
		facetsJSON string
	)
	err := s.q(ctx).QueryRowContext(ctx, `
		SELECT id, entity_type, entity_number, timestamp, operation, reason, facets_json
		FROM history WHERE id = ?
	`, id).Scan(&rec.ID, &rec.EntityType, &rec.EntityNumber, &ts, &rec.Operation, &reason, &facetsJSON)
	if err == sql.ErrNoRows {
		return versioned.HistoryRecord{}, &versioned.NotFoundError{HistoryID: id}
	}
	if err != nil {
		return versioned.HistoryRecord{}, fmt.Errorf("query history: %w", err)
	}

	rec.Reason = reason.String
	rec.Timestamp, err = parseTime(ts)
	if err != nil {
		return versioned.HistoryRecord{}, fmt.Errorf("parse history timestamp: %w", err)
	}
	if err := json.Unmarshal([]byte(facetsJSON), &rec.Facets); err != nil {
		return versioned.HistoryRecord{}, fmt.Errorf("decode facets: %w", err)
	}
	return rec, nil
}

func (s *Store) ListHistory(ctx context.Context, typ versioned.EntityType, num versioned.EntityNumber) ([]versioned.HistoryEntry, error) {
	// rowid breaks timestamp ties: insertion order is the total order.
	rows, err := s.q(ctx).QueryContext(ctx, `
		SELECT id, operation, reason, timestamp
		FROM history
		WHERE entity_type = ? AND entity_number = ?
		ORDER BY timestamp DESC, rowid DESC
	`, typ, num)
	if err != nil {
		return nil, fmt.Errorf("query history list: %w", err)
	}
	defer rows.Close()

	var entries []versioned.HistoryEntry
	for rows.Next() {
		var (
			entry  versioned.HistoryEntry
			reason sql.NullString
			ts     string
		)
		if err := rows.Scan(&entry.ID, &entry.Operation, &reason, &ts); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		entry.Reason = reason.String
		entry.Timestamp, err = parseTime(ts)
		if err != nil {
			return nil, fmt.Errorf("parse history timestamp: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, &versioned.NotFoundError{EntityType: typ, EntityNumber: num}
	}
	return entries, nil
}

func (s *Store) Snapshots(ctx context.Context, ids []versioned.SnapshotID) (map[versioned.SnapshotID]versioned.Snapshot, error) {
	out := make(map[versioned.SnapshotID]versioned.Snapshot, len(ids))
	for _, id := range ids {
		var (
			snap versioned.Snapshot
			data string
			ts   string
		)
		err := s.q(ctx).QueryRowContext(ctx, `
			SELECT id, facet, data_json, created_at FROM snapshots WHERE id = ?
		`, id).Scan(&snap.ID, &snap.Facet, &data, &ts)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("query snapshot: %w", err)
		}
		snap.Data = json.RawMessage(data)
		snap.CreatedAt, err = parseTime(ts)
		if err != nil {
			return nil, fmt.Errorf("parse snapshot timestamp: %w", err)
		}
		out[id] = snap
	}
	return out, nil
}

func (s *Store) ListEntities(ctx context.Context, typ versioned.EntityType) ([]versioned.EntityNumber, error) {
	rows, err := s.q(ctx).QueryContext(ctx, `
		SELECT entity_number FROM heads WHERE entity_type = ? ORDER BY entity_number
	`, typ)
	if err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}
	defer rows.Close()

	var nums []versioned.EntityNumber
	for rows.Next() {
		var n int64
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		nums = append(nums, versioned.EntityNumber(n))
	}
	return nums, rows.Err()
}

// =============================================================================
// JOB QUEUE STORE
// =============================================================================

func (s *Store) Enqueue(ctx context.Context, job jobs.Job) error {
	var scheduled any
	if job.ScheduledAt != nil {
		scheduled = formatTime(*job.ScheduledAt)
	}
	_, err := s.q(ctx).ExecContext(ctx, `
		INSERT INTO jobs (id, job_type, payload_json, scheduled_at, retries, attempts, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, job.ID, job.Type, string(job.Payload), scheduled, job.Retries, job.Attempts,
		formatTime(job.CreatedAt), formatTime(job.UpdatedAt))
	if err != nil {
		return fmt.Errorf("enqueue job: %w", err)
	}
	return nil
}

func (s *Store) FetchDue(ctx context.Context, now time.Time) ([]jobs.Job, error) {
	rows, err := s.q(ctx).QueryContext(ctx, `
		SELECT id, job_type, payload_json, scheduled_at, retries, attempts, created_at, updated_at
		FROM jobs
		WHERE scheduled_at IS NULL OR scheduled_at <= ?
		ORDER BY created_at, rowid
	`, formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("fetch due jobs: %w", err)
	}
	defer rows.Close()

	var due []jobs.Job
	for rows.Next() {
		var (
			job       jobs.Job
			payload   string
			scheduled sql.NullString
			created   string
			updated   string
		)
		if err := rows.Scan(&job.ID, &job.Type, &payload, &scheduled,
			&job.Retries, &job.Attempts, &created, &updated); err != nil {
			return nil, fmt.Errorf("scan job row: %w", err)
		}
		job.Payload = json.RawMessage(payload)
		if scheduled.Valid {
			t, err := parseTime(scheduled.String)
			if err != nil {
				return nil, fmt.Errorf("parse job schedule: %w", err)
			}
			job.ScheduledAt = &t
		}
		if job.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		if job.UpdatedAt, err = parseTime(updated); err != nil {
			return nil, err
		}
		due = append(due, job)
	}
	return due, rows.Err()
}

func (s *Store) MarkSucceeded(ctx context.Context, id string) error {
	if _, err := s.q(ctx).ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id); err != nil {
		return fmt.Errorf("mark job succeeded: %w", err)
	}
	return nil
}

func (s *Store) MarkFailed(ctx context.Context, id string, attempts int, now time.Time) error {
	return s.WithTx(ctx, func(ctx context.Context) error {
		q := s.q(ctx)

		var retries int
		err := q.QueryRowContext(ctx, `SELECT retries FROM jobs WHERE id = ?`, id).Scan(&retries)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return fmt.Errorf("mark job failed: %w", err)
		}

		if attempts >= retries {
			// Retry budget exhausted: give up.
			if _, err := q.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id); err != nil {
				return fmt.Errorf("mark job failed: %w", err)
			}
			return nil
		}

		// Clearing scheduled_at makes the next drain pick the job up
		// immediately.
		if _, err := q.ExecContext(ctx, `
			UPDATE jobs SET attempts = ?, scheduled_at = NULL, updated_at = ?
			WHERE id = ?
		`, attempts+1, formatTime(now), id); err != nil {
			return fmt.Errorf("mark job failed: %w", err)
		}
		return nil
	})
}

// =============================================================================
// TIME ENCODING - fixed-width UTC strings sort lexicographically
// =============================================================================

// timeLayout keeps trailing fraction zeros so string comparison matches time
// comparison (RFC3339Nano trims them and breaks ordering).
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

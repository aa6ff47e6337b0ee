/*
Package jobs provides the durable background job queue and its in-process
scheduler/executor.

PURPOSE:
  Side effects against external systems are slow, fallible, and not
  transactional with the local database. Work is persisted as job rows and
  drained by a coalescing in-process scheduler; failed handlers are retried
  up to a per-job budget, then given up on.

KEY CONCEPTS:
  - Job: a durable unit of deferred work (type, payload, schedule, budget)
  - Store: the durable queue table
  - Registry: type-safe handler registration (Register returns the only
    sanctioned submit function for that job type)
  - Scheduler: the inFlight-coalescing drain loop

SEE ALSO:
  - registry.go, scheduler.go
  - store/sqlite: the durable Store implementation
*/
package jobs

import (
	"context"
	"encoding/json"
	"time"
)

// DefaultRetries is the extra-attempt budget a job gets when the submitter
// does not say otherwise. A job with Retries=3 is attempted at most 4 times.
const DefaultRetries = 3

// Job is one durable unit of deferred work.
type Job struct {
	ID      string
	Type    string
	Payload json.RawMessage

	// ScheduledAt nil means "due now". A failed attempt clears it so the next
	// drain picks the job up immediately.
	ScheduledAt *time.Time

	// Retries is the maximum number of EXTRA attempts after the first.
	Retries int

	// Attempts counts attempts made so far.
	Attempts int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store is the durable job queue table.
//
// MarkFailed runs OUTSIDE the failed handler's transaction: the handler's
// partial writes roll back while the retry bookkeeping persists.
type Store interface {
	// Enqueue inserts one job row. No deduplication - callers own idempotent
	// payload semantics.
	Enqueue(ctx context.Context, job Job) error

	// FetchDue returns jobs whose ScheduledAt is nil or <= now.
	FetchDue(ctx context.Context, now time.Time) ([]Job, error)

	// MarkSucceeded deletes the job row.
	MarkSucceeded(ctx context.Context, id string) error

	// MarkFailed records a failed attempt. attempts is the count BEFORE this
	// attempt; if attempts >= the job's retry budget the row is deleted
	// (given up), otherwise attempts is incremented, ScheduledAt cleared,
	// and UpdatedAt set to now.
	MarkFailed(ctx context.Context, id string, attempts int, now time.Time) error
}

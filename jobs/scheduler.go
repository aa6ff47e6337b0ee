/*
scheduler.go - Coalescing in-process drain loop

PURPOSE:
  Drains the job queue on whichever goroutine triggers it - there are no
  dedicated workers. Overlapping triggers coalesce: at most one drain pass
  runs at a time per process, and triggers that arrive during a pass are
  merged into exactly one extra pass instead of being dropped or run
  concurrently.

STATE MACHINE (per Trigger call):
  1. inFlight++. If the result is > 1, a drain is already running; return -
     the in-progress drain will absorb this trigger's intent.
  2. Otherwise fetch all due jobs and run them sequentially, each inside its
     own database transaction. Failures are caught per job, never aborting
     the batch.
  3. When the batch finishes, inFlight--. If still > 0, triggers arrived
     mid-drain: reset inFlight to 0 and run one more pass.
  4. At 0, stop.

  No trigger is ever lost, the queue fully drains under a trigger storm, and
  each extra pass is a fresh bounded fetch (no unbounded recursion).

PERIODIC OPERATION:
  Start runs a background ticker that calls Trigger at PollInterval, so
  future-scheduled jobs become due without an explicit trigger.

SEE ALSO:
  - job.go: Store contract (MarkFailed bookkeeping rules)
  - registry.go: handler lookup
*/
package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// TxRunner runs fn inside one database transaction. The transaction is
// carried on the context fn receives; store methods called with that context
// join it. A non-nil error from fn rolls the transaction back.
type TxRunner func(ctx context.Context, fn func(ctx context.Context) error) error

// Scheduler drains the job queue.
type Scheduler struct {
	Store    Store
	Registry *Registry
	Log      *zap.Logger

	// PollInterval is how often the background ticker triggers a drain.
	PollInterval time.Duration

	// Clock is overridable for tests.
	Clock func() time.Time

	// RunInTx wraps each job's handler in a dedicated transaction. When nil,
	// handlers run without one (memory stores, tests).
	RunInTx TxRunner

	mu       sync.Mutex
	inFlight int

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
}

func NewScheduler(store Store, registry *Registry, log *zap.Logger) *Scheduler {
	return &Scheduler{
		Store:        store,
		Registry:     registry,
		Log:          log,
		PollInterval: time.Minute,
		Clock:        time.Now,
		stop:         make(chan struct{}),
	}
}

// Trigger requests a drain. It returns once the queue has no due jobs left,
// or immediately if another drain is already in progress (which then covers
// this trigger's work).
func (s *Scheduler) Trigger(ctx context.Context) {
	s.mu.Lock()
	s.inFlight++
	busy := s.inFlight > 1
	s.mu.Unlock()
	if busy {
		return
	}

	for {
		s.drain(ctx)

		s.mu.Lock()
		s.inFlight--
		again := s.inFlight > 0
		if again {
			// Coalesce every trigger that arrived mid-drain into one pass.
			s.inFlight = 0
		}
		s.mu.Unlock()

		if !again {
			return
		}
	}
}

// drain is one fetch-and-run pass over the due jobs.
func (s *Scheduler) drain(ctx context.Context) {
	now := s.Clock().UTC()
	due, err := s.Store.FetchDue(ctx, now)
	if err != nil {
		s.Log.Error("fetch due jobs", zap.Error(err))
		return
	}

	for _, job := range due {
		s.runJob(ctx, job)
	}
}

func (s *Scheduler) runJob(ctx context.Context, job Job) {
	err := s.execute(ctx, job)
	if err == nil {
		if err := s.Store.MarkSucceeded(ctx, job.ID); err != nil {
			s.Log.Error("mark job succeeded",
				zap.String("job_id", job.ID),
				zap.String("job_type", job.Type),
				zap.Error(err))
			return
		}
		s.Log.Info("job succeeded",
			zap.String("job_id", job.ID),
			zap.String("job_type", job.Type),
			zap.Int("attempt", job.Attempts))
		return
	}

	gaveUp := job.Attempts >= job.Retries
	s.Log.Warn("job failed",
		zap.String("job_id", job.ID),
		zap.String("job_type", job.Type),
		zap.Int("attempt", job.Attempts),
		zap.Int("retries", job.Retries),
		zap.Bool("gave_up", gaveUp),
		zap.Error(err))

	// Bookkeeping runs outside the handler's (rolled back) transaction.
	if err := s.Store.MarkFailed(ctx, job.ID, job.Attempts, s.Clock().UTC()); err != nil {
		s.Log.Error("mark job failed",
			zap.String("job_id", job.ID),
			zap.Error(err))
	}
}

// execute runs the handler inside its dedicated transaction, converting
// panics into errors so one job can never abort the batch.
func (s *Scheduler) execute(ctx context.Context, job Job) error {
	handler, ok := s.Registry.handler(job.Type)
	if !ok {
		return &HandlerError{JobType: job.Type, JobID: job.ID, Err: ErrUnknownJobType}
	}

	run := func(ctx context.Context) (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return handler(ctx, job.Payload)
	}

	var err error
	if s.RunInTx != nil {
		err = s.RunInTx(ctx, run)
	} else {
		err = run(ctx)
	}
	if err != nil {
		return &HandlerError{JobType: job.Type, JobID: job.ID, Err: err}
	}
	return nil
}

// =============================================================================
// PERIODIC TICKER - adapted Start/Stop lifecycle
// =============================================================================

// Start begins the background polling ticker.
func (s *Scheduler) Start() {
	s.ticker = time.NewTicker(s.PollInterval)
	s.wg.Add(1)

	go s.run()

	s.Log.Info("job scheduler started", zap.Duration("poll_interval", s.PollInterval))
}

// Stop stops the ticker and waits for an in-progress pass to finish.
func (s *Scheduler) Stop() {
	if s.ticker == nil {
		return
	}
	s.ticker.Stop()
	close(s.stop)
	s.wg.Wait()
	s.Log.Info("job scheduler stopped")
}

func (s *Scheduler) run() {
	defer s.wg.Done()

	// Drain whatever was left over from a previous process run.
	s.Trigger(context.Background())

	for {
		select {
		case <-s.ticker.C:
			s.Trigger(context.Background())
		case <-s.stop:
			return
		}
	}
}

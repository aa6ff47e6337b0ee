/*
registry.go - Type-safe job handler registry

PURPOSE:
  Couples the payload type of a job to its handler at registration time.
  Register is generic over the payload; it returns the ONLY sanctioned way
  to enqueue work of that type, so a submitter can never enqueue a payload
  the handler cannot decode.

USAGE:
  submitConnect, err := jobs.Register(registry, store,
      "sale.connect",
      func(ctx context.Context, p SaleJob) error { ... })
  ...
  submitConnect(ctx, SaleJob{SaleNumber: 7})
*/
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Handler is the registry-internal, untyped handler form. The typed payload
// decoding happens in the wrapper Register builds.
type Handler func(ctx context.Context, payload json.RawMessage) error

// Registry maps job types to handlers.
type Registry struct {
	mu       sync.Mutex
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

func (r *Registry) add(jobType string, h Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[jobType]; exists {
		return fmt.Errorf("register %q: %w", jobType, ErrDuplicateHandler)
	}
	r.handlers[jobType] = h
	return nil
}

func (r *Registry) handler(jobType string) (Handler, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.handlers[jobType]
	return h, ok
}

// =============================================================================
// SUBMIT OPTIONS
// =============================================================================

type SubmitOptions struct {
	ScheduledAt *time.Time
	Retries     int
}

type SubmitOption func(*SubmitOptions)

// At schedules the job to become due at t instead of immediately.
func At(t time.Time) SubmitOption {
	return func(o *SubmitOptions) { o.ScheduledAt = &t }
}

// WithRetries overrides the job's extra-attempt budget.
func WithRetries(n int) SubmitOption {
	return func(o *SubmitOptions) { o.Retries = n }
}

// SubmitFunc enqueues one job of the type it was built for.
type SubmitFunc[T any] func(ctx context.Context, payload T, opts ...SubmitOption) error

// Register binds a typed handler to a job type and returns its submit
// function. Fails with ErrDuplicateHandler if the type is already taken.
func Register[T any](r *Registry, store Store, jobType string, handle func(ctx context.Context, payload T) error) (SubmitFunc[T], error) {
	wrapped := func(ctx context.Context, payload json.RawMessage) error {
		var p T
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("decode %q payload: %w", jobType, err)
		}
		return handle(ctx, p)
	}
	if err := r.add(jobType, wrapped); err != nil {
		return nil, err
	}

	submit := func(ctx context.Context, payload T, opts ...SubmitOption) error {
		options := SubmitOptions{Retries: DefaultRetries}
		for _, opt := range opts {
			opt(&options)
		}

		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode %q payload: %w", jobType, err)
		}

		now := time.Now().UTC()
		return store.Enqueue(ctx, Job{
			ID:          uuid.NewString(),
			Type:        jobType,
			Payload:     data,
			ScheduledAt: options.ScheduledAt,
			Retries:     options.Retries,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
	}
	return submit, nil
}

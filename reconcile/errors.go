/*
errors.go - Centralized error types for the reconciliation engine

PROPAGATION POLICY:
  Per-item provider failures are caught, logged, and aggregated - never
  thrown immediately. The aggregate ReconciliationError propagates to
  whatever invoked the run: a UI action surfaces it inline, a job handler
  failure becomes the scheduler's retry-or-give-up decision.
*/
package reconcile

import (
	"errors"
	"fmt"
)

var (
	// ErrProviderCallFailed marks a single external item that failed after
	// exhausting its own retry budget. Recorded per item, not fatal to
	// sibling items.
	ErrProviderCallFailed = errors.New("provider call failed")

	// ErrReconciliationFailed marks a run in which at least one item
	// terminally failed, even though other items already succeeded against
	// their external systems.
	ErrReconciliationFailed = errors.New("reconciliation failed")
)

// ProviderCallError is one terminally failed item within a run.
type ProviderCallError struct {
	Provider string // "courses", "lists", "groups"
	Item     string // e.g. `enroll course "go-101"`
	Err      error
}

func (e *ProviderCallError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Item, e.Err)
}

func (e *ProviderCallError) Unwrap() error {
	return ErrProviderCallFailed
}

// ReconciliationError aggregates every failed item of one run.
type ReconciliationError struct {
	Op    string
	Items []*ProviderCallError
}

func (e *ReconciliationError) Error() string {
	return fmt.Sprintf("reconcile %s: %d item(s) failed, first: %v",
		e.Op, len(e.Items), e.Items[0])
}

func (e *ReconciliationError) Unwrap() error {
	return ErrReconciliationFailed
}

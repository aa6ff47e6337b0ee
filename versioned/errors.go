/*
errors.go - Centralized error types for the versioned engine

PURPOSE:
  All error types in one place. Domain packages wrap these with context.

USAGE:
  if errors.Is(err, versioned.ErrNotFound) { ... }
*/
package versioned

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when an entity number or history id does not
	// exist. During an append this is always fatal to the operation - it
	// indicates a caller logic error or a stale reference, never something
	// a retry can fix.
	ErrNotFound = errors.New("entity not found")

	// ErrNoFacets is returned when a create carries no snapshot patches.
	// The first History row of an entity must establish at least one facet.
	ErrNoFacets = errors.New("create requires at least one facet snapshot")
)

// NotFoundError carries the identity that failed to resolve.
type NotFoundError struct {
	EntityType   EntityType
	EntityNumber EntityNumber
	HistoryID    HistoryID
}

func (e *NotFoundError) Error() string {
	if e.HistoryID != "" {
		return fmt.Sprintf("history %s not found", e.HistoryID)
	}
	return fmt.Sprintf("%s %d not found", e.EntityType, e.EntityNumber)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

/*
errors.go - Centralized error types for the jobs package
*/
package jobs

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateHandler is returned when a job type is registered twice.
	// Registration happens at startup; this is fail-fast, not a runtime race.
	ErrDuplicateHandler = errors.New("duplicate job handler")

	// ErrUnknownJobType is returned when a drained job has no registered
	// handler. Treated as a handler failure so the retry budget applies.
	ErrUnknownJobType = errors.New("unknown job type")
)

// HandlerError wraps a failure from a job handler, including panics the
// executor converted to errors.
type HandlerError struct {
	JobType string
	JobID   string
	Err     error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("job %s (%s) failed: %v", e.JobID, e.JobType, e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}

package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("job not found")

	// ErrQueueFull is returned by admission when a bounded queue depth is
	// configured and reached. Callers may retry after backoff.
	ErrQueueFull = errors.New("job queue is full")

	// ErrModelSwitching is returned for uploads while a model switch is in
	// progress.
	ErrModelSwitching = errors.New("model is switching, retry shortly")

	// ErrSwitchInProgress is returned when a second model switch is
	// requested before the first finished.
	ErrSwitchInProgress = errors.New("model switch already in progress")

	// ErrMalformedTranscript indicates engine output that violates the
	// segment invariants (end before start, out-of-order cues). It is an
	// internal defect, logged distinctly from ordinary engine failures.
	ErrMalformedTranscript = errors.New("malformed transcript")
)

// ValidationError rejects an upload synchronously. The reason is safe to
// return to the client.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid upload: " + e.Reason
}

func NewValidationError(format string, args ...any) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// EngineError is a transcription failure reported by the engine adapter.
// It is captured into the job record and never retried automatically.
type EngineError struct {
	Stage string
	Err   error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("engine %s: %v", e.Stage, e.Err)
}

func (e *EngineError) Unwrap() error { return e.Err }

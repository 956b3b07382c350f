package chronicle

import (
	"errors"
	"fmt"
	"strings"

	"github.com/emberforge/chronicle/adapters"
)

// Sentinel errors for common error conditions.
// Use errors.Is() to check for these errors.
// Storage errors are aliases to the adapters package errors for compatibility.
var (
	// ErrVersionConflict indicates a concurrent append took the version first.
	// The losing writer must reload and retry.
	ErrVersionConflict = adapters.ErrConcurrencyConflict

	// ErrNotFound indicates the requested aggregate has no events.
	ErrNotFound = adapters.ErrStreamNotFound

	// ErrEmptyStreamID indicates an empty stream ID was provided.
	ErrEmptyStreamID = adapters.ErrEmptyStreamID

	// ErrNoEvents indicates no events were provided for append.
	ErrNoEvents = adapters.ErrNoEvents

	// ErrInvalidVersion indicates an invalid version number was provided.
	ErrInvalidVersion = adapters.ErrInvalidVersion

	// ErrAdapterClosed indicates the adapter has been closed.
	ErrAdapterClosed = adapters.ErrAdapterClosed

	// ErrNoEventsFound indicates a snapshot was requested for an aggregate without history.
	ErrNoEventsFound = errors.New("chronicle: no events found")

	// ErrSerializationFailed indicates event or snapshot encoding failed.
	ErrSerializationFailed = errors.New("chronicle: serialization failed")

	// ErrIntegrityMismatch indicates archived data rebuilds a different state than the live path.
	ErrIntegrityMismatch = errors.New("chronicle: integrity mismatch")

	// ErrUnknownEventType indicates an event type without a registered transition.
	ErrUnknownEventType = errors.New("chronicle: unknown event type")

	// ErrVersionGap indicates a non-contiguous event sequence.
	ErrVersionGap = errors.New("chronicle: version gap")

	// ErrQueueFull indicates the background work queue rejected a task.
	ErrQueueFull = errors.New("chronicle: work queue full")

	// ErrQueueClosed indicates the work queue no longer accepts tasks.
	ErrQueueClosed = errors.New("chronicle: work queue closed")

	// ErrMonitorRunning indicates the performance monitor was started twice.
	ErrMonitorRunning = errors.New("chronicle: performance monitor already running")

	// ErrMonitorStopped indicates the performance monitor stopped while a request was pending.
	ErrMonitorStopped = errors.New("chronicle: performance monitor stopped")

	// ErrArchiveUnsupported indicates the event adapter cannot remove archived events.
	ErrArchiveUnsupported = errors.New("chronicle: event adapter does not support archiving")

	// ErrRetriesExhausted indicates AppendWithRetry lost every attempt.
	ErrRetriesExhausted = errors.New("chronicle: append retries exhausted")
)

// ConcurrencyError provides detailed information about a version conflict.
type ConcurrencyError = adapters.ConcurrencyError

// StreamNotFoundError provides detailed information about a missing stream.
type StreamNotFoundError = adapters.StreamNotFoundError

// NewStreamNotFoundError creates a new StreamNotFoundError.
var NewStreamNotFoundError = adapters.NewStreamNotFoundError

// NewConcurrencyError creates a new ConcurrencyError.
var NewConcurrencyError = adapters.NewConcurrencyError

// SerializationError provides detailed information about a serialization failure.
type SerializationError struct {
	// Subject is the event type or snapshot schema being encoded.
	Subject   string
	Operation string // "serialize" or "deserialize"
	Cause     error
}

// Error returns the error message.
func (e *SerializationError) Error() string {
	return fmt.Sprintf("chronicle: failed to %s %q: %v", e.Operation, e.Subject, e.Cause)
}

// Is reports whether this error matches the target error.
func (e *SerializationError) Is(target error) bool {
	return target == ErrSerializationFailed
}

// Unwrap returns the underlying cause for errors.Unwrap().
func (e *SerializationError) Unwrap() error {
	return e.Cause
}

// NewSerializationError creates a new SerializationError.
func NewSerializationError(subject, operation string, cause error) *SerializationError {
	return &SerializationError{
		Subject:   subject,
		Operation: operation,
		Cause:     cause,
	}
}

// UnknownEventTypeError reports an event that no transition handles.
type UnknownEventTypeError struct {
	EventType string
	Version   int64
}

// Error returns the error message.
func (e *UnknownEventTypeError) Error() string {
	return fmt.Sprintf("chronicle: no transition for event type %q at version %d", e.EventType, e.Version)
}

// Is reports whether this error matches the target error.
func (e *UnknownEventTypeError) Is(target error) bool {
	return target == ErrUnknownEventType
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *UnknownEventTypeError) Unwrap() error {
	return ErrUnknownEventType
}

// NewUnknownEventTypeError creates a new UnknownEventTypeError.
func NewUnknownEventTypeError(eventType string, version int64) *UnknownEventTypeError {
	return &UnknownEventTypeError{EventType: eventType, Version: version}
}

// VersionGapError reports a missing or out-of-order event version.
type VersionGapError struct {
	StreamID string
	Expected int64
	Actual   int64
}

// Error returns the error message.
func (e *VersionGapError) Error() string {
	return fmt.Sprintf("chronicle: version gap in stream %q: expected version %d, got %d",
		e.StreamID, e.Expected, e.Actual)
}

// Is reports whether this error matches the target error.
func (e *VersionGapError) Is(target error) bool {
	return target == ErrVersionGap
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *VersionGapError) Unwrap() error {
	return ErrVersionGap
}

// NewVersionGapError creates a new VersionGapError.
func NewVersionGapError(streamID string, expected, actual int64) *VersionGapError {
	return &VersionGapError{StreamID: streamID, Expected: expected, Actual: actual}
}

// FieldMismatch describes one observable field that differs between two reconstructions.
type FieldMismatch struct {
	Field    string
	Live     interface{}
	Archived interface{}
}

// String formats the mismatch for logs.
func (m FieldMismatch) String() string {
	return fmt.Sprintf("%s: live=%v archived=%v", m.Field, m.Live, m.Archived)
}

// IntegrityMismatchError reports that archived data rebuilds a different state.
// It is never corrected automatically.
type IntegrityMismatchError struct {
	StreamID   string
	Mismatches []FieldMismatch
}

// Error returns the error message.
func (e *IntegrityMismatchError) Error() string {
	parts := make([]string, len(e.Mismatches))
	for i, m := range e.Mismatches {
		parts[i] = m.String()
	}
	return fmt.Sprintf("chronicle: integrity mismatch for stream %q: %s", e.StreamID, strings.Join(parts, "; "))
}

// Is reports whether this error matches the target error.
func (e *IntegrityMismatchError) Is(target error) bool {
	return target == ErrIntegrityMismatch
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *IntegrityMismatchError) Unwrap() error {
	return ErrIntegrityMismatch
}

// NewIntegrityMismatchError creates a new IntegrityMismatchError.
func NewIntegrityMismatchError(streamID string, mismatches []FieldMismatch) *IntegrityMismatchError {
	return &IntegrityMismatchError{StreamID: streamID, Mismatches: mismatches}
}

// AggregateError records a failure for one aggregate inside a batch run.
type AggregateError struct {
	StreamID string
	Cause    error
}

// Error returns the error message.
func (e *AggregateError) Error() string {
	return fmt.Sprintf("chronicle: aggregate %q: %v", e.StreamID, e.Cause)
}

// Unwrap returns the underlying cause for errors.Unwrap().
func (e *AggregateError) Unwrap() error {
	return e.Cause
}

// NewAggregateError creates a new AggregateError.
func NewAggregateError(streamID string, cause error) *AggregateError {
	return &AggregateError{StreamID: streamID, Cause: cause}
}

// joinAggregateErrors folds batch failures into a single error, or nil.
func joinAggregateErrors(failures []*AggregateError) error {
	if len(failures) == 0 {
		return nil
	}
	errs := make([]error, len(failures))
	for i, f := range failures {
		errs[i] = f
	}
	return errors.Join(errs...)
}

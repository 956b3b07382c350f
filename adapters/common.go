// Package adapters provides interfaces and shared utilities for storage backends.
package adapters

import (
	"fmt"
	"sort"
	"strings"
)

// Version constants for optimistic concurrency control.
const (
	// AnyVersion skips version checking.
	AnyVersion int64 = -1

	// NoStream requires the stream to not exist.
	NoStream int64 = 0

	// StreamExists requires the stream to exist.
	StreamExists int64 = -2
)

// ExtractCategory extracts the category from a stream ID.
// Stream IDs are expected to follow the format "Category-ID" (e.g., "Character-42").
//
// Behavior:
//   - "Character-42" returns "Character"
//   - "Character-abc-def" returns "Character" (only splits on first hyphen)
//   - "NoHyphen" returns "NoHyphen"
//   - "" returns ""
func ExtractCategory(streamID string) string {
	if streamID == "" {
		return ""
	}
	parts := strings.SplitN(streamID, "-", 2)
	return parts[0]
}

// ConcurrencyError provides details about a version conflict.
// It is returned when an append loses the race for a stream version.
type ConcurrencyError struct {
	StreamID        string
	ExpectedVersion int64
	ActualVersion   int64
}

// NewConcurrencyError creates a new ConcurrencyError.
func NewConcurrencyError(streamID string, expected, actual int64) *ConcurrencyError {
	return &ConcurrencyError{
		StreamID:        streamID,
		ExpectedVersion: expected,
		ActualVersion:   actual,
	}
}

// Error implements the error interface.
func (e *ConcurrencyError) Error() string {
	return fmt.Sprintf("chronicle: version conflict on stream %q: expected version %d, got %d",
		e.StreamID, e.ExpectedVersion, e.ActualVersion)
}

// Is implements errors.Is compatibility.
func (e *ConcurrencyError) Is(target error) bool {
	return target == ErrConcurrencyConflict
}

// StreamNotFoundError provides details about a missing stream.
type StreamNotFoundError struct {
	StreamID string
}

// NewStreamNotFoundError creates a new StreamNotFoundError.
func NewStreamNotFoundError(streamID string) *StreamNotFoundError {
	return &StreamNotFoundError{StreamID: streamID}
}

// Error implements the error interface.
func (e *StreamNotFoundError) Error() string {
	return fmt.Sprintf("chronicle: stream %q not found", e.StreamID)
}

// Is implements errors.Is compatibility.
func (e *StreamNotFoundError) Is(target error) bool {
	return target == ErrStreamNotFound
}

// CheckVersion validates the expected version against the current version.
// This implements the optimistic concurrency control logic shared by all adapters.
func CheckVersion(streamID string, expected, current int64, exists bool) error {
	switch expected {
	case AnyVersion:
		return nil
	case NoStream:
		if exists {
			return NewConcurrencyError(streamID, expected, current)
		}
		return nil
	case StreamExists:
		if !exists {
			return NewStreamNotFoundError(streamID)
		}
		return nil
	default:
		if expected < 0 {
			return ErrInvalidVersion
		}
		if current != expected {
			return NewConcurrencyError(streamID, expected, current)
		}
		return nil
	}
}

// DefaultLimit returns a default limit value if the provided limit is invalid.
func DefaultLimit(limit, defaultValue int) int {
	if limit <= 0 {
		return defaultValue
	}
	return limit
}

// MatchesCandidate reports whether a stream with the given positions satisfies
// the criteria. Adapters without a query engine use it to filter in process.
func MatchesCandidate(c SnapshotCandidate, criteria SnapshotCandidateCriteria) bool {
	if c.Version <= 0 {
		return false
	}
	if !c.HasSnapshot() {
		return criteria.MinEvents > 0 && c.Version >= criteria.MinEvents
	}
	if criteria.EventThreshold > 0 && c.Version-c.SnapshotVersion >= criteria.EventThreshold {
		return true
	}
	if !criteria.SnapshotOlderThan.IsZero() && c.SnapshotCreatedAt.Before(criteria.SnapshotOlderThan) {
		return c.Version > c.SnapshotVersion
	}
	return false
}

// SortSnapshotsNewestFirst orders snapshots by creation time, then event version, descending.
func SortSnapshotsNewestFirst(records []SnapshotRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].EventVersion > records[j].EventVersion
		}
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
}

// CopySnapshotRecord returns a deep copy of a snapshot record.
func CopySnapshotRecord(r *SnapshotRecord) *SnapshotRecord {
	if r == nil {
		return nil
	}
	cp := *r
	if r.Data != nil {
		cp.Data = append([]byte(nil), r.Data...)
	}
	return &cp
}

// Package adapters provides interfaces for event, snapshot and archive storage backends.
package adapters

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for adapter implementations.
// Adapters should return these (or errors that match via errors.Is)
// to enable consistent error handling across different backends.
var (
	// ErrConcurrencyConflict is returned when an event version is already taken.
	ErrConcurrencyConflict = errors.New("chronicle: version conflict")

	// ErrStreamNotFound is returned when a stream does not exist.
	ErrStreamNotFound = errors.New("chronicle: stream not found")

	// ErrEmptyStreamID is returned when an empty stream ID is provided.
	ErrEmptyStreamID = errors.New("chronicle: stream ID is required")

	// ErrNoEvents is returned when attempting to append zero events.
	ErrNoEvents = errors.New("chronicle: no events to append")

	// ErrInvalidVersion is returned when an invalid version is specified.
	ErrInvalidVersion = errors.New("chronicle: invalid version")

	// ErrAdapterClosed is returned when operations are attempted on a closed adapter.
	ErrAdapterClosed = errors.New("chronicle: adapter is closed")

	// ErrNilSnapshot is returned when a nil snapshot record is saved.
	ErrNilSnapshot = errors.New("chronicle: nil snapshot")
)

// Metadata contains event context for tracing and auditing.
type Metadata struct {
	// CorrelationID links related events across services.
	CorrelationID string `json:"correlationId,omitempty" msgpack:"correlationId,omitempty"`

	// CausationID identifies the command or event that caused this event.
	CausationID string `json:"causationId,omitempty" msgpack:"causationId,omitempty"`

	// UserID identifies who triggered this event.
	UserID string `json:"userId,omitempty" msgpack:"userId,omitempty"`

	// Custom holds any additional metadata.
	Custom map[string]string `json:"custom,omitempty" msgpack:"custom,omitempty"`
}

// StoredEvent represents a persisted event with its storage metadata.
type StoredEvent struct {
	// ID is the unique event identifier.
	ID string `json:"id" msgpack:"id"`

	// StreamID is the aggregate stream this event belongs to.
	StreamID string `json:"streamId" msgpack:"streamId"`

	// Type is the event type tag.
	Type string `json:"type" msgpack:"type"`

	// Data is the serialized event payload.
	Data []byte `json:"data" msgpack:"data"`

	// Metadata contains contextual information.
	Metadata Metadata `json:"metadata" msgpack:"metadata"`

	// Version is the position within the stream (1-based, contiguous).
	Version int64 `json:"version" msgpack:"version"`

	// GlobalPosition is the global ordering position across all streams.
	GlobalPosition uint64 `json:"globalPosition" msgpack:"globalPosition"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp" msgpack:"timestamp"`
}

// EventRecord represents an event to be appended to a stream.
type EventRecord struct {
	// Type is the event type tag.
	Type string

	// Data is the serialized event payload.
	Data []byte

	// Metadata contains optional contextual information.
	Metadata Metadata
}

// StreamInfo contains metadata about an event stream.
type StreamInfo struct {
	// StreamID is the stream identifier.
	StreamID string

	// Category is the aggregate type (first part of stream ID).
	Category string

	// Version is the current stream version. It is also the total number of
	// events ever appended, including events that were archived since.
	Version int64

	// EventCount is the number of events still held in the hot store.
	EventCount int64

	// CreatedAt is when the first event was stored.
	CreatedAt time.Time

	// UpdatedAt is when the last event was stored.
	UpdatedAt time.Time
}

// StreamSummary describes a stream for batch maintenance scans.
type StreamSummary struct {
	// StreamID is the stream identifier.
	StreamID string

	// Version is the current stream version.
	Version int64

	// EventCount is the number of events in the hot store.
	EventCount int64

	// OldestEventAt is the timestamp of the oldest hot event.
	OldestEventAt time.Time

	// LastUpdated is when the last event was stored.
	LastUpdated time.Time
}

// ListStreamsOptions filters ListStreams results.
type ListStreamsOptions struct {
	// Prefix filters streams by ID prefix (empty for all).
	Prefix string

	// OlderThan keeps only streams whose oldest hot event is before this time.
	// Zero disables the filter.
	OlderThan time.Time

	// After resumes a listing: only streams with an ID greater than After
	// are returned. Empty starts from the beginning.
	After string

	// Limit caps the number of results (0 for unlimited).
	Limit int
}

// EventStoreAdapter is the interface that event storage backends must implement.
type EventStoreAdapter interface {
	// Append stores events with optimistic concurrency control.
	// expectedVersion specifies the expected current version of the stream:
	//   - AnyVersion (-1): Skip version check
	//   - NoStream (0): Stream must not exist
	//   - StreamExists (-2): Stream must exist
	//   - Any positive number: Stream must be at this exact version
	// A version that is already occupied yields ErrConcurrencyConflict.
	Append(ctx context.Context, streamID string, events []EventRecord, expectedVersion int64) ([]StoredEvent, error)

	// Load returns the hot events of a stream with version > fromVersion,
	// ordered by version. Use fromVersion=0 to load all hot events.
	Load(ctx context.Context, streamID string, fromVersion int64) ([]StoredEvent, error)

	// GetStreamInfo returns metadata about a stream.
	// Returns ErrStreamNotFound if the stream does not exist.
	GetStreamInfo(ctx context.Context, streamID string) (*StreamInfo, error)

	// ListStreams returns stream summaries ordered by stream ID.
	ListStreams(ctx context.Context, opts ListStreamsOptions) ([]StreamSummary, error)

	// Initialize sets up the required storage schema.
	Initialize(ctx context.Context) error

	// Close releases any resources held by the adapter.
	Close() error
}

// ArchivableEventAdapter removes archived events from the hot store.
// It is the only path through which events ever leave the hot store.
type ArchivableEventAdapter interface {
	// DeleteEventsThrough removes hot events with version <= throughVersion.
	// The stream version is left untouched. Returns the number of events removed.
	DeleteEventsThrough(ctx context.Context, streamID string, throughVersion int64) (int64, error)
}

// SnapshotRecord represents a stored aggregate snapshot.
type SnapshotRecord struct {
	// ID is the unique snapshot identifier.
	ID string

	// StreamID is the aggregate stream identifier.
	StreamID string

	// EventVersion is the last event version folded into Data.
	EventVersion int64

	// TotalEventCount is the number of events in the stream at creation time.
	TotalEventCount int64

	// CreatedAt is when the snapshot was created.
	CreatedAt time.Time

	// Data is the encoded aggregate state.
	Data []byte

	// IsLatest marks the one snapshot reconstruction reads for the stream.
	IsLatest bool

	// StateSizeBytes is len(Data) at creation.
	StateSizeBytes int64

	// CreationDuration is how long reconstruction and encoding took.
	CreationDuration time.Duration
}

// SnapshotCandidateCriteria selects streams that may need a snapshot.
// A stream matches when any condition holds.
type SnapshotCandidateCriteria struct {
	// MinEvents matches streams without any snapshot and at least this many events.
	MinEvents int64

	// EventThreshold matches streams with at least this many events since the latest snapshot.
	EventThreshold int64

	// SnapshotOlderThan matches streams whose latest snapshot was created before this time.
	// Zero disables the condition.
	SnapshotOlderThan time.Time

	// After returns only streams with an ID greater than After.
	After string

	// Limit caps the number of results (0 for unlimited).
	Limit int
}

// SnapshotCandidate describes a stream together with its latest snapshot position.
type SnapshotCandidate struct {
	StreamID string

	// Version is the current stream version.
	Version int64

	// SnapshotVersion is the latest snapshot's event version (0 if none).
	SnapshotVersion int64

	// SnapshotCreatedAt is the latest snapshot's creation time (zero if none).
	SnapshotCreatedAt time.Time
}

// HasSnapshot reports whether the candidate has a latest snapshot.
func (c SnapshotCandidate) HasSnapshot() bool {
	return !c.SnapshotCreatedAt.IsZero()
}

// SnapshotStreamSummary aggregates snapshot storage per stream.
type SnapshotStreamSummary struct {
	StreamID string

	// Count is the number of stored snapshots.
	Count int

	// TotalBytes is the sum of StateSizeBytes.
	TotalBytes int64
}

// SnapshotAdapter persists point-in-time aggregate state.
type SnapshotAdapter interface {
	// SaveSnapshot inserts the record as the latest snapshot for its stream and
	// demotes the previous latest in the same atomic step. After it returns,
	// exactly one snapshot of the stream has IsLatest set.
	SaveSnapshot(ctx context.Context, record *SnapshotRecord) error

	// LoadLatestSnapshot retrieves the latest snapshot for the given stream.
	// Returns nil, nil if no snapshot exists.
	LoadLatestSnapshot(ctx context.Context, streamID string) (*SnapshotRecord, error)

	// ListSnapshots returns all snapshots of a stream, newest first.
	ListSnapshots(ctx context.Context, streamID string) ([]SnapshotRecord, error)

	// DeleteSnapshots removes the given snapshots. The latest snapshot is never
	// removed even if listed. Returns the number of snapshots removed.
	DeleteSnapshots(ctx context.Context, streamID string, ids []string) (int64, error)

	// ListSnapshotCandidates returns streams matching the criteria.
	ListSnapshotCandidates(ctx context.Context, criteria SnapshotCandidateCriteria) ([]SnapshotCandidate, error)

	// ListSnapshotStreams returns per-stream snapshot totals for streams with at
	// least minCount snapshots.
	ListSnapshotStreams(ctx context.Context, minCount int) ([]SnapshotStreamSummary, error)
}

// ArchivedEvent is an event relocated from the hot store into archive storage.
type ArchivedEvent struct {
	StoredEvent

	// ArchivedAt is when the event was moved.
	ArchivedAt time.Time
}

// CompressedEventBatch groups consecutive same-type events into one compressed
// payload. It is kept for audit and debugging only.
type CompressedEventBatch struct {
	ID                string
	StreamID          string
	EventType         string
	EventIDs          []string
	FromVersion       int64
	ToVersion         int64
	EventCount        int
	EarliestTimestamp time.Time
	LatestTimestamp   time.Time

	// Payload is the compressed encoding of the original events.
	Payload []byte

	OriginalSize   int64
	CompressedSize int64
	CreatedAt      time.Time
}

// EventRollup summarizes the events of one fixed time bucket for reporting.
// Rollups are lossy and never used to rebuild state.
type EventRollup struct {
	ID          string
	StreamID    string
	BucketStart time.Time
	BucketEnd   time.Time
	EventCount  int
	EventTypes  []string
	Summary     string
	SpaceSaved  int64
	CreatedAt   time.Time
}

// ArchiveStats contains totals over archive storage.
type ArchiveStats struct {
	ArchivedEvents    int64
	ArchivedStreams   int64
	CompressedBatches int64
	CompressedEvents  int64
	OriginalBytes     int64
	CompressedBytes   int64
	Rollups           int64
}

// ArchiveAdapter stores archived events and compaction artifacts.
type ArchiveAdapter interface {
	// ArchiveEvents stores events moved out of the hot store.
	// Storing an event ID that is already archived is a no-op.
	ArchiveEvents(ctx context.Context, events []ArchivedEvent) error

	// LoadArchivedEvents returns the archived events of a stream ordered by version.
	LoadArchivedEvents(ctx context.Context, streamID string) ([]ArchivedEvent, error)

	// SaveCompressedBatches stores compressed event batches.
	// A batch covering the same stream and version range replaces the old one.
	SaveCompressedBatches(ctx context.Context, batches []CompressedEventBatch) error

	// LoadCompressedBatches returns the batches of a stream ordered by FromVersion.
	LoadCompressedBatches(ctx context.Context, streamID string) ([]CompressedEventBatch, error)

	// SaveRollups stores rollups, replacing rollups for the same stream and bucket.
	SaveRollups(ctx context.Context, rollups []EventRollup) error

	// ListRollups returns the rollups of a stream ordered by BucketStart.
	ListRollups(ctx context.Context, streamID string) ([]EventRollup, error)

	// ArchiveStats returns totals over archive storage.
	ArchiveStats(ctx context.Context) (*ArchiveStats, error)
}

// HealthChecker provides health check capabilities.
type HealthChecker interface {
	// Ping checks if the adapter can connect to its backend.
	Ping(ctx context.Context) error
}
